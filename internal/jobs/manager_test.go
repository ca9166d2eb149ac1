package jobs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vrsandeep/feedsub-go/internal/config"
	"github.com/vrsandeep/feedsub-go/internal/fetch"
	"github.com/vrsandeep/feedsub-go/internal/jobs"
	"github.com/vrsandeep/feedsub-go/internal/subscription"
	"github.com/vrsandeep/feedsub-go/internal/websocket"
)

type fakeJobContext struct {
	cfg    *config.Config
	ws     *websocket.Hub
	tool   *fetch.ToolManager
	subs   *subscription.Manager
	jobMgr *jobs.JobManager
}

func (f *fakeJobContext) Config() *config.Config       { return f.cfg }
func (f *fakeJobContext) WsHub() *websocket.Hub        { return f.ws }
func (f *fakeJobContext) Tool() *fetch.ToolManager     { return f.tool }
func (f *fakeJobContext) Subs() *subscription.Manager  { return f.subs }
func (f *fakeJobContext) JobManager() *jobs.JobManager { return f.jobMgr }

func TestManager_NewManager(t *testing.T) {
	ctx := &fakeJobContext{cfg: &config.Config{}, ws: websocket.NewHub()}
	mgr := jobs.NewManager(ctx)
	assert.NotNil(t, mgr)
	assert.Empty(t, mgr.GetStatus())
}

func TestManager_RegisterAndGetStatus(t *testing.T) {
	ctx := &fakeJobContext{cfg: &config.Config{}, ws: websocket.NewHub()}
	mgr := jobs.NewManager(ctx)
	mgr.Register("jobA", func(ctx jobs.JobContext) {})
	mgr.Register("jobB", func(ctx jobs.JobContext) {})
	statuses := mgr.GetStatus()
	assert.Len(t, statuses, 2)
	var foundA, foundB bool
	for _, s := range statuses {
		if s.Name == "jobA" {
			foundA = true
		}
		if s.Name == "jobB" {
			foundB = true
		}
	}
	assert.True(t, foundA && foundB)
}

func TestManager_RunJob_SuccessAndStatus(t *testing.T) {
	ctx := &fakeJobContext{cfg: &config.Config{}, ws: websocket.NewHub()}
	mgr := jobs.NewManager(ctx)
	ctx.jobMgr = mgr
	done := make(chan struct{})
	mgr.Register("jobX", func(ctx jobs.JobContext) { close(done) })
	err := mgr.RunJob("jobX", ctx)
	assert.NoError(t, err)
	<-done
	time.Sleep(50 * time.Millisecond)
	statuses := mgr.GetStatus()
	assert.Equal(t, "success", statuses[0].Status)
}

func TestManager_RunJob_AlreadyRunning(t *testing.T) {
	ctx := &fakeJobContext{cfg: &config.Config{}, ws: websocket.NewHub()}
	mgr := jobs.NewManager(ctx)
	ctx.jobMgr = mgr
	block := make(chan struct{})
	mgr.Register("jobY", func(ctx jobs.JobContext) { <-block })
	_ = mgr.RunJob("jobY", ctx)
	err := mgr.RunJob("jobY", ctx)
	assert.Error(t, err)
	close(block)
}

func TestManager_RunJob_NotFound(t *testing.T) {
	ctx := &fakeJobContext{cfg: &config.Config{}, ws: websocket.NewHub()}
	mgr := jobs.NewManager(ctx)
	err := mgr.RunJob("missing", ctx)
	assert.Error(t, err)
}

func TestManager_RunJob_PanicMarksFailed(t *testing.T) {
	ctx := &fakeJobContext{cfg: &config.Config{}, ws: websocket.NewHub()}
	mgr := jobs.NewManager(ctx)
	ctx.jobMgr = mgr
	mgr.Register("jobZ", func(ctx jobs.JobContext) { panic("boom") })
	err := mgr.RunJob("jobZ", ctx)
	assert.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	for _, s := range mgr.GetStatus() {
		if s.Name == "jobZ" {
			assert.Equal(t, "failed", s.Status)
		}
	}
	// The manager is free again after a panic.
	mgr.Register("jobOK", func(ctx jobs.JobContext) {})
	assert.NoError(t, mgr.RunJob("jobOK", ctx))
}
