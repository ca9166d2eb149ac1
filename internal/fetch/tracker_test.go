package fetch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vrsandeep/feedsub-go/internal/fetch"
)

// stubStreamer is a hand-driven Streamer: the test feeds lines and closes
// the stream itself.
type stubStreamer struct {
	lines   chan string
	waitErr error

	mu     sync.Mutex
	killed bool
	closed bool
}

func newStubStreamer() *stubStreamer {
	return &stubStreamer{lines: make(chan string)}
}

func (s *stubStreamer) Start(ctx context.Context) (<-chan string, error) {
	return s.lines, nil
}

func (s *stubStreamer) Wait() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return nil
	}
	return s.waitErr
}

func (s *stubStreamer) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = true
	if !s.closed {
		s.closed = true
		close(s.lines)
	}
}

func (s *stubStreamer) feed(line string) { s.lines <- line }

func (s *stubStreamer) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.lines)
	}
}

// collect reads batches until the channel closes, flattening non-empty
// batches.
func collect(ch <-chan []string) []string {
	var items []string
	for batch := range ch {
		items = append(items, batch...)
	}
	return items
}

func TestTracker_RunYieldsStartSnapshotThenItems(t *testing.T) {
	stub := newStubStreamer()
	tr := fetch.NewTracker([]string{"old1", "old2"}, stub, 50*time.Millisecond, nil)

	out := tr.Run(context.Background())
	first := <-out
	assert.Equal(t, []string{"old1", "old2"}, first)

	go func() {
		stub.feed("new1")
		stub.feed("new2")
		stub.end()
	}()

	assert.Equal(t, []string{"new1", "new2"}, collect(out))
	assert.True(t, tr.Complete())
	assert.NoError(t, tr.Err())
	assert.Equal(t, []string{"new1", "new2"}, tr.Items())
}

func TestTracker_HeartbeatBatchesWhileSilent(t *testing.T) {
	stub := newStubStreamer()
	tr := fetch.NewTracker(nil, stub, 10*time.Millisecond, nil)

	out := tr.Run(context.Background())
	<-out // items-at-start

	// The tool is silent; the stream must still produce empty batches.
	empties := 0
	for i := 0; i < 3; i++ {
		batch := <-out
		if len(batch) == 0 {
			empties++
		}
	}
	assert.Equal(t, 3, empties)

	stub.end()
	collect(out)
}

func TestTracker_OnCompleteRunsOnceBeforeCompleteFlag(t *testing.T) {
	stub := newStubStreamer()
	var calls int
	var completeDuringCallback bool
	var tr *fetch.Tracker
	tr = fetch.NewTracker(nil, stub, 50*time.Millisecond, func(items []string, err error) {
		calls++
		completeDuringCallback = tr.Complete()
	})

	out := tr.Run(context.Background())
	<-out
	go func() {
		stub.feed("a")
		stub.end()
	}()
	collect(out)

	assert.Equal(t, 1, calls)
	assert.False(t, completeDuringCallback, "callback must run before the tracker is marked complete")
	assert.True(t, tr.Complete())
}

func TestTracker_CompleteEvenIfOnCompletePanics(t *testing.T) {
	stub := newStubStreamer()
	tr := fetch.NewTracker(nil, stub, 50*time.Millisecond, func(items []string, err error) {
		panic("fan-out failed")
	})

	out := tr.Run(context.Background())
	<-out
	go stub.end()
	collect(out)

	assert.True(t, tr.Complete())
	assert.NoError(t, tr.Err())
}

func TestTracker_ErrReportsFetchFailure(t *testing.T) {
	stub := newStubStreamer()
	stub.waitErr = &fetch.FetchError{ExitCode: 1, Stderr: "boom"}
	tr := fetch.NewTracker(nil, stub, 50*time.Millisecond, nil)

	out := tr.Run(context.Background())
	<-out
	go stub.end()
	collect(out)

	var fetchErr *fetch.FetchError
	require.True(t, errors.As(tr.Err(), &fetchErr))
	assert.Equal(t, 1, fetchErr.ExitCode)
}

func TestTracker_KilledFetchIsNotAnError(t *testing.T) {
	stub := newStubStreamer()
	stub.waitErr = errors.New("should be masked by kill")
	tr := fetch.NewTracker(nil, stub, 50*time.Millisecond, nil)

	out := tr.Run(context.Background())
	<-out
	tr.Kill()
	collect(out)

	assert.True(t, tr.Complete())
	assert.NoError(t, tr.Err())
}

func TestTracker_TrackReplaysHistoryThenTails(t *testing.T) {
	stub := newStubStreamer()
	tr := fetch.NewTracker([]string{"old"}, stub, 10*time.Millisecond, nil)

	out := tr.Run(context.Background())
	first := <-out
	assert.Equal(t, []string{"old"}, first)

	stub.feed("a")
	batch := <-out
	assert.Equal(t, []string{"a"}, batch)

	// A watcher joining now replays the start snapshot and the items found
	// so far, then tails the rest.
	watcher := tr.Track(context.Background())
	start := <-watcher
	assert.Equal(t, []string{"old"}, start)

	go func() {
		stub.feed("b")
		stub.end()
	}()
	go collect(out)

	var seen []string
	for batch := range watcher {
		seen = append(seen, batch...)
	}
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestTracker_TrackAfterCompleteReplaysEverything(t *testing.T) {
	stub := newStubStreamer()
	tr := fetch.NewTracker([]string{"old"}, stub, 10*time.Millisecond, nil)

	out := tr.Run(context.Background())
	<-out
	go func() {
		stub.feed("a")
		stub.feed("b")
		stub.end()
	}()
	collect(out)
	require.True(t, tr.Complete())

	watcher := tr.Track(context.Background())
	start := <-watcher
	assert.Equal(t, []string{"old"}, start)
	assert.Equal(t, []string{"a", "b"}, collect(watcher))
}

func TestTracker_TrackStopsOnContextCancel(t *testing.T) {
	stub := newStubStreamer()
	tr := fetch.NewTracker(nil, stub, 10*time.Millisecond, nil)

	out := tr.Run(context.Background())
	<-out
	go collect(out)

	ctx, cancel := context.WithCancel(context.Background())
	watcher := tr.Track(ctx)
	<-watcher
	cancel()

	select {
	case _, ok := <-watcher:
		if ok {
			// One batch may already be in flight; the next read must
			// observe the close.
			_, ok = <-watcher
			assert.False(t, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher channel did not close after cancel")
	}

	stub.end()
}

func TestTracker_NotifyReportsProgressAndCompletion(t *testing.T) {
	stub := newStubStreamer()
	tr := fetch.NewTracker(nil, stub, 50*time.Millisecond, nil)

	var mu sync.Mutex
	var counts []int
	var sawDone bool
	tr.SetNotify(func(found int, done bool) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			sawDone = true
			return
		}
		counts = append(counts, found)
	})

	out := tr.Run(context.Background())
	<-out
	go func() {
		stub.feed("a")
		stub.feed("b")
		stub.end()
	}()
	collect(out)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, counts)
	assert.True(t, sawDone)
}
