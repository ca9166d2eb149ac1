// Shared test server setup, which simplifies all API tests.

package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vrsandeep/feedsub-go/internal/api"
	"github.com/vrsandeep/feedsub-go/internal/auth"
	"github.com/vrsandeep/feedsub-go/internal/config"
	"github.com/vrsandeep/feedsub-go/internal/core"
	"github.com/vrsandeep/feedsub-go/internal/fetch"
	"github.com/vrsandeep/feedsub-go/internal/linkfix"
	"github.com/vrsandeep/feedsub-go/internal/metrics"
	"github.com/vrsandeep/feedsub-go/internal/subscription"
	"github.com/vrsandeep/feedsub-go/internal/websocket"
)

// TrustedUserID is present in the trust list written by SetupTestServer.
const TrustedUserID int64 = 42

// TestConfig returns a config rooted in a temp directory with intervals
// short enough for tests.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{Port: 0}
	cfg.Store.Path = dir
	cfg.Store.StateFile = filepath.Join(dir, "subscriptions.json")
	cfg.Fetch.IdleTimeout = 5 * time.Second
	cfg.Fetch.MaxRuntime = 10 * time.Second
	cfg.Fetch.PollInterval = 10 * time.Millisecond
	cfg.Fetch.EmptyBatchLimit = 10
	cfg.Subscriptions.UpdateInterval = time.Hour
	cfg.Subscriptions.CycleInterval = 20 * time.Millisecond
	cfg.Subscriptions.SleepSlice = 5 * time.Millisecond
	cfg.Zip.MaxPartSize = 1 << 20
	cfg.Auth.TrustListPath = filepath.Join(dir, "trusted_users.yml")
	return cfg
}

// NewTestManager builds a subscription manager over the fakes.
func NewTestManager(t *testing.T, cfg *config.Config, fetcher subscription.Fetcher, client *RecorderClient) *subscription.Manager {
	t.Helper()
	if client == nil {
		client = &RecorderClient{}
	}
	mgr, err := subscription.NewManager(cfg, fetcher, client, linkfix.NewFixer(nil), metrics.NewInMemory())
	if err != nil {
		t.Fatalf("Failed to create subscription manager: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

// SetupTestApp assembles a core.App around a fake fetcher and recorder
// client. The returned fakes can be inspected for deliveries.
func SetupTestApp(t *testing.T, fetcher *FakeFetcher) (*core.App, *RecorderClient) {
	t.Helper()
	cfg := TestConfig(t)
	WriteTrustList(t, cfg.Auth.TrustListPath, TrustedUserID)

	trustList, err := auth.NewTrustList(cfg.Auth.TrustListPath)
	if err != nil {
		t.Fatalf("Failed to load trust list: %v", err)
	}
	if fetcher == nil {
		fetcher = &FakeFetcher{}
	}
	client := &RecorderClient{}
	fixer := linkfix.NewFixer(nil)
	sink := metrics.NewInMemory()
	subs, err := subscription.NewManager(cfg, fetcher, client, fixer, sink)
	if err != nil {
		t.Fatalf("Failed to create subscription manager: %v", err)
	}

	hub := websocket.NewHub()
	go hub.Run()

	tool := fetch.NewToolManager("", cfg.Store.Path, cfg.Fetch.IdleTimeout, cfg.Fetch.MaxRuntime)
	app := core.NewFromComponents(cfg, hub, tool, subs, trustList, fixer, sink)
	t.Cleanup(app.Close)
	return app, client
}

// SetupTestServer initializes a full core.App and api.Server for
// integration testing.
func SetupTestServer(t *testing.T, fetcher *FakeFetcher) (*api.Server, *core.App, *RecorderClient) {
	t.Helper()
	app, client := SetupTestApp(t, fetcher)
	return api.NewServer(app), app, client
}
