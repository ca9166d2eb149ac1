// The subscription manager owns all downloads and subscriptions, persists
// them, runs the background polling loop, and fans newly discovered items
// out to delivery destinations.

package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vrsandeep/feedsub-go/internal/config"
	"github.com/vrsandeep/feedsub-go/internal/delivery"
	"github.com/vrsandeep/feedsub-go/internal/fetch"
	"github.com/vrsandeep/feedsub-go/internal/metrics"
	"github.com/vrsandeep/feedsub-go/internal/models"
)

var (
	// ErrDuplicateDestination is returned when subscribing twice to the same
	// link from the same chat and creator.
	ErrDuplicateDestination = errors.New("destination already exists for this subscription")
	// ErrDownloadNotComplete is returned when subscribing from a download
	// whose fetch is still running.
	ErrDownloadNotComplete = errors.New("download has not completed yet")
	// ErrMissingDestination is returned by unsubscribe and pause when no
	// destination matches the link and chat.
	ErrMissingDestination = errors.New("no matching subscription for this link and chat")
)

// Fetcher builds streaming fetch invocations. The fetch.ToolManager is the
// real implementation; tests substitute their own.
type Fetcher interface {
	CheckInstall(ctx context.Context) error
	DownloadCommand(link models.Link, dlPath string) fetch.Streamer
}

// CaptionResolver looks up caption overrides for delivered items, given the
// link and the item's metadata sidecar path.
type CaptionResolver interface {
	Caption(link, sidecarPath, fallback string) string
}

// DestinationView pairs a destination with the subscription it belongs to,
// for listings.
type DestinationView struct {
	Sub  *models.Subscription
	Dest *models.SubscriptionDestination
}

// Manager owns all download and subscription entities. All exported methods
// are safe for concurrent use.
type Manager struct {
	cfg      *config.Config
	fetcher  Fetcher
	client   delivery.Client
	captions CaptionResolver
	sink     metrics.Sink
	notify   func(models.ProgressUpdate)

	mu        sync.Mutex
	subs      []*models.Subscription
	completes []*models.CompleteDownload

	runMu   sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewManager loads persisted state and returns a Manager. The caption
// resolver may be nil; the metrics sink defaults to an in-memory one.
func NewManager(cfg *config.Config, fetcher Fetcher, client delivery.Client, captions CaptionResolver, sink metrics.Sink) (*Manager, error) {
	state, err := loadState(cfg.Store.StateFile)
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = metrics.NewInMemory()
	}
	return &Manager{
		cfg:       cfg,
		fetcher:   fetcher,
		client:    client,
		captions:  captions,
		sink:      sink,
		subs:      state.Subscriptions,
		completes: state.CompleteDownloads,
	}, nil
}

// SetNotify installs a progress broadcast callback, e.g. the websocket hub.
func (m *Manager) SetNotify(fn func(models.ProgressUpdate)) {
	m.notify = fn
}

// Save persists the current entity state atomically. The state is encoded
// while the lock is held; entity fields are only ever written under the same
// lock.
func (m *Manager) Save() error {
	m.mu.Lock()
	data, err := json.MarshalIndent(&stateFile{
		Subscriptions:     m.subs,
		CompleteDownloads: m.completes,
	}, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return writeStateFile(m.cfg.Store.StateFile, data)
}

func (m *Manager) saveQuietly() {
	if err := m.Save(); err != nil {
		log.Printf("Failed to persist subscription state: %v", err)
	}
}

// SubForLink returns the subscription matching the link's canonical form,
// or nil.
func (m *Manager) SubForLink(link string) *models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subForLinkLocked(link)
}

func (m *Manager) subForLinkLocked(link string) *models.Subscription {
	for _, sub := range m.subs {
		if sub.Link.String() == link {
			return sub
		}
	}
	return nil
}

// SubForLinkAndChat returns the subscription for the link if the given chat
// has a destination on it.
func (m *Manager) SubForLinkAndChat(link string, chatID int64) *models.Subscription {
	sub := m.SubForLink(link)
	if sub == nil || sub.MatchingChat(chatID) == nil {
		return nil
	}
	return sub
}

// Subscriptions returns a snapshot of all subscriptions.
func (m *Manager) Subscriptions() []*models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Subscription(nil), m.subs...)
}

// CompleteDownloads returns a snapshot of the finished one-off downloads.
func (m *Manager) CompleteDownloads() []*models.CompleteDownload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.CompleteDownload(nil), m.completes...)
}

// EntryForLink returns the subscription or complete download matching the
// canonical link, or nil.
func (m *Manager) EntryForLink(link string) models.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub := m.subForLinkLocked(link); sub != nil {
		return sub
	}
	for _, dl := range m.completes {
		if dl.Link.String() == link {
			return dl
		}
	}
	return nil
}

// entries returns a snapshot of every entity the manager owns.
func (m *Manager) entries() []models.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]models.Entry, 0, len(m.subs)+len(m.completes))
	for _, sub := range m.subs {
		all = append(all, sub)
	}
	for _, dl := range m.completes {
		all = append(all, dl)
	}
	return all
}

// CreateDownload returns the existing download or subscription matching the
// link, or registers a new one-off download with a fresh storage path.
func (m *Manager) CreateDownload(link models.Link) (models.Entry, error) {
	canonical := link.String()
	m.mu.Lock()
	if sub := m.subForLinkLocked(canonical); sub != nil {
		m.mu.Unlock()
		return sub, nil
	}
	for _, dl := range m.completes {
		if dl.Link.String() == canonical {
			m.mu.Unlock()
			return dl, nil
		}
	}
	path := filepath.Join(m.cfg.Store.Path, "downloads", uuid.New().String())
	if err := os.MkdirAll(path, 0755); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("create download storage: %w", err)
	}
	dl := &models.CompleteDownload{
		Download: models.NewDownload(link, path, time.Now().UTC()),
	}
	m.completes = append(m.completes, dl)
	m.mu.Unlock()
	m.saveQuietly()
	return dl, nil
}

// DeleteDownload removes a one-off download and its storage. The zip lock
// excludes a concurrent zip snapshot of the same directory.
func (m *Manager) DeleteDownload(dl *models.CompleteDownload) error {
	lock := dl.ZipLock()
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(dl.StoragePath); err != nil {
		return fmt.Errorf("delete download storage: %w", err)
	}
	m.mu.Lock()
	for i, c := range m.completes {
		if c == dl {
			m.completes = append(m.completes[:i], m.completes[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return m.Save()
}

// Download starts a fetch for the entity, or attaches to the fetch already
// in flight. The returned channel yields the items known at start, then
// newly discovered items in batches. At most one real fetch runs per
// download; late callers observe the same one. Once the channel closes, the
// fetch outcome is available from the returned tracker's Err.
func (m *Manager) Download(ctx context.Context, entry models.Entry) (models.FetchTracker, <-chan []string, error) {
	return m.download(ctx, entry)
}

func (m *Manager) download(ctx context.Context, entry models.Entry) (models.FetchTracker, <-chan []string, error) {
	if err := m.fetcher.CheckInstall(ctx); err != nil {
		return nil, nil, fmt.Errorf("fetch tool unavailable: %w", err)
	}

	dl := entry.Base()
	m.mu.Lock()
	if tr := dl.ActiveFetch(); tr != nil {
		m.mu.Unlock()
		return tr, tr.Track(ctx), nil
	}
	itemsAtStart, err := dl.ListFiles()
	if err != nil {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("list existing items: %w", err)
	}
	cmd := m.fetcher.DownloadCommand(dl.Link, dl.StoragePath)
	tr := fetch.NewTracker(itemsAtStart, cmd, m.cfg.Fetch.PollInterval, func(items []string, fetchErr error) {
		m.fetchComplete(entry, items, fetchErr)
	})
	if m.notify != nil {
		link := dl.Link.String()
		tr.SetNotify(func(found int, done bool) {
			status := "fetching"
			if done {
				// The tracker records its error before the final callback.
				if tr.Err() != nil {
					status = "failed"
				} else {
					status = "completed"
				}
			}
			m.notify(models.ProgressUpdate{
				Link:    link,
				Message: fmt.Sprintf("Found %d items so far", found),
				Found:   found,
				Status:  status,
				Done:    done,
			})
		})
	}
	dl.SetActiveFetch(tr)
	m.mu.Unlock()
	m.sink.FetchStarted()
	return tr, tr.Run(ctx), nil
}

// fetchComplete runs once per finished fetch, before the tracker flips its
// completion flag: fan out to destinations, then persist.
func (m *Manager) fetchComplete(entry models.Entry, items []string, fetchErr error) {
	m.sink.FetchCompleted(len(items), fetchErr)
	if sub, ok := entry.(*models.Subscription); ok && len(items) > 0 {
		m.fanOut(sub, items)
	}
	m.saveQuietly()
}

// fanOut uploads each newly discovered item once and sends it to every
// non-paused destination, in discovery order. A failure part-way through is
// logged and swallowed; undelivered items are not retried.
func (m *Manager) fanOut(sub *models.Subscription, items []string) {
	ctx := context.Background()
	fallback := fmt.Sprintf("Update on feed: %s", sub.Link.String())
	delivered := 0
	defer func() { m.sink.ItemsDelivered(delivered) }()
	for _, item := range items {
		handle, err := m.client.Upload(ctx, item)
		if err != nil {
			log.Printf("Fan-out upload failed for %s: %v", item, err)
			return
		}
		caption := fallback
		if m.captions != nil {
			caption = m.captions.Caption(sub.Link.URL, item+".json", fallback)
		}
		m.mu.Lock()
		dests := append([]*models.SubscriptionDestination(nil), sub.Destinations...)
		m.mu.Unlock()
		for _, dest := range dests {
			if dest.Paused {
				continue
			}
			if err := m.client.Send(ctx, dest.ChatID, handle, caption); err != nil {
				log.Printf("Fan-out send to chat %d failed: %v", dest.ChatID, err)
				return
			}
		}
		delivered++
	}
}

// PruneDownloads deletes one-off downloads that have not been touched for
// the given duration and are not mid-fetch. Returns how many were removed.
func (m *Manager) PruneDownloads(olderThan time.Duration) int {
	m.mu.Lock()
	stale := make([]*models.CompleteDownload, 0)
	for _, dl := range m.completes {
		if dl.ActiveFetch() == nil && time.Since(dl.LastCheckDate) > olderThan {
			stale = append(stale, dl)
		}
	}
	m.mu.Unlock()

	pruned := 0
	for _, dl := range stale {
		if err := m.DeleteDownload(dl); err != nil {
			log.Printf("Failed to prune download %s: %v", dl.Link, err)
			continue
		}
		pruned++
	}
	return pruned
}

// CreateSubscription subscribes a chat to a download's link. A one-off
// download is promoted by copying its storage into durable subscription
// storage; an existing subscription gains a new destination.
func (m *Manager) CreateSubscription(chatID, creatorID int64, entry models.Entry) (*models.Subscription, error) {
	now := time.Now().UTC()
	dest := &models.SubscriptionDestination{
		ChatID:      chatID,
		CreatorID:   creatorID,
		CreatedDate: now,
	}

	if sub, ok := entry.(*models.Subscription); ok {
		m.mu.Lock()
		if sub.MatchingDest(chatID, creatorID) != nil {
			m.mu.Unlock()
			return nil, ErrDuplicateDestination
		}
		sub.Destinations = append(sub.Destinations, dest)
		m.mu.Unlock()
		if err := m.Save(); err != nil {
			return nil, err
		}
		return sub, nil
	}

	dl, ok := entry.(*models.CompleteDownload)
	if !ok {
		return nil, fmt.Errorf("unknown download kind %T", entry)
	}
	if dl.ActiveFetch() != nil {
		return nil, ErrDownloadNotComplete
	}

	newPath := filepath.Join(m.cfg.Store.Path, "subscriptions", uuid.New().String())
	lock := dl.ZipLock()
	lock.Lock()
	err := copyDir(dl.StoragePath, newPath)
	lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("copy download storage: %w", err)
	}

	sub := &models.Subscription{
		Download:                models.NewDownload(dl.Link, newPath, now),
		Destinations:            []*models.SubscriptionDestination{dest},
		FailedChecks:            0,
		LastSuccessfulCheckDate: now,
	}
	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	if err := m.DeleteDownload(dl); err != nil {
		log.Printf("Failed to delete promoted download %s: %v", dl.Link, err)
	}
	if err := m.Save(); err != nil {
		return nil, err
	}
	return sub, nil
}

// RemoveSubscription removes the destination bound to the chat. Removing
// the last destination deletes the subscription and its storage.
func (m *Manager) RemoveSubscription(link string, chatID int64) error {
	m.mu.Lock()
	sub := m.subForLinkLocked(link)
	if sub == nil {
		m.mu.Unlock()
		return ErrMissingDestination
	}
	dest := sub.MatchingChat(chatID)
	if dest == nil {
		m.mu.Unlock()
		return ErrMissingDestination
	}
	for i, d := range sub.Destinations {
		if d == dest {
			sub.Destinations = append(sub.Destinations[:i], sub.Destinations[i+1:]...)
			break
		}
	}
	deleteSub := len(sub.Destinations) == 0
	if deleteSub {
		for i, s := range m.subs {
			if s == sub {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if deleteSub {
		lock := sub.ZipLock()
		lock.Lock()
		if err := os.RemoveAll(sub.StoragePath); err != nil {
			log.Printf("Failed to remove subscription storage %s: %v", sub.StoragePath, err)
		}
		lock.Unlock()
	}
	return m.Save()
}

// PauseSubscription toggles the pause flag on the chat's destination. A
// paused destination is skipped on fan-out, but the subscription still
// polls.
func (m *Manager) PauseSubscription(link string, chatID int64, paused bool) error {
	m.mu.Lock()
	sub := m.subForLinkLocked(link)
	if sub == nil {
		m.mu.Unlock()
		return ErrMissingDestination
	}
	dest := sub.MatchingChat(chatID)
	if dest == nil {
		m.mu.Unlock()
		return ErrMissingDestination
	}
	dest.Paused = paused
	m.mu.Unlock()
	return m.Save()
}

// ListSubscriptions returns the destinations bound to this chat and
// creator, ordered by creation date ascending.
func (m *Manager) ListSubscriptions(chatID, creatorID int64) []DestinationView {
	m.mu.Lock()
	defer m.mu.Unlock()
	var views []DestinationView
	for _, sub := range m.subs {
		if dest := sub.MatchingDest(chatID, creatorID); dest != nil {
			views = append(views, DestinationView{Sub: sub, Dest: dest})
		}
	}
	for i := 1; i < len(views); i++ {
		for j := i; j > 0 && views[j].Dest.CreatedDate.Before(views[j-1].Dest.CreatedDate); j-- {
			views[j], views[j-1] = views[j-1], views[j]
		}
	}
	return views
}

// Start launches the background polling loop.
func (m *Manager) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.started {
		return
	}
	log.Println("Starting subscription polling loop...")
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.started = true
	go m.run()
}

// Stop signals the polling loop to exit after its current iteration, kills
// every still-running fetch across all downloads, waits for the loop, and
// persists final state.
func (m *Manager) Stop() {
	m.runMu.Lock()
	started := m.started
	if started {
		m.started = false
		close(m.stopCh)
	}
	m.runMu.Unlock()

	for _, entry := range m.entries() {
		if tr := entry.Base().ActiveFetch(); tr != nil {
			tr.Kill()
		}
	}
	if started {
		<-m.doneCh
	}
	m.saveQuietly()
	log.Println("Subscription polling loop stopped.")
}

func (m *Manager) run() {
	defer close(m.doneCh)
	for {
		m.checkAll()
		if !m.sleepBetweenCycles() {
			return
		}
	}
}

// checkAll walks a snapshot of the subscription list and checks each one
// that is due. One subscription's failure never aborts the cycle.
func (m *Manager) checkAll() {
	for _, sub := range m.Subscriptions() {
		select {
		case <-m.stopCh:
			return
		default:
		}
		m.mu.Lock()
		due := time.Since(sub.LastCheckDate) >= m.cfg.Subscriptions.UpdateInterval
		m.mu.Unlock()
		if !due {
			continue
		}
		m.checkSubscription(sub)
	}
}

// checkSubscription runs one poll of a subscription: fetch, accumulate
// batches, and update the failure and success bookkeeping.
func (m *Manager) checkSubscription(sub *models.Subscription) {
	ctx := context.Background()
	tracker, stream, err := m.download(ctx, sub)
	if err != nil {
		log.Printf("Failed to check subscription to %s: %v", sub.Link, err)
		m.recordCheck(sub, err)
		return
	}

	found := consumeBatches(stream, m.cfg.Fetch.EmptyBatchLimit, func() {
		log.Printf("Stopping stalled fetch for %s after consecutive empty batches", sub.Link)
		tracker.Kill()
	})

	fetchErr := tracker.Err()
	m.recordCheck(sub, fetchErr)
	if fetchErr == nil {
		log.Printf("Checked subscription to %s: %d new items", sub.Link, found)
	}
}

// consumeBatches drains a check's stream and returns the number of newly
// discovered items. The first batch is the items-at-start snapshot and is
// ignored. Streams that emit nothing but never finish are bounded: after
// limit consecutive empty batches the kill callback fires once. An early
// stop is not a failure.
func consumeBatches(stream <-chan []string, limit int, kill func()) int {
	first := true
	emptyRun := 0
	killed := false
	found := 0
	for batch := range stream {
		if first {
			first = false
			continue
		}
		if len(batch) == 0 {
			emptyRun++
			if emptyRun >= limit && !killed {
				killed = true
				kill()
			}
			continue
		}
		emptyRun = 0
		found += len(batch)
	}
	return found
}

func (m *Manager) recordCheck(sub *models.Subscription, fetchErr error) {
	now := time.Now().UTC()
	m.mu.Lock()
	sub.LastCheckDate = now
	if fetchErr != nil {
		sub.FailedChecks++
		m.mu.Unlock()
		m.sink.CheckFailed()
		log.Printf("Subscription check for %s failed (%d consecutive): %v", sub.Link, sub.FailedChecks, fetchErr)
	} else {
		sub.FailedChecks = 0
		sub.LastSuccessfulCheckDate = now
		m.mu.Unlock()
		m.sink.CheckSucceeded()
	}
	m.saveQuietly()
}

// sleepBetweenCycles sleeps the configured cycle interval in small slices,
// so a stop signal is honored promptly. Returns false when stopped.
func (m *Manager) sleepBetweenCycles() bool {
	slice := m.cfg.Subscriptions.SleepSlice
	if slice <= 0 {
		slice = 500 * time.Millisecond
	}
	deadline := time.Now().Add(m.cfg.Subscriptions.CycleInterval)
	for time.Now().Before(deadline) {
		select {
		case <-m.stopCh:
			return false
		case <-time.After(slice):
		}
	}
	return true
}

// copyDir copies a directory tree, preserving file modes.
func copyDir(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return os.MkdirAll(dst, 0755)
	}
	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
