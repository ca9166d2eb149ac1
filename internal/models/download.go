// This file defines the core data structures (models) for the application:
// downloads, subscriptions and their delivery destinations.

package models

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vrsandeep/feedsub-go/internal/util"
)

// FetchTracker is the transient view of an in-flight fetch owned by a
// Download. The concrete implementation lives in the fetch package.
type FetchTracker interface {
	// Track replays already-known items, then yields only newly discovered
	// ones until the fetch completes.
	Track(ctx context.Context) <-chan []string
	// Kill cancels the underlying fetch, if one is still running.
	Kill()
	// Complete reports whether the fetch has finished and fan-out has been
	// attempted.
	Complete() bool
	// Err returns the fetch error, if any, once the fetch has completed.
	Err() error
	// Items returns a copy of the items discovered during this fetch so far.
	Items() []string
}

// Download is the record of a link plus where its files live. At most one
// fetch may be active per Download at any time.
type Download struct {
	Link          Link      `json:"link"`
	StoragePath   string    `json:"path"`
	LastCheckDate time.Time `json:"last_check_date"`

	mu      sync.Mutex
	tracker FetchTracker
	zipLock sync.Mutex
}

// NewDownload creates a Download for a link, rooted at the given storage path.
func NewDownload(link Link, path string, lastCheck time.Time) Download {
	return Download{Link: link, StoragePath: path, LastCheckDate: lastCheck}
}

// ActiveFetch returns the in-flight fetch tracker, or nil if the last fetch
// has completed or none was ever started.
func (d *Download) ActiveFetch() FetchTracker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tracker != nil && !d.tracker.Complete() {
		return d.tracker
	}
	return nil
}

// SetActiveFetch replaces the tracker reference. A completed tracker is
// discarded when the next fetch starts.
func (d *Download) SetActiveFetch(t FetchTracker) {
	d.mu.Lock()
	d.tracker = t
	d.mu.Unlock()
}

// ZipLock guards the storage directory against concurrent mutation: zip
// snapshot creation on one side, deletion and subscription copy on the other.
func (d *Download) ZipLock() *sync.Mutex {
	return &d.zipLock
}

// ListFiles returns the downloaded item files under the storage path, in
// natural sort order. Metadata sidecars and the tool's dedup archive are
// excluded.
func (d *Download) ListFiles() ([]string, error) {
	if _, err := os.Stat(d.StoragePath); os.IsNotExist(err) {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(d.StoragePath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".json" || ext == ".sqlite" {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	util.NaturalSortStrings(files)
	return files, nil
}

// Entry is the tagged variant over the two kinds of download the manager
// owns: ephemeral one-off downloads and durable subscriptions.
type Entry interface {
	Base() *Download
}

// CompleteDownload is a one-off download, deleted once its content has been
// delivered or abandoned. It is never promoted in place; subscribing copies
// its storage into a new Subscription.
type CompleteDownload struct {
	Download
}

func (d *CompleteDownload) Base() *Download { return &d.Download }

// SubscriptionDestination binds a Subscription to one delivery chat. A
// destination is unique per (chat, creator) pair on its subscription.
type SubscriptionDestination struct {
	ChatID      int64     `json:"chat_id"`
	CreatorID   int64     `json:"creator_id"`
	CreatedDate time.Time `json:"created_date"`
	Paused      bool      `json:"paused"`
}

// Subscription is a durable download with one or more delivery destinations,
// polled on a schedule. It always has at least one destination; removing the
// last one deletes the subscription.
type Subscription struct {
	Download
	Destinations            []*SubscriptionDestination `json:"destinations"`
	FailedChecks            int                        `json:"failed_checks"`
	LastSuccessfulCheckDate time.Time                  `json:"last_successful_check_date"`
}

func (s *Subscription) Base() *Download { return &s.Download }

// MatchingChat returns the first destination bound to the given chat, or nil.
func (s *Subscription) MatchingChat(chatID int64) *SubscriptionDestination {
	for _, dest := range s.Destinations {
		if dest.ChatID == chatID {
			return dest
		}
	}
	return nil
}

// MatchingDest returns the destination bound to the given chat and creator,
// or nil.
func (s *Subscription) MatchingDest(chatID, creatorID int64) *SubscriptionDestination {
	for _, dest := range s.Destinations {
		if dest.ChatID == chatID && dest.CreatorID == creatorID {
			return dest
		}
	}
	return nil
}
