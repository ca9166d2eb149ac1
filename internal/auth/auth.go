// Trust-list authorization: a YAML file of user IDs allowed to operate the
// service, reloaded automatically when the file changes on disk.

package auth

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"
)

type trustListFile struct {
	TrustedUsers []int64 `yaml:"trusted_users"`
}

// TrustList answers "is this user trusted" from a YAML file, watching the
// file for edits so changes apply without a restart.
type TrustList struct {
	path string

	mu    sync.RWMutex
	users map[int64]bool

	watcher       *fsnotify.Watcher
	debounceTimer *time.Timer
	debounceDelay time.Duration
	stopChan      chan struct{}
}

// NewTrustList loads the trust list from path. A missing file yields an
// empty list (nobody trusted) rather than an error, so a fresh install can
// start before the operator writes one.
func NewTrustList(path string) (*TrustList, error) {
	t := &TrustList{
		path:          path,
		users:         make(map[int64]bool),
		debounceDelay: time.Second,
		stopChan:      make(chan struct{}),
	}
	if err := t.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return t, nil
}

// UserIsTrusted reports whether the user appears in the trust list.
func (t *TrustList) UserIsTrusted(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.users[userID]
}

func (t *TrustList) reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return err
	}
	var file trustListFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	users := make(map[int64]bool, len(file.TrustedUsers))
	for _, id := range file.TrustedUsers {
		users[id] = true
	}
	t.mu.Lock()
	t.users = users
	t.mu.Unlock()
	log.Printf("Loaded trust list with %d user(s)", len(users))
	return nil
}

// Watch starts watching the trust list file for changes.
func (t *TrustList) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	t.watcher = watcher
	if err := watcher.Add(t.path); err != nil {
		watcher.Close()
		return err
	}
	go t.processEvents()
	return nil
}

// Stop stops the file watcher.
func (t *TrustList) Stop() error {
	close(t.stopChan)
	if t.watcher != nil {
		return t.watcher.Close()
	}
	return nil
}

func (t *TrustList) processEvents() {
	for {
		select {
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			// Editors often write-then-rename; debounce so a burst of
			// events reloads once.
			t.mu.Lock()
			if t.debounceTimer != nil {
				t.debounceTimer.Stop()
			}
			t.debounceTimer = time.AfterFunc(t.debounceDelay, func() {
				if err := t.reload(); err != nil {
					log.Printf("Failed to reload trust list: %v", err)
				}
				// The watch is lost if the file was replaced by rename.
				t.watcher.Add(t.path)
			})
			t.mu.Unlock()

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Trust list watcher error: %v", err)

		case <-t.stopChan:
			return
		}
	}
}
