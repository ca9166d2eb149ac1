package fetch

import "sync"

// trackerState is the mutex-guarded log of discovered items plus the
// completion flag and fetch error. Watchers read it with a high-water-mark
// cursor.
type trackerState struct {
	mu       sync.Mutex
	items    []string
	done     bool
	fetchErr error
}

func (s *trackerState) init() {
	s.items = []string{}
}

func (s *trackerState) append(item string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return len(s.items)
}

func (s *trackerState) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.items...)
}

// since returns a copy of the items appended after the given cursor.
func (s *trackerState) since(cursor int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor >= len(s.items) {
		return nil
	}
	return append([]string(nil), s.items[cursor:]...)
}

func (s *trackerState) complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *trackerState) setComplete() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *trackerState) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchErr
}

func (s *trackerState) setErr(err error) {
	s.mu.Lock()
	s.fetchErr = err
	s.mu.Unlock()
}
