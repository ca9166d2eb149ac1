// The active fetch tracker lets exactly one real fetch run per download
// while any number of watchers observe its progress. Watchers replay the
// history accumulated so far, then tail the live stream.

package fetch

import (
	"context"
	"log"
	"time"
)

// Tracker coordinates one in-flight fetch and its observers. It is created
// per fetch and discarded once complete; it is never persisted.
type Tracker struct {
	itemsAtStart []string
	cmd          Streamer
	pollInterval time.Duration

	// onComplete runs exactly once, after the stream ends and before the
	// tracker is marked complete. The manager hooks delivery fan-out and
	// state persistence in here.
	onComplete func(items []string, fetchErr error)

	// notify, if set, receives progress counts for broadcast.
	notify func(found int, done bool)

	st trackerState
}

// NewTracker creates a Tracker for one fetch. itemsAtStart is the snapshot
// of already-known item paths when the fetch begins.
func NewTracker(itemsAtStart []string, cmd Streamer, pollInterval time.Duration, onComplete func([]string, error)) *Tracker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	t := &Tracker{
		itemsAtStart: append([]string(nil), itemsAtStart...),
		cmd:          cmd,
		pollInterval: pollInterval,
		onComplete:   onComplete,
	}
	t.st.init()
	return t
}

// SetNotify installs a progress callback. Must be called before Run.
func (t *Tracker) SetNotify(fn func(found int, done bool)) {
	t.notify = fn
}

// ItemsAtStart returns the snapshot of item paths known before this fetch.
func (t *Tracker) ItemsAtStart() []string {
	return append([]string(nil), t.itemsAtStart...)
}

// Items returns a copy of the items discovered during this fetch so far.
func (t *Tracker) Items() []string {
	return t.st.snapshot()
}

// Complete reports whether the fetch has finished and fan-out has been
// attempted.
func (t *Tracker) Complete() bool {
	return t.st.complete()
}

// Err returns the fetch error once complete. A fetch ended by Kill is not
// an error.
func (t *Tracker) Err() error {
	return t.st.err()
}

// Kill forwards cancellation to the underlying fetch, if one is active.
func (t *Tracker) Kill() {
	t.cmd.Kill()
}

// Run drives the real fetch. The returned channel first yields the
// items-at-start snapshot, then each newly discovered item as a singleton
// batch, with empty heartbeat batches while the tool is silent. Fetch
// errors are logged and swallowed here; they are reported through Err once
// the stream ends. On stream end, delivery fan-out is attempted exactly
// once and the tracker is marked complete even if fan-out fails.
func (t *Tracker) Run(ctx context.Context) <-chan []string {
	out := make(chan []string)
	go func() {
		defer close(out)
		out <- t.ItemsAtStart()

		lines, err := t.cmd.Start(ctx)
		if err != nil {
			log.Printf("Fetch failed to start: %v", err)
			t.finish(err)
			return
		}

		heartbeat := time.NewTicker(t.pollInterval)
		defer heartbeat.Stop()
	stream:
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					break stream
				}
				if line == "" {
					continue
				}
				found := t.st.append(line)
				out <- []string{line}
				if t.notify != nil {
					t.notify(found, false)
				}
			case <-heartbeat.C:
				out <- nil
			}
		}

		err = t.cmd.Wait()
		if err != nil {
			log.Printf("Fetch ended with error: %v", err)
		}
		t.finish(err)
		if t.notify != nil {
			t.notify(len(t.st.snapshot()), true)
		}
	}()
	return out
}

// finish records the outcome, attempts fan-out once, and marks the tracker
// complete no matter what fan-out did.
func (t *Tracker) finish(fetchErr error) {
	items := t.st.snapshot()
	t.st.setErr(fetchErr)
	defer t.st.setComplete()
	if t.onComplete != nil {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Fetch completion hook panicked: %v", r)
			}
		}()
		t.onComplete(items, fetchErr)
	}
}

// Track is the view for a watcher joining a fetch that is already running.
// It yields the items-at-start snapshot, then polls the discovered-item log
// at the tracker's poll interval, yielding only the delta each round, until
// the completion flag flips; the final remainder is yielded before the
// channel closes.
func (t *Tracker) Track(ctx context.Context) <-chan []string {
	out := make(chan []string)
	go func() {
		defer close(out)
		out <- t.ItemsAtStart()

		cursor := 0
		ticker := time.NewTicker(t.pollInterval)
		defer ticker.Stop()
		for {
			// Read the completion flag before taking the delta so no item
			// appended in between can be missed.
			done := t.st.complete()
			delta := t.st.since(cursor)
			cursor += len(delta)
			select {
			case out <- delta:
			case <-ctx.Done():
				return
			}
			if done {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
