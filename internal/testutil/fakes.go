// Fakes for the fetch subprocess and the delivery channel, so manager and
// API tests run without pip or a chat transport.

package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vrsandeep/feedsub-go/internal/delivery"
	"github.com/vrsandeep/feedsub-go/internal/fetch"
	"github.com/vrsandeep/feedsub-go/internal/models"
)

// FakeStreamer plays back a scripted list of output lines in place of a
// real fetch subprocess.
type FakeStreamer struct {
	Lines []string
	Delay time.Duration // pause before each line
	Err   error         // returned from Wait unless killed

	mu     sync.Mutex
	killed bool
	stop   chan struct{}
	done   chan struct{}
}

func (f *FakeStreamer) Start(ctx context.Context) (<-chan string, error) {
	f.mu.Lock()
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	if f.killed {
		close(f.stop)
	}
	f.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)
		defer close(f.done)
		for _, line := range f.Lines {
			if f.Delay > 0 {
				select {
				case <-time.After(f.Delay):
				case <-f.stop:
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- line:
			case <-f.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *FakeStreamer) Wait() error {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killed {
		return nil
	}
	return f.Err
}

func (f *FakeStreamer) Kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killed {
		return
	}
	f.killed = true
	if f.stop != nil {
		close(f.stop)
	}
}

// Killed reports whether Kill was called.
func (f *FakeStreamer) Killed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

// FakeFetcher hands out FakeStreamers and optionally materializes the
// scripted items as files in the download's storage directory, the way the
// real tool writes what it reports.
type FakeFetcher struct {
	Lines      []string
	Delay      time.Duration
	Err        error
	WriteFiles bool

	mu        sync.Mutex
	streamers []*FakeStreamer
}

func (f *FakeFetcher) CheckInstall(ctx context.Context) error { return nil }

func (f *FakeFetcher) DownloadCommand(link models.Link, dlPath string) fetch.Streamer {
	if f.WriteFiles {
		for _, line := range f.Lines {
			WriteStorageItem(dlPath, line)
		}
	}
	s := &FakeStreamer{Lines: f.Lines, Delay: f.Delay, Err: f.Err}
	f.mu.Lock()
	f.streamers = append(f.streamers, s)
	f.mu.Unlock()
	return s
}

// Streamers returns every streamer handed out so far.
func (f *FakeFetcher) Streamers() []*FakeStreamer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeStreamer(nil), f.streamers...)
}

// SendRecord is one delivery observed by RecorderClient.
type SendRecord struct {
	ChatID  int64
	File    delivery.FileHandle
	Caption string
}

// RecorderClient records uploads and sends instead of delivering anywhere.
type RecorderClient struct {
	mu      sync.Mutex
	uploads []string
	sends   []SendRecord
	SendErr error
}

func (c *RecorderClient) Upload(ctx context.Context, filePath string) (delivery.FileHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads = append(c.uploads, filePath)
	return filePath, nil
}

func (c *RecorderClient) Send(ctx context.Context, chatID int64, file delivery.FileHandle, caption string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sends = append(c.sends, SendRecord{ChatID: chatID, File: file, Caption: caption})
	return nil
}

func (c *RecorderClient) Uploads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.uploads...)
}

func (c *RecorderClient) Sends() []SendRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SendRecord(nil), c.sends...)
}
