// This file wraps one invocation of the external fetch tool as a cancellable
// subprocess with a live, line-by-line stream of discovered item paths.

package fetch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// killGracePeriod is how long a timed-out subprocess gets to exit after
// SIGTERM before it is killed outright.
const killGracePeriod = 10 * time.Second

// ErrFetchTimeout indicates the tool produced no output within the idle
// window, or exceeded its maximum runtime.
var ErrFetchTimeout = errors.New("fetch timed out")

// FetchError indicates a nonzero exit from the external tool. It carries the
// diagnostic output captured from the tool's error stream.
type FetchError struct {
	ExitCode int
	Stderr   string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch tool exited with code %d: %s", e.ExitCode, e.Stderr)
}

// Streamer is one invocation of the external fetch tool. Start launches the
// subprocess and returns a channel of discovered item paths; the channel is
// closed when the stream ends. Wait reports the final outcome once the
// stream has ended. Kill cancels the invocation from outside; a killed
// stream ends early without an error for the consumer.
type Streamer interface {
	Start(ctx context.Context) (<-chan string, error)
	Wait() error
	Kill()
}

// Command runs the external fetch tool as a subprocess. IdleTimeout bounds
// the time between output lines; MaxRuntime, if nonzero, bounds the whole
// invocation. The optional install lock is held on the read side for the
// lifetime of the subprocess, so tool updates cannot race a running fetch.
type Command struct {
	Args        []string
	IdleTimeout time.Duration
	MaxRuntime  time.Duration

	installLock *sync.RWMutex

	mu       sync.Mutex
	cmd      *exec.Cmd
	killed   bool
	timedOut bool
	stderr   []string

	lastOutput atomic.Int64 // unix nanos of the most recent output line
	done       chan struct{}
	waitErr    error
}

// NewCommand creates a Command for the given argv. The install lock may be
// nil when the caller does not share the tool with an updater.
func NewCommand(args []string, idleTimeout, maxRuntime time.Duration, installLock *sync.RWMutex) *Command {
	return &Command{
		Args:        args,
		IdleTimeout: idleTimeout,
		MaxRuntime:  maxRuntime,
		installLock: installLock,
		done:        make(chan struct{}),
	}
}

// PrintableArgs renders the argv for logging, quoting arguments that contain
// spaces.
func (c *Command) PrintableArgs() string {
	safe := make([]string, len(c.Args))
	for i, arg := range c.Args {
		arg = strings.ReplaceAll(arg, `"`, `\"`)
		if strings.Contains(arg, " ") {
			arg = `"` + arg + `"`
		}
		safe[i] = arg
	}
	return strings.Join(safe, " ")
}

// Start launches the subprocess and returns the stdout line stream. The
// returned channel must be drained; it closes when the process exits, times
// out, or is killed.
func (c *Command) Start(ctx context.Context) (<-chan string, error) {
	if len(c.Args) == 0 {
		return nil, errors.New("fetch: empty command")
	}
	if c.installLock != nil {
		c.installLock.RLock()
	}

	cmd := exec.Command(c.Args[0], c.Args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.releaseLock()
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.releaseLock()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		c.releaseLock()
		return nil, fmt.Errorf("fetch: start subprocess: %w", err)
	}
	log.Printf("Running subprocess: %s", c.PrintableArgs())

	c.mu.Lock()
	c.cmd = cmd
	killedEarly := c.killed
	c.mu.Unlock()
	if killedEarly {
		// Kill() raced Start(); take the subprocess down now.
		cmd.Process.Kill()
	}

	c.lastOutput.Store(time.Now().UnixNano())
	started := time.Now()
	lines := make(chan string)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 5*1024*1024)
		for scanner.Scan() {
			c.lastOutput.Store(time.Now().UnixNano())
			lines <- scanner.Text()
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 5*1024*1024)
		for scanner.Scan() {
			c.lastOutput.Store(time.Now().UnixNano())
			c.mu.Lock()
			c.stderr = append(c.stderr, scanner.Text())
			c.mu.Unlock()
		}
	}()

	// Watchdog: enforce the idle window, the runtime ceiling and context
	// cancellation while the process runs.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				c.Kill()
				return
			case <-ticker.C:
				idle := time.Since(time.Unix(0, c.lastOutput.Load()))
				expired := c.IdleTimeout > 0 && idle > c.IdleTimeout
				if !expired && c.MaxRuntime > 0 && time.Since(started) > c.MaxRuntime {
					expired = true
				}
				if expired {
					c.mu.Lock()
					c.timedOut = true
					c.mu.Unlock()
					log.Printf("Subprocess timed out, terminating: %s", c.PrintableArgs())
					c.terminate(cmd)
					return
				}
			}
		}
	}()

	// Reaper: wait for the output streams to drain, then collect the exit
	// status and settle the final error.
	go func() {
		wg.Wait()
		close(lines)
		err := cmd.Wait()
		c.mu.Lock()
		switch {
		case c.killed:
			// Cancellation requested from outside is not an error; the
			// consumer just sees the stream end.
			c.waitErr = nil
		case c.timedOut:
			c.waitErr = fmt.Errorf("%w: no output for %s", ErrFetchTimeout, c.IdleTimeout)
		case err != nil:
			code := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
			c.waitErr = &FetchError{ExitCode: code, Stderr: strings.Join(c.stderr, "\n")}
		}
		c.mu.Unlock()
		c.releaseLock()
		close(c.done)
	}()

	return lines, nil
}

// Wait blocks until the stream has ended and returns the final error, if
// any. It must not be called before Start.
func (c *Command) Wait() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitErr
}

// Kill cancels the invocation. It is safe to call at any point, from any
// goroutine, and is idempotent.
func (c *Command) Kill() {
	c.mu.Lock()
	if c.killed {
		c.mu.Unlock()
		return
	}
	c.killed = true
	cmd := c.cmd
	c.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// terminate sends SIGTERM and escalates to SIGKILL if the process has not
// exited after the grace period.
func (c *Command) terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-c.done:
	case <-time.After(killGracePeriod):
		log.Printf("Subprocess ignored SIGTERM, killing: %s", c.PrintableArgs())
		cmd.Process.Kill()
	}
}

func (c *Command) releaseLock() {
	if c.installLock != nil {
		c.installLock.RUnlock()
	}
}
