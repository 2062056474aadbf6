// Package refresh provides a throttled, non-blocking container for remotely
// sourced values.
//
// A Container tracks the fetch lifecycle of one value: whether a fetch is
// pending, running, succeeded or failed, when it last completed and the last
// successfully fetched value. Fetches run on an Executor, never on the caller's
// goroutine, and at most one fetch is in flight per container.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a successful fetch stays fresh when no TTL is given.
const DefaultTTL = 5 * time.Minute

// ErrNoFetch is returned by New when no fetch function is supplied.
var ErrNoFetch = errors.New("refresh: fetch function is required")

// State is the lifecycle phase of a container.
type State int

const (
	NotStarted State = iota
	Running
	Succeeded
	Failed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText lets states appear as strings in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a wire name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{NotStarted, Running, Succeeded, Failed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("refresh: unknown state %q", text)
}

// FetchFunc produces a new value from the current one. A nil value with a nil
// error keeps the current value.
type FetchFunc[T any] func(ctx context.Context, current *T, params map[string]string) (*T, error)

// Snapshot is a point-in-time copy of a container's state handed to readers.
// Value is shared with the container and must be treated as read-only.
type Snapshot[T any] struct {
	State           State
	LastCompletedAt int64
	Value           *T
	Err             error
}

// Container holds one remotely sourced value and its fetch lifecycle.
type Container[T any] struct {
	fetch FetchFunc[T]
	opts  options

	mu              sync.Mutex
	state           State
	lastCompletedAt int64
	value           *T
	err             error
	done            chan struct{}
	observers       map[int]chan Snapshot[T]
	nextObserver    int
}

// New creates a container bound to fetch.
func New[T any](fetch FetchFunc[T], opts ...Option) (*Container[T], error) {
	if fetch == nil {
		return nil, ErrNoFetch
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Container[T]{
		fetch:     fetch,
		opts:      o,
		observers: make(map[int]chan Snapshot[T]),
	}, nil
}

// Name returns the container name used in logs and metrics.
func (c *Container[T]) Name() string {
	return c.opts.name
}

// Refresh starts a fetch unless the last successful value is still fresh.
//
// A fresh value (and force unset) completes immediately: onComplete(true) and
// the after-refresh hook run on the caller's goroutine and no fetch starts.
// While a fetch is running the call is dropped and Refresh returns false
// without invoking any callback. Otherwise the fetch is dispatched on the
// executor and the callbacks run once it completes.
func (c *Container[T]) Refresh(params map[string]string, force bool, onComplete func(bool)) bool {
	c.mu.Lock()
	if c.state == Running {
		c.mu.Unlock()
		c.opts.collector.IncRefreshSkipped(c.opts.name, "running")
		c.opts.logger.Debug("Refresh already running, request dropped", "container", c.opts.name)
		return false
	}
	if !force && c.isFreshLocked() {
		c.mu.Unlock()
		c.opts.collector.IncRefreshSkipped(c.opts.name, "fresh")
		if onComplete != nil {
			onComplete(true)
		}
		if c.opts.onAfter != nil {
			c.opts.onAfter(true)
		}
		return true
	}

	c.state = Running
	c.err = nil
	c.done = make(chan struct{})
	current := c.value
	done := c.done
	c.mu.Unlock()

	if c.opts.onBefore != nil {
		c.opts.onBefore()
	}

	c.mu.Lock()
	c.notifyLocked()
	c.mu.Unlock()

	c.opts.executor.Go(func() {
		c.run(current, params, done, onComplete)
	})
	return true
}

// RefreshWait refreshes and blocks until the fetch completes or ctx ends.
// If a fetch is already running it waits for that one instead.
func (c *Container[T]) RefreshWait(ctx context.Context, params map[string]string, force bool) (Snapshot[T], error) {
	completed := make(chan struct{}, 1)
	started := c.Refresh(params, force, func(bool) {
		completed <- struct{}{}
	})
	if !started {
		err := c.Wait(ctx)
		return c.Snapshot(), err
	}

	select {
	case <-completed:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// Wait blocks until no fetch is running or ctx ends.
func (c *Container[T]) Wait(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return nil
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetToDefault clears the container back to NotStarted. It never interrupts
// a running fetch and reports whether the reset happened.
func (c *Container[T]) ResetToDefault() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Running {
		return false
	}
	c.state = NotStarted
	c.lastCompletedAt = 0
	c.value = nil
	c.err = nil
	c.notifyLocked()
	return true
}

// Snapshot returns the current state triple.
func (c *Container[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current lifecycle phase.
func (c *Container[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Value returns the last successfully fetched value.
func (c *Container[T]) Value() (*T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.value != nil
}

// LastCompletedAt returns the epoch millis of the last completed fetch, 0 if none.
func (c *Container[T]) LastCompletedAt() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCompletedAt
}

// Subscribe registers an observer. Every state change is delivered without
// blocking the container: when the channel is full the oldest pending snapshot
// is dropped in favour of the newest. Call the returned function to
// unsubscribe; it closes the channel.
func (c *Container[T]) Subscribe(buffer int) (<-chan Snapshot[T], func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Snapshot[T], buffer)

	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

func (c *Container[T]) run(current *T, params map[string]string, done chan struct{}, onComplete func(bool)) {
	ctx := context.Background()
	if c.opts.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.fetchTimeout)
		defer cancel()
	}

	start := c.opts.now()
	result, err := c.safeFetch(ctx, current, params)
	finished := c.opts.now()

	c.mu.Lock()
	if err == nil && result != nil {
		c.value = result
	}
	c.lastCompletedAt = finished.UnixMilli()
	if err != nil {
		c.state = Failed
		c.err = err
	} else {
		c.state = Succeeded
	}
	c.notifyLocked()
	c.mu.Unlock()
	close(done)

	success := err == nil
	outcome := "success"
	if !success {
		outcome = "failure"
		c.opts.logger.Warn("Refresh failed", "container", c.opts.name, "error", err)
	} else {
		c.opts.logger.Debug("Refresh completed", "container", c.opts.name, "duration", finished.Sub(start))
	}
	c.opts.collector.ObserveRefresh(c.opts.name, outcome, finished.Sub(start))

	if onComplete != nil {
		onComplete(success)
	}
	if c.opts.onAfter != nil {
		c.opts.onAfter(success)
	}
}

func (c *Container[T]) safeFetch(ctx context.Context, current *T, params map[string]string) (result *T, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("refresh %s: fetch panicked: %v", c.opts.name, r)
		}
	}()
	return c.fetch(ctx, current, params)
}

// isFreshLocked reports whether a successful value is still inside its TTL.
// Anything other than Succeeded is always considered expired.
func (c *Container[T]) isFreshLocked() bool {
	if c.state != Succeeded {
		return false
	}
	return c.opts.now().UnixMilli()-c.lastCompletedAt < c.opts.ttl.Milliseconds()
}

func (c *Container[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{
		State:           c.state,
		LastCompletedAt: c.lastCompletedAt,
		Value:           c.value,
		Err:             c.err,
	}
}

func (c *Container[T]) notifyLocked() {
	if len(c.observers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.observers {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest pending snapshot and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// loggerOrDefault keeps a nil logger option from panicking later.
func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
