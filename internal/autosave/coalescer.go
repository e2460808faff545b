// Package autosave coalesces rapid edits into one save per quiet period.
//
// Each key (a consultation id) has at most one pending patch. Submit merges
// into it and restarts the quiet timer; when the timer fires the merged patch
// is saved. Flush saves right away (navigation away, finalize); Cancel drops
// pending edits; Close flushes everything. Saves for the same key never
// overlap and run in submission order.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("autosave: coalescer closed")

type SaveFunc[K comparable, P any] func(ctx context.Context, key K, patch P) error

type MergeFunc[P any] func(prev, next P) P

type Options struct {
	// Delay is the quiet period. Default 2s.
	Delay time.Duration
	// SaveTimeout bounds timer-driven saves. Default 10s.
	SaveTimeout time.Duration
	// MaxRetries is how many times a failed timer-driven save is put back
	// in the queue before the edits are dropped. Default 3.
	MaxRetries int
	// Permanent reports errors that retrying cannot fix (closed
	// consultation, unknown id). Those edits are dropped at once.
	Permanent func(error) bool
	Log       zerolog.Logger
}

type entry[P any] struct {
	patch    P
	timer    *time.Timer
	gen      uint64
	failures int
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type Coalescer[K comparable, P any] struct {
	save  SaveFunc[K, P]
	merge MergeFunc[P]
	opts  Options
	log   zerolog.Logger

	mu       sync.Mutex
	pending  map[K]*entry[P]
	locks    map[K]*keyLock
	closed   bool
	inflight sync.WaitGroup
}

func New[K comparable, P any](save SaveFunc[K, P], merge MergeFunc[P], opts Options) *Coalescer[K, P] {
	if opts.Delay <= 0 {
		opts.Delay = 2 * time.Second
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Permanent == nil {
		opts.Permanent = func(error) bool { return false }
	}
	return &Coalescer[K, P]{
		save:    save,
		merge:   merge,
		opts:    opts,
		log:     opts.Log.With().Str("component", "autosave").Logger(),
		pending: make(map[K]*entry[P]),
		locks:   make(map[K]*keyLock),
	}
}

// Submit queues patch for key, merged over anything already pending.
func (c *Coalescer[K, P]) Submit(key K, patch P) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	e, ok := c.pending[key]
	if !ok {
		e = &entry[P]{patch: patch}
		c.pending[key] = e
	} else {
		e.patch = c.merge(e.patch, patch)
		e.failures = 0
	}
	c.scheduleLocked(key, e)
	return nil
}

func (c *Coalescer[K, P]) scheduleLocked(key K, e *entry[P]) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(c.opts.Delay, func() { c.fire(key, gen) })
}

func (c *Coalescer[K, P]) fire(key K, gen uint64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	kl := c.acquire(key)
	defer c.release(key, kl)

	c.mu.Lock()
	e, ok := c.pending[key]
	if !ok || e.gen != gen {
		// Flushed, cancelled or re-armed by a newer Submit.
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SaveTimeout)
	defer cancel()
	if err := c.save(ctx, key, e.patch); err != nil {
		c.requeue(key, e, err)
	}
}

// requeue puts a failed patch back under any newer edits. Runs with the key
// lock held.
func (c *Coalescer[K, P]) requeue(key K, failed *entry[P], err error) {
	log := c.log.With().Interface("key", key).Logger()
	if c.opts.Permanent(err) {
		log.Warn().Err(err).Msg("auto-save rejected, pending edits dropped")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	failures := failed.failures + 1
	if failures > c.opts.MaxRetries {
		log.Error().Err(err).Int("attempts", failures).Msg("auto-save failed, pending edits dropped")
		return
	}
	if c.closed {
		log.Error().Err(err).Msg("auto-save failed during shutdown")
		return
	}
	log.Warn().Err(err).Int("attempts", failures).Msg("auto-save failed, will retry")
	if newer, ok := c.pending[key]; ok {
		newer.patch = c.merge(failed.patch, newer.patch)
		newer.failures = failures
		return
	}
	e := &entry[P]{patch: failed.patch, failures: failures}
	c.pending[key] = e
	c.scheduleLocked(key, e)
}

// Flush saves the pending patch for key now and waits for any save of that
// key already running. It returns nil when nothing was pending.
func (c *Coalescer[K, P]) Flush(ctx context.Context, key K) error {
	kl := c.acquire(key)
	defer c.release(key, kl)

	c.mu.Lock()
	e, ok := c.pending[key]
	if ok {
		e.timer.Stop()
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	err := c.save(ctx, key, e.patch)
	if err != nil && !c.opts.Permanent(err) {
		c.mu.Lock()
		if _, newer := c.pending[key]; !newer && !c.closed {
			// Keep the edits; the caller decides whether to retry.
			e.gen++
			c.pending[key] = e
			gen := e.gen
			e.timer = time.AfterFunc(c.opts.Delay, func() { c.fire(key, gen) })
		}
		c.mu.Unlock()
	}
	return err
}

// Cancel drops the pending patch for key, if any.
func (c *Coalescer[K, P]) Cancel(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.pending[key]; ok {
		e.timer.Stop()
		delete(c.pending, key)
	}
}

// Pending reports whether key has unsaved edits.
func (c *Coalescer[K, P]) Pending(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Len is the number of keys with unsaved edits.
func (c *Coalescer[K, P]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops accepting edits, flushes everything pending and waits for
// timer-driven saves already running. Errors from individual flushes are
// joined.
func (c *Coalescer[K, P]) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	keys := make([]K, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if err := c.Flush(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	c.inflight.Wait()
	if len(errs) > 0 {
		c.log.Error().Int("failed", len(errs)).Int("flushed", len(keys)).Msg("auto-save flush on close")
	}
	return errors.Join(errs...)
}

func (c *Coalescer[K, P]) acquire(key K) *keyLock {
	c.mu.Lock()
	kl, ok := c.locks[key]
	if !ok {
		kl = &keyLock{}
		c.locks[key] = kl
	}
	kl.refs++
	c.mu.Unlock()
	kl.mu.Lock()
	return kl
}

func (c *Coalescer[K, P]) release(key K, kl *keyLock) {
	kl.mu.Unlock()
	c.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(c.locks, key)
	}
	c.mu.Unlock()
}
