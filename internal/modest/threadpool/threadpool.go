// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package threadpool implements the bounded worker-slot pool that the
// JobDispatcher and Operation Engine hand work to: a fixed number of
// long-lived goroutines, each with an idle-expiry timeout, gated by a
// semaphore-style admission permit in the style of
// internal/daemon/runner/executor.go's run semaphore.
package threadpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/conductor/internal/log"
	"github.com/tombee/conductor/internal/modest/state"
)

const (
	// DefaultMaxThreads is the default worker slot count (spec §4.2/§6).
	DefaultMaxThreads = 10
	// DefaultIdleExpiry is the default idle-worker expiry (spec §6).
	DefaultIdleExpiry = 120 * time.Second
)

// Runnable is a unit of work with a single entry point, run on a pool
// worker. It must poll state.CurrentInterrupted(ctx) at any point where
// cooperative cancellation should take effect.
type Runnable interface {
	Run(ctx context.Context)
}

// RunnableFunc adapts a plain function to a Runnable.
type RunnableFunc func(ctx context.Context)

// Run implements Runnable.
func (f RunnableFunc) Run(ctx context.Context) { f(ctx) }

// slot is a worker goroutine identity: a mailbox and its own interrupt
// flag, matching the spec's "thread identity plus idleSinceMillis plus
// single-entry work mailbox."
type slot struct {
	id      int
	mailbox chan Runnable
	flag    *state.InterruptFlag

	mu        sync.Mutex
	idleSince time.Time
}

func (s *slot) touchIdle() {
	s.mu.Lock()
	s.idleSince = time.Now()
	s.mu.Unlock()
}

// ThreadPool is a pool of at most maxThreads worker goroutines gated by a
// buffered channel semaphore. Idle slots park on a select between their
// mailbox and an idle-expiry timer, and self-terminate on expiry.
type ThreadPool struct {
	maxThreads int
	idleExpiry time.Duration
	logger     *slog.Logger

	sem  chan struct{}
	quit chan struct{}

	mu      sync.Mutex
	idle    []*slot
	live    map[int]*slot
	nextID  int
	running int
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a new ThreadPool.
type Option func(*ThreadPool)

// WithMaxThreads overrides DefaultMaxThreads.
func WithMaxThreads(n int) Option {
	return func(p *ThreadPool) { p.maxThreads = n }
}

// WithIdleExpiry overrides DefaultIdleExpiry.
func WithIdleExpiry(d time.Duration) Option {
	return func(p *ThreadPool) { p.idleExpiry = d }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *ThreadPool) { p.logger = logger }
}

// New creates a ThreadPool. No worker goroutines are spawned until work
// arrives; slots are created lazily by TryRunJob/RunJob and reused while
// idle, matching "waking or spawning as needed" in spec §4.2.
func New(opts ...Option) *ThreadPool {
	p := &ThreadPool{
		maxThreads: DefaultMaxThreads,
		idleExpiry: DefaultIdleExpiry,
		logger:     slog.Default(),
		live:       make(map[int]*slot),
		quit:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sem = make(chan struct{}, p.maxThreads)
	return p
}

// TryRunJob attempts to admit work without blocking. It returns true if a
// permit was acquired and work was handed to an idle or newly spawned
// worker, false if the pool is at capacity.
func (p *ThreadPool) TryRunJob(work Runnable) bool {
	select {
	case p.sem <- struct{}{}:
		p.dispatch(work)
		return true
	default:
		return false
	}
}

// RunJob blocks until a permit is acquired (or ctx is done, or ctx's
// interrupt flag is set), then dispatches work the same way TryRunJob does.
func (p *ThreadPool) RunJob(ctx context.Context, work Runnable) error {
	flag := state.FlagFromContext(ctx)
	if flag.Interrupted() {
		return state.ErrInterrupted
	}
	select {
	case p.sem <- struct{}{}:
		p.dispatch(work)
		return nil
	case <-flag.Signal():
		return state.ErrInterrupted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch hands work to a reused idle slot, or spawns a new one, assuming
// one admission permit has already been acquired on p.sem.
func (p *ThreadPool) dispatch(work Runnable) {
	p.mu.Lock()
	p.running++
	var s *slot
	spawn := false
	if n := len(p.idle); n > 0 {
		s = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else {
		p.nextID++
		s = &slot{id: p.nextID, mailbox: make(chan Runnable, 1), flag: state.NewInterruptFlag()}
		p.live[s.id] = s
		spawn = true
	}
	p.mu.Unlock()

	if spawn {
		p.wg.Add(1)
		go p.workerLoop(s)
	}
	s.flag.Clear()
	s.mailbox <- work
}

// workerLoop is the per-slot loop: wait for work or idle-expiry; when work
// arrives, run it, release the admission permit, and go idle again.
func (p *ThreadPool) workerLoop(s *slot) {
	defer p.wg.Done()
	timer := time.NewTimer(p.idleExpiry)
	defer timer.Stop()

	for {
		select {
		case work := <-s.mailbox:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			p.runOne(s, work)
			s.touchIdle()

			p.mu.Lock()
			p.idle = append(p.idle, s)
			p.mu.Unlock()

			timer.Reset(p.idleExpiry)

		case <-timer.C:
			p.mu.Lock()
			removed := p.removeIdleLocked(s)
			p.mu.Unlock()
			if removed {
				p.retire(s)
				return
			}
			// A dispatch raced the timer and already claimed this slot;
			// the mailbox case above will observe the work on the next
			// loop iteration.
			timer.Reset(p.idleExpiry)

		case <-p.quit:
			p.mu.Lock()
			p.removeIdleLocked(s)
			p.mu.Unlock()
			p.retireQuiet(s)
			return
		}
	}
}

// runOne executes work under a context carrying s's interrupt flag and
// releases the admission permit consumed when it was dispatched.
func (p *ThreadPool) runOne(s *slot, work Runnable) {
	p.logger.Debug("threadpool: worker running job", log.WorkerIDKey, s.id)
	ctx := state.WithInterruptFlag(context.Background(), s.flag)
	work.Run(ctx)

	p.mu.Lock()
	p.running--
	p.mu.Unlock()
	<-p.sem
}

func (p *ThreadPool) removeIdleLocked(s *slot) bool {
	for i, cand := range p.idle {
		if cand == s {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return true
		}
	}
	return false
}

func (p *ThreadPool) retire(s *slot) {
	p.mu.Lock()
	delete(p.live, s.id)
	p.mu.Unlock()
	p.logger.Debug("threadpool: worker retired after idle expiry", log.WorkerIDKey, s.id)
}

func (p *ThreadPool) retireQuiet(s *slot) {
	p.mu.Lock()
	delete(p.live, s.id)
	p.mu.Unlock()
}

// InterruptAll signals every live worker's interrupt flag. In-flight work
// observes the signal via state.CurrentInterrupted(ctx).
func (p *ThreadPool) InterruptAll() {
	p.mu.Lock()
	flags := make([]*state.InterruptFlag, 0, len(p.live))
	for _, s := range p.live {
		flags = append(flags, s.flag)
	}
	p.mu.Unlock()

	for _, f := range flags {
		f.Set()
	}
}

// TerminateAll interrupts every live worker, then waits for all worker
// goroutines to exit.
func (p *ThreadPool) TerminateAll() {
	p.InterruptAll()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	p.wg.Wait()
}

// ActiveWorkers returns the number of slots currently running a job.
func (p *ThreadPool) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LiveWorkers returns the number of slots currently alive (running or idle).
func (p *ThreadPool) LiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// HasFreeSlot reports whether at least one admission permit is currently
// available, the condition the JobDispatcher's canDispatch() consults before
// starting a sweep.
func (p *ThreadPool) HasFreeSlot() bool {
	return len(p.sem) < cap(p.sem)
}

// MaxThreads returns the pool's configured capacity.
func (p *ThreadPool) MaxThreads() int {
	return p.maxThreads
}

// IdleDurations returns how long each currently idle slot has been idle,
// for metrics and tests asserting idle-expiry behavior.
func (p *ThreadPool) IdleDurations() []time.Duration {
	p.mu.Lock()
	slots := make([]*slot, len(p.idle))
	copy(slots, p.idle)
	p.mu.Unlock()

	out := make([]time.Duration, len(slots))
	for i, s := range slots {
		s.mu.Lock()
		out[i] = time.Since(s.idleSince)
		s.mu.Unlock()
	}
	return out
}
