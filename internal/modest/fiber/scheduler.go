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

package fiber

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/conductor/internal/modest/threadpool"
)

// DefaultSchedulerThreadCount is the default number of scheduler threads
// (spec §6's schedulerThreadCount knob), matching the original test's
// single-threaded `fs.start(&k, 1)`.
const DefaultSchedulerThreadCount = 1

// defaultSweepInterval bounds how long a sleeping fiber can sit past its
// deadline, and how long a blocked-on-wake race can take to resolve, before
// being reconsidered. Spec §4.4 requires only "a bounded number of quanta,"
// not a specific interval.
const defaultSweepInterval = 5 * time.Millisecond

type entry struct {
	id       int64
	fiber    Fiber
	state    State
	wakeAt   time.Time
	blockKey any
	err      error
}

// Scheduler multiplexes Fibers onto a fixed group of scheduler threads
// hosted as long-running jobs on a threadpool.ThreadPool, per spec §4.4.
type Scheduler struct {
	pool        Pool
	threadCount int
	sweep       time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	nextID   int64
	ready    []int64
	sleeping []int64
	blocked  map[any][]int64
	entries  map[int64]*entry

	running bool
	quit    chan struct{}
	wake    chan struct{}
	wg      sync.WaitGroup
}

// Pool is the subset of threadpool.ThreadPool the Scheduler needs: a way to
// run a long-lived job occupying one worker slot for the scheduler thread's
// whole lifetime. Scoped to an interface so tests can substitute a minimal
// fake without spinning up a full pool. RunJob's parameter is
// threadpool.Runnable itself (not a structurally-equal anonymous interface)
// so that *threadpool.ThreadPool satisfies Pool.
type Pool interface {
	RunJob(ctx context.Context, work threadpool.Runnable) error
}

// Option configures a new Scheduler.
type Option func(*Scheduler)

// WithThreadCount overrides DefaultSchedulerThreadCount.
func WithThreadCount(n int) Option {
	return func(s *Scheduler) { s.threadCount = n }
}

// WithSweepInterval overrides defaultSweepInterval.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.sweep = d }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler creates a Scheduler that will run its threads atop pool.
func NewScheduler(pool Pool, opts ...Option) *Scheduler {
	s := &Scheduler{
		pool:        pool,
		threadCount: DefaultSchedulerThreadCount,
		sweep:       defaultSweepInterval,
		logger:      slog.Default(),
		blocked:     make(map[any][]int64),
		entries:     make(map[int64]*entry),
		quit:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cond = sync.NewCond(&s.mu)
	s.wake = make(chan struct{}, s.threadCount)
	return s
}

// AddFiber queues f for scheduling and returns its id, usable with Wake.
// Fibers may be added before or after Start.
func (s *Scheduler) AddFiber(f Fiber) int64 {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries[id] = &entry{id: id, fiber: f, state: Ready}
	s.ready = append(s.ready, id)
	s.mu.Unlock()

	s.poke()
	return id
}

// Start launches threadCount scheduler threads, each occupying one pool
// slot for the Scheduler's lifetime, plus a lightweight sleep-sweep
// goroutine. A no-op if already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for i := 0; i < s.threadCount; i++ {
		s.wg.Add(1)
		go s.runSchedulerThread()
	}
	s.wg.Add(1)
	go s.sweepLoop()
}

// Stop halts all scheduler threads and the sweep loop, and waits for them to
// exit. Fibers that have not yet reached Dead remain in their last state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.quit)
	s.wg.Wait()
}

// Wake moves a Blocked fiber identified by id to Ready. A no-op if id is
// unknown or not currently Blocked.
func (s *Scheduler) Wake(id int64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.state != Blocked {
		s.mu.Unlock()
		return
	}
	s.removeFromBlockedLocked(e.blockKey, id)
	e.state = Ready
	e.blockKey = nil
	s.ready = append(s.ready, id)
	s.mu.Unlock()

	s.poke()
}

// WakeAll moves every fiber Blocked on key to Ready.
func (s *Scheduler) WakeAll(key any) {
	s.mu.Lock()
	ids := s.blocked[key]
	delete(s.blocked, key)
	for _, id := range ids {
		if e, ok := s.entries[id]; ok && e.state == Blocked {
			e.state = Ready
			e.blockKey = nil
			s.ready = append(s.ready, id)
		}
	}
	s.mu.Unlock()

	for range ids {
		s.poke()
	}
}

// WaitForLastFiberExit blocks until the ready, sleeping, and blocked sets
// are all empty. If drainSleepers is false, sleeping fibers are cancelled
// (marked Dead without being stepped again) rather than awaited.
func (s *Scheduler) WaitForLastFiberExit(drainSleepers bool) {
	if !drainSleepers {
		s.cancelSleepers()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.entries) > 0 {
		s.cond.Wait()
	}
}

// ReadyCount, SleepingCount, BlockedCount report the current size of each
// scheduling set, for tests and metrics.
func (s *Scheduler) ReadyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}

func (s *Scheduler) SleepingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sleeping)
}

func (s *Scheduler) BlockedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ids := range s.blocked {
		n += len(ids)
	}
	return n
}

// AliveCount reports the number of fibers not yet Dead.
func (s *Scheduler) AliveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// FiberErr returns the error a now-Dead fiber's Step last panicked with, if
// any. Returns nil for fibers that exited normally or are still alive.
func (s *Scheduler) FiberErr(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.err
	}
	return nil
}

func (s *Scheduler) cancelSleepers() {
	s.mu.Lock()
	for _, id := range s.sleeping {
		delete(s.entries, id)
	}
	s.sleeping = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) popReady() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return 0, false
	}
	id := s.ready[0]
	s.ready = s.ready[1:]
	if e, ok := s.entries[id]; ok {
		e.state = Running
	}
	return id, true
}

// runSchedulerThread is submitted to the pool as a single long-running job
// that occupies one worker slot for the Scheduler's lifetime, repeatedly
// popping a ready fiber and stepping it, per spec §4.4's round-robin loop.
// The context is cancelled as soon as Stop fires, so a RunJob still queued
// for a permit (pool momentarily saturated) unblocks promptly instead of
// leaving Stop waiting forever.
func (s *Scheduler) runSchedulerThread() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.quit
		cancel()
	}()

	_ = s.pool.RunJob(ctx, threadpool.RunnableFunc(func(ctx context.Context) {
		s.threadLoop()
	}))
}

func (s *Scheduler) threadLoop() {
	for {
		select {
		case <-s.quit:
			return
		default:
		}

		id, ok := s.popReady()
		if !ok {
			select {
			case <-s.wake:
			case <-s.quit:
				return
			case <-time.After(s.sweep):
			}
			continue
		}
		s.runStep(id)
	}
}

func (s *Scheduler) runStep(id int64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	directive, panicErr := s.step(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	if panicErr != nil {
		e.err = panicErr
		e.state = Dead
		delete(s.entries, id)
		s.cond.Broadcast()
		s.logger.Error("fiber: step panicked, fiber killed")
		return
	}

	switch directive.kind {
	case kindYield:
		e.state = Ready
		s.ready = append(s.ready, id)
		s.poke()
	case kindSleep:
		e.state = Sleeping
		e.wakeAt = time.Now().Add(directive.sleepFor)
		s.sleeping = append(s.sleeping, id)
	case kindBlock:
		e.state = Blocked
		e.blockKey = directive.blockKey
		s.blocked[directive.blockKey] = append(s.blocked[directive.blockKey], id)
	case kindExit:
		e.state = Dead
		delete(s.entries, id)
		s.cond.Broadcast()
	}
}

func (s *Scheduler) step(e *entry) (d Directive, panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr = &Error{Type: ErrorTypePanicked, Message: fmt.Sprintf("%v", r)}
		}
	}()
	d = e.fiber.Step()
	return d, nil
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepSleeping()
		case <-s.quit:
			return
		}
	}
}

func (s *Scheduler) sweepSleeping() {
	now := time.Now()
	s.mu.Lock()
	remaining := s.sleeping[:0]
	woke := 0
	for _, id := range s.sleeping {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if !now.Before(e.wakeAt) {
			e.state = Ready
			s.ready = append(s.ready, id)
			woke++
		} else {
			remaining = append(remaining, id)
		}
	}
	s.sleeping = remaining
	s.mu.Unlock()

	for i := 0; i < woke; i++ {
		s.poke()
	}
}

func (s *Scheduler) removeFromBlockedLocked(key any, id int64) {
	ids := s.blocked[key]
	for i, cand := range ids {
		if cand == id {
			s.blocked[key] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

