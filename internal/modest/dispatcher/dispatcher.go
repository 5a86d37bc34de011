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

// Package dispatcher implements the single-dispatcher-thread FIFO queue
// that sweeps submitted work into a threadpool.ThreadPool: spec §4.3's
// JobDispatcher, generic over any threadpool.Runnable. The Operation Engine
// (internal/modest/kernel) specializes this with guard evaluation.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/conductor/internal/modest/threadpool"
)

// Kind tags a Submission's ownership, per spec §9's Borrowed/Owned design
// note: a Borrowed submission is a raw reference the caller must keep alive
// for the queue entry's lifetime; an Owned submission carries a Release
// hook the dispatcher invokes exactly once when the entry is dropped,
// whether by completion or by an explicit Dequeue.
type Kind int

const (
	Borrowed Kind = iota
	Owned
)

// Submission is a unit of work queued with the dispatcher.
type Submission struct {
	Work    threadpool.Runnable
	Kind    Kind
	Release func()
}

// entry is a queued Submission plus its stable id and tombstone bit.
type entry struct {
	id         int64
	sub        Submission
	tombstoned bool
}

// Dispatcher owns a FIFO queue of Submissions and repeatedly sweeps them
// into a ThreadPool as capacity allows. It runs on a single goroutine
// started by Start and stopped by Stop.
type Dispatcher struct {
	pool   *threadpool.ThreadPool
	logger *slog.Logger

	mu      sync.Mutex
	queue   []*entry
	nextID  int64
	total   int64
	running bool

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// Option configures a new Dispatcher.
type Option func(*Dispatcher)

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// New creates a Dispatcher over pool. Call Start to begin sweeping.
func New(pool *threadpool.ThreadPool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:   pool,
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the dispatch loop goroutine. It is a no-op if already
// running; a stopped Dispatcher cannot be restarted.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop()
}

// Stop halts the dispatch loop and waits for it to exit. Queued entries are
// left untouched; their Owned Release hooks are not invoked by Stop.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.quit)
	d.wg.Wait()
}

// Queue appends sub to the tail of the queue and wakes the dispatcher,
// returning a stable id usable with Dequeue.
func (d *Dispatcher) Queue(sub Submission) int64 {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.queue = append(d.queue, &entry{id: id, sub: sub})
	d.total++
	d.mu.Unlock()

	d.logger.Debug("dispatcher: submission queued")
	d.poke()
	return id
}

// Dequeue marks every entry matching id as tombstoned; physical removal
// happens on the dispatcher's next sweep. Owned entries' Release hooks fire
// at that point, not here.
func (d *Dispatcher) Dequeue(id int64) {
	d.mu.Lock()
	for _, e := range d.queue {
		if e.id == id {
			e.tombstoned = true
		}
	}
	d.mu.Unlock()
	d.poke()
}

// Wakeup forces the dispatcher to re-evaluate canDispatch without waiting
// for a submission, tombstone, or completion event.
func (d *Dispatcher) Wakeup() {
	d.poke()
}

// QueuedCount returns the number of non-tombstoned entries still awaiting
// admission. Grounded on the original's JobDispatcher::getQueuedJobCount.
func (d *Dispatcher) QueuedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.queue {
		if !e.tombstoned {
			n++
		}
	}
	return n
}

// TotalCount returns the cumulative number of Submissions ever queued.
// Grounded on the original's JobDispatcher::getTotalJobCount.
func (d *Dispatcher) TotalCount() int {
	return int(atomic.LoadInt64(&d.total))
}

func (d *Dispatcher) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// canDispatch is "queue is non-empty AND pool has >= 1 free slot" per spec §4.3,
// or "queue holds a tombstoned entry awaiting removal".
func (d *Dispatcher) canDispatch() bool {
	d.mu.Lock()
	nonEmpty := false
	tombstoned := false
	for _, e := range d.queue {
		if e.tombstoned {
			tombstoned = true
		} else {
			nonEmpty = true
		}
	}
	d.mu.Unlock()
	return tombstoned || (nonEmpty && d.pool.HasFreeSlot())
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		if !d.isRunning() {
			return
		}
		if d.canDispatch() {
			d.sweep()
			continue
		}
		// Jobs that other pool users submitted do not poke this dispatcher
		// when they finish, so while entries wait, re-check on a short timer.
		var recheck <-chan time.Time
		if d.QueuedCount() > 0 {
			recheck = time.After(10 * time.Millisecond)
		}
		select {
		case <-d.wake:
		case <-d.quit:
		case <-recheck:
		}
	}
}

// sweep admits non-tombstoned entries oldest-first until the pool refuses
// one (saturated), at which point the sweep stops without touching later
// entries. This makes queue order an attempt order, not a strict admission
// order: an entry behind a saturating one is revisited on the next sweep.
// Tombstoned entries are removed, and Owned ones released, wherever they sit.
func (d *Dispatcher) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := make([]*entry, 0, len(d.queue))
	saturated := false
	for _, e := range d.queue {
		if e.tombstoned {
			d.releaseLocked(e)
			continue
		}
		if saturated {
			kept = append(kept, e)
			continue
		}
		if d.pool.TryRunJob(d.wrap(e)) {
			continue
		}
		saturated = true
		kept = append(kept, e)
	}
	d.queue = kept
}

// wrap adapts a Submission's work into a Runnable that releases Owned
// entries and pokes the dispatcher on completion, since a finished job may
// have freed a permit or (via a StateMutator elsewhere) unblocked a guard.
func (d *Dispatcher) wrap(e *entry) threadpool.Runnable {
	return threadpool.RunnableFunc(func(ctx context.Context) {
		defer func() {
			if e.sub.Kind == Owned && e.sub.Release != nil {
				e.sub.Release()
			}
			d.poke()
		}()
		e.sub.Work.Run(ctx)
	})
}

func (d *Dispatcher) releaseLocked(e *entry) {
	if e.sub.Kind == Owned && e.sub.Release != nil {
		e.sub.Release()
	}
}
