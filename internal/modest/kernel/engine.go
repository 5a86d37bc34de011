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

package kernel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tombee/conductor/internal/modest/state"
	"github.com/tombee/conductor/internal/modest/threadpool"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OutcomeRecorder receives one event per Operation that reaches a terminal
// state, labeled by outcome ("finished", "finished_error", "canceled",
// "pool_saturated").
// modest.MetricsCollector satisfies this structurally.
type OutcomeRecorder interface {
	RecordOperationOutcome(ctx context.Context, outcome string)
}

// Engine is the Operation Engine: it owns a queue of Operations and, on
// every wakeup, scans it oldest-first, consulting each Operation's guard
// against a shared state.State before trying to admit it to a ThreadPool.
//
// Unlike dispatcher.Dispatcher (which this specializes in spirit, not by
// embedding — the admission decision here needs the guard evaluated
// per-entry rather than a single canDispatch() precondition) the scan never
// stops at the first entry that can't run: a guarded Operation that isn't
// ready yet does not block the ones behind it, per spec §4.3's "dispatch
// order is an attempt order."
type Engine struct {
	pool    *threadpool.ThreadPool
	state   *state.State
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics OutcomeRecorder

	mu      sync.Mutex
	queue   []*Operation
	running bool

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// Option configures a new Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer attaches an OpenTelemetry tracer; each executed Operation opens
// a "modest.operation.execute" span. No-op (no spans) if never set.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithMetrics attaches an OutcomeRecorder notified once per Operation that
// reaches a terminal state.
func WithMetrics(m OutcomeRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine over pool, guarding admission against st.
func NewEngine(pool *threadpool.ThreadPool, st *state.State, opts ...Option) *Engine {
	e := &Engine{
		pool:   pool,
		state:  st,
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the engine's scan loop. A no-op if already running.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop()
}

// Stop halts the scan loop and waits for it to exit. Queued Operations are
// left untouched, neither started nor canceled.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	close(e.quit)
	e.wg.Wait()
}

// Submit queues op for admission and wakes the engine.
func (e *Engine) Submit(op *Operation) {
	e.mu.Lock()
	e.queue = append(e.queue, op)
	e.mu.Unlock()
	e.poke()
}

// Wakeup forces the engine to re-scan its queue without waiting for a
// submission or job completion, e.g. after an external actor changes state
// outside of a StateMutator (tests, or process-level config reload).
func (e *Engine) Wakeup() {
	e.poke()
}

// QueuedCount returns the number of Operations still awaiting admission.
func (e *Engine) QueuedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Engine) poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		if !e.isRunning() {
			return
		}
		if e.scan() {
			continue
		}
		select {
		case <-e.wake:
		case <-e.quit:
		}
	}
}

// scan evaluates every queued Operation's guard once and returns true if it
// admitted or canceled at least one, so the caller immediately rescans
// (newly admitted capacity or a flipped state may unblock others).
func (e *Engine) scan() bool {
	e.mu.Lock()
	queue := e.queue
	e.mu.Unlock()

	progressed := false
	kept := make([]*Operation, 0, len(queue))
	for _, op := range queue {
		switch e.admit(op) {
		case admitResultRan:
			progressed = true
		case admitResultCanceled:
			progressed = true
		case admitResultDeferred:
			kept = append(kept, op)
		}
	}

	e.mu.Lock()
	e.queue = kept
	e.mu.Unlock()
	return progressed
}

type admitResult int

const (
	admitResultDeferred admitResult = iota
	admitResultRan
	admitResultCanceled
)

// admit evaluates op's guard (if any) against an immutable snapshot of
// state, then either submits it to the pool, cancels it, or leaves it
// queued. An Operation with no guard is always immediately admitted.
func (e *Engine) admit(op *Operation) admitResult {
	if op.Guard != nil {
		imm := e.state.Immutable()
		if !op.Guard.CanExecute(imm, op) {
			if op.Guard.MustCancelAfterWait(imm, op) {
				op.markCanceled()
				e.logger.Debug("kernel: operation canceled by guard")
				e.recordOutcome("canceled")
				return admitResultCanceled
			}
			return admitResultDeferred
		}
	}

	// The guard passed; check for pool capacity before running the
	// pre-mutator, so mutatePreExecute does not fire while the pool is
	// already full. This is a check, not a reservation: a free slot observed
	// here can still be claimed by another submitter before TryRunJob runs
	// (the pool may be shared with a plain dispatcher.Dispatcher). In that
	// case mutatePostExecute is applied after the pre-mutator and the
	// Operation is canceled with a pool_saturated error.
	if !e.pool.HasFreeSlot() {
		return admitResultDeferred
	}

	if op.Mutator != nil {
		mut := e.state.Mutable()
		e.state.Lock()
		op.Mutator.MutatePreExecute(mut, op)
		e.state.Unlock()
	}

	if !e.pool.TryRunJob(e.wrap(op)) {
		if op.Mutator != nil {
			mut := e.state.Mutable()
			e.state.Lock()
			op.Mutator.MutatePostExecute(mut, op)
			e.state.Unlock()
		}
		op.markCanceledWithCause(&Error{Type: ErrorTypePoolSaturated, Message: "operation admitted by guard but pool rejected it"})
		e.recordOutcome("pool_saturated")
		return admitResultCanceled
	}
	op.markStarted()
	return admitResultRan
}

func (e *Engine) recordOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.RecordOperationOutcome(context.Background(), outcome)
	}
}

// wrap adapts an Operation into a threadpool.Runnable that runs its
// Runnable under a context carrying the Operation's interrupt flag, then
// applies mutatePostExecute under the state's exclusive lock and marks the
// Operation finished, waking the engine afterward since the post-mutator
// may have satisfied another Operation's guard.
func (e *Engine) wrap(op *Operation) threadpool.Runnable {
	return threadpool.RunnableFunc(func(ctx context.Context) {
		ctx = state.WithInterruptFlag(ctx, op.flag)

		var span trace.Span
		if e.tracer != nil {
			ctx, span = e.tracer.Start(ctx, "modest.operation.execute")
			defer span.End()
		}

		var runErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("kernel: operation runnable panicked")
					runErr = ErrOperationCancelled
				}
			}()
			op.Runnable.Run(ctx)
		}()
		if span != nil {
			span.AddEvent("mutatePreExecute applied before this span started")
			if runErr != nil {
				span.RecordError(runErr)
				span.SetStatus(codes.Error, runErr.Error())
			}
		}

		if op.Mutator != nil {
			mut := e.state.Mutable()
			e.state.Lock()
			op.Mutator.MutatePostExecute(mut, op)
			e.state.Unlock()
			if span != nil {
				span.AddEvent("mutatePostExecute applied")
			}
		}

		op.markFinished(runErr)
		if runErr != nil {
			e.recordOutcome("finished_error")
		} else {
			e.recordOutcome("finished")
		}
		e.poke()
	})
}
