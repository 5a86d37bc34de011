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

// Package kernel implements the Operation Engine ("Modest kernel"): a
// dispatcher.Dispatcher specialization that gates admission of an Operation
// on a guard predicate evaluated against a shared state.State, and runs a
// StateMutator's hooks immediately before and after the Operation's
// Runnable, all under the State's exclusive lock.
//
// Grounded on original_source/modest/cpp/db/modest/Operation.cpp's flag
// machinery (started/interrupted/stopped/finished/canceled), reworked from
// condition-variable waitFor() into a done-channel the caller selects on.
package kernel

import (
	"context"
	"sync"

	"github.com/tombee/conductor/internal/modest/state"
	"github.com/tombee/conductor/internal/modest/threadpool"
)

// Runnable is a unit of work run by an Operation, identical in contract to
// threadpool.Runnable: it should poll state.CurrentInterrupted(ctx) at any
// point where cooperative cancellation should take effect.
type Runnable = threadpool.Runnable

// RunnableFunc adapts a plain function to a Runnable.
type RunnableFunc = threadpool.RunnableFunc

// OperationGuard gates admission of an Operation against the shared state.
// Both predicates see the same ImmutableState snapshot.
type OperationGuard interface {
	// CanExecute reports whether op may be admitted now.
	CanExecute(s *state.ImmutableState, op *Operation) bool
	// MustCancelAfterWait reports whether, when CanExecute is false, op
	// should be canceled rather than left queued for the next wakeup.
	MustCancelAfterWait(s *state.ImmutableState, op *Operation) bool
}

// GuardFuncs adapts two plain functions to an OperationGuard.
type GuardFuncs struct {
	CanExecuteFunc          func(s *state.ImmutableState, op *Operation) bool
	MustCancelAfterWaitFunc func(s *state.ImmutableState, op *Operation) bool
}

func (g GuardFuncs) CanExecute(s *state.ImmutableState, op *Operation) bool {
	return g.CanExecuteFunc(s, op)
}

func (g GuardFuncs) MustCancelAfterWait(s *state.ImmutableState, op *Operation) bool {
	if g.MustCancelAfterWaitFunc == nil {
		return false
	}
	return g.MustCancelAfterWaitFunc(s, op)
}

// StateMutator applies state changes immediately before and after an
// Operation's Runnable executes, both under the state's exclusive lock.
type StateMutator interface {
	MutatePreExecute(s *state.MutableState, op *Operation)
	MutatePostExecute(s *state.MutableState, op *Operation)
}

// MutatorFuncs adapts two plain functions to a StateMutator.
type MutatorFuncs struct {
	PreFunc  func(s *state.MutableState, op *Operation)
	PostFunc func(s *state.MutableState, op *Operation)
}

func (m MutatorFuncs) MutatePreExecute(s *state.MutableState, op *Operation) {
	if m.PreFunc != nil {
		m.PreFunc(s, op)
	}
}

func (m MutatorFuncs) MutatePostExecute(s *state.MutableState, op *Operation) {
	if m.PostFunc != nil {
		m.PostFunc(s, op)
	}
}

// Operation is the triple (Runnable, OperationGuard?, StateMutator?) plus
// lifecycle flags. A single Operation is owned by exactly one Engine at a
// time; once submitted it must not be mutated externally.
//
// Invariants: finished implies stopped; canceled implies stopped and not
// started. Once stopped is set, no further flag transition occurs except
// idempotent re-observation of the same terminal state.
type Operation struct {
	Runnable Runnable
	Guard    OperationGuard
	Mutator  StateMutator

	mu       sync.Mutex
	started  bool
	stopped  bool
	finished bool
	canceled bool
	flag     *state.InterruptFlag
	done     chan struct{}
	runErr   error
}

// NewOperation constructs an Operation. guard and mutator may be nil.
func NewOperation(r Runnable, guard OperationGuard, mutator StateMutator) *Operation {
	return &Operation{
		Runnable: r,
		Guard:    guard,
		Mutator:  mutator,
		flag:     state.NewInterruptFlag(),
		done:     make(chan struct{}),
	}
}

// Started reports whether the Operation has begun running its Runnable.
func (op *Operation) Started() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.started
}

// Stopped reports whether the Operation has reached a terminal state.
func (op *Operation) Stopped() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.stopped
}

// Finished reports whether the Operation ran its Runnable to completion.
func (op *Operation) Finished() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.finished
}

// Canceled reports whether the Operation was canceled before running.
func (op *Operation) Canceled() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.canceled
}

// Err returns the Operation's terminal error: nil after a normal run;
// ErrOperationCancelled if its guard canceled it or its Runnable panicked;
// a *Error of type ErrorTypePoolSaturated if the pool rejected it after its
// guard passed. It is nil while the Operation has not stopped.
func (op *Operation) Err() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.runErr
}

// Interrupt signals the Operation's interrupt flag. If it is currently
// running, the running Runnable observes the signal via
// state.CurrentInterrupted(ctx) on its next check.
func (op *Operation) Interrupt() {
	op.flag.Set()
}

// Interrupted reports whether Interrupt has been called.
func (op *Operation) Interrupted() bool {
	return op.flag.Interrupted()
}

// WaitFor blocks until the Operation is stopped, or ctx is done, or (when
// interruptible is true) the Operation's own interrupt flag fires. It
// mirrors Operation::waitFor from the original kernel: a non-interruptible
// wait ignores its own interrupt signal and only returns on stop or ctx
// cancellation.
func (op *Operation) WaitFor(ctx context.Context, interruptible bool) error {
	if interruptible {
		select {
		case <-op.done:
			return nil
		case <-op.flag.Signal():
			return state.ErrInterrupted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markStarted transitions the Operation to started; called by the Engine
// once the pool has accepted the Operation's job, so the Runnable may
// already be running by then.
func (op *Operation) markStarted() {
	op.mu.Lock()
	op.started = true
	op.mu.Unlock()
}

// markFinished transitions the Operation to finished+stopped after the
// Runnable returns, recording its error if any.
func (op *Operation) markFinished(err error) {
	op.mu.Lock()
	if op.stopped {
		op.mu.Unlock()
		return
	}
	op.finished = true
	op.stopped = true
	op.runErr = err
	op.mu.Unlock()
	close(op.done)
}

// markCanceled transitions the Operation to canceled+stopped without ever
// having started, per mustCancelAfterWait admission.
func (op *Operation) markCanceled() {
	op.markCanceledWithCause(ErrOperationCancelled)
}

// markCanceledWithCause transitions the Operation to canceled+stopped
// without ever having started, recording err as the reason. Used where the
// cancellation isn't guard-driven — e.g. the pool rejecting an Operation
// whose guard already admitted it — but the Runnable still never ran, so
// spec §3's "canceled implies stopped and not started" still applies rather
// than finished.
func (op *Operation) markCanceledWithCause(err error) {
	op.mu.Lock()
	if op.stopped {
		op.mu.Unlock()
		return
	}
	op.canceled = true
	op.stopped = true
	op.runErr = err
	op.mu.Unlock()
	close(op.done)
}
