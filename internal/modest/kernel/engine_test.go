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
	"errors"
	"testing"
	"time"

	"github.com/tombee/conductor/internal/modest/state"
	"github.com/tombee/conductor/internal/modest/threadpool"
)

func newTestEngine(t *testing.T, maxThreads int) (*Engine, *threadpool.ThreadPool, *state.State) {
	t.Helper()
	pool := threadpool.New(threadpool.WithMaxThreads(maxThreads))
	st := state.New()
	eng := NewEngine(pool, st)
	eng.Start()
	t.Cleanup(func() {
		eng.Stop()
		pool.TerminateAll()
	})
	return eng, pool, st
}

func TestEngine_UnguardedOperationRunsImmediately(t *testing.T) {
	eng, _, _ := newTestEngine(t, 2)

	ran := make(chan struct{})
	op := NewOperation(threadpool.RunnableFunc(func(ctx context.Context) {
		close(ran)
	}), nil, nil)
	eng.Submit(op)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatalf("unguarded operation never ran")
	}

	if err := op.WaitFor(context.Background(), false); err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	if !op.Finished() {
		t.Fatalf("Finished() = false, want true")
	}
	if op.Canceled() {
		t.Fatalf("Canceled() = true, want false")
	}
}

// TestEngine_GuardedOperationDeferral is spec scenario S4: state starts
// {"busy": true}; an Operation guarded on !busy must not run until another
// Operation's post-mutator flips busy false, at which point the deferred
// Operation runs without being resubmitted.
func TestEngine_GuardedOperationDeferral(t *testing.T) {
	eng, _, st := newTestEngine(t, 2)

	st.Lock()
	st.Mutable().SetBool("busy", true)
	st.Unlock()

	notBusyGuard := GuardFuncs{
		CanExecuteFunc: func(s *state.ImmutableState, op *Operation) bool {
			return !s.GetBool("busy")
		},
	}

	deferredRan := make(chan struct{})
	deferredOp := NewOperation(threadpool.RunnableFunc(func(ctx context.Context) {
		close(deferredRan)
	}), notBusyGuard, nil)
	eng.Submit(deferredOp)

	select {
	case <-deferredRan:
		t.Fatalf("guarded operation ran while busy was true")
	case <-time.After(50 * time.Millisecond):
	}
	if got := eng.QueuedCount(); got != 1 {
		t.Fatalf("QueuedCount() = %d, want 1 while deferred", got)
	}

	clearBusy := MutatorFuncs{
		PostFunc: func(s *state.MutableState, op *Operation) {
			s.SetBool("busy", false)
		},
	}
	unblockerRan := make(chan struct{})
	unblocker := NewOperation(threadpool.RunnableFunc(func(ctx context.Context) {
		close(unblockerRan)
	}), nil, clearBusy)
	eng.Submit(unblocker)

	select {
	case <-unblockerRan:
	case <-time.After(time.Second):
		t.Fatalf("unblocking operation never ran")
	}

	select {
	case <-deferredRan:
	case <-time.After(time.Second):
		t.Fatalf("deferred operation never ran after busy cleared")
	}

	if err := deferredOp.WaitFor(context.Background(), false); err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	if !deferredOp.Finished() {
		t.Fatalf("deferred operation Finished() = false, want true")
	}
}

func TestEngine_MustCancelAfterWaitCancelsImmediately(t *testing.T) {
	eng, _, st := newTestEngine(t, 1)

	st.Lock()
	st.Mutable().SetBool("locked", true)
	st.Unlock()

	alwaysCancel := GuardFuncs{
		CanExecuteFunc: func(s *state.ImmutableState, op *Operation) bool {
			return !s.GetBool("locked")
		},
		MustCancelAfterWaitFunc: func(s *state.ImmutableState, op *Operation) bool {
			return true
		},
	}

	ranAtAll := false
	op := NewOperation(threadpool.RunnableFunc(func(ctx context.Context) {
		ranAtAll = true
	}), alwaysCancel, nil)
	eng.Submit(op)

	if err := op.WaitFor(context.Background(), false); err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	if !op.Canceled() {
		t.Fatalf("Canceled() = false, want true")
	}
	if op.Finished() {
		t.Fatalf("Finished() = true, want false (at most one of finished/canceled)")
	}
	if op.Started() {
		t.Fatalf("Started() = true, want false: canceled implies never started")
	}
	if ranAtAll {
		t.Fatalf("Runnable executed despite MustCancelAfterWait = true")
	}
	if !errors.Is(op.Err(), ErrOperationCancelled) {
		t.Fatalf("Err() = %v, want ErrOperationCancelled", op.Err())
	}
}

func TestEngine_PreAndPostMutatorOrdering(t *testing.T) {
	eng, _, st := newTestEngine(t, 1)

	var order []string
	recordingMutator := MutatorFuncs{
		PreFunc: func(s *state.MutableState, op *Operation) {
			order = append(order, "pre")
		},
		PostFunc: func(s *state.MutableState, op *Operation) {
			order = append(order, "post")
		},
	}

	op := NewOperation(threadpool.RunnableFunc(func(ctx context.Context) {
		order = append(order, "run")
	}), nil, recordingMutator)
	eng.Submit(op)

	if err := op.WaitFor(context.Background(), false); err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}

	st.RLock()
	defer st.RUnlock()
	if len(order) != 3 || order[0] != "pre" || order[1] != "run" || order[2] != "post" {
		t.Fatalf("mutator/run order = %v, want [pre run post]", order)
	}
}

// TestEngine_InterruptPropagatesToRunningOperation is spec scenario S6
// applied to a running Operation: Interrupt signals the flag the running
// Runnable observes via state.CurrentInterrupted(ctx), and a subsequent
// Interrupted() check remains true.
func TestEngine_InterruptPropagatesToRunningOperation(t *testing.T) {
	eng, _, _ := newTestEngine(t, 1)

	observedInterrupt := make(chan bool, 1)
	started := make(chan struct{})
	op := NewOperation(threadpool.RunnableFunc(func(ctx context.Context) {
		close(started)
		flag := state.FlagFromContext(ctx)
		<-flag.Signal()
		observedInterrupt <- flag.Interrupted()
	}), nil, nil)
	eng.Submit(op)

	<-started
	op.Interrupt()

	select {
	case got := <-observedInterrupt:
		if !got {
			t.Fatalf("flag.Interrupted() = false after Interrupt()")
		}
	case <-time.After(time.Second):
		t.Fatalf("running operation never observed interrupt")
	}

	if !op.Interrupted() {
		t.Fatalf("op.Interrupted() = false after completion, want sticky true")
	}

	if err := op.WaitFor(context.Background(), false); err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
}

func TestEngine_WaitForInterruptibleReturnsOnOwnInterrupt(t *testing.T) {
	eng, _, _ := newTestEngine(t, 1)

	block := make(chan struct{})
	op := NewOperation(threadpool.RunnableFunc(func(ctx context.Context) {
		<-block
	}), nil, nil)
	eng.Submit(op)

	go func() {
		time.Sleep(10 * time.Millisecond)
		op.Interrupt()
	}()

	err := op.WaitFor(context.Background(), true)
	if !errors.Is(err, state.ErrInterrupted) {
		t.Fatalf("WaitFor(interruptible=true) error = %v, want ErrInterrupted", err)
	}
	close(block)
}
