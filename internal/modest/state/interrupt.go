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

package state

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInterrupted is returned by any interruptible wait whose flag was set
// while blocked. Once returned, the flag remains set so a subsequent wait on
// the same context also returns immediately, per spec §7.
var ErrInterrupted = errors.New("modest: interrupted")

// ErrTimedOut is returned by a bounded wait whose deadline elapsed before it
// was either woken or interrupted. Timing out never sets the interrupt flag.
var ErrTimedOut = errors.New("modest: timed out")

// InterruptFlag is the Go stand-in for the source's per-thread interrupt
// boolean: a small object a worker goroutine owns for its lifetime and
// consults at every interruptible wait. There is no goroutine-local storage
// in Go, so the flag is threaded explicitly through a context.Context rather
// than looked up by thread identity. Set closes an internal channel so
// WaitInterruptible can select on it instead of polling.
type InterruptFlag struct {
	mu          sync.Mutex
	interrupted bool
	ch          chan struct{}
}

// NewInterruptFlag returns a cleared flag.
func NewInterruptFlag() *InterruptFlag {
	return &InterruptFlag{ch: make(chan struct{})}
}

// Set marks the flag interrupted. Idempotent: interrupting an already
// interrupted flag is a no-op.
func (f *InterruptFlag) Set() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.interrupted {
		return
	}
	f.interrupted = true
	close(f.ch)
}

// Interrupted reports whether the flag is currently set.
func (f *InterruptFlag) Interrupted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupted
}

// Signal returns a channel that is closed when the flag is set. Callers that
// need to select on interruption alongside other readiness conditions (pool
// admission, dispatcher wakeups) use this directly instead of WaitInterruptible.
func (f *InterruptFlag) Signal() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

// Clear resets the flag. Called by a ThreadPool worker slot when it picks up
// a fresh unit of work, so an interrupt delivered to finish off one job does
// not poison every job the slot runs afterwards.
func (f *InterruptFlag) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.interrupted {
		return
	}
	f.interrupted = false
	f.ch = make(chan struct{})
}

type flagContextKey struct{}

// WithInterruptFlag returns a context carrying flag, retrievable by
// Runnables and guard/mutator code via FlagFromContext.
func WithInterruptFlag(ctx context.Context, flag *InterruptFlag) context.Context {
	return context.WithValue(ctx, flagContextKey{}, flag)
}

// FlagFromContext returns the InterruptFlag carried by ctx, lazily
// allocating a fresh (cleared) one if ctx carries none. This is the
// equivalent of the source's lazily-initialized thread-local lookup.
func FlagFromContext(ctx context.Context) *InterruptFlag {
	if f, ok := ctx.Value(flagContextKey{}).(*InterruptFlag); ok {
		return f
	}
	return NewInterruptFlag()
}

// CurrentInterrupted reports whether the flag carried by ctx is set; this is
// the `currentInterrupted()` query a running Runnable polls.
func CurrentInterrupted(ctx context.Context) bool {
	return FlagFromContext(ctx).Interrupted()
}

// WaitInterruptible blocks until done fires, the flag carried by ctx is set,
// or timeout elapses (timeout == 0 means no timeout). It returns nil on a
// clean wake, ErrInterrupted if woken by the flag, ErrTimedOut if the
// deadline elapsed first. On interruption the flag is left set so a
// subsequent call returns ErrInterrupted immediately without blocking.
func WaitInterruptible(ctx context.Context, done <-chan struct{}, timeout time.Duration) error {
	flag := FlagFromContext(ctx)
	if flag.Interrupted() {
		return ErrInterrupted
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-done:
		return nil
	case <-timeoutCh:
		return ErrTimedOut
	case <-flag.Signal():
		return ErrInterrupted
	}
}
