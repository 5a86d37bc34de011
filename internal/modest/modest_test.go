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

package modest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tombee/conductor/internal/modest/fiber"
	"github.com/tombee/conductor/internal/modest/kernel"
	"github.com/tombee/conductor/internal/modest/state"
)

func TestKernel_SubmitRunsAnUnguardedOperation(t *testing.T) {
	k, err := NewKernel()
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	k.Start()
	defer k.Stop()

	var ran int32
	op := kernel.NewOperation(kernel.RunnableFunc(func(ctx context.Context) {
		atomic.StoreInt32(&ran, 1)
	}), nil, nil)
	k.Submit(op)

	if err := op.WaitFor(context.Background(), false); err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("operation never ran")
	}
}

// TestKernel_GuardedDeferralThroughKernel is spec S4 exercised through the
// Kernel surface rather than a bare Engine.
func TestKernel_GuardedDeferralThroughKernel(t *testing.T) {
	k, err := NewKernel()
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	k.Start()
	defer k.Stop()

	k.State().Mutable().SetBool("busy", true)

	var ran int32
	deferred := kernel.NewOperation(
		kernel.RunnableFunc(func(ctx context.Context) { atomic.StoreInt32(&ran, 1) }),
		kernel.GuardFuncs{CanExecuteFunc: func(s *state.ImmutableState, op *kernel.Operation) bool {
			return !s.GetBool("busy")
		}},
		nil,
	)
	k.Submit(deferred)

	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&ran) != 0 {
		t.Fatal("guarded operation ran while busy was true")
	}

	clearer := kernel.NewOperation(
		kernel.RunnableFunc(func(ctx context.Context) {}),
		nil,
		kernel.MutatorFuncs{PostFunc: func(s *state.MutableState, op *kernel.Operation) {
			s.SetBool("busy", false)
		}},
	)
	k.Submit(clearer)

	if err := deferred.WaitFor(context.Background(), false); err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("deferred operation never ran after busy cleared")
	}
}

func TestKernel_SubmitFiberRunsToCompletion(t *testing.T) {
	k, err := NewKernel()
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	k.Start()
	defer k.Stop()

	var steps int32
	k.SubmitFiber(fiber.FiberFunc(func() fiber.Directive {
		if atomic.AddInt32(&steps, 1) < 3 {
			return fiber.Yield()
		}
		return fiber.Exit()
	}))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&steps) < 3 {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt32(&steps); got != 3 {
		t.Fatalf("fiber stepped %d times, want 3", got)
	}
}

func TestKernel_DefaultRuntimeOptionsOverrideBuiltInDefaults(t *testing.T) {
	k, err := NewKernel(WithDefaultRuntimeOptions(RuntimeOptions{
		MaxThreads:           4,
		IdleExpiryMillis:     1000,
		SchedulerThreadCount: 2,
	}))
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	if got := k.Pool().MaxThreads(); got != 4 {
		t.Fatalf("MaxThreads() = %d, want 4", got)
	}
}
