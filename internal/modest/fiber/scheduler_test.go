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
	"sync/atomic"
	"testing"
	"time"

	"github.com/tombee/conductor/internal/modest/threadpool"
)

// countingFiber yields `remaining` times, incrementing a shared counter on
// each yield, then exits. Mirrors original_source's TestFiber.
type countingFiber struct {
	remaining int
	yields    *int64
	ranAfterDead *int32
	dead      *int32
}

func (f *countingFiber) Step() Directive {
	if atomic.LoadInt32(f.dead) != 0 {
		atomic.AddInt32(f.ranAfterDead, 1)
	}
	if f.remaining <= 0 {
		atomic.StoreInt32(f.dead, 1)
		return Exit()
	}
	f.remaining--
	atomic.AddInt64(f.yields, 1)
	return Yield()
}

// TestScheduler_TenYieldingFibers is spec scenario S3: ten Fibers each
// yielding ten times then exiting; WaitForLastFiberExit returns, the total
// yield count is 100, no fiber runs after going Dead, and the scheduler is
// idle at return.
func TestScheduler_TenYieldingFibers(t *testing.T) {
	pool := threadpool.New(threadpool.WithMaxThreads(4))
	defer pool.TerminateAll()

	s := NewScheduler(pool, WithThreadCount(1))

	var yields int64
	var ranAfterDead int32
	for i := 0; i < 10; i++ {
		var dead int32
		s.AddFiber(&countingFiber{remaining: 10, yields: &yields, ranAfterDead: &ranAfterDead, dead: &dead})
	}

	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		s.WaitForLastFiberExit(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("WaitForLastFiberExit never returned")
	}

	if got := atomic.LoadInt64(&yields); got != 100 {
		t.Fatalf("total yields = %d, want 100", got)
	}
	if got := atomic.LoadInt32(&ranAfterDead); got != 0 {
		t.Fatalf("a fiber ran %d times after being marked dead", got)
	}
	if got := s.ReadyCount(); got != 0 {
		t.Fatalf("ReadyCount() = %d after drain, want 0", got)
	}
	if got := s.SleepingCount(); got != 0 {
		t.Fatalf("SleepingCount() = %d after drain, want 0", got)
	}
	if got := s.BlockedCount(); got != 0 {
		t.Fatalf("BlockedCount() = %d after drain, want 0", got)
	}
	if got := s.AliveCount(); got != 0 {
		t.Fatalf("AliveCount() = %d after drain, want 0", got)
	}
}

func TestScheduler_SleepThenExit(t *testing.T) {
	pool := threadpool.New(threadpool.WithMaxThreads(2))
	defer pool.TerminateAll()

	s := NewScheduler(pool, WithThreadCount(1), WithSweepInterval(2*time.Millisecond))
	s.Start()
	defer s.Stop()

	slept := false
	s.AddFiber(FiberFunc(func() Directive {
		if !slept {
			slept = true
			return Sleep(10 * time.Millisecond)
		}
		return Exit()
	}))

	done := make(chan struct{})
	go func() {
		s.WaitForLastFiberExit(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sleeping fiber never exited")
	}
}

func TestScheduler_BlockAndWake(t *testing.T) {
	pool := threadpool.New(threadpool.WithMaxThreads(2))
	defer pool.TerminateAll()

	s := NewScheduler(pool, WithThreadCount(1))
	s.Start()
	defer s.Stop()

	blocked := false
	id := s.AddFiber(FiberFunc(func() Directive {
		if !blocked {
			blocked = true
			return Block("gate")
		}
		return Exit()
	}))

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && s.BlockedCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	if got := s.BlockedCount(); got != 1 {
		t.Fatalf("BlockedCount() = %d, want 1", got)
	}

	s.WakeAll("gate")

	done := make(chan struct{})
	go func() {
		s.WaitForLastFiberExit(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("blocked fiber never exited after WakeAll")
	}
	_ = id
}

func TestScheduler_WaitForLastFiberExitCancelsSleepersWhenNotDraining(t *testing.T) {
	pool := threadpool.New(threadpool.WithMaxThreads(2))
	defer pool.TerminateAll()

	s := NewScheduler(pool, WithThreadCount(1))
	s.Start()
	defer s.Stop()

	s.AddFiber(FiberFunc(func() Directive {
		return Sleep(time.Hour)
	}))

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && s.SleepingCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	if got := s.SleepingCount(); got != 1 {
		t.Fatalf("SleepingCount() = %d, want 1", got)
	}

	done := make(chan struct{})
	go func() {
		s.WaitForLastFiberExit(false)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WaitForLastFiberExit(false) never returned despite an hour-long sleeper")
	}
}

func TestScheduler_PanicInStepKillsOnlyThatFiber(t *testing.T) {
	pool := threadpool.New(threadpool.WithMaxThreads(2))
	defer pool.TerminateAll()

	s := NewScheduler(pool, WithThreadCount(1))
	s.Start()
	defer s.Stop()

	panicky := s.AddFiber(FiberFunc(func() Directive {
		panic("boom")
	}))

	var survivorDone int32
	s.AddFiber(FiberFunc(func() Directive {
		if atomic.LoadInt32(&survivorDone) == 1 {
			return Exit()
		}
		atomic.StoreInt32(&survivorDone, 1)
		return Yield()
	}))

	done := make(chan struct{})
	go func() {
		s.WaitForLastFiberExit(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scheduler never drained after one fiber panicked")
	}
	_ = panicky
}

// TestScheduler_RoundRobinFairness is a check for spec invariant §8.6: no
// fiber that keeps yielding starves while others are ready.
func TestScheduler_RoundRobinFairness(t *testing.T) {
	pool := threadpool.New(threadpool.WithMaxThreads(2))
	defer pool.TerminateAll()

	s := NewScheduler(pool, WithThreadCount(1))
	s.Start()
	defer s.Stop()

	const fibers = 5
	const iterations = 20
	counts := make([]int32, fibers)
	for i := 0; i < fibers; i++ {
		i := i
		remaining := iterations
		s.AddFiber(FiberFunc(func() Directive {
			if remaining <= 0 {
				return Exit()
			}
			remaining--
			atomic.AddInt32(&counts[i], 1)
			return Yield()
		}))
	}

	done := make(chan struct{})
	go func() {
		s.WaitForLastFiberExit(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("fairness test never drained")
	}

	for i, c := range counts {
		if got := atomic.LoadInt32(&c); got != iterations {
			t.Fatalf("fiber %d ran %d times, want %d", i, got, iterations)
		}
	}
}
