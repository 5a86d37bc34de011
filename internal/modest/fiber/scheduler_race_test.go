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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tombee/conductor/internal/modest/threadpool"
)

// TestScheduler_ConcurrentAddWakeAndMultipleThreads hammers AddFiber and
// WakeAll from many goroutines against a multi-threaded scheduler. Run with
// -race.
func TestScheduler_ConcurrentAddWakeAndMultipleThreads(t *testing.T) {
	pool := threadpool.New(threadpool.WithMaxThreads(8))
	defer pool.TerminateAll()

	s := NewScheduler(pool, WithThreadCount(4), WithSweepInterval(2*time.Millisecond))
	s.Start()
	defer s.Stop()

	const n = 100
	var completed int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blockedOnce := false
			s.AddFiber(FiberFunc(func() Directive {
				if !blockedOnce {
					blockedOnce = true
					return Block("shared-gate")
				}
				atomic.AddInt32(&completed, 1)
				return Exit()
			}))
		}()
	}
	wg.Wait()

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			s.WakeAll("shared-gate")
			if atomic.LoadInt32(&completed) == n {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	done := make(chan struct{})
	go func() {
		s.WaitForLastFiberExit(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("scheduler never drained, completed=%d", atomic.LoadInt32(&completed))
	}

	if got := atomic.LoadInt32(&completed); got != n {
		t.Fatalf("completed = %d, want %d", got, n)
	}
}
