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

package threadpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tombee/conductor/internal/modest/state"
)

func TestThreadPool_TryRunJobRunsWork(t *testing.T) {
	p := New(WithMaxThreads(2))
	defer p.TerminateAll()

	done := make(chan struct{})
	ok := p.TryRunJob(RunnableFunc(func(ctx context.Context) {
		close(done)
	}))
	if !ok {
		t.Fatalf("TryRunJob() = false, want true")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("work never ran")
	}
}

func TestThreadPool_TryRunJobFailsWhenSaturated(t *testing.T) {
	p := New(WithMaxThreads(1))
	defer p.TerminateAll()

	block := make(chan struct{})
	started := make(chan struct{})
	ok := p.TryRunJob(RunnableFunc(func(ctx context.Context) {
		close(started)
		<-block
	}))
	if !ok {
		t.Fatalf("first TryRunJob() = false, want true")
	}
	<-started

	if p.TryRunJob(RunnableFunc(func(context.Context) {})) {
		t.Fatalf("second TryRunJob() = true, want false (pool saturated)")
	}
	close(block)
}

func TestThreadPool_RunJobBlocksUntilPermitFree(t *testing.T) {
	p := New(WithMaxThreads(1))
	defer p.TerminateAll()

	block := make(chan struct{})
	started := make(chan struct{})
	p.TryRunJob(RunnableFunc(func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started

	secondRan := make(chan struct{})
	go func() {
		err := p.RunJob(context.Background(), RunnableFunc(func(ctx context.Context) {
			close(secondRan)
		}))
		if err != nil {
			t.Errorf("RunJob() error = %v", err)
		}
	}()

	select {
	case <-secondRan:
		t.Fatalf("second job ran before first completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)

	select {
	case <-secondRan:
	case <-time.After(time.Second):
		t.Fatalf("second job never ran after permit freed")
	}
}

// TestThreadPool_Saturation is spec scenario S5: with N=2, three long-running
// jobs submitted back to back never have more than 2 running concurrently.
func TestThreadPool_Saturation(t *testing.T) {
	p := New(WithMaxThreads(2))
	defer p.TerminateAll()

	var mu sync.Mutex
	concurrent := 0
	maxConcurrent := 0
	release := make(chan struct{})
	var wg sync.WaitGroup
	var ran sync.WaitGroup
	ran.Add(3)

	track := RunnableFunc(func(ctx context.Context) {
		defer ran.Done()
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		<-release

		mu.Lock()
		concurrent--
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.RunJob(context.Background(), track); err != nil {
				t.Errorf("RunJob error: %v", err)
			}
		}()
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		c := concurrent
		mu.Unlock()
		if c == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	gotMax := maxConcurrent
	mu.Unlock()
	if gotMax > 2 {
		t.Fatalf("max concurrent = %d, want <= 2", gotMax)
	}

	close(release)
	wg.Wait()
	// RunJob returns once a job is handed to a worker, not when it finishes.
	ran.Wait()

	mu.Lock()
	final := concurrent
	mu.Unlock()
	if final != 0 {
		t.Fatalf("concurrent = %d after drain, want 0", final)
	}
}

func TestThreadPool_InterruptAllSetsRunningWorkFlag(t *testing.T) {
	p := New(WithMaxThreads(1))
	defer p.TerminateAll()

	interrupted := make(chan bool, 1)
	started := make(chan struct{})
	p.TryRunJob(RunnableFunc(func(ctx context.Context) {
		close(started)
		<-state.FlagFromContext(ctx).Signal()
		interrupted <- true
	}))
	<-started

	p.InterruptAll()

	select {
	case got := <-interrupted:
		if !got {
			t.Fatalf("expected interrupted signal")
		}
	case <-time.After(time.Second):
		t.Fatalf("job never observed interrupt")
	}
}

func TestThreadPool_TerminateAllJoinsWorkers(t *testing.T) {
	p := New(WithMaxThreads(2))
	p.TryRunJob(RunnableFunc(func(ctx context.Context) {
		time.Sleep(10 * time.Millisecond)
	}))

	done := make(chan struct{})
	go func() {
		p.TerminateAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("TerminateAll never returned")
	}

	if got := p.LiveWorkers(); got != 0 {
		t.Fatalf("LiveWorkers() = %d after TerminateAll, want 0", got)
	}
}

func TestThreadPool_IdleExpiryRetiresSlot(t *testing.T) {
	p := New(WithMaxThreads(1), WithIdleExpiry(20*time.Millisecond))
	defer p.TerminateAll()

	done := make(chan struct{})
	p.TryRunJob(RunnableFunc(func(ctx context.Context) { close(done) }))
	<-done

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.LiveWorkers() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("slot did not retire after idle expiry")
}
