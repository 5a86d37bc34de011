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

// Package fiber implements the FiberScheduler (spec §4.4): cooperative
// Fibers multiplexed onto a small fixed group of scheduler threads running
// atop a threadpool.ThreadPool.
//
// A Fiber step must be a bounded computation that returns control to the
// scheduler; a Fiber waits by returning a Sleep or Block Directive, not by
// blocking. Nothing in the API enforces this: Step is ordinary Go code, and a
// Step that calls a blocking primitive holds its scheduler goroutine until it
// returns, leaving the other fibers to the remaining scheduler goroutines, if
// any. Grounded on original_source/cpp/tests/test-fiber-yield.cpp's yield()
// contract.
package fiber

import "time"

// State is a Fiber's current scheduling state.
type State int

const (
	Ready State = iota
	Running
	Sleeping
	Blocked
	Dead
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Blocked:
		return "blocked"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Fiber is a cooperative, stackless task. Step runs one bounded increment of
// work and returns a Directive telling the scheduler what to do next.
type Fiber interface {
	Step() Directive
}

// FiberFunc adapts a plain function to a Fiber whose Step returns whatever
// Directive the function returns.
type FiberFunc func() Directive

// Step implements Fiber.
func (f FiberFunc) Step() Directive { return f() }

type directiveKind int

const (
	kindYield directiveKind = iota
	kindSleep
	kindBlock
	kindExit
)

// Directive is what a Fiber's Step asks the scheduler to do next.
type Directive struct {
	kind     directiveKind
	sleepFor time.Duration
	blockKey any
}

// Yield returns the fiber to the tail of the ready queue.
func Yield() Directive { return Directive{kind: kindYield} }

// Sleep parks the fiber until d has elapsed, then returns it to ready.
func Sleep(d time.Duration) Directive { return Directive{kind: kindSleep, sleepFor: d} }

// Block parks the fiber until Scheduler.Wake(id) or Scheduler.WakeAll(key)
// is called with a matching key. key must be a comparable value.
func Block(key any) Directive { return Directive{kind: kindBlock, blockKey: key} }

// Exit ends the fiber; the scheduler marks it Dead and never steps it again.
func Exit() Directive { return Directive{kind: kindExit} }
