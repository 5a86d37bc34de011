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

// Package modest wires the runtime core's five components — ConfigManager,
// ThreadPool, Dispatcher, Operation Engine, and FiberScheduler — into the
// single process-wide Kernel that spec §6 describes: submit(Runnable),
// submitFiber(Fiber), and config().
package modest

import (
	"log/slog"
	"time"

	"github.com/tombee/conductor/internal/configtree"
	"github.com/tombee/conductor/internal/modest/dispatcher"
	"github.com/tombee/conductor/internal/modest/fiber"
	"github.com/tombee/conductor/internal/modest/kernel"
	"github.com/tombee/conductor/internal/modest/state"
	"github.com/tombee/conductor/internal/modest/threadpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

// RuntimeOptions holds the runtime knobs spec §6 names: ThreadPool's
// maxThreads and idleExpiryMillis, and FiberScheduler's
// schedulerThreadCount. Dispatcher has none. NewKernel decodes a "runtime"
// section of its ConfigManager's merged view over them via a yaml.v3
// Marshal/Unmarshal round trip; that Manager is new and empty at that point,
// so the values in use come from WithDefaultRuntimeOptions or
// DefaultRuntimeOptions. A "runtime" section added later is only logged, not
// applied.
type RuntimeOptions struct {
	MaxThreads           int `yaml:"maxThreads"`
	IdleExpiryMillis     int `yaml:"idleExpiryMillis"`
	SchedulerThreadCount int `yaml:"schedulerThreadCount"`
}

// DefaultRuntimeOptions matches spec §6's defaults.
func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		MaxThreads:           10,
		IdleExpiryMillis:     120000,
		SchedulerThreadCount: fiber.DefaultSchedulerThreadCount,
	}
}

// decodeRuntimeOptions looks for a "runtime" key in merged and decodes it
// into opts, leaving fields at their current value (the caller's defaults)
// for anything the merged config doesn't mention.
func decodeRuntimeOptions(merged configtree.Config, opts *RuntimeOptions) error {
	m, ok := merged.(map[string]configtree.Config)
	if !ok {
		return nil
	}
	section, ok := m["runtime"]
	if !ok {
		return nil
	}
	b, err := yaml.Marshal(section)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, opts)
}

// Kernel is the process-wide runtime surface: one ConfigManager, one
// ThreadPool shared by the Dispatcher, the Operation Engine, and the
// FiberScheduler's own scheduler threads, per spec §6.
type Kernel struct {
	config *configtree.Manager
	state  *state.State
	pool   *threadpool.ThreadPool

	dispatcher *dispatcher.Dispatcher
	engine     *kernel.Engine
	fibers     *fiber.Scheduler

	metrics *MetricsCollector
	logger  *slog.Logger
}

// Option configures a new Kernel.
type Option func(*kernelConfig)

type kernelConfig struct {
	logger        *slog.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	opts          RuntimeOptions
}

// WithLogger attaches a structured logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(kc *kernelConfig) { kc.logger = logger }
}

// WithTracer attaches an OpenTelemetry tracer to the Operation Engine.
func WithTracer(tracer trace.Tracer) Option {
	return func(kc *kernelConfig) { kc.tracer = tracer }
}

// WithMeterProvider attaches an OpenTelemetry MeterProvider the Kernel's
// MetricsCollector registers its instruments against.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(kc *kernelConfig) { kc.meterProvider = mp }
}

// WithDefaultRuntimeOptions overrides the fallback options used before any
// config layer supplying a "runtime" section is added.
func WithDefaultRuntimeOptions(opts RuntimeOptions) Option {
	return func(kc *kernelConfig) { kc.opts = opts }
}

// NewKernel builds a Kernel with all five components wired together but not
// yet started. Call Start to launch the dispatcher, engine, and scheduler.
func NewKernel(opts ...Option) (*Kernel, error) {
	kc := &kernelConfig{
		logger: slog.Default(),
		opts:   DefaultRuntimeOptions(),
	}
	for _, opt := range opts {
		opt(kc)
	}

	cfgMgr := configtree.NewManager(configtree.WithLogger(kc.logger))
	runtimeOpts := kc.opts
	if err := decodeRuntimeOptions(cfgMgr.GetMerged(), &runtimeOpts); err != nil {
		return nil, err
	}
	cfgMgr.AddListener(configtree.ListenerFunc(func(configtree.ChangeEvent) {
		next := runtimeOpts
		if err := decodeRuntimeOptions(cfgMgr.GetMerged(), &next); err != nil {
			kc.logger.Warn("modest: runtime config reload rejected", "error", err)
			return
		}
		if next != runtimeOpts {
			kc.logger.Info("modest: runtime knobs changed in config, restart to apply",
				"maxThreads", next.MaxThreads,
				"idleExpiryMillis", next.IdleExpiryMillis,
				"schedulerThreadCount", next.SchedulerThreadCount)
		}
	}))

	st := state.New()
	pool := threadpool.New(
		threadpool.WithMaxThreads(runtimeOpts.MaxThreads),
		threadpool.WithIdleExpiry(time.Duration(runtimeOpts.IdleExpiryMillis)*time.Millisecond),
		threadpool.WithLogger(kc.logger),
	)

	disp := dispatcher.New(pool, dispatcher.WithLogger(kc.logger))

	schedThreads := runtimeOpts.SchedulerThreadCount
	if schedThreads <= 0 {
		schedThreads = fiber.DefaultSchedulerThreadCount
	}
	fs := fiber.NewScheduler(pool, fiber.WithThreadCount(schedThreads), fiber.WithLogger(kc.logger))

	var mc *MetricsCollector
	if kc.meterProvider != nil {
		var err error
		mc, err = NewMetricsCollector(kc.meterProvider)
		if err != nil {
			return nil, err
		}
		mc.AttachPool(pool)
		mc.AttachDispatcher(disp)
		mc.AttachScheduler(fs)
	}

	engineOpts := []kernel.Option{kernel.WithLogger(kc.logger)}
	if kc.tracer != nil {
		engineOpts = append(engineOpts, kernel.WithTracer(kc.tracer))
	}
	if mc != nil {
		engineOpts = append(engineOpts, kernel.WithMetrics(mc))
	}
	eng := kernel.NewEngine(pool, st, engineOpts...)
	if mc != nil {
		mc.AttachEngine(eng)
	}

	k := &Kernel{
		config:     cfgMgr,
		state:      st,
		pool:       pool,
		dispatcher: disp,
		engine:     eng,
		fibers:     fs,
		metrics:    mc,
		logger:     kc.logger,
	}
	return k, nil
}

// Start launches the dispatcher, engine, and fiber scheduler.
func (k *Kernel) Start() {
	k.dispatcher.Start()
	k.engine.Start()
	k.fibers.Start()
}

// Stop halts the dispatcher, engine, and fiber scheduler, and releases the
// ThreadPool's worker goroutines. Queued work is left untouched.
func (k *Kernel) Stop() {
	k.fibers.Stop()
	k.engine.Stop()
	k.dispatcher.Stop()
	k.pool.TerminateAll()
}

// Submit queues op on the Operation Engine, per spec §6's submit(Runnable).
func (k *Kernel) Submit(op *kernel.Operation) {
	k.engine.Submit(op)
}

// SubmitFiber adds f to the FiberScheduler, per spec §6's submitFiber(Fiber).
func (k *Kernel) SubmitFiber(f fiber.Fiber) int64 {
	return k.fibers.AddFiber(f)
}

// Config returns the Kernel's ConfigManager, per spec §6's config().
func (k *Kernel) Config() *configtree.Manager {
	return k.config
}

// State returns the Kernel's shared state, for constructing OperationGuards
// and StateMutators ahead of Submit.
func (k *Kernel) State() *state.State {
	return k.state
}

// Pool exposes the Kernel's ThreadPool directly, for collaborators (such as
// Registry-built Runnables) that need to submit bare jobs bypassing guard
// evaluation, per spec §4.3's Dispatcher/Engine split sharing one pool.
func (k *Kernel) Pool() *threadpool.ThreadPool {
	return k.pool
}

// Dispatcher exposes the Kernel's generic JobDispatcher.
func (k *Kernel) Dispatcher() *dispatcher.Dispatcher {
	return k.dispatcher
}

// Metrics returns the Kernel's MetricsCollector, or nil if no MeterProvider
// was supplied to NewKernel.
func (k *Kernel) Metrics() *MetricsCollector {
	return k.metrics
}
