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
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// poolGauges is the subset of ThreadPool a MetricsCollector observes.
type poolGauges interface {
	ActiveWorkers() int
	LiveWorkers() int
	MaxThreads() int
}

// dispatchGauges is the subset of Dispatcher a MetricsCollector observes.
type dispatchGauges interface {
	QueuedCount() int
	TotalCount() int
}

// engineGauges is the subset of Engine a MetricsCollector observes.
type engineGauges interface {
	QueuedCount() int
}

// schedulerGauges is the subset of Scheduler a MetricsCollector observes.
type schedulerGauges interface {
	ReadyCount() int
	SleepingCount() int
	BlockedCount() int
	AliveCount() int
}

// MetricsCollector exposes pool, queue, and fiber-scheduler metrics through
// an OpenTelemetry Meter, in the style of internal/tracing.MetricsCollector.
// Counters are incremented directly by callers (RecordOperationOutcome);
// gauges are observable, reading live state off the registered components
// under lock rather than being pushed on every state change.
type MetricsCollector struct {
	operationsTotal metric.Int64Counter

	mu         sync.RWMutex
	pool       poolGauges
	dispatcher dispatchGauges
	engine     engineGauges
	scheduler  schedulerGauges
}

// NewMetricsCollector builds a MetricsCollector registered against meterProvider.
// Components are attached afterward via Attach*, since the Kernel that owns
// them is typically constructed after its MetricsCollector.
func NewMetricsCollector(meterProvider metric.MeterProvider) (*MetricsCollector, error) {
	meter := meterProvider.Meter("modest")
	mc := &MetricsCollector{}

	var err error
	mc.operationsTotal, err = meter.Int64Counter(
		"modest_operations_total",
		metric.WithDescription("Total Operations completed by the kernel, by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"modest_pool_active_workers",
		metric.WithDescription("Worker goroutines currently running a job"),
		metric.WithUnit("{worker}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.mu.RLock()
			p := mc.pool
			mc.mu.RUnlock()
			if p != nil {
				observer.Observe(int64(p.ActiveWorkers()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"modest_pool_live_workers",
		metric.WithDescription("Worker goroutines currently alive, running or idle"),
		metric.WithUnit("{worker}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.mu.RLock()
			p := mc.pool
			mc.mu.RUnlock()
			if p != nil {
				observer.Observe(int64(p.LiveWorkers()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"modest_dispatcher_queue_depth",
		metric.WithDescription("Jobs queued in the dispatcher, not yet dispatched"),
		metric.WithUnit("{job}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.mu.RLock()
			d := mc.dispatcher
			mc.mu.RUnlock()
			if d != nil {
				observer.Observe(int64(d.QueuedCount()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"modest_engine_queue_depth",
		metric.WithDescription("Operations queued in the engine, not yet admitted"),
		metric.WithUnit("{operation}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.mu.RLock()
			e := mc.engine
			mc.mu.RUnlock()
			if e != nil {
				observer.Observe(int64(e.QueuedCount()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"modest_fiber_scheduler_ready_count",
		metric.WithDescription("Fibers currently ready to run"),
		metric.WithUnit("{fiber}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.mu.RLock()
			s := mc.scheduler
			mc.mu.RUnlock()
			if s != nil {
				observer.Observe(int64(s.ReadyCount()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"modest_fiber_scheduler_sleeping_count",
		metric.WithDescription("Fibers currently sleeping"),
		metric.WithUnit("{fiber}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.mu.RLock()
			s := mc.scheduler
			mc.mu.RUnlock()
			if s != nil {
				observer.Observe(int64(s.SleepingCount()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"modest_fiber_scheduler_blocked_count",
		metric.WithDescription("Fibers currently blocked on a key"),
		metric.WithUnit("{fiber}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.mu.RLock()
			s := mc.scheduler
			mc.mu.RUnlock()
			if s != nil {
				observer.Observe(int64(s.BlockedCount()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"modest_fiber_scheduler_alive_count",
		metric.WithDescription("Fibers not yet dead"),
		metric.WithUnit("{fiber}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			mc.mu.RLock()
			s := mc.scheduler
			mc.mu.RUnlock()
			if s != nil {
				observer.Observe(int64(s.AliveCount()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// AttachPool registers the ThreadPool whose gauges this collector reports.
func (mc *MetricsCollector) AttachPool(p poolGauges) {
	mc.mu.Lock()
	mc.pool = p
	mc.mu.Unlock()
}

// AttachDispatcher registers the Dispatcher whose gauges this collector reports.
func (mc *MetricsCollector) AttachDispatcher(d dispatchGauges) {
	mc.mu.Lock()
	mc.dispatcher = d
	mc.mu.Unlock()
}

// AttachEngine registers the Engine whose gauges this collector reports.
func (mc *MetricsCollector) AttachEngine(e engineGauges) {
	mc.mu.Lock()
	mc.engine = e
	mc.mu.Unlock()
}

// AttachScheduler registers the Scheduler whose gauges this collector reports.
func (mc *MetricsCollector) AttachScheduler(s schedulerGauges) {
	mc.mu.Lock()
	mc.scheduler = s
	mc.mu.Unlock()
}

// RecordOperationOutcome increments the operation counter for one completed
// Operation, labeled by its terminal outcome (e.g. "finished", "canceled",
// "pool_saturated").
func (mc *MetricsCollector) RecordOperationOutcome(ctx context.Context, outcome string) {
	mc.operationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
