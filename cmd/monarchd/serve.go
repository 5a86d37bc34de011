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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tombee/conductor/internal/configtree"
	"github.com/tombee/conductor/internal/modest"
	"github.com/tombee/conductor/internal/modest/fiber"
	"github.com/tombee/conductor/internal/modest/kernel"
	"github.com/tombee/conductor/internal/modest/state"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newServeCommand() *cobra.Command {
	var configPath string
	var demoOps int
	var demoFibers int
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Boot a Kernel and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, demoOps, demoFibers, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a config document to load at tier User")
	cmd.Flags().IntVar(&demoOps, "demo-operations", 3, "Number of demo Operations to submit at startup")
	cmd.Flags().IntVar(&demoFibers, "demo-fibers", 3, "Number of demo Fibers to submit at startup")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, demoOps, demoFibers int, metricsAddr string) error {
	logger := loggerFromFlags(cmd)

	kernelOpts := []modest.Option{modest.WithLogger(logger)}
	var metricsServer *http.Server
	if metricsAddr != "" {
		exporter, err := otelprometheus.New()
		if err != nil {
			return fmt.Errorf("monarchd: build prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		kernelOpts = append(kernelOpts, modest.WithMeterProvider(mp))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("monarchd: metrics server stopped", "error", err)
			}
		}()
		defer metricsServer.Close()
		logger.Info("monarchd: serving prometheus metrics", "addr", metricsAddr)
	}

	k, err := modest.NewKernel(kernelOpts...)
	if err != nil {
		return fmt.Errorf("monarchd: build kernel: %w", err)
	}

	if configPath != "" {
		cfg, err := configtree.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("monarchd: load config: %w", err)
		}
		if _, err := k.Config().Add(cfg, configtree.TierUser); err != nil {
			return fmt.Errorf("monarchd: add config: %w", err)
		}
	}

	k.Start()
	defer k.Stop()

	reg := modest.NewRegistry()
	reg.RegisterRunnable("sleep-and-count", newSleepAndCountFactory(logger))
	reg.RegisterFiber("yield-n-times", newYieldNTimesFactory(logger))
	if err := submitDemoOperations(k, reg, demoOps); err != nil {
		return fmt.Errorf("monarchd: submit demo operations: %w", err)
	}
	if err := submitDemoFibers(k, reg, demoFibers); err != nil {
		return fmt.Errorf("monarchd: submit demo fibers: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("monarchd: serving, press Ctrl-C to stop")
	<-ctx.Done()
	logger.Info("monarchd: shutting down")
	return nil
}

// submitDemoOperations builds n Operations via reg's "sleep-and-count"
// factory and submits them to k. Each sleeps briefly then flips a counter in
// shared state, showing the mutator hooks firing (the Operations carry no
// guard).
func submitDemoOperations(k *modest.Kernel, reg *modest.Registry, n int) error {
	for i := 0; i < n; i++ {
		r, err := reg.BuildRunnable("sleep-and-count", map[string]any{"index": i})
		if err != nil {
			return err
		}
		op := kernel.NewOperation(
			r,
			nil,
			kernel.MutatorFuncs{
				PreFunc: func(s *state.MutableState, op *kernel.Operation) {
					s.SetInt32("demo_ops_started", s.GetInt32("demo_ops_started")+1)
				},
				PostFunc: func(s *state.MutableState, op *kernel.Operation) {
					s.SetInt32("demo_ops_finished", s.GetInt32("demo_ops_finished")+1)
				},
			},
		)
		k.Submit(op)
	}
	return nil
}

// submitDemoFibers builds n Fibers via reg's "yield-n-times" factory and adds
// them to k's FiberScheduler, showing its round-robin behavior.
func submitDemoFibers(k *modest.Kernel, reg *modest.Registry, n int) error {
	for i := 0; i < n; i++ {
		f, err := reg.BuildFiber("yield-n-times", map[string]any{"index": i, "steps": 5})
		if err != nil {
			return err
		}
		k.SubmitFiber(f)
	}
	return nil
}

// newSleepAndCountFactory returns a RunnableFactory whose built Runnables
// sleep briefly then log their cfg["index"], for demo submission.
func newSleepAndCountFactory(logger *slog.Logger) modest.RunnableFactory {
	return func(cfg map[string]any) (kernel.Runnable, error) {
		index := cfg["index"]
		return kernel.RunnableFunc(func(ctx context.Context) {
			time.Sleep(10 * time.Millisecond)
			logger.Info("monarchd: demo operation ran", "index", index)
		}), nil
	}
}

// newYieldNTimesFactory returns a FiberFactory whose built Fibers yield
// cfg["steps"] times (default 5) before exiting.
func newYieldNTimesFactory(logger *slog.Logger) modest.FiberFactory {
	return func(cfg map[string]any) (fiber.Fiber, error) {
		index := cfg["index"]
		steps, _ := cfg["steps"].(int)
		if steps <= 0 {
			steps = 5
		}
		remaining := steps
		return fiber.FiberFunc(func() fiber.Directive {
			if remaining <= 0 {
				logger.Info("monarchd: demo fiber exiting", "index", index)
				return fiber.Exit()
			}
			remaining--
			return fiber.Yield()
		}), nil
	}
}
