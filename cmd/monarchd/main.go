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

// Command monarchd is a small demo daemon exercising the runtime core:
// it boots a Kernel, submits a handful of Operations and Fibers, and can
// print the merged configuration tree.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tombee/conductor/internal/log"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monarchd",
		Short: "Demo daemon for the Monarch runtime core",
		Long: `monarchd boots a Kernel (ConfigManager, ThreadPool, JobDispatcher,
Operation Engine, and FiberScheduler) and exercises it end to end.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
	}

	cmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "Log output format (text, json)")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newConfigCommand())
	return cmd
}

func loggerFromFlags(cmd *cobra.Command) *slog.Logger {
	cfg := log.FromEnv()
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Format = log.Format(v)
	}
	return log.New(cfg)
}
