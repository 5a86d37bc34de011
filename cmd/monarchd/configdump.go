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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tombee/conductor/internal/configtree"
	"gopkg.in/yaml.v3"
)

// newConfigCommand creates the config command with subcommands.
func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the merged configuration tree",
		Long: `Inspect a configuration tree built from the --config file.

Subcommands:
  dump - Print the merged configuration tree`,
	}

	cmd.AddCommand(newConfigDumpCommand())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return newConfigDumpCommand().RunE(cmd, args)
	}

	return cmd
}

// newConfigDumpCommand creates the 'config dump' subcommand.
func newConfigDumpCommand() *cobra.Command {
	var configPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the merged configuration tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigDump(cmd, configPath, asJSON)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a config document to load at tier User")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON instead of YAML")
	return cmd
}

func runConfigDump(cmd *cobra.Command, configPath string, asJSON bool) error {
	logger := loggerFromFlags(cmd)
	mgr := configtree.NewManager(configtree.WithLogger(logger))

	if configPath != "" {
		cfg, err := configtree.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("monarchd: load config: %w", err)
		}
		if _, err := mgr.Add(cfg, configtree.TierUser); err != nil {
			return fmt.Errorf("monarchd: add config: %w", err)
		}
	}

	merged := mgr.GetMerged()
	var out []byte
	var err error
	if asJSON {
		out, err = json.MarshalIndent(merged, "", "  ")
	} else {
		out, err = yaml.Marshal(merged)
	}
	if err != nil {
		return fmt.Errorf("monarchd: marshal merged config: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
