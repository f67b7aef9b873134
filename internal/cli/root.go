// Copyright 2026 The scriptd Authors
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

// Package cli builds the scriptd command tree. The root command hosts the
// service itself, since the control manager invokes the binary without a
// subcommand; history and version are operator subcommands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

// ExitCodeError carries a non-zero process exit code out of command
// execution, so main can distinguish a clean command failure from a
// service that stopped with an error status.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// NewRootCommand creates the root cobra command for scriptd.
func NewRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "scriptd [-- script args...]",
		Short: "scriptd - host a script session as an OS service",
		Long: `scriptd runs a shell script as a supervised OS service. Under the
Windows service control manager it answers lifecycle controls (stop,
pause, continue, shutdown) and forwards them to the script's event
subscriptions; on other platforms a console runner translates POSIX
signals into the same controls.

Arguments after -- are passed to the script as positional parameters
and take precedence over script.args from the configuration file.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd, configPath, args)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: scriptd.yaml if present)")

	cmd.AddCommand(newHistoryCommand(&configPath))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scriptd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}
