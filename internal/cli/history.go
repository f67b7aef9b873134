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

package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scriptd/scriptd/internal/config"
	"github.com/scriptd/scriptd/internal/history"
)

func newHistoryCommand(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent lifecycle transitions",
		Long: `History prints the most recent lifecycle status reports recorded in
the transition history database, newest first. Requires history to be
enabled in the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if path == "" {
				if _, err := os.Stat(defaultConfigFile); err == nil {
					path = defaultConfigFile
				}
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("transition history is not enabled in the configuration")
			}

			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSTATE\tWIN32\tSERVICE\tCHECKPOINT\tWAIT HINT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%dms\n",
					e.RecordedAt.Format(time.RFC3339),
					e.State,
					e.Win32ExitCode,
					e.ServiceSpecificExitCode,
					e.Checkpoint,
					e.WaitHintMillis,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")
	return cmd
}
