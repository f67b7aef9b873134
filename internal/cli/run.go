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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/scriptd/scriptd/internal/config"
	"github.com/scriptd/scriptd/internal/engine/shell"
	"github.com/scriptd/scriptd/internal/history"
	"github.com/scriptd/scriptd/internal/lifecycle"
	"github.com/scriptd/scriptd/internal/log"
	"github.com/scriptd/scriptd/internal/scm"
	"github.com/scriptd/scriptd/internal/service"
)

// defaultConfigFile is used when --config is not given and the file
// exists in the working directory.
const defaultConfigFile = "scriptd.yaml"

func runService(cmd *cobra.Command, configPath string, args []string) error {
	if configPath == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			configPath = defaultConfigFile
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    os.Stderr,
		AddSource: cfg.Log.Source,
	})
	slog.SetDefault(logger)

	if cfg.Service.PIDFile != "" {
		pidFile := lifecycle.NewPIDFile(cfg.Service.PIDFile)
		if err := pidFile.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := pidFile.Release(); err != nil {
				logger.Warn("release PID file", log.Error(err))
			}
		}()
	}

	var opts []service.ControllerOption
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, service.WithTransitionSink(store))
	}

	settings := cfg.Settings()
	sup := service.NewSupervisor(shell.New(), logger)
	relay := &scm.StatusRelay{}
	ctrl := service.NewController(settings, sup, relay, logger, opts...)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if cfg.Metrics.Enabled {
		stopMetrics := serveMetrics(cfg.Metrics.Listen, ctrl, log.WithComponent(logger, "metrics"))
		defer stopMetrics()
	}

	scriptArgs := args
	if len(scriptArgs) == 0 {
		scriptArgs = cfg.Script.Args
	}

	code, err := scm.Run(ctx, ctrl, settings, relay, logger, scriptArgs)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitCodeError{Code: code}
	}
	return nil
}

// serveMetrics exposes /metrics and a /healthz endpoint that reports the
// controller's current lifecycle state. The listener is best-effort: a
// bind failure is logged but never stops the service.
func serveMetrics(addr string, ctrl *service.Controller, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state := ctrl.State()
		if state == service.Stopped {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "%s\n", state)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listener started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", log.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown", log.Error(err))
		}
	}
}
