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

//go:build !windows

package scm

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/scriptd/scriptd/internal/service"
)

// Run hosts the controller as a console process. SIGINT and SIGTERM map
// to Stop, SIGUSR1 to Pause and SIGUSR2 to Continue. Run returns once the
// controller reaches Stopped, with the process exit code derived from the
// final status report.
func Run(ctx context.Context, ctrl Controller, settings service.Settings, relay *StatusRelay, logger *slog.Logger, args []string) (int, error) {
	relay.Bind(func(rep service.StatusReport) {
		(&service.LogReporter{Logger: logger}).Report(rep)
	})

	r := &consoleRunner{ctrl: ctrl, logger: logger}

	if err := ctrl.Start(args); err != nil {
		return ExitCode(relay.Last()), err
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			if err := ctrl.Stop(); err != nil {
				logger.Error("stop on context cancel", slog.Any("error", err))
			}
			return ExitCode(relay.Last()), nil
		case sig := <-sigCh:
			r.handleSignal(sig)
		case <-ctrl.Stopped():
			return ExitCode(relay.Last()), nil
		}
	}
}

type consoleRunner struct {
	ctrl   Controller
	logger *slog.Logger
}

// handleSignal issues the control request a signal maps to. Requests that
// are invalid in the current state log and are otherwise ignored, matching
// how a control manager treats an unaccepted control.
func (r *consoleRunner) handleSignal(sig os.Signal) {
	var err error
	switch sig {
	case os.Interrupt, syscall.SIGTERM:
		err = r.ctrl.Stop()
	case syscall.SIGUSR1:
		err = r.ctrl.Pause()
	case syscall.SIGUSR2:
		err = r.ctrl.Continue()
	default:
		return
	}
	if err != nil {
		r.logger.Warn("control request rejected",
			slog.String("signal", sig.String()),
			slog.Any("error", err),
		)
	}
}
