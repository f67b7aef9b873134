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

// Package shell is the POSIX shell script engine, built on the embedded
// mvdan.cc/sh interpreter. Scripts talk back to the host through a small
// set of builtins:
//
//	host-shutdown [code]         request host shutdown with an exit code
//	host-allow-suspend           exit status 0 if suspend is allowed
//	host-on <category> <command> run <command> when the host forwards an
//	                             event of <category>
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/scriptd/scriptd/internal/engine"
	"github.com/scriptd/scriptd/internal/events"
)

// Engine implements engine.Engine for shell scripts.
type Engine struct{}

// New creates a shell engine.
func New() *Engine {
	return &Engine{}
}

// Launch reads and parses the script. Parsing happens here so syntax errors
// fail the start attempt instead of surfacing mid-session; nothing runs
// until the supervisor calls Run.
func (e *Engine) Launch(spec engine.LaunchSpec, host engine.Host) (engine.Invocation, error) {
	src, err := os.ReadFile(spec.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("shell: read script: %w", err)
	}

	prog, err := syntax.NewParser().Parse(bytes.NewReader(src), filepath.Base(spec.ScriptPath))
	if err != nil {
		return nil, fmt.Errorf("shell: parse script: %w", err)
	}

	return &invocation{spec: spec, prog: prog, host: host}, nil
}

type invocation struct {
	spec engine.LaunchSpec
	prog *syntax.File
	host engine.Host

	out syncBuffer
}

// Run executes the parsed script until completion or cancellation.
func (inv *invocation) Run(ctx context.Context) engine.Result {
	env := inv.spec.Env
	if env == nil {
		env = os.Environ()
	}

	opts := []interp.RunnerOption{
		interp.Dir(inv.spec.WorkDir),
		interp.Env(expand.ListEnviron(env...)),
		interp.StdIO(nil, &inv.out, &inv.out),
		interp.ExecHandlers(inv.hostBuiltins),
	}
	// "--" keeps script args that look like options from being eaten by
	// the interpreter.
	if len(inv.spec.Args) > 0 {
		opts = append(opts, interp.Params(append([]string{"--"}, inv.spec.Args...)...))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return engine.Result{Err: fmt.Errorf("shell: create interpreter: %w", err)}
	}

	err = runner.Run(ctx, inv.prog)
	if err != nil {
		if ctx.Err() != nil {
			return engine.Result{Output: inv.out.String(), Err: context.Canceled}
		}
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return engine.Result{
				Output: inv.out.String(),
				Err:    fmt.Errorf("shell: script exited with status %d: %w", int(status), err),
			}
		}
		return engine.Result{Output: inv.out.String(), Err: fmt.Errorf("shell: script failed: %w", err)}
	}

	return engine.Result{Output: inv.out.String()}
}

// hostBuiltins intercepts the host-* commands; everything else falls back
// to the default exec handler.
func (inv *invocation) hostBuiltins(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if len(args) == 0 || inv.host == nil {
			return next(ctx, args)
		}
		switch args[0] {
		case "host-shutdown":
			code := 0
			if len(args) > 1 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("host-shutdown: bad exit code %q: %w", args[1], err)
				}
				code = n
			}
			inv.host.RequestShutdown(code)
			return nil

		case "host-allow-suspend":
			if inv.host.AllowSuspend() {
				return nil
			}
			return interp.ExitStatus(1)

		case "host-on":
			if len(args) < 3 {
				return fmt.Errorf("host-on: usage: host-on <category> <command...>")
			}
			cat, err := events.ParseCategory(args[1])
			if err != nil {
				return err
			}
			inv.subscribe(cat, strings.Join(args[2:], " "))
			return nil
		}
		return next(ctx, args)
	}
}

// subscribe registers an event handler that runs command in a fresh
// interpreter sharing the session's output buffer. The handler runs on the
// dispatcher's goroutine, so each event gets its own runner; the main
// session runner is not concurrency-safe.
func (inv *invocation) subscribe(cat events.Category, command string) {
	inv.host.Subscribe(cat, func(ev events.Event) error {
		prog, err := syntax.NewParser().Parse(strings.NewReader(command), cat.String())
		if err != nil {
			return fmt.Errorf("shell: parse event command: %w", err)
		}

		env := inv.spec.Env
		if env == nil {
			env = os.Environ()
		}
		env = append(env[:len(env):len(env)], eventEnv(ev)...)

		runner, err := interp.New(
			interp.Dir(inv.spec.WorkDir),
			interp.Env(expand.ListEnviron(env...)),
			interp.StdIO(nil, &inv.out, &inv.out),
		)
		if err != nil {
			return fmt.Errorf("shell: create event interpreter: %w", err)
		}
		if err := runner.Run(context.Background(), prog); err != nil {
			return fmt.Errorf("shell: event command for %s: %w", cat, err)
		}
		return nil
	})
}

// eventEnv exposes the event payload to the handler command.
func eventEnv(ev events.Event) []string {
	env := []string{"SCRIPTD_EVENT=" + ev.Category.String()}
	switch ev.Category {
	case events.CategoryPower:
		env = append(env, "SCRIPTD_POWER_STATUS="+ev.Power.String())
	case events.CategorySessionChange:
		env = append(env,
			"SCRIPTD_SESSION_CHANGE="+ev.SessionChange.Reason.String(),
			"SCRIPTD_SESSION_ID="+strconv.Itoa(ev.SessionChange.SessionID))
	case events.CategoryCustomCommand:
		env = append(env, "SCRIPTD_COMMAND_CODE="+strconv.Itoa(ev.CommandCode))
	}
	return env
}

// syncBuffer serializes writes from the session runner and event handler
// runners, which may run on different goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

var _ io.Writer = (*syncBuffer)(nil)

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
