// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Package execx runs the external tools Stagehand drives (gcloud,
// ansible-playbook). Every invocation goes through a Runner so that dry-run
// mode can swap in an implementation that only prints.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// ErrDryRun is returned by DryRunRunner.Output; callers that need a
// command's output must handle the dry-run case themselves.
var ErrDryRun = errors.New("command not executed in dry-run mode")

// Cmd describes one external command.
type Cmd struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the current process environment.
	Env []string
	// Secrets are values redacted from String().
	Secrets []string
	Stdin   io.Reader
}

// Command is a shorthand for building a Cmd.
func Command(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

// String renders the command shell-quoted with secrets masked.
func (c Cmd) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, shellQuote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, shellQuote(a))
	}
	s := strings.Join(parts, " ")
	for _, secret := range c.Secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "********")
		}
	}
	return s
}

// Quote returns s quoted for a POSIX shell.
func Quote(s string) string { return shellQuote(s) }

var safeArg = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if safeArg.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command failed with exit code %d: %s", e.Code, e.Command)
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// ExitCode extracts the exit code carried by err, or 1 for any other
// non-nil error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) && ee.Code > 0 {
		return ee.Code
	}
	return 1
}

// Runner executes commands.
type Runner interface {
	// Run executes c, streaming its output.
	Run(ctx context.Context, c Cmd) error
	// Output executes c and returns its stdout.
	Output(ctx context.Context, c Cmd) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	// Trace, when set, receives "+ <command>" before each run.
	Trace io.Writer
}

// NewExecRunner returns a runner writing to the process stdout/stderr.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (r *ExecRunner) command(ctx context.Context, c Cmd) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	if r.Trace != nil {
		fmt.Fprintf(r.Trace, "+ %s\n", c.String())
	}
	return cmd
}

// Run executes c with stdout and stderr attached to the runner's writers.
func (r *ExecRunner) Run(ctx context.Context, c Cmd) error {
	cmd := r.command(ctx, c)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	return wrapErr(c, cmd.Run(), "")
}

// Output executes c and returns stdout. Stderr is kept for the error.
func (r *ExecRunner) Output(ctx context.Context, c Cmd) ([]byte, error) {
	cmd := r.command(ctx, c)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), wrapErr(c, err, stderr.String())
}

func wrapErr(c Cmd, err error, stderr string) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Command: c.String(), Code: ee.ExitCode(), Stderr: stderr}
	}
	return fmt.Errorf("run %s: %w", c.Name, err)
}

// DryRunRunner prints commands instead of running them.
type DryRunRunner struct {
	Out io.Writer
	// Commands records every command that would have run.
	Commands []Cmd
}

// NewDryRunRunner returns a DryRunRunner printing to out.
func NewDryRunRunner(out io.Writer) *DryRunRunner {
	return &DryRunRunner{Out: out}
}

// Run prints c and reports success.
func (r *DryRunRunner) Run(_ context.Context, c Cmd) error {
	r.Commands = append(r.Commands, c)
	if r.Out != nil {
		fmt.Fprintf(r.Out, "[dry-run] %s\n", c.String())
	}
	return nil
}

// Output prints c and returns ErrDryRun.
func (r *DryRunRunner) Output(ctx context.Context, c Cmd) ([]byte, error) {
	_ = r.Run(ctx, c)
	return nil, ErrDryRun
}

// RequireTools fails when any of the named executables is not on PATH.
func RequireTools(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required tools not found in PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}
