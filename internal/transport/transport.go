// Package transport executes commands either in-process on the local
// machine or on a remote host through the system ssh client. It carries no
// retry logic; retries belong to callers.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// SSHConnectionExit is the exit code the ssh client reserves for its own
// connection and authentication failures, as opposed to the remote
// command's exit status.
const SSHConnectionExit = 255

// Command describes one command execution.
type Command struct {
	Name  string
	Args  []string
	Stdin string
	// Env holds extra KEY=VALUE pairs. The local runner appends them to the
	// process environment; the remote runner prefixes them to the command.
	Env []string
	// Timeout bounds the execution. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Result is the captured outcome of a command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok reports whether the command exited zero.
func (r Result) Ok() bool { return r.ExitCode == 0 }

// Runner executes commands at a fixed location. A non-zero exit is reported
// through Result, not through the error; the error is reserved for commands
// that could not be executed at all (binary missing, timeout, cancellation).
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Local runs commands directly on this machine.
type Local struct {
	log *slog.Logger
}

// NewLocal creates a local runner.
func NewLocal(log *slog.Logger) *Local {
	return &Local{log: log}
}

func (l *Local) Run(ctx context.Context, c Command) (Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	l.log.Debug("exec", "name", c.Name, "args", strings.Join(c.Args, " "))
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			if ctx.Err() != nil {
				return res, fmt.Errorf("%s timed out: %w", c.Name, ctx.Err())
			}
			return res, nil
		}
		return res, fmt.Errorf("failed to run %s: %w", c.Name, err)
	}
	return res, nil
}

// SSH runs commands on a remote host through the system ssh client, bound
// to a single identity file. Invocations are strictly non-interactive:
// IdentitiesOnly plus BatchMode make a failed key auth fail fast instead of
// prompting, and new host keys are recorded without a prompt.
type SSH struct {
	Target         string // user@host
	IdentityFile   string
	ConnectTimeout time.Duration

	local *Local
}

// NewSSH creates a remote runner for user@host using the given private key.
func NewSSH(target, identityFile string, connectTimeout time.Duration, log *slog.Logger) *SSH {
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	return &SSH{
		Target:         target,
		IdentityFile:   identityFile,
		ConnectTimeout: connectTimeout,
		local:          NewLocal(log),
	}
}

func (s *SSH) Run(ctx context.Context, c Command) (Result, error) {
	args := []string{
		"-i", s.IdentityFile,
		"-o", "IdentitiesOnly=yes",
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(s.ConnectTimeout.Seconds())),
		s.Target,
		"--",
		RemoteCommand(c),
	}
	return s.local.Run(ctx, Command{
		Name:    "ssh",
		Args:    args,
		Stdin:   c.Stdin,
		Timeout: c.Timeout,
	})
}

// IsConnectionFailure reports whether a result from a remote runner
// indicates the transport itself failed rather than the remote command.
func (s *SSH) IsConnectionFailure(r Result) bool {
	return r.ExitCode == SSHConnectionExit
}

// RemoteCommand renders a Command as a single shell-quoted string suitable
// for the remote side of an ssh invocation. Env pairs become prefix
// assignments.
func RemoteCommand(c Command) string {
	parts := make([]string, 0, len(c.Env)+len(c.Args)+1)
	for _, kv := range c.Env {
		parts = append(parts, kv)
	}
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		parts = append(parts, ShellQuote(a))
	}
	return strings.Join(parts, " ")
}

// ShellQuote single-quotes a string for POSIX shells.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$&|;<>()*?[]#~%!{}`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
