package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kalleEF/rdock/internal/config"
	"github.com/kalleEF/rdock/internal/transport"
)

var contextUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// LocalContextName is the named context addressing the local engine socket.
const LocalContextName = config.Product + "-local"

// RemoteContextName returns the context name for a remote target.
func RemoteContextName(target string) string {
	return config.Product + "-" + contextUnsafe.ReplaceAllString(target, "-")
}

// ResolveLocal ensures a named context pointing at the local engine socket
// exists (idempotent by name) and verifies connectivity with a version
// query.
func ResolveLocal(ctx context.Context, runner transport.Runner, socket string, log *slog.Logger) (*Client, error) {
	c := &Client{runner: runner, contextName: LocalContextName, log: log}

	exists, err := contextExists(ctx, runner, LocalContextName)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := contextCreate(ctx, runner, LocalContextName, socket); err != nil {
			return nil, err
		}
	}

	if _, err := c.Version(ctx); err != nil {
		return nil, fmt.Errorf("local engine not reachable: %w", err)
	}
	return c, nil
}

// ResolveRemote produces a client addressing the engine on user@host over
// the ssh transport. It prefers a named context; when context activation
// fails it falls back to a direct endpoint carried in the environment. The
// fallback is sticky: pass the previously recorded stickyHost to skip the
// context probe for the rest of the session.
func ResolveRemote(ctx context.Context, runner transport.Runner, target, stickyHost string, log *slog.Logger) (*Client, error) {
	if stickyHost != "" {
		c := &Client{runner: runner, hostEnv: stickyHost, log: log}
		if _, err := c.Version(ctx); err != nil {
			return nil, fmt.Errorf("remote engine not reachable at %s: %w", stickyHost, err)
		}
		return c, nil
	}

	name := RemoteContextName(target)
	endpoint := "ssh://" + target

	exists, err := contextExists(ctx, runner, name)
	if err == nil && !exists {
		err = contextCreate(ctx, runner, name, endpoint)
	}
	if err == nil {
		c := &Client{runner: runner, contextName: name, log: log}
		if _, verr := c.Version(ctx); verr == nil {
			return c, nil
		} else {
			err = verr
		}
	}
	log.Warn("context activation failed, falling back to direct endpoint", "context", name, "error", err)

	c := &Client{runner: runner, hostEnv: endpoint, log: log}
	if _, err := c.Version(ctx); err != nil {
		return nil, fmt.Errorf("remote engine not reachable at %s: %w", endpoint, err)
	}
	return c, nil
}

func contextExists(ctx context.Context, runner transport.Runner, name string) (bool, error) {
	res, err := runner.Run(ctx, transport.Command{
		Name:    "docker",
		Args:    []string{"context", "ls", "-q"},
		Timeout: queryTimeout,
	})
	if err != nil {
		return false, err
	}
	if !res.Ok() {
		return false, fmt.Errorf("failed to list contexts: %s", strings.TrimSpace(res.Stderr))
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

func contextCreate(ctx context.Context, runner transport.Runner, name, endpoint string) error {
	res, err := runner.Run(ctx, transport.Command{
		Name:    "docker",
		Args:    []string{"context", "create", name, "--docker", "host=" + endpoint},
		Timeout: queryTimeout,
	})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("failed to create context %s: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}
