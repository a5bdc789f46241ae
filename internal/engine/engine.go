// Package engine drives the container engine CLI, addressing either the
// local daemon or a remote one through a named context or a direct
// endpoint. All commands run the CLI locally; the context decides where
// they take effect.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kalleEF/rdock/internal/session"
	"github.com/kalleEF/rdock/internal/transport"
)

const (
	// queryTimeout bounds status queries and other short engine calls.
	// Build and run invocations are inherently unbounded and get none.
	queryTimeout = 30 * time.Second
)

// Client issues engine commands at a fixed endpoint.
type Client struct {
	runner      transport.Runner
	contextName string
	hostEnv     string // DOCKER_HOST value when the context mechanism failed
	log         *slog.Logger
}

// ContextArgs returns the argument prefix that directs a command at this
// client's endpoint. Empty in direct-endpoint mode, where the endpoint
// travels in the environment instead.
func (c *Client) ContextArgs() []string {
	if c.contextName != "" {
		return []string{"--context", c.contextName}
	}
	return nil
}

// HostEnv returns the direct endpoint this client uses, or empty when it
// addresses the engine through a named context. Callers persist a non-empty
// value in the session descriptor so the fallback stays sticky.
func (c *Client) HostEnv() string {
	return c.hostEnv
}

func (c *Client) env() []string {
	if c.hostEnv != "" {
		return []string{"DOCKER_HOST=" + c.hostEnv}
	}
	return nil
}

func (c *Client) run(ctx context.Context, timeout time.Duration, stdin string, args ...string) (transport.Result, error) {
	full := append(c.ContextArgs(), args...)
	return c.runner.Run(ctx, transport.Command{
		Name:    "docker",
		Args:    full,
		Stdin:   stdin,
		Env:     c.env(),
		Timeout: timeout,
	})
}

// Version queries the server version, verifying connectivity.
func (c *Client) Version(ctx context.Context) (string, error) {
	res, err := c.run(ctx, queryTimeout, "", "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", err
	}
	if !res.Ok() {
		return "", fmt.Errorf("engine unreachable: %s", strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// ContainerRunning reports whether a container with exactly the given name
// is in the Running state.
func (c *Client) ContainerRunning(ctx context.Context, name string) (bool, error) {
	res, err := c.run(ctx, queryTimeout, "",
		"ps", "--filter", "name=^/"+name+"$", "--filter", "status=running", "--format", "{{.Names}}")
	if err != nil {
		return false, err
	}
	if !res.Ok() {
		return false, fmt.Errorf("failed to query container state: %s", strings.TrimSpace(res.Stderr))
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) == name {
			return true, nil
		}
	}
	return false, nil
}

// ListWorkloads returns a snapshot of all containers whose name contains
// the given fragment, running or not.
func (c *Client) ListWorkloads(ctx context.Context, nameFragment string) ([]session.WorkloadSummary, error) {
	res, err := c.run(ctx, queryTimeout, "",
		"ps", "-a", "--filter", "name="+nameFragment,
		"--format", "{{.Names}}\t{{.Status}}\t{{.Ports}}\t{{.Image}}")
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, fmt.Errorf("failed to list workloads: %s", strings.TrimSpace(res.Stderr))
	}

	var out []session.WorkloadSummary
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		w := session.WorkloadSummary{Name: fields[0]}
		if len(fields) > 1 {
			w.Status = fields[1]
		}
		if len(fields) > 2 {
			w.Ports = fields[2]
		}
		if len(fields) > 3 {
			w.Image = fields[3]
		}
		out = append(out, w)
	}
	return out, nil
}

// UsedPorts returns the set of host ports currently published by running
// containers.
func (c *Client) UsedPorts(ctx context.Context) (map[int]bool, error) {
	res, err := c.run(ctx, queryTimeout, "", "ps", "--format", "{{.Ports}}")
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, fmt.Errorf("failed to list ports: %s", strings.TrimSpace(res.Stderr))
	}

	ports := make(map[int]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		for _, p := range ParsePublishedPorts(line) {
			ports[p] = true
		}
	}
	return ports, nil
}

// ImageExists reports whether an image with the given tag is present.
func (c *Client) ImageExists(ctx context.Context, tag string) (bool, error) {
	res, err := c.run(ctx, queryTimeout, "", "image", "inspect", tag, "--format", "{{.Id}}")
	if err != nil {
		return false, err
	}
	return res.Ok(), nil
}

// BuildImage builds an image from a build file within a context directory.
// The build's combined diagnostics are returned verbatim on failure.
func (c *Client) BuildImage(ctx context.Context, tag, buildFile, contextDir string) error {
	res, err := c.run(ctx, 0, "", "build", "-t", tag, "-f", buildFile, contextDir)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("%s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// BuildImageStdin builds an image from an inline build file supplied on
// stdin, with no context directory.
func (c *Client) BuildImageStdin(ctx context.Context, tag, buildFile string) error {
	res, err := c.run(ctx, 0, buildFile, "build", "-t", tag, "-")
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("%s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// RunContainer issues `docker run` with the given arguments, unbounded.
func (c *Client) RunContainer(ctx context.Context, args ...string) (transport.Result, error) {
	return c.run(ctx, 0, "", append([]string{"run"}, args...)...)
}

// StopContainer stops a container by name.
func (c *Client) StopContainer(ctx context.Context, name string) error {
	res, err := c.run(ctx, 0, "", "stop", name)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("%s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Inspect evaluates a format template against a container or image.
func (c *Client) Inspect(ctx context.Context, target, format string) (string, error) {
	res, err := c.run(ctx, queryTimeout, "", "inspect", "--format", format, target)
	if err != nil {
		return "", err
	}
	if !res.Ok() {
		return "", fmt.Errorf("failed to inspect %s: %s", target, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// VolumeCreate creates a named volume.
func (c *Client) VolumeCreate(ctx context.Context, name string) error {
	res, err := c.run(ctx, queryTimeout, "", "volume", "create", name)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("failed to create volume %s: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// VolumeRemove removes a named volume. With force, absence is tolerated.
func (c *Client) VolumeRemove(ctx context.Context, name string, force bool) error {
	args := []string{"volume", "rm"}
	if force {
		args = append(args, "-f")
	}
	res, err := c.run(ctx, queryTimeout, "", append(args, name)...)
	if err != nil {
		return err
	}
	if !res.Ok() && !force {
		return fmt.Errorf("failed to remove volume %s: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ParsePublishedPorts extracts host ports from an engine ps ports column,
// e.g. "0.0.0.0:8787->8787/tcp, :::8787->8787/tcp".
func ParsePublishedPorts(s string) []int {
	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		arrow := strings.Index(part, "->")
		if arrow < 0 {
			continue
		}
		host := part[:arrow]
		colon := strings.LastIndex(host, ":")
		if colon < 0 {
			continue
		}
		p, err := strconv.Atoi(host[colon+1:])
		if err != nil {
			continue
		}
		ports = append(ports, p)
	}
	return ports
}
