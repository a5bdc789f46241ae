// Package lifecycle is the workload state machine: detect an existing
// workload, start one (build ladder, mount resolution, volume
// provisioning), stop it (sync-back, cleanup), and recover a session after
// the local process restarts. The engine is the sole source of truth for
// what is running; every mutating call re-checks live state first.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/kalleEF/rdock/internal/config"
	"github.com/kalleEF/rdock/internal/git"
	"github.com/kalleEF/rdock/internal/manifest"
	"github.com/kalleEF/rdock/internal/metadata"
	"github.com/kalleEF/rdock/internal/mount"
	"github.com/kalleEF/rdock/internal/session"
	"github.com/kalleEF/rdock/internal/transport"
	"github.com/kalleEF/rdock/internal/trust"
)

const (
	// containerPort is the workload's fixed internal port.
	containerPort = 8787
	// runtimeOwner is the workload's runtime user and group, which volume
	// contents are chowned to.
	runtimeOwner = "1000:1000"

	// In-container mount targets.
	inspectTarget  = "/workspace"
	homeTarget     = "/home/rstudio"
	outputTarget   = homeTarget + "/output"
	synthpopTarget = homeTarget + "/synthpop"
	keyTarget      = homeTarget + "/.ssh/id_rdock"
	knownTarget    = homeTarget + "/.ssh/rdock_known_hosts"

	primaryBuildFile      = "Dockerfile"
	prerequisiteBuildFile = "Dockerfile.base"

	hostOpTimeout = 20 * time.Second
)

// Engine is the slice of engine operations the controller drives.
type Engine interface {
	ContainerRunning(ctx context.Context, name string) (bool, error)
	ListWorkloads(ctx context.Context, nameFragment string) ([]session.WorkloadSummary, error)
	UsedPorts(ctx context.Context) (map[int]bool, error)
	ImageExists(ctx context.Context, tag string) (bool, error)
	BuildImage(ctx context.Context, tag, buildFile, contextDir string) error
	RunContainer(ctx context.Context, args ...string) (transport.Result, error)
	StopContainer(ctx context.Context, name string) error
	Inspect(ctx context.Context, target, format string) (string, error)
}

// VolumeSyncer provisions and drains the durable volumes.
type VolumeSyncer interface {
	EnsureHelperImage(ctx context.Context) error
	Provision(ctx context.Context, name, hostDir, owner string) error
	SyncBack(ctx context.Context, name, hostDir string) error
	Remove(ctx context.Context, name string) error
}

// MetadataStore persists the remote recovery record.
type MetadataStore interface {
	Write(ctx context.Context, rec *metadata.Record) error
	Read(ctx context.Context, container string) (*metadata.Record, bool)
	Delete(ctx context.Context, container string)
}

// ChangeNotifier is the git collaborator, invoked fire-and-forget after a
// successful stop.
type ChangeNotifier interface {
	NotifyPossibleChanges(ctx context.Context, repoPath string, isRemote bool)
}

// Decider answers the controller's confirmation points. Declining aborts
// the current transition cleanly.
type Decider interface {
	Confirm(prompt string) bool
}

// Options wires a controller.
type Options struct {
	Engine   Engine
	Host     transport.Runner // host-side commands at the workload's location
	Metadata MetadataStore    // nil for local sessions
	Volumes  VolumeSyncer
	Notifier ChangeNotifier
	Decider  Decider
	Config   *config.Config
	// RemoteHome is the remote account's home directory, used as the bind
	// source for the trust artifacts. Empty for local sessions.
	RemoteHome string
	Log        *slog.Logger
}

// Controller drives one session's transitions. Not safe for concurrent
// use; the descriptor is owned by a single logical thread of control.
type Controller struct {
	eng    Engine
	host   transport.Runner
	meta   MetadataStore
	vols   VolumeSyncer
	notify ChangeNotifier
	decide Decider
	cfg    *config.Config

	remoteHome string
	goos       string
	log        *slog.Logger
}

// New creates a controller from options.
func New(opts Options) *Controller {
	return &Controller{
		eng:        opts.Engine,
		host:       opts.Host,
		meta:       opts.Metadata,
		vols:       opts.Volumes,
		notify:     opts.Notifier,
		decide:     opts.Decider,
		cfg:        opts.Config,
		remoteHome: opts.RemoteHome,
		goos:       runtime.GOOS,
		log:        opts.Log,
	}
}

// Recover refreshes the descriptor's observed state from the engine: used
// ports, the user's workloads, and whether the exact target is running.
// Display values are recovered from the metadata store first and live
// introspection second, but only once the engine itself reports Running;
// a stale record alone never flips any state. Pure read, no side effects.
func (c *Controller) Recover(ctx context.Context, d *session.Descriptor) error {
	name := d.ContainerName()
	d.Recovered = nil
	d.Active = nil

	ports, err := c.eng.UsedPorts(ctx)
	if err != nil {
		return &EngineError{Op: "port query", Err: err}
	}
	d.UsedPorts = ports

	workloads, err := c.eng.ListWorkloads(ctx, "_"+d.UserName)
	if err != nil {
		return &EngineError{Op: "workload query", Err: err}
	}
	d.ExistingWorkloads = workloads

	running, err := c.eng.ContainerRunning(ctx, name)
	if err != nil {
		return &EngineError{Op: "state query", Err: err}
	}
	d.Running = running
	if !running {
		// Any metadata record is stale; ignore it entirely.
		return nil
	}

	rec := &session.RecoveredState{}
	if d.IsRemote() && c.meta != nil {
		if m, ok := c.meta.Read(ctx, name); ok {
			rec.Password = &m.Password
			rec.Port = &m.Port
			rec.UseVolumes = &m.UseVolumes
		}
	}
	c.introspect(ctx, name, rec)
	d.Recovered = rec

	port := c.cfg.Workload.LocalPort
	if rec.Port != nil {
		port = *rec.Port
	}
	useVolumes := false
	if rec.UseVolumes != nil {
		useVolumes = *rec.UseVolumes
	}
	d.Active = &session.ActiveSnapshot{Port: port, UseVolumes: useVolumes}
	return nil
}

// introspect fills gaps in recovered state from the live container.
// Absence of any value is non-fatal; display degrades to defaults.
func (c *Controller) introspect(ctx context.Context, name string, rec *session.RecoveredState) {
	if rec.Port == nil {
		out, err := c.eng.Inspect(ctx, name,
			`{{range $p, $bindings := .NetworkSettings.Ports}}{{range $bindings}}{{.HostPort}} {{end}}{{end}}`)
		if err == nil {
			for _, f := range strings.Fields(out) {
				if p, perr := strconv.Atoi(f); perr == nil {
					rec.Port = &p
					break
				}
			}
		}
	}
	if rec.Password == nil {
		out, err := c.eng.Inspect(ctx, name, `{{range .Config.Env}}{{println .}}{{end}}`)
		if err == nil {
			for _, line := range strings.Split(out, "\n") {
				if v, ok := strings.CutPrefix(strings.TrimSpace(line), "PASSWORD="); ok {
					rec.Password = &v
					break
				}
			}
		}
	}
	if rec.UseVolumes == nil {
		out, err := c.eng.Inspect(ctx, name, `{{range .Mounts}}{{.Type}} {{end}}`)
		if err == nil {
			v := strings.Contains(out, "volume")
			rec.UseVolumes = &v
		}
	}
}

// Start takes a Stopped session to Running. Steps run in order; each is a
// hard precondition for the next, and validation failures abort before any
// engine mutation.
func (c *Controller) Start(ctx context.Context, d *session.Descriptor) error {
	name := d.ContainerName()
	image := d.ImageName()

	// Race guard: re-query immediately before mutating anything.
	running, err := c.eng.ContainerRunning(ctx, name)
	if err != nil {
		return &EngineError{Op: "state query", Err: err}
	}
	if running {
		return &ConflictError{Resource: "workload", Value: name}
	}

	port, err := c.resolvePort(d)
	if err != nil {
		return err
	}

	if d.IsRemote() {
		for _, p := range []string{c.cfg.SSH.IdentityFile, c.cfg.SSH.PublicKeyFile} {
			if _, serr := os.Stat(p); serr != nil {
				return &trust.Error{Rung: "artifacts", Err: fmt.Errorf(
					"key material missing at %s: run the trust bootstrap first", p)}
			}
		}
	}

	if others := otherRunning(d.ExistingWorkloads, name); len(others) > 0 {
		prompt := fmt.Sprintf("Other workloads for %s are running (%s). Continue anyway?",
			d.UserName, strings.Join(others, ", "))
		if !c.decide.Confirm(prompt) {
			return ErrAborted
		}
	}

	buildDir := manifest.Join(d.RepoRoot, c.cfg.Workload.BuildDir)
	if !d.IsRemote() {
		if err := requireLocalDir(d.RepoRoot, "repository root"); err != nil {
			return err
		}
		if err := requireLocalDir(buildDir, "build manifest directory"); err != nil {
			return err
		}
	}

	m, err := c.readManifest(ctx, d)
	if err != nil {
		return err
	}

	if err := c.buildLadder(ctx, d, image, buildDir); err != nil {
		return err
	}

	c.captureBaseline(ctx, d)

	outputDir, synthpopDir := m.Resolve(d.RepoRoot)
	if err := c.requireDataDir(ctx, d, outputDir); err != nil {
		return err
	}
	if err := c.requireDataDir(ctx, d, synthpopDir); err != nil {
		return err
	}
	d.OutputDir = outputDir
	d.SynthpopDir = synthpopDir

	plan, err := c.mountPlan(ctx, d)
	if err != nil {
		return err
	}

	args := []string{"-d", "--rm", "--name", name,
		"-p", fmt.Sprintf("%d:%d", port, containerPort),
		"-e", "PASSWORD=" + d.Password,
		"-e", "GIT_SSH_COMMAND=" + gitSSHCommand(),
	}
	if d.HighCompute && d.IsRemote() {
		args = append(args,
			"--cpus", strconv.Itoa(c.cfg.Resources.HighComputeCPUs),
			"--memory", c.cfg.Resources.HighComputeMemory)
	}
	args = append(args, plan.Args()...)
	args = append(args, d.CustomArgs...)
	args = append(args, image)

	res, err := c.eng.RunContainer(ctx, args...)
	if err != nil {
		return &EngineError{Op: "run", Err: err}
	}
	if !res.Ok() {
		return &EngineError{Op: "run", Err: fmt.Errorf("%s", strings.TrimSpace(res.Stderr))}
	}

	if d.IsRemote() && c.meta != nil {
		rec := &metadata.Record{
			Container:  name,
			Repo:       d.RepoName,
			User:       d.UserName,
			Password:   d.Password,
			Port:       port,
			UseVolumes: d.UseVolumes,
			Timestamp:  time.Now().UTC(),
		}
		if werr := c.meta.Write(ctx, rec); werr != nil {
			c.log.Warn("failed to persist session metadata", "container", name, "error", werr)
		}
	}

	d.Running = true
	d.Active = &session.ActiveSnapshot{Port: port, UseVolumes: d.UseVolumes}
	c.log.Info("workload started", "container", name, "port", port, "volumes", d.UseVolumes)
	return nil
}

// Stop takes a Running session to Stopped. Idempotent: an already-stopped
// workload is success with no engine mutation. Volume sync-back failures
// are soft; an unsynced volume beats an un-stoppable workload.
func (c *Controller) Stop(ctx context.Context, d *session.Descriptor) error {
	name := d.ContainerName()

	running, err := c.eng.ContainerRunning(ctx, name)
	if err != nil {
		return &EngineError{Op: "state query", Err: err}
	}
	if !running {
		d.Running = false
		d.Active = nil
		return nil
	}

	if err := c.eng.StopContainer(ctx, name); err != nil {
		return &EngineError{Op: "stop", Err: err}
	}

	if d.Active != nil && d.Active.UseVolumes {
		c.syncBackVolumes(ctx, d)
	}

	d.Running = false
	d.Active = nil
	if d.IsRemote() && c.meta != nil {
		c.meta.Delete(ctx, name)
	}

	c.notify.NotifyPossibleChanges(ctx, d.RepoRoot, d.IsRemote())
	return nil
}

func (c *Controller) syncBackVolumes(ctx context.Context, d *session.Descriptor) {
	if d.OutputDir == "" || d.SynthpopDir == "" {
		// Recovered session: the data directories come from the manifest.
		m, err := c.readManifest(ctx, d)
		if err != nil {
			c.log.Warn("cannot resolve data directories, volumes kept for manual recovery",
				"error", err)
			return
		}
		d.OutputDir, d.SynthpopDir = m.Resolve(d.RepoRoot)
	}

	kinds := []struct {
		volume  string
		hostDir string
	}{
		{session.VolumeName(config.Product, "output", d.UserName), d.OutputDir},
		{session.VolumeName(config.Product, "synthpop", d.UserName), d.SynthpopDir},
	}
	for _, k := range kinds {
		if err := c.vols.SyncBack(ctx, k.volume, k.hostDir); err != nil {
			serr := &SyncError{Volume: k.volume, Err: err}
			c.log.Warn("sync-back failed, volume kept for manual recovery", "error", serr)
			continue
		}
		if err := c.vols.Remove(ctx, k.volume); err != nil {
			c.log.Warn("failed to remove synced volume", "volume", k.volume, "error", err)
		}
	}
}

// resolvePort pins local sessions to the fixed default and validates the
// requested port against the observed used set for remote ones.
func (c *Controller) resolvePort(d *session.Descriptor) (int, error) {
	if !d.IsRemote() {
		return c.cfg.Workload.LocalPort, nil
	}
	port := d.RequestedPort
	if port == 0 {
		port = c.cfg.Workload.LocalPort
	}
	if d.UsedPorts[port] {
		return 0, &ConflictError{Resource: "port", Value: strconv.Itoa(port)}
	}
	return port, nil
}

func (c *Controller) readManifest(ctx context.Context, d *session.Descriptor) (*manifest.Manifest, error) {
	path := manifest.Join(d.RepoRoot, c.cfg.Workload.ManifestFile)

	var data []byte
	if d.IsRemote() {
		res, err := c.host.Run(ctx, transport.Command{
			Name:    "cat",
			Args:    []string{path},
			Timeout: hostOpTimeout,
		})
		if err != nil {
			return nil, &TransportError{Op: "manifest read", Err: err}
		}
		if !res.Ok() {
			return nil, &PathError{Path: path, Hint: "workload description file"}
		}
		data = []byte(res.Stdout)
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, &PathError{Path: path, Hint: "workload description file"}
		}
	}

	m, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid workload description at %s: %w", path, err)
	}
	return m, nil
}

// buildLadder builds the image when missing or a rebuild was requested:
// primary build file first, then the prerequisite image, then the primary
// again. The existence check is skipped entirely on rebuild.
func (c *Controller) buildLadder(ctx context.Context, d *session.Descriptor, image, buildDir string) error {
	if !d.RebuildImage {
		exists, err := c.eng.ImageExists(ctx, image)
		if err != nil {
			return &EngineError{Op: "image query", Err: err}
		}
		if exists {
			return nil
		}
	}

	primary := manifest.Join(buildDir, primaryBuildFile)
	c.log.Info("building image", "image", image, "buildFile", primary)
	perr := c.eng.BuildImage(ctx, image, primary, d.RepoRoot)
	if perr == nil {
		return nil
	}

	prerequisite := manifest.Join(buildDir, prerequisiteBuildFile)
	c.log.Warn("primary build failed, building prerequisite image",
		"image", image+"-base", "buildFile", prerequisite)
	if berr := c.eng.BuildImage(ctx, image+"-base", prerequisite, d.RepoRoot); berr != nil {
		return &BuildError{Rung: "prerequisite", Err: berr}
	}

	if rerr := c.eng.BuildImage(ctx, image, primary, d.RepoRoot); rerr != nil {
		return &BuildError{Rung: "primary-retry", Err: rerr}
	}
	return nil
}

// captureBaseline records the commit and dirty-file list, best-effort.
func (c *Controller) captureBaseline(ctx context.Context, d *session.Descriptor) {
	var b *git.Baseline
	var err error
	if d.IsRemote() {
		b, err = git.CaptureRemoteBaseline(ctx, c.host, d.RepoRoot)
	} else {
		b, err = git.CaptureBaseline(d.RepoRoot)
	}
	if err != nil {
		c.log.Warn("could not capture source-control baseline", "repo", d.RepoRoot, "error", err)
		return
	}
	c.log.Info("source-control baseline", "commit", b.Commit, "dirty", len(b.Dirty))
}

func (c *Controller) requireDataDir(ctx context.Context, d *session.Descriptor, dir string) error {
	if d.IsRemote() {
		res, err := c.host.Run(ctx, transport.Command{
			Name:    "test",
			Args:    []string{"-d", dir},
			Timeout: hostOpTimeout,
		})
		if err != nil {
			return &TransportError{Op: "directory check", Err: err}
		}
		if !res.Ok() {
			return &PathError{Path: dir, Hint: "data directory, not auto-created"}
		}
		return nil
	}

	if manifest.IsForeignAbsolute(dir, c.goos) {
		return &PathError{Path: dir, Hint: "POSIX absolute path in a local session, meant for the remote side"}
	}
	return requireLocalDir(dir, "data directory, not auto-created")
}

// mountPlan computes the bind or volume mounts for the run command.
func (c *Controller) mountPlan(ctx context.Context, d *session.Descriptor) (*mount.Plan, error) {
	plan := mount.NewPlan()

	add := func(m mount.Mount) error {
		if err := plan.Add(m); err != nil {
			return &ConflictError{Resource: "mount target", Value: m.Target}
		}
		return nil
	}

	repoTargets := []string{
		inspectTarget + "/" + d.RepoName,
		homeTarget + "/" + d.RepoName,
	}
	for _, target := range repoTargets {
		if err := add(mount.Mount{Source: d.RepoRoot, Target: target}); err != nil {
			return nil, err
		}
	}

	if d.UseVolumes {
		if err := c.vols.EnsureHelperImage(ctx); err != nil {
			return nil, &EngineError{Op: "helper image build", Err: err}
		}
		kinds := []struct {
			kind    string
			hostDir string
			target  string
		}{
			{"output", d.OutputDir, outputTarget},
			{"synthpop", d.SynthpopDir, synthpopTarget},
		}
		for _, k := range kinds {
			name := session.VolumeName(config.Product, k.kind, d.UserName)
			if err := c.vols.Provision(ctx, name, k.hostDir, runtimeOwner); err != nil {
				return nil, &EngineError{Op: "volume provisioning", Err: err}
			}
			if err := add(mount.Mount{Source: name, Target: k.target, Volume: true}); err != nil {
				return nil, err
			}
		}
	} else {
		if err := add(mount.Mount{Source: d.OutputDir, Target: outputTarget}); err != nil {
			return nil, err
		}
		if err := add(mount.Mount{Source: d.SynthpopDir, Target: synthpopTarget}); err != nil {
			return nil, err
		}
	}

	keySrc, knownSrc := c.trustArtifactSources(d)
	if err := add(mount.Mount{Source: keySrc, Target: keyTarget, ReadOnly: true}); err != nil {
		return nil, err
	}
	if err := add(mount.Mount{Source: knownSrc, Target: knownTarget, ReadOnly: true}); err != nil {
		return nil, err
	}
	return plan, nil
}

// trustArtifactSources returns the host-side paths of the key and
// known-hosts files mounted into the container. For remote sessions these
// are the copies the trust bootstrap installed on the remote host, since
// bind sources resolve on the engine's side.
func (c *Controller) trustArtifactSources(d *session.Descriptor) (keySrc, knownSrc string) {
	if d.IsRemote() {
		return c.remoteHome + "/" + trust.RemoteKeyFile,
			c.remoteHome + "/" + trust.RemoteKnownHostsFile
	}
	return c.cfg.SSH.IdentityFile, c.cfg.SSH.KnownHostsFile
}

func gitSSHCommand() string {
	return fmt.Sprintf("ssh -i %s -o UserKnownHostsFile=%s -o IdentitiesOnly=yes",
		keyTarget, knownTarget)
}

func otherRunning(workloads []session.WorkloadSummary, self string) []string {
	var names []string
	for _, w := range workloads {
		if w.Name != self && strings.HasPrefix(w.Status, "Up") {
			names = append(names, w.Name)
		}
	}
	return names
}

func requireLocalDir(dir, hint string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return &PathError{Path: dir, Hint: hint}
	}
	return nil
}
