package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalleEF/rdock/internal/config"
	"github.com/kalleEF/rdock/internal/metadata"
	"github.com/kalleEF/rdock/internal/session"
	"github.com/kalleEF/rdock/internal/transport"
)

type fakeEngine struct {
	running    map[string]bool
	workloads  []session.WorkloadSummary
	usedPorts  map[int]bool
	images     map[string]bool
	buildFails map[string]error // keyed by tag
	inspect    map[string]string // keyed by format

	builds  [][2]string // tag, buildFile
	runs    [][]string
	stopped []string
	runErr  string // stderr for a failing run
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		running:    map[string]bool{},
		usedPorts:  map[int]bool{},
		images:     map[string]bool{},
		buildFails: map[string]error{},
		inspect:    map[string]string{},
	}
}

func (f *fakeEngine) ContainerRunning(_ context.Context, name string) (bool, error) {
	return f.running[name], nil
}

func (f *fakeEngine) ListWorkloads(_ context.Context, _ string) ([]session.WorkloadSummary, error) {
	return f.workloads, nil
}

func (f *fakeEngine) UsedPorts(_ context.Context) (map[int]bool, error) {
	return f.usedPorts, nil
}

func (f *fakeEngine) ImageExists(_ context.Context, tag string) (bool, error) {
	return f.images[tag], nil
}

func (f *fakeEngine) BuildImage(_ context.Context, tag, buildFile, _ string) error {
	f.builds = append(f.builds, [2]string{tag, buildFile})
	if err, ok := f.buildFails[tag]; ok {
		delete(f.buildFails, tag)
		return err
	}
	return nil
}

func (f *fakeEngine) RunContainer(_ context.Context, args ...string) (transport.Result, error) {
	f.runs = append(f.runs, args)
	if f.runErr != "" {
		return transport.Result{ExitCode: 125, Stderr: f.runErr}, nil
	}
	return transport.Result{ExitCode: 0, Stdout: "abc123\n"}, nil
}

func (f *fakeEngine) StopContainer(_ context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	f.running[name] = false
	return nil
}

func (f *fakeEngine) Inspect(_ context.Context, _, format string) (string, error) {
	out, ok := f.inspect[format]
	if !ok {
		return "", errors.New("no such object")
	}
	return out, nil
}

type fakeVols struct {
	provisioned []string
	syncedBack  []string
	removed     []string
	syncErr     map[string]error
}

func (f *fakeVols) EnsureHelperImage(context.Context) error { return nil }

func (f *fakeVols) Provision(_ context.Context, name, _, _ string) error {
	f.provisioned = append(f.provisioned, name)
	return nil
}

func (f *fakeVols) SyncBack(_ context.Context, name, _ string) error {
	f.syncedBack = append(f.syncedBack, name)
	if f.syncErr != nil {
		return f.syncErr[name]
	}
	return nil
}

func (f *fakeVols) Remove(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

type fakeMeta struct {
	records map[string]*metadata.Record
	written []*metadata.Record
	deleted []string
}

func (f *fakeMeta) Write(_ context.Context, rec *metadata.Record) error {
	f.written = append(f.written, rec)
	return nil
}

func (f *fakeMeta) Read(_ context.Context, container string) (*metadata.Record, bool) {
	rec, ok := f.records[container]
	return rec, ok
}

func (f *fakeMeta) Delete(_ context.Context, container string) {
	f.deleted = append(f.deleted, container)
}

type fakeNotifier struct{ calls []string }

func (f *fakeNotifier) NotifyPossibleChanges(_ context.Context, repoPath string, _ bool) {
	f.calls = append(f.calls, repoPath)
}

type fakeDecider struct {
	answer  bool
	prompts []string
}

func (f *fakeDecider) Confirm(prompt string) bool {
	f.prompts = append(f.prompts, prompt)
	return f.answer
}

// hostRunner plays back canned results keyed by a command fragment.
type hostRunner struct {
	results map[string]transport.Result
}

func (h *hostRunner) Run(_ context.Context, cmd transport.Command) (transport.Result, error) {
	line := cmd.Name + " " + strings.Join(cmd.Args, " ")
	for frag, res := range h.results {
		if strings.Contains(line, frag) {
			return res, nil
		}
	}
	return transport.Result{ExitCode: 1, Stderr: "no canned result for " + line}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		SSH: config.SSH{
			IdentityFile:   "/home/op/.ssh/id_ed25519",
			PublicKeyFile:  "/home/op/.ssh/id_ed25519.pub",
			KnownHostsFile: "/home/op/.ssh/known_hosts",
			GitHost:        "github.com",
			ConnectTimeout: "15s",
		},
		Workload: config.Workload{
			LocalPort:    8787,
			BuildDir:     "docker",
			ManifestFile: "rdock.yaml",
		},
		Resources: config.Resources{
			HighComputeCPUs:   16,
			HighComputeMemory: "64g",
		},
	}
}

// localRepo lays out a minimal repository tree for a local session.
func localRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docker"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "out"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data", "synth"), 0o755))
	manifest := "output_dir: ./out\nsynthpop_dir: ./data/synth\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "rdock.yaml"), []byte(manifest), 0o644))
	return root
}

func newTestController(eng *fakeEngine, opts Options) *Controller {
	opts.Engine = eng
	if opts.Config == nil {
		opts.Config = testConfig()
	}
	if opts.Decider == nil {
		opts.Decider = &fakeDecider{answer: true}
	}
	if opts.Volumes == nil {
		opts.Volumes = &fakeVols{}
	}
	if opts.Notifier == nil {
		opts.Notifier = &fakeNotifier{}
	}
	if opts.Log == nil {
		opts.Log = slog.New(slog.DiscardHandler)
	}
	return New(opts)
}

func localDescriptor(root string) *session.Descriptor {
	return &session.Descriptor{
		UserName: "erin",
		Password: "hunter2",
		Location: session.Local,
		RepoName: "Study",
		RepoRoot: root,
	}
}

func TestStartLocalSuccess(t *testing.T) {
	root := localRepo(t)
	eng := newFakeEngine()
	eng.images["study"] = true

	c := newTestController(eng, Options{})
	d := localDescriptor(root)

	require.NoError(t, c.Start(context.Background(), d))

	require.Len(t, eng.runs, 1)
	args := strings.Join(eng.runs[0], " ")
	assert.Contains(t, args, "-d --rm --name Study_erin")
	assert.Contains(t, args, "-p 8787:8787")
	assert.Contains(t, args, "PASSWORD=hunter2")
	assert.Contains(t, args, root+":/workspace/Study")
	assert.Contains(t, args, root+":/home/rstudio/Study")
	assert.Contains(t, args, filepath.Join(root, "out")+":/home/rstudio/output")
	assert.Contains(t, args, "GIT_SSH_COMMAND=")
	assert.True(t, strings.HasSuffix(args, " study"))

	assert.True(t, d.Running)
	require.NotNil(t, d.Active)
	assert.Equal(t, 8787, d.Active.Port)
	assert.Empty(t, eng.builds, "existing image must not be rebuilt")
}

func TestStartRaceGuard(t *testing.T) {
	eng := newFakeEngine()
	eng.running["Study_erin"] = true

	c := newTestController(eng, Options{})
	d := localDescriptor("/nonexistent")

	err := c.Start(context.Background(), d)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "workload", conflict.Resource)
	assert.Empty(t, eng.runs)
}

func TestStartRemotePortConflictNoMutation(t *testing.T) {
	eng := newFakeEngine()
	c := newTestController(eng, Options{})

	d := localDescriptor("/srv/study")
	d.Location = session.Remote
	d.HostAddress = "op@box"
	d.RequestedPort = 9000
	d.UsedPorts = map[int]bool{9000: true}

	err := c.Start(context.Background(), d)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "port", conflict.Resource)
	assert.Empty(t, eng.runs)
	assert.Empty(t, eng.builds)
}

func TestStartLocalIgnoresRequestedPort(t *testing.T) {
	root := localRepo(t)
	eng := newFakeEngine()
	eng.images["study"] = true

	c := newTestController(eng, Options{})
	d := localDescriptor(root)
	d.RequestedPort = 9999
	d.UsedPorts = map[int]bool{8787: true} // occupied set is advisory locally

	require.NoError(t, c.Start(context.Background(), d))
	require.Len(t, eng.runs, 1)
	assert.Contains(t, strings.Join(eng.runs[0], " "), "-p 8787:8787")
}

func TestStartDeclinedWhenOtherWorkloadsRunning(t *testing.T) {
	root := localRepo(t)
	eng := newFakeEngine()
	eng.images["study"] = true

	dec := &fakeDecider{answer: false}
	c := newTestController(eng, Options{Decider: dec})
	d := localDescriptor(root)
	d.ExistingWorkloads = []session.WorkloadSummary{
		{Name: "Other_erin", Status: "Up 2 hours"},
	}

	err := c.Start(context.Background(), d)
	require.ErrorIs(t, err, ErrAborted)
	require.Len(t, dec.prompts, 1)
	assert.Contains(t, dec.prompts[0], "Other_erin")
	assert.Empty(t, eng.runs)
}

func TestStartStoppedWorkloadsNeedNoConfirmation(t *testing.T) {
	root := localRepo(t)
	eng := newFakeEngine()
	eng.images["study"] = true

	dec := &fakeDecider{answer: false}
	c := newTestController(eng, Options{Decider: dec})
	d := localDescriptor(root)
	d.ExistingWorkloads = []session.WorkloadSummary{
		{Name: "Other_erin", Status: "Exited (0) 3 days ago"},
	}

	require.NoError(t, c.Start(context.Background(), d))
	assert.Empty(t, dec.prompts)
}

func TestStartMissingManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docker"), 0o755))

	eng := newFakeEngine()
	c := newTestController(eng, Options{})
	d := localDescriptor(root)

	err := c.Start(context.Background(), d)
	var perr *PathError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Path, "rdock.yaml")
}

func TestStartMissingDataDir(t *testing.T) {
	root := localRepo(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "out")))

	eng := newFakeEngine()
	eng.images["study"] = true
	c := newTestController(eng, Options{})
	d := localDescriptor(root)

	err := c.Start(context.Background(), d)
	var perr *PathError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Path, "out")
	assert.Empty(t, eng.runs)
}

func TestStartRejectsForeignAbsoluteDataDir(t *testing.T) {
	root := localRepo(t)
	manifest := "output_dir: /srv/shared/out\nsynthpop_dir: ./data/synth\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "rdock.yaml"), []byte(manifest), 0o644))

	eng := newFakeEngine()
	eng.images["study"] = true
	c := newTestController(eng, Options{})
	c.goos = "windows"
	d := localDescriptor(root)

	err := c.Start(context.Background(), d)
	var perr *PathError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "/srv/shared/out", perr.Path)
}

func TestBuildLadder(t *testing.T) {
	tests := []struct {
		name       string
		imageKnown bool
		rebuild    bool
		fails      map[string]error
		wantBuilds [][2]string
		wantRung   string
	}{
		{
			name:       "image present, no rebuild",
			imageKnown: true,
			wantBuilds: nil,
		},
		{
			name:       "rebuild skips the existence check",
			imageKnown: true,
			rebuild:    true,
			wantBuilds: [][2]string{{"study", "docker/Dockerfile"}},
		},
		{
			name: "primary succeeds first try",
			wantBuilds: [][2]string{
				{"study", "docker/Dockerfile"},
			},
		},
		{
			name:  "primary fails, prerequisite rescues",
			fails: map[string]error{"study": errors.New("base image missing")},
			wantBuilds: [][2]string{
				{"study", "docker/Dockerfile"},
				{"study-base", "docker/Dockerfile.base"},
				{"study", "docker/Dockerfile"},
			},
		},
		{
			name: "prerequisite fails too",
			fails: map[string]error{
				"study":      errors.New("base image missing"),
				"study-base": errors.New("syntax error"),
			},
			wantBuilds: [][2]string{
				{"study", "docker/Dockerfile"},
				{"study-base", "docker/Dockerfile.base"},
			},
			wantRung: "prerequisite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			eng.images["study"] = tt.imageKnown
			for tag, err := range tt.fails {
				eng.buildFails[tag] = err
			}

			c := newTestController(eng, Options{})
			d := localDescriptor("/repo")
			d.RebuildImage = tt.rebuild

			err := c.buildLadder(context.Background(), d, "study", "docker")
			if tt.wantRung != "" {
				var berr *BuildError
				require.ErrorAs(t, err, &berr)
				assert.Equal(t, tt.wantRung, berr.Rung)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantBuilds, eng.builds)
		})
	}
}

func TestStartVolumeMode(t *testing.T) {
	root := localRepo(t)
	eng := newFakeEngine()
	eng.images["study"] = true
	vols := &fakeVols{}

	c := newTestController(eng, Options{Volumes: vols})
	d := localDescriptor(root)
	d.UseVolumes = true

	require.NoError(t, c.Start(context.Background(), d))
	assert.Equal(t, []string{"rdock_output_erin", "rdock_synthpop_erin"}, vols.provisioned)

	args := strings.Join(eng.runs[0], " ")
	assert.Contains(t, args, "rdock_output_erin:/home/rstudio/output")
	assert.Contains(t, args, "rdock_synthpop_erin:/home/rstudio/synthpop")
	assert.NotContains(t, args, filepath.Join(root, "out")+":/home/rstudio/output")
	require.NotNil(t, d.Active)
	assert.True(t, d.Active.UseVolumes)
}

func TestStartDuplicateMountTarget(t *testing.T) {
	root := localRepo(t)
	eng := newFakeEngine()
	eng.images["output"] = true

	c := newTestController(eng, Options{})
	d := localDescriptor(root)
	d.RepoName = "output" // collides with the data target under /home/rstudio

	err := c.Start(context.Background(), d)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "mount target", conflict.Resource)
	assert.Empty(t, eng.runs)
}

func TestStartEngineRunFailureSurfacesStderr(t *testing.T) {
	root := localRepo(t)
	eng := newFakeEngine()
	eng.images["study"] = true
	eng.runErr = "driver failed programming external connectivity"

	c := newTestController(eng, Options{})
	d := localDescriptor(root)

	err := c.Start(context.Background(), d)
	var eerr *EngineError
	require.ErrorAs(t, err, &eerr)
	assert.Contains(t, eerr.Error(), "driver failed programming")
	assert.False(t, d.Running)
}

func TestStartHighComputeRemoteOnly(t *testing.T) {
	root := localRepo(t)
	eng := newFakeEngine()
	eng.images["study"] = true

	c := newTestController(eng, Options{})
	d := localDescriptor(root)
	d.HighCompute = true

	require.NoError(t, c.Start(context.Background(), d))
	assert.NotContains(t, strings.Join(eng.runs[0], " "), "--cpus")
}

func TestStartRemoteWritesMetadata(t *testing.T) {
	eng := newFakeEngine()
	eng.images["study"] = true
	meta := &fakeMeta{records: map[string]*metadata.Record{}}

	keyDir := t.TempDir()
	cfg := testConfig()
	cfg.SSH.IdentityFile = filepath.Join(keyDir, "id_ed25519")
	cfg.SSH.PublicKeyFile = filepath.Join(keyDir, "id_ed25519.pub")
	require.NoError(t, os.WriteFile(cfg.SSH.IdentityFile, []byte("key"), 0o600))
	require.NoError(t, os.WriteFile(cfg.SSH.PublicKeyFile, []byte("pub"), 0o644))

	host := &hostRunner{results: map[string]transport.Result{
		"cat /srv/study/rdock.yaml": {ExitCode: 0,
			Stdout: "output_dir: ./out\nsynthpop_dir: ./synth\n"},
		"test -d": {ExitCode: 0},
	}}

	c := newTestController(eng, Options{
		Host:       host,
		Metadata:   meta,
		Config:     cfg,
		RemoteHome: "/home/op",
	})
	d := localDescriptor("/srv/study")
	d.Location = session.Remote
	d.HostAddress = "op@box"
	d.RequestedPort = 9100

	require.NoError(t, c.Start(context.Background(), d))

	require.Len(t, meta.written, 1)
	rec := meta.written[0]
	assert.Equal(t, "Study_erin", rec.Container)
	assert.Equal(t, "hunter2", rec.Password)
	assert.Equal(t, 9100, rec.Port)

	args := strings.Join(eng.runs[0], " ")
	assert.Contains(t, args, "-p 9100:8787")
	assert.Contains(t, args, "/home/op/.ssh/rdock_id_ed25519:/home/rstudio/.ssh/id_rdock:ro")
}

func TestStartRemoteHighCompute(t *testing.T) {
	eng := newFakeEngine()
	eng.images["study"] = true

	keyDir := t.TempDir()
	cfg := testConfig()
	cfg.SSH.IdentityFile = filepath.Join(keyDir, "id")
	cfg.SSH.PublicKeyFile = filepath.Join(keyDir, "id.pub")
	require.NoError(t, os.WriteFile(cfg.SSH.IdentityFile, []byte("key"), 0o600))
	require.NoError(t, os.WriteFile(cfg.SSH.PublicKeyFile, []byte("pub"), 0o644))

	host := &hostRunner{results: map[string]transport.Result{
		"cat": {ExitCode: 0, Stdout: "output_dir: ./out\nsynthpop_dir: ./synth\n"},
		"test -d": {ExitCode: 0},
	}}

	c := newTestController(eng, Options{Host: host, Config: cfg, RemoteHome: "/home/op"})
	d := localDescriptor("/srv/study")
	d.Location = session.Remote
	d.HostAddress = "op@box"
	d.HighCompute = true

	require.NoError(t, c.Start(context.Background(), d))
	args := strings.Join(eng.runs[0], " ")
	assert.Contains(t, args, "--cpus 16")
	assert.Contains(t, args, "--memory 64g")
}

func TestStopIdempotentWhenNotRunning(t *testing.T) {
	eng := newFakeEngine()
	notify := &fakeNotifier{}
	c := newTestController(eng, Options{Notifier: notify})

	d := localDescriptor("/repo")
	d.Running = true // stale belief, the engine disagrees

	require.NoError(t, c.Stop(context.Background(), d))
	assert.Empty(t, eng.stopped)
	assert.Empty(t, notify.calls, "nothing ran, nothing to commit")
	assert.False(t, d.Running)
	assert.Nil(t, d.Active)
}

func TestStopBindModeNotifies(t *testing.T) {
	eng := newFakeEngine()
	eng.running["Study_erin"] = true
	notify := &fakeNotifier{}
	vols := &fakeVols{}

	c := newTestController(eng, Options{Notifier: notify, Volumes: vols})
	d := localDescriptor("/repo")
	d.Running = true
	d.Active = &session.ActiveSnapshot{Port: 8787, UseVolumes: false}

	require.NoError(t, c.Stop(context.Background(), d))
	assert.Equal(t, []string{"Study_erin"}, eng.stopped)
	assert.Empty(t, vols.syncedBack)
	assert.Equal(t, []string{"/repo"}, notify.calls)
	assert.False(t, d.Running)
}

func TestStopVolumeModeSyncsBackAndRemoves(t *testing.T) {
	eng := newFakeEngine()
	eng.running["Study_erin"] = true
	vols := &fakeVols{}

	c := newTestController(eng, Options{Volumes: vols})
	d := localDescriptor("/repo")
	d.Running = true
	d.OutputDir = "/repo/out"
	d.SynthpopDir = "/repo/synth"
	d.Active = &session.ActiveSnapshot{Port: 8787, UseVolumes: true}

	require.NoError(t, c.Stop(context.Background(), d))
	assert.Equal(t, []string{"rdock_output_erin", "rdock_synthpop_erin"}, vols.syncedBack)
	assert.Equal(t, []string{"rdock_output_erin", "rdock_synthpop_erin"}, vols.removed)
}

func TestStopKeepsVolumeOnSyncFailure(t *testing.T) {
	eng := newFakeEngine()
	eng.running["Study_erin"] = true
	vols := &fakeVols{syncErr: map[string]error{
		"rdock_output_erin": errors.New("rsync: connection reset"),
	}}

	c := newTestController(eng, Options{Volumes: vols})
	d := localDescriptor("/repo")
	d.Running = true
	d.OutputDir = "/repo/out"
	d.SynthpopDir = "/repo/synth"
	d.Active = &session.ActiveSnapshot{Port: 8787, UseVolumes: true}

	require.NoError(t, c.Stop(context.Background(), d), "sync trouble never blocks the stop")
	assert.Equal(t, []string{"rdock_synthpop_erin"}, vols.removed,
		"the failed volume stays behind for manual recovery")
}

func TestStopRecoveredVolumeSessionReadsManifest(t *testing.T) {
	root := localRepo(t)
	eng := newFakeEngine()
	eng.running["Study_erin"] = true
	vols := &fakeVols{}

	c := newTestController(eng, Options{Volumes: vols})
	d := localDescriptor(root)
	d.Running = true
	// Recovered after a restart: data directories were never resolved.
	d.Active = &session.ActiveSnapshot{Port: 8787, UseVolumes: true}

	require.NoError(t, c.Stop(context.Background(), d))
	assert.Equal(t, []string{"rdock_output_erin", "rdock_synthpop_erin"}, vols.syncedBack)
	assert.Equal(t, filepath.Join(root, "out"), d.OutputDir)
}

func TestStopDeletesRemoteMetadata(t *testing.T) {
	eng := newFakeEngine()
	eng.running["Study_erin"] = true
	meta := &fakeMeta{records: map[string]*metadata.Record{}}

	c := newTestController(eng, Options{Metadata: meta})
	d := localDescriptor("/srv/study")
	d.Location = session.Remote
	d.HostAddress = "op@box"
	d.Running = true
	d.Active = &session.ActiveSnapshot{Port: 9100}

	require.NoError(t, c.Stop(context.Background(), d))
	assert.Equal(t, []string{"Study_erin"}, meta.deleted)
}

func TestRecoverNotRunningIgnoresStaleMetadata(t *testing.T) {
	eng := newFakeEngine()
	meta := &fakeMeta{records: map[string]*metadata.Record{
		"Study_erin": {Container: "Study_erin", Password: "old", Port: 9100},
	}}

	c := newTestController(eng, Options{Metadata: meta})
	d := localDescriptor("/srv/study")
	d.Location = session.Remote
	d.HostAddress = "op@box"

	require.NoError(t, c.Recover(context.Background(), d))
	assert.False(t, d.Running)
	assert.Nil(t, d.Recovered)
	assert.Nil(t, d.Active)
}

func TestRecoverRunningWithMetadata(t *testing.T) {
	eng := newFakeEngine()
	eng.running["Study_erin"] = true
	eng.usedPorts = map[int]bool{9100: true}
	eng.workloads = []session.WorkloadSummary{{Name: "Study_erin", Status: "Up 4 hours"}}
	meta := &fakeMeta{records: map[string]*metadata.Record{
		"Study_erin": {Container: "Study_erin", Password: "hunter2", Port: 9100, UseVolumes: true},
	}}

	c := newTestController(eng, Options{Metadata: meta})
	d := localDescriptor("/srv/study")
	d.Location = session.Remote
	d.HostAddress = "op@box"

	require.NoError(t, c.Recover(context.Background(), d))
	assert.True(t, d.Running)
	require.NotNil(t, d.Recovered)
	require.NotNil(t, d.Recovered.Password)
	assert.Equal(t, "hunter2", *d.Recovered.Password)
	require.NotNil(t, d.Active)
	assert.Equal(t, 9100, d.Active.Port)
	assert.True(t, d.Active.UseVolumes)
	assert.True(t, d.UsedPorts[9100])
}

func TestRecoverRunningWithoutMetadataIntrospects(t *testing.T) {
	eng := newFakeEngine()
	eng.running["Study_erin"] = true
	eng.inspect[`{{range $p, $bindings := .NetworkSettings.Ports}}{{range $bindings}}{{.HostPort}} {{end}}{{end}}`] = "9100 "
	eng.inspect[`{{range .Config.Env}}{{println .}}{{end}}`] = "PATH=/usr/bin\nPASSWORD=recovered\n"
	eng.inspect[`{{range .Mounts}}{{.Type}} {{end}}`] = "bind bind volume volume "
	meta := &fakeMeta{records: map[string]*metadata.Record{}}

	c := newTestController(eng, Options{Metadata: meta})
	d := localDescriptor("/srv/study")
	d.Location = session.Remote
	d.HostAddress = "op@box"

	require.NoError(t, c.Recover(context.Background(), d))
	require.NotNil(t, d.Recovered)
	require.NotNil(t, d.Recovered.Port)
	assert.Equal(t, 9100, *d.Recovered.Port)
	require.NotNil(t, d.Recovered.Password)
	assert.Equal(t, "recovered", *d.Recovered.Password)
	require.NotNil(t, d.Recovered.UseVolumes)
	assert.True(t, *d.Recovered.UseVolumes)
}

func TestRecoverInspectFailureDegradesToDefaults(t *testing.T) {
	eng := newFakeEngine()
	eng.running["Study_erin"] = true

	c := newTestController(eng, Options{})
	d := localDescriptor("/repo")

	require.NoError(t, c.Recover(context.Background(), d))
	require.NotNil(t, d.Active)
	assert.Equal(t, 8787, d.Active.Port)
	assert.False(t, d.Active.UseVolumes)
}

func TestGitSSHCommand(t *testing.T) {
	cmd := gitSSHCommand()
	assert.Contains(t, cmd, "-i /home/rstudio/.ssh/id_rdock")
	assert.Contains(t, cmd, "UserKnownHostsFile=/home/rstudio/.ssh/rdock_known_hosts")
	assert.Contains(t, cmd, "IdentitiesOnly=yes")
}

func TestOtherRunningFiltersSelfAndStopped(t *testing.T) {
	workloads := []session.WorkloadSummary{
		{Name: "Study_erin", Status: "Up 1 hour"},
		{Name: "Other_erin", Status: "Up 5 minutes"},
		{Name: "Old_erin", Status: "Exited (137) 2 weeks ago"},
	}
	got := otherRunning(workloads, "Study_erin")
	assert.Equal(t, []string{"Other_erin"}, got)
}

func ExampleConflictError() {
	err := &ConflictError{Resource: "port", Value: "9100"}
	fmt.Println(err)
	// Output: port already in use: 9100
}
