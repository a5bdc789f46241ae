package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalleEF/rdock/internal/config"
	"github.com/kalleEF/rdock/internal/engine"
	"github.com/kalleEF/rdock/internal/git"
	"github.com/kalleEF/rdock/internal/lifecycle"
	"github.com/kalleEF/rdock/internal/metadata"
	"github.com/kalleEF/rdock/internal/session"
	"github.com/kalleEF/rdock/internal/transport"
	"github.com/kalleEF/rdock/internal/trust"
	"github.com/kalleEF/rdock/internal/volume"
)

// Flags shared by start, stop and status.
var (
	flagUser   string
	flagRemote string
	flagRepo   string
)

func addSessionFlags(c *cobra.Command) {
	c.Flags().StringVarP(&flagUser, "user", "u", "", "workload user name (required)")
	c.Flags().StringVar(&flagRemote, "remote", "", "remote engine host as user@host (default: local engine)")
	c.Flags().StringVarP(&flagRepo, "repo", "r", "", "repository root (default: enclosing git repository)")
	_ = c.MarkFlagRequired("user")
}

// sessionEnv bundles everything a command needs to drive one session.
type sessionEnv struct {
	cfg        *config.Config
	desc       *session.Descriptor
	eng        *engine.Client
	controller *lifecycle.Controller
}

// buildSession resolves the descriptor, bootstraps trust for remote
// targets, resolves the engine context and wires the controller.
func buildSession(ctx context.Context) (*sessionEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	repoRoot := flagRepo
	if repoRoot == "" && flagRemote == "" {
		repoRoot = git.FindRoot(".")
		if repoRoot == "" {
			return nil, fmt.Errorf("not inside a git repository: pass --repo")
		}
	}
	if repoRoot == "" {
		return nil, fmt.Errorf("--repo is required with --remote")
	}

	d := &session.Descriptor{
		UserName: session.NormalizeUser(flagUser),
		RepoName: filepath.Base(strings.TrimRight(repoRoot, "/")),
		RepoRoot: repoRoot,
	}
	if flagRemote != "" {
		d.Location = session.Remote
		d.HostAddress = flagRemote
	} else {
		d.Location = session.Local
	}

	env := &sessionEnv{cfg: cfg, desc: d}
	if d.IsRemote() {
		err = env.setupRemote(ctx)
	} else {
		err = env.setupLocal(ctx)
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (e *sessionEnv) setupLocal(ctx context.Context) error {
	local := transport.NewLocal(log)

	if err := engine.WaitForLocal(ctx, e.cfg.Engine.WaitAttempts, log); err != nil {
		log.Warn("local engine not responding", "error", err)
		if !(&terminalDecider{}).Confirm("The local engine is not responding. Continue anyway?") {
			return fmt.Errorf("local engine unavailable: %w", err)
		}
	}
	eng, err := engine.ResolveLocal(ctx, local, e.cfg.Engine.LocalSocket, log)
	if err != nil {
		return err
	}
	e.eng = eng

	syncer := volume.NewSyncer(eng, e.cfg.Engine.HelperImage, log)
	notifier := git.NewNotifier(local, &terminalDecider{}, log)

	e.controller = lifecycle.New(lifecycle.Options{
		Engine:   eng,
		Host:     local,
		Volumes:  syncer,
		Notifier: notifier,
		Decider:  &terminalDecider{},
		Config:   e.cfg,
		Log:      log,
	})
	return nil
}

func (e *sessionEnv) setupRemote(ctx context.Context) error {
	local := transport.NewLocal(log)
	connectTimeout := e.cfg.SSH.ConnectTimeoutDuration()
	ssh := transport.NewSSH(e.desc.HostAddress, e.cfg.SSH.IdentityFile, connectTimeout, log)

	boot := trust.New(e.desc.HostAddress,
		e.cfg.SSH.IdentityFile, e.cfg.SSH.PublicKeyFile, e.cfg.SSH.KnownHostsFile,
		e.cfg.SSH.GitHost, connectTimeout,
		ssh, local, &terminalDecider{}, log)
	if err := boot.ArtifactsPresent(); err != nil {
		return err
	}
	if err := boot.Ensure(ctx); err != nil {
		return err
	}
	if err := confirmDegradedKnownHosts(&terminalDecider{}, boot.SyncKnownHosts(ctx)); err != nil {
		return err
	}

	remoteHome, err := remoteHomeDir(ctx, ssh)
	if err != nil {
		return err
	}

	eng, err := engine.ResolveRemote(ctx, local, e.desc.HostAddress, e.desc.EngineHost, log)
	if err != nil {
		return err
	}
	e.desc.EngineHost = eng.HostEnv()
	e.eng = eng

	syncer := volume.NewSyncer(eng, e.cfg.Engine.HelperImage, log)
	store := metadata.NewStore(ssh, e.cfg.Engine.MetadataDir, log)
	notifier := git.NewNotifier(ssh, &terminalDecider{}, log)

	e.controller = lifecycle.New(lifecycle.Options{
		Engine:     eng,
		Host:       ssh,
		Metadata:   store,
		Volumes:    syncer,
		Notifier:   notifier,
		Decider:    &terminalDecider{},
		Config:     e.cfg,
		RemoteHome: remoteHome,
		Log:        log,
	})
	return nil
}

// confirmDegradedKnownHosts turns a known-hosts sync failure into an
// explicit decision: proceeding means the in-container git client may
// prompt interactively for host verification. Declining aborts the session
// before any engine work.
func confirmDegradedKnownHosts(dec lifecycle.Decider, err error) error {
	if err == nil {
		return nil
	}
	prompt := fmt.Sprintf(
		"Known-hosts sync failed (%v). In-container git may prompt for host verification. Continue anyway?", err)
	if dec.Confirm(prompt) {
		return nil
	}
	return fmt.Errorf("known-hosts sync failed: %w", err)
}

// remoteQueryTimeout bounds the short remote queries issued during wiring.
const remoteQueryTimeout = 20 * time.Second

func remoteHomeDir(ctx context.Context, runner transport.Runner) (string, error) {
	res, err := runner.Run(ctx, transport.Command{
		Name:    "sh",
		Args:    []string{"-c", "echo $HOME"},
		Timeout: remoteQueryTimeout,
	})
	if err != nil {
		return "", fmt.Errorf("cannot determine remote home directory: %w", err)
	}
	home := strings.TrimSpace(res.Stdout)
	if !res.Ok() || home == "" {
		return "", fmt.Errorf("cannot determine remote home directory: %s", strings.TrimSpace(res.Stderr))
	}
	return home, nil
}
