// Package trust establishes non-interactive key-based authentication
// against a remote host so every later transport call succeeds without a
// prompt. The ladder is idempotent: a host that already trusts the key is
// never touched.
package trust

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kalleEF/rdock/internal/transport"
)

const (
	// RemoteKeyFile is the per-user private key copy installed in the remote
	// account's trust directory, relative to the remote home. It is bind-
	// mounted into the workload so the in-container git client can use it.
	RemoteKeyFile = ".ssh/rdock_id_ed25519"
	// RemoteKnownHostsFile is the synced known-hosts record for the git
	// host, relative to the remote home.
	RemoteKnownHostsFile = ".ssh/rdock_known_hosts"

	probeTimeout = 20 * time.Second
	rungTimeout  = 30 * time.Second
)

// Error is a terminal trust failure: the ladder was exhausted without
// establishing key-based access. It names the rung that was reached.
type Error struct {
	Rung string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("trust bootstrap failed at rung %q: %v", e.Rung, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// PasswordPrompter supplies the one-time remote account password for the
// password rung. Implemented interactively by the presentation layer.
type PasswordPrompter interface {
	Password(prompt string) (string, error)
}

// Bootstrap drives the trust ladder for one remote target.
type Bootstrap struct {
	Target         string // user@host
	IdentityFile   string
	PublicKeyFile  string
	KnownHostsFile string
	GitHost        string
	ConnectTimeout time.Duration

	// Probe runs commands authenticated with the session key only.
	Probe transport.Runner
	// Local runs the fallback ssh/sshpass clients on this machine.
	Local transport.Runner

	Prompt PasswordPrompter
	Log    *slog.Logger

	lookPath func(file string) (string, error)
}

// New creates a Bootstrap with the system lookPath.
func New(target string, identity, pubKey, knownHosts, gitHost string, connectTimeout time.Duration,
	probe, local transport.Runner, prompt PasswordPrompter, log *slog.Logger) *Bootstrap {
	return &Bootstrap{
		Target:         target,
		IdentityFile:   identity,
		PublicKeyFile:  pubKey,
		KnownHostsFile: knownHosts,
		GitHost:        gitHost,
		ConnectTimeout: connectTimeout,
		Probe:          probe,
		Local:          local,
		Prompt:         prompt,
		Log:            log,
		lookPath:       exec.LookPath,
	}
}

// ArtifactsPresent verifies the local key material the ladder depends on.
func (b *Bootstrap) ArtifactsPresent() error {
	for _, p := range []string{b.IdentityFile, b.PublicKeyFile} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("ssh key material missing at %s: generate a key pair first", p)
		}
	}
	return nil
}

// Ensure walks the ladder until a probe passes. A probe that succeeds on
// the first call performs zero mutating remote calls. Any exhaustion is
// terminal for the session and reported, never retried automatically.
func (b *Bootstrap) Ensure(ctx context.Context) error {
	if err := b.probe(ctx); err == nil {
		b.Log.Debug("trust already established", "target", b.Target)
		return nil
	}

	rungs := []struct {
		name string
		run  func(context.Context) error
	}{
		{"existing-trust", b.viaExistingTrust},
		{"password", b.viaPassword},
	}

	var lastErr error
	lastRung := "probe"
	for _, r := range rungs {
		b.Log.Debug("attempting trust rung", "rung", r.name)
		if err := r.run(ctx); err != nil {
			lastErr, lastRung = err, r.name
			continue
		}
		if err := b.probe(ctx); err == nil {
			b.Log.Info("trust established", "target", b.Target, "rung", r.name)
			return nil
		} else {
			lastErr, lastRung = fmt.Errorf("post-bootstrap probe failed: %w", err), r.name
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no bootstrap strategy available")
	}
	return &Error{Rung: lastRung, Err: lastErr}
}

// probe attempts a trivial authenticated command with the session key.
func (b *Bootstrap) probe(ctx context.Context) error {
	res, err := b.Probe.Run(ctx, transport.Command{Name: "true", Timeout: probeTimeout})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("authenticated probe failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// bootstrapScript appends the public key to the remote authorized-key file
// if absent and installs the per-user private key copy from stdin, with
// restrictive permissions. Safe to run any number of times.
func bootstrapScript(pubKey string) string {
	q := transport.ShellQuote(strings.TrimSpace(pubKey))
	return "mkdir -p ~/.ssh; chmod 700 ~/.ssh; " +
		"touch ~/.ssh/authorized_keys; chmod 600 ~/.ssh/authorized_keys; " +
		"grep -qxF " + q + " ~/.ssh/authorized_keys || echo " + q + " >> ~/.ssh/authorized_keys; " +
		"cat > ~/" + RemoteKeyFile + "; chmod 600 ~/" + RemoteKeyFile
}

// viaExistingTrust pushes the key using whatever other credential the local
// ssh client can already offer (agent identities, default keys).
func (b *Bootstrap) viaExistingTrust(ctx context.Context) error {
	script, err := b.loadScript()
	if err != nil {
		return err
	}
	privKey, err := os.ReadFile(b.IdentityFile)
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}

	res, err := b.Local.Run(ctx, transport.Command{
		Name: "ssh",
		Args: []string{
			"-o", "BatchMode=yes",
			"-o", "StrictHostKeyChecking=accept-new",
			"-o", fmt.Sprintf("ConnectTimeout=%d", int(b.ConnectTimeout.Seconds())),
			b.Target,
			"--",
			script,
		},
		Stdin:   string(privKey),
		Timeout: rungTimeout,
	})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("no existing credential grants access: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// viaPassword runs the same idempotent script through a password-capable
// client, prompting exactly once.
func (b *Bootstrap) viaPassword(ctx context.Context) error {
	sshpass, err := b.lookPath("sshpass")
	if err != nil {
		return fmt.Errorf("no password-capable ssh client found: install sshpass, "+
			"or append the contents of %s to ~/.ssh/authorized_keys on %s manually",
			b.PublicKeyFile, b.Target)
	}

	script, err := b.loadScript()
	if err != nil {
		return err
	}
	privKey, err := os.ReadFile(b.IdentityFile)
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}

	password, err := b.Prompt.Password(fmt.Sprintf("Password for %s: ", b.Target))
	if err != nil {
		return fmt.Errorf("password entry aborted: %w", err)
	}

	// The password travels in the environment (-e / SSHPASS), never on the
	// argv where any process listing could read it.
	res, err := b.Local.Run(ctx, transport.Command{
		Name: sshpass,
		Env:  []string{"SSHPASS=" + password},
		Args: []string{
			"-e",
			"ssh",
			"-o", "StrictHostKeyChecking=accept-new",
			"-o", fmt.Sprintf("ConnectTimeout=%d", int(b.ConnectTimeout.Seconds())),
			b.Target,
			"--",
			script,
		},
		Stdin:   string(privKey),
		Timeout: rungTimeout,
	})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("password bootstrap failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (b *Bootstrap) loadScript() (string, error) {
	pubKey, err := os.ReadFile(b.PublicKeyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read public key: %w", err)
	}
	return bootstrapScript(string(pubKey)), nil
}

// SyncKnownHosts copies the local known-hosts entries for the git host to
// the remote account, append-if-missing, so in-container git clients can
// verify the host without an interactive prompt. Requires trust to be
// established already.
func (b *Bootstrap) SyncKnownHosts(ctx context.Context) error {
	data, err := os.ReadFile(b.KnownHostsFile)
	if err != nil {
		return fmt.Errorf("failed to read known hosts: %w", err)
	}

	var matching []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) > 0 && strings.Contains(fields[0], b.GitHost) {
			matching = append(matching, trimmed)
		}
	}
	if len(matching) == 0 {
		return fmt.Errorf("no known-hosts entry for %s in %s", b.GitHost, b.KnownHostsFile)
	}

	target := "~/" + RemoteKnownHostsFile
	script := "mkdir -p ~/.ssh; touch " + target + "; chmod 600 " + target + "; " +
		`while IFS= read -r line; do grep -qxF "$line" ` + target +
		` || printf '%s\n' "$line" >> ` + target + "; done"
	res, err := b.Probe.Run(ctx, transport.Command{
		Name:    "sh",
		Args:    []string{"-c", script},
		Stdin:   strings.Join(matching, "\n") + "\n",
		Timeout: rungTimeout,
	})
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("failed to sync known hosts: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}
