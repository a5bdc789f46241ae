// Package metadata persists a small JSON record on the remote host's temp
// area so a session can be recovered after the local process restarts.
// Every operation is a single best-effort remote file command; absence is
// never an error.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/kalleEF/rdock/internal/transport"
)

// Record is the per-container recovery record. Its existence does not imply
// the workload is running; callers must cross-check against the live engine
// before trusting it.
type Record struct {
	Container  string    `json:"container"`
	Repo       string    `json:"repo"`
	User       string    `json:"user"`
	Password   string    `json:"password"`
	Port       int       `json:"port"`
	UseVolumes bool      `json:"useVolumes"`
	Timestamp  time.Time `json:"timestamp"`
}

const opTimeout = 20 * time.Second

// Store reads and writes records through an execution transport.
type Store struct {
	runner transport.Runner
	dir    string
	log    *slog.Logger
}

// NewStore creates a store rooted at dir on the runner's host.
func NewStore(runner transport.Runner, dir string, log *slog.Logger) *Store {
	return &Store{runner: runner, dir: dir, log: log}
}

func (s *Store) recordPath(container string) string {
	return path.Join(s.dir, container+".json")
}

// Write persists a record, creating the parent directory and restricting
// the file mode since the record carries a credential.
func (s *Store) Write(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata record: %w", err)
	}

	p := s.recordPath(rec.Container)
	script := fmt.Sprintf("mkdir -p %s && cat > %s && chmod 600 %s",
		transport.ShellQuote(s.dir), transport.ShellQuote(p), transport.ShellQuote(p))
	res, err := s.runner.Run(ctx, transport.Command{
		Name:    "sh",
		Args:    []string{"-c", script},
		Stdin:   string(data),
		Timeout: opTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to write metadata record: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("failed to write metadata record: %s", res.Stderr)
	}
	return nil
}

// Read returns the record for a container name, or false when no record
// exists or it cannot be decoded. Absence is not an error.
func (s *Store) Read(ctx context.Context, container string) (*Record, bool) {
	res, err := s.runner.Run(ctx, transport.Command{
		Name:    "cat",
		Args:    []string{s.recordPath(container)},
		Timeout: opTimeout,
	})
	if err != nil || !res.Ok() {
		return nil, false
	}

	var rec Record
	if err := json.Unmarshal([]byte(res.Stdout), &rec); err != nil {
		s.log.Debug("ignoring undecodable metadata record", "container", container, "error", err)
		return nil, false
	}
	return &rec, true
}

// Delete removes the record for a container name, best-effort.
func (s *Store) Delete(ctx context.Context, container string) {
	res, err := s.runner.Run(ctx, transport.Command{
		Name:    "rm",
		Args:    []string{"-f", s.recordPath(container)},
		Timeout: opTimeout,
	})
	if err != nil {
		s.log.Debug("failed to delete metadata record", "container", container, "error", err)
		return
	}
	if !res.Ok() {
		s.log.Debug("failed to delete metadata record", "container", container, "stderr", res.Stderr)
	}
}
