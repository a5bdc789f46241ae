package git

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"

	"github.com/kalleEF/rdock/internal/transport"
)

const cmdTimeout = 20 * time.Second

// Baseline is a best-effort source-control snapshot taken before a
// workload run: the current commit plus the dirty file list.
type Baseline struct {
	Commit string
	Dirty  []string
}

// FindRoot returns the git repository root for the given directory,
// or an empty string if the directory is not inside a git repository.
func FindRoot(dir string) string {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// CaptureBaseline snapshots a local repository.
func CaptureBaseline(repoRoot string) (*Baseline, error) {
	repo, err := gogit.PlainOpen(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", repoRoot, err)
	}

	b := &Baseline{}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	b.Commit = head.Hash().String()

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	for path, s := range status {
		if s.Worktree != gogit.Unmodified || s.Staging != gogit.Unmodified {
			b.Dirty = append(b.Dirty, path)
		}
	}
	sort.Strings(b.Dirty)
	return b, nil
}

// CaptureRemoteBaseline snapshots a repository on the transport's host.
func CaptureRemoteBaseline(ctx context.Context, runner transport.Runner, repoRoot string) (*Baseline, error) {
	res, err := runner.Run(ctx, transport.Command{
		Name:    "git",
		Args:    []string{"-C", repoRoot, "rev-parse", "HEAD"},
		Timeout: cmdTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, fmt.Errorf("failed to resolve HEAD at %s: %s", repoRoot, strings.TrimSpace(res.Stderr))
	}
	b := &Baseline{Commit: strings.TrimSpace(res.Stdout)}

	res, err = runner.Run(ctx, transport.Command{
		Name:    "git",
		Args:    []string{"-C", repoRoot, "status", "--porcelain"},
		Timeout: cmdTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, fmt.Errorf("failed to read status at %s: %s", repoRoot, strings.TrimSpace(res.Stderr))
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if len(line) > 3 {
			b.Dirty = append(b.Dirty, strings.TrimSpace(line[3:]))
		}
	}
	sort.Strings(b.Dirty)
	return b, nil
}
