// Package git integrates the orchestration core with source control: a
// best-effort baseline before a run, and a post-stop collaborator that may
// commit and push whatever the workload changed. The collaborator is
// fire-and-forget; the core never learns its outcome.
package git

import (
	"context"
	"log/slog"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"github.com/kalleEF/rdock/internal/transport"
)

// Decider answers the collaborator's two questions: what to commit as, and
// whether to push. Returning ok=false from CommitMessage declines entirely.
type Decider interface {
	CommitMessage() (message string, ok bool)
	ConfirmPush() bool
}

// Notifier inspects a repository after a workload stops and, when changes
// exist, commits and pushes them at the operator's discretion.
type Notifier struct {
	remote  transport.Runner
	decider Decider
	log     *slog.Logger
}

// NewNotifier creates a notifier. The runner is used only for remote
// repositories; pass nil for purely local sessions.
func NewNotifier(remote transport.Runner, decider Decider, log *slog.Logger) *Notifier {
	return &Notifier{remote: remote, decider: decider, log: log}
}

// NotifyPossibleChanges checks the repository for changes and offers to
// commit and push them. All failures are logged, never returned: the
// workload is already stopped and nothing here may undo that.
func (n *Notifier) NotifyPossibleChanges(ctx context.Context, repoPath string, isRemote bool) {
	if isRemote {
		n.notifyRemote(ctx, repoPath)
		return
	}
	n.notifyLocal(repoPath)
}

func (n *Notifier) notifyLocal(repoPath string) {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		n.log.Debug("not a repository, skipping commit offer", "path", repoPath, "error", err)
		return
	}
	wt, err := repo.Worktree()
	if err != nil {
		n.log.Warn("failed to open worktree", "path", repoPath, "error", err)
		return
	}
	status, err := wt.Status()
	if err != nil {
		n.log.Warn("failed to read status", "path", repoPath, "error", err)
		return
	}
	if status.IsClean() {
		n.log.Debug("repository clean, nothing to commit", "path", repoPath)
		return
	}

	msg, ok := n.decider.CommitMessage()
	if !ok {
		return
	}
	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		n.log.Warn("failed to stage changes", "path", repoPath, "error", err)
		return
	}
	if _, err := wt.Commit(msg, &gogit.CommitOptions{}); err != nil {
		n.log.Warn("failed to commit", "path", repoPath, "error", err)
		return
	}
	n.log.Info("committed workload changes", "path", repoPath)

	if !n.decider.ConfirmPush() {
		return
	}
	if err := repo.Push(&gogit.PushOptions{}); err != nil && err != gogit.NoErrAlreadyUpToDate {
		n.log.Warn("failed to push", "path", repoPath, "error", err)
	}
}

func (n *Notifier) notifyRemote(ctx context.Context, repoPath string) {
	if n.remote == nil {
		n.log.Warn("no remote runner configured, skipping commit offer", "path", repoPath)
		return
	}
	res, err := n.remote.Run(ctx, transport.Command{
		Name:    "git",
		Args:    []string{"-C", repoPath, "status", "--porcelain"},
		Timeout: cmdTimeout,
	})
	if err != nil || !res.Ok() {
		n.log.Debug("status query failed, skipping commit offer", "path", repoPath, "error", err)
		return
	}
	if strings.TrimSpace(res.Stdout) == "" {
		return
	}

	msg, ok := n.decider.CommitMessage()
	if !ok {
		return
	}
	for _, args := range [][]string{
		{"-C", repoPath, "add", "-A"},
		{"-C", repoPath, "commit", "-m", msg},
	} {
		res, err := n.remote.Run(ctx, transport.Command{Name: "git", Args: args, Timeout: cmdTimeout})
		if err != nil || !res.Ok() {
			n.log.Warn("remote commit failed", "path", repoPath, "args", strings.Join(args, " "), "error", err)
			return
		}
	}
	n.log.Info("committed workload changes", "path", repoPath)

	if !n.decider.ConfirmPush() {
		return
	}
	res, err = n.remote.Run(ctx, transport.Command{
		Name:    "git",
		Args:    []string{"-C", repoPath, "push"},
		Timeout: 0, // pushes can be slow, leave unbounded
	})
	if err != nil || !res.Ok() {
		n.log.Warn("remote push failed", "path", repoPath, "error", err)
	}
}
