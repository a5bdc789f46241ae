package git

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalleEF/rdock/internal/transport"
)

type fakeRunner struct {
	commands []transport.Command
	results  []transport.Result
}

func (f *fakeRunner) Run(_ context.Context, c transport.Command) (transport.Result, error) {
	f.commands = append(f.commands, c)
	if len(f.results) == 0 {
		return transport.Result{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

type fakeDecider struct {
	message     string
	decline     bool
	push        bool
	askedCommit int
}

func (d *fakeDecider) CommitMessage() (string, bool) {
	d.askedCommit++
	return d.message, !d.decline
}

func (d *fakeDecider) ConfirmPush() bool { return d.push }

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCaptureRemoteBaseline(t *testing.T) {
	f := &fakeRunner{results: []transport.Result{
		{Stdout: "abc123def\n"},
		{Stdout: " M analysis/model.R\n?? out/result.csv\n"},
	}}

	b, err := CaptureRemoteBaseline(context.Background(), f, "/home/ruser/study")
	require.NoError(t, err)
	assert.Equal(t, "abc123def", b.Commit)
	assert.Equal(t, []string{"analysis/model.R", "out/result.csv"}, b.Dirty)

	require.Len(t, f.commands, 2)
	assert.Equal(t, []string{"-C", "/home/ruser/study", "rev-parse", "HEAD"}, f.commands[0].Args)
	assert.Equal(t, []string{"-C", "/home/ruser/study", "status", "--porcelain"}, f.commands[1].Args)
}

func TestCaptureRemoteBaselineNotARepo(t *testing.T) {
	f := &fakeRunner{results: []transport.Result{
		{ExitCode: 128, Stderr: "fatal: not a git repository"},
	}}
	_, err := CaptureRemoteBaseline(context.Background(), f, "/tmp/nowhere")
	require.Error(t, err)
}

func TestNotifyRemoteCleanRepoAsksNothing(t *testing.T) {
	f := &fakeRunner{results: []transport.Result{{Stdout: "\n"}}}
	d := &fakeDecider{}
	n := NewNotifier(f, d, discard())

	n.NotifyPossibleChanges(context.Background(), "/home/ruser/study", true)
	assert.Zero(t, d.askedCommit)
	require.Len(t, f.commands, 1)
}

func TestNotifyRemoteCommitAndPush(t *testing.T) {
	f := &fakeRunner{results: []transport.Result{
		{Stdout: " M analysis/model.R\n"}, // status
		{}, // add
		{}, // commit
		{}, // push
	}}
	d := &fakeDecider{message: "run results", push: true}
	n := NewNotifier(f, d, discard())

	n.NotifyPossibleChanges(context.Background(), "/home/ruser/study", true)
	require.Len(t, f.commands, 4)
	assert.Contains(t, strings.Join(f.commands[1].Args, " "), "add -A")
	assert.Contains(t, strings.Join(f.commands[2].Args, " "), "commit -m run results")
	assert.Contains(t, strings.Join(f.commands[3].Args, " "), "push")
}

func TestNotifyRemoteDeclinedCommit(t *testing.T) {
	f := &fakeRunner{results: []transport.Result{
		{Stdout: " M analysis/model.R\n"},
	}}
	d := &fakeDecider{decline: true}
	n := NewNotifier(f, d, discard())

	n.NotifyPossibleChanges(context.Background(), "/home/ruser/study", true)
	// Status query only, no mutation after the operator declined.
	require.Len(t, f.commands, 1)
}

func TestNotifyLocalNotARepoIsSilent(t *testing.T) {
	d := &fakeDecider{}
	n := NewNotifier(nil, d, discard())
	n.NotifyPossibleChanges(context.Background(), t.TempDir(), false)
	assert.Zero(t, d.askedCommit)
}
