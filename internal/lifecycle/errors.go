package lifecycle

import (
	"errors"
	"fmt"
)

// ErrAborted is returned when the operator declines a confirmation point.
// The current transition stops cleanly with no engine-side mutation.
var ErrAborted = errors.New("aborted by operator")

// ConflictError reports a name or port already in use. Checked before any
// mutating action; aborting here has no side effects.
type ConflictError struct {
	Resource string // "workload", "port", "mount target"
	Value    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already in use: %s", e.Resource, e.Value)
}

// PathError reports a required directory or file that is missing. Nothing
// is auto-created.
type PathError struct {
	Path string
	Hint string
}

func (e *PathError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("required path missing: %s (%s)", e.Path, e.Hint)
	}
	return fmt.Sprintf("required path missing: %s", e.Path)
}

// BuildError reports an exhausted build ladder. Rung names which build
// failed last; the engine diagnostic is carried verbatim.
type BuildError struct {
	Rung string // "primary", "prerequisite", "primary-retry"
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("image build failed at rung %q: %v", e.Rung, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// EngineError reports a non-zero exit from an engine command. The raw
// diagnostic is more useful than a paraphrase, so it is kept as-is.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s failed: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// TransportError reports a remote command that timed out or could not
// reach the host. The current step aborts; nothing is silently retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SyncError reports a failed volume sync-back. Soft: logged during Stop,
// never blocks the transition, since data survives in the volume for
// manual recovery.
type SyncError struct {
	Volume string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("volume %s sync failed: %v", e.Volume, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
