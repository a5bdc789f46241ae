// Package volume provisions engine-managed durable volumes and moves data
// between them and host directories with an ephemeral rsync helper image.
// No long-lived helper process exists; every mutation is an auto-removing
// container.
package volume

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalleEF/rdock/internal/config"
	"github.com/kalleEF/rdock/internal/transport"
)

// helperBuildFile is the inline build file for the sync helper image.
const helperBuildFile = `FROM alpine:3.20
RUN apk add --no-cache rsync
`

// Engine is the subset of engine operations the syncer needs.
type Engine interface {
	ImageExists(ctx context.Context, tag string) (bool, error)
	BuildImageStdin(ctx context.Context, tag, buildFile string) error
	VolumeCreate(ctx context.Context, name string) error
	VolumeRemove(ctx context.Context, name string, force bool) error
	RunContainer(ctx context.Context, args ...string) (transport.Result, error)
}

// Syncer manages the helper image and volume data movement.
type Syncer struct {
	eng         Engine
	helperImage string
	log         *slog.Logger
}

// NewSyncer creates a syncer using the given helper image tag.
func NewSyncer(eng Engine, helperImage string, log *slog.Logger) *Syncer {
	return &Syncer{eng: eng, helperImage: helperImage, log: log}
}

// EnsureHelperImage builds the rsync helper image if it is missing.
func (s *Syncer) EnsureHelperImage(ctx context.Context) error {
	exists, err := s.eng.ImageExists(ctx, s.helperImage)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	s.log.Info("building sync helper image", "image", s.helperImage)
	if err := s.eng.BuildImageStdin(ctx, s.helperImage, helperBuildFile); err != nil {
		return fmt.Errorf("failed to build helper image %s: %w", s.helperImage, err)
	}
	return nil
}

func helperName() string {
	return config.Product + "-sync-" + uuid.NewString()[:8]
}

func (s *Syncer) runHelper(ctx context.Context, args ...string) error {
	full := append([]string{"--rm", "--name", helperName()}, args...)
	res, err := s.eng.RunContainer(ctx, full...)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return fmt.Errorf("%s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Provision creates a clean volume pre-populated from a host directory.
// Any existing volume of the same name is removed first so the workload
// always starts from the host's current state. Ownership is forced to the
// workload's runtime user.
func (s *Syncer) Provision(ctx context.Context, name, hostDir, owner string) error {
	if err := s.eng.VolumeRemove(ctx, name, true); err != nil {
		return fmt.Errorf("failed to remove stale volume %s: %w", name, err)
	}
	if err := s.eng.VolumeCreate(ctx, name); err != nil {
		return err
	}
	if err := s.runHelper(ctx,
		"-v", name+":/data",
		s.helperImage,
		"chown", "-R", owner, "/data",
	); err != nil {
		return fmt.Errorf("failed to set ownership on volume %s: %w", name, err)
	}
	if err := s.runHelper(ctx,
		"-v", hostDir+":/src:ro",
		"-v", name+":/data",
		s.helperImage,
		"rsync", "-a", "--chown", owner, "/src/", "/data/",
	); err != nil {
		return fmt.Errorf("failed to populate volume %s from %s: %w", name, hostDir, err)
	}
	return nil
}

// SyncBack copies volume contents onto the host directory, leaving files
// read/write for all so the host-side user can reclaim them.
func (s *Syncer) SyncBack(ctx context.Context, name, hostDir string) error {
	if err := s.runHelper(ctx,
		"-v", name+":/data:ro",
		"-v", hostDir+":/dst",
		s.helperImage,
		"rsync", "-a", "--chmod=ugo+rw", "/data/", "/dst/",
	); err != nil {
		return fmt.Errorf("failed to sync volume %s back to %s: %w", name, hostDir, err)
	}
	return nil
}

// Remove deletes a volume after a successful sync-back.
func (s *Syncer) Remove(ctx context.Context, name string) error {
	return s.eng.VolumeRemove(ctx, name, false)
}
