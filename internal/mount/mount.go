package mount

import (
	"fmt"
	"strings"
)

// Mount represents one host-path bind or named-volume attachment into the
// workload container.
type Mount struct {
	Source   string // host path, or volume name when Volume is set
	Target   string // in-container path
	ReadOnly bool
	Volume   bool
}

// Spec renders the engine -v value for this mount.
func (m Mount) Spec() string {
	spec := m.Source + ":" + m.Target
	if m.ReadOnly {
		spec += ":ro"
	}
	return spec
}

// Plan is an ordered set of mounts with unique in-container targets. Two
// mounts landing on the same target would shadow each other, so the plan
// rejects the duplicate instead of letting the engine pick a winner.
type Plan struct {
	mounts  []Mount
	targets map[string]bool
}

// NewPlan creates an empty plan.
func NewPlan() *Plan {
	return &Plan{targets: make(map[string]bool)}
}

// Add appends a mount, rejecting empty fields and duplicate targets.
func (p *Plan) Add(m Mount) error {
	if m.Source == "" || m.Target == "" {
		return fmt.Errorf("mount source and target cannot be empty")
	}
	if !strings.HasPrefix(m.Target, "/") {
		return fmt.Errorf("mount target %s must be absolute", m.Target)
	}
	if p.targets[m.Target] {
		return fmt.Errorf("duplicate mount target: %s", m.Target)
	}
	p.targets[m.Target] = true
	p.mounts = append(p.mounts, m)
	return nil
}

// Mounts returns the planned mounts in insertion order.
func (p *Plan) Mounts() []Mount {
	return p.mounts
}

// Args renders the plan as engine run arguments.
func (p *Plan) Args() []string {
	args := make([]string, 0, len(p.mounts)*2)
	for _, m := range p.mounts {
		args = append(args, "-v", m.Spec())
	}
	return args
}
