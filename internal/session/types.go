package session

// Location selects where the workload's container engine runs.
type Location int

const (
	// Local targets the engine on this machine.
	Local Location = iota
	// Remote targets an engine reached over SSH.
	Remote
)

// WorkloadSummary is a read-only snapshot of one engine-visible container.
// It is rebuilt wholesale on every status query, never mutated in place.
type WorkloadSummary struct {
	Name   string
	Status string
	Ports  string
	Image  string
}

// ActiveSnapshot records the port and volume mode the currently running
// workload was actually started with, as opposed to the operator's next
// requested values. Stop trusts this snapshot, not the request fields.
type ActiveSnapshot struct {
	Port       int
	UseVolumes bool
}

// RecoveredState holds display values recovered after a process restart,
// from the remote metadata record or from live container introspection.
// Nil fields mean the value could not be recovered; callers degrade to
// session-entered defaults.
type RecoveredState struct {
	Password   *string
	Port       *int
	UseVolumes *bool
}

// Descriptor is the mutable state of one orchestration session. It is owned
// by a single lifecycle controller for the duration of a run and is not safe
// for concurrent mutation.
type Descriptor struct {
	// Identity.
	UserName string // normalized: no whitespace, lower-case
	Password string

	// Target.
	Location    Location
	HostAddress string // user@host, Remote only

	// Workload identity and paths.
	RepoName    string
	RepoRoot    string
	OutputDir   string // resolved from the workload description file
	SynthpopDir string

	// Runtime flags.
	UseVolumes    bool
	RebuildImage  bool
	HighCompute   bool // Remote only
	RequestedPort int
	CustomArgs    []string

	// Engine addressing fallback. When context activation failed once, the
	// direct endpoint is recorded here so later commands do not re-probe.
	EngineHost string

	// Observed state, refreshed by Recover.
	UsedPorts         map[int]bool
	ExistingWorkloads []WorkloadSummary
	Running           bool
	Active            *ActiveSnapshot
	Recovered         *RecoveredState
}

// IsRemote reports whether the session targets a remote engine.
func (d *Descriptor) IsRemote() bool {
	return d.Location == Remote
}

// ContainerName returns the fixed workload name for this session.
func (d *Descriptor) ContainerName() string {
	return ContainerName(d.RepoName, d.UserName)
}

// ImageName returns the image tag for this session's workload.
func (d *Descriptor) ImageName() string {
	return ImageName(d.RepoName)
}
