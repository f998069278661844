package model

// PCBState is the per-(interface, address-family) protocol control block
// state (spec.md §4.3).
type PCBState int

const (
	PCBOff PCBState = iota
	PCBInit
	PCBProbe1
	PCBProbe2
	PCBProbe3
	PCBAnnounce1
	PCBAnnounce2
	PCBAnnounce3
	PCBRunning
	PCBDup
)

func (s PCBState) String() string {
	switch s {
	case PCBOff:
		return "OFF"
	case PCBInit:
		return "INIT"
	case PCBProbe1:
		return "PROBE_1"
	case PCBProbe2:
		return "PROBE_2"
	case PCBProbe3:
		return "PROBE_3"
	case PCBAnnounce1:
		return "ANNOUNCE_1"
	case PCBAnnounce2:
		return "ANNOUNCE_2"
	case PCBAnnounce3:
		return "ANNOUNCE_3"
	case PCBRunning:
		return "RUNNING"
	case PCBDup:
		return "DUP"
	default:
		return "UNKNOWN"
	}
}

// IsProbing reports whether state is one of the PROBE_n states.
func (s PCBState) IsProbing() bool {
	return s == PCBProbe1 || s == PCBProbe2 || s == PCBProbe3
}

// IsAnnouncing reports whether state is one of the ANNOUNCE_n states.
func (s PCBState) IsAnnouncing() bool {
	return s == PCBAnnounce1 || s == PCBAnnounce2 || s == PCBAnnounce3
}

// Family distinguishes the two address families a PCB can track.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

func (f Family) String() string {
	if f == FamilyV6 {
		return "v6"
	}
	return "v4"
}

// PCBKey identifies one protocol control block.
type PCBKey struct {
	Interface string
	Family    Family
}

// PCB is the per-(interface, address-family) bookkeeping state described in
// spec.md §3/§4.3.
type PCB struct {
	Key   PCBKey
	State PCBState

	// ProbeServices is the set of service IDs this probe round is claiming;
	// new services merge into an in-flight probe per spec.md §4.3's
	// "RUNNING + new services --> PROBE_1 (merged with existing probe set)".
	ProbeServices map[uint64]struct{}
	ProbeHostname bool // probing for the hostname (A/AAAA) itself
	FailedProbes  int

	DuplicateOf *PCBKey // set when this PCB is silenced as a subnet duplicate
	LocalAddr   string  // this interface's own address in Key.Family, for duplicate detection
}

// NewPCB returns a PCB in the OFF state for the given key.
func NewPCB(key PCBKey) *PCB {
	return &PCB{Key: key, State: PCBOff, ProbeServices: make(map[uint64]struct{})}
}

// MergeProbe adds serviceID to the in-flight (or about-to-start) probe set.
func (p *PCB) MergeProbe(serviceID uint64) {
	if p.ProbeServices == nil {
		p.ProbeServices = make(map[uint64]struct{})
	}
	p.ProbeServices[serviceID] = struct{}{}
}
