package statemachine

import (
	"net"
	"time"

	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/txqueue"
	"github.com/kdanielm/mdnsd/internal/wire"
)

// Machine drives the per-PCB state diagram of spec.md §4.3, scheduling the
// probe/announce/goodbye packets it produces directly onto a shared
// txqueue.Queue. It generalizes the teacher's probe() (uniform initial
// delay, three 250ms probes, doubling-free fixed announce backoff) into the
// full OFF..RUNNING/DUP diagram, filling in the collision resolution the
// teacher leaves as a TODO.
//
// Machine is not safe for concurrent use; like Queue, it is owned by the
// single-threaded action executor.
type Machine struct {
	Store  *model.Store
	Queue  *txqueue.Queue
	Rand   Rand
	Shared SharedDelayCycle
}

// NewMachine returns a Machine wired to the given data store, transmit
// queue and jitter source.
func NewMachine(store *model.Store, queue *txqueue.Queue, rnd Rand) *Machine {
	return &Machine{Store: store, Queue: queue, Rand: rnd}
}

// EnablePCB moves a PCB from OFF/INIT into PROBE_1, claiming the hostname
// and every non-delegated owned service for this probe round, and schedules
// the first probe packet after a uniform random 0-250ms delay.
func (m *Machine) EnablePCB(key model.PCBKey, localAddr string, now time.Time) *model.PCB {
	pcb := m.Store.PCB(key)
	pcb.LocalAddr = localAddr
	pcb.ProbeHostname = true
	pcb.FailedProbes = 0
	for _, svc := range m.Store.Services() {
		if !svc.IsDelegated() {
			pcb.MergeProbe(svc.ID())
		}
	}
	pcb.State = model.PCBProbe1
	m.scheduleProbe(pcb, now.Add(InitialProbeDelay(m.Rand, pcb.FailedProbes)))
	return pcb
}

// AddService merges serviceID into pcb's claimed set. If the PCB was
// RUNNING (or silenced as DUP), this restarts probing from PROBE_1 per
// spec.md §4.3's "RUNNING + new services --> PROBE_1 (merged with existing
// probe set)"; a PCB already probing simply picks up the new service in its
// next probe packet.
func (m *Machine) AddService(pcb *model.PCB, serviceID uint64, now time.Time) {
	pcb.MergeProbe(serviceID)
	if pcb.State == model.PCBRunning || pcb.State == model.PCBDup {
		pcb.FailedProbes = 0
		pcb.State = model.PCBProbe1
		m.scheduleProbe(pcb, now.Add(InitialProbeDelay(m.Rand, pcb.FailedProbes)))
	}
}

// AdvanceAfterSend moves a PCB to its next state once the packet the
// current state scheduled has actually been transmitted, per spec.md §4.7's
// "TX_HANDLE ... advances the source PCB's state machine".
func (m *Machine) AdvanceAfterSend(pcb *model.PCB, now time.Time) {
	switch pcb.State {
	case model.PCBProbe1:
		pcb.State = model.PCBProbe2
		m.scheduleProbe(pcb, now.Add(ProbeSeparation))
	case model.PCBProbe2:
		pcb.State = model.PCBProbe3
		m.scheduleProbe(pcb, now.Add(ProbeSeparation))
	case model.PCBProbe3:
		pcb.State = model.PCBAnnounce1
		m.scheduleAnnounce(pcb, now.Add(ProbeSeparation))
	case model.PCBAnnounce1:
		pcb.State = model.PCBAnnounce2
		m.scheduleAnnounce(pcb, now.Add(AnnounceGap))
	case model.PCBAnnounce2:
		pcb.State = model.PCBAnnounce3
		m.scheduleAnnounce(pcb, now.Add(AnnounceGap))
	case model.PCBAnnounce3:
		pcb.State = model.PCBRunning
		pcb.ProbeServices = make(map[uint64]struct{})
		pcb.ProbeHostname = false
	}
}

// Collide applies spec.md §4.3's collision rule: theirs is a record seen on
// the wire during probing that conflicts with ours. A goodbye (TTL=0) or
// empty-data record never triggers a rename. Otherwise the lexicographically
// larger RDATA wins (RFC 6762 §8.2); if we lose, the relevant name is
// mangled, any probe still queued for the old name is dropped, and the PCB
// restarts at PROBE_1. subject identifies the service
// whose instance name to mangle for CollisionService/CollisionTXT; nil means
// mangle the default instance name. Returns true if we lost and renamed.
func (m *Machine) Collide(pcb *model.PCB, kind CollisionKind, subject *model.Service, ours, theirs wire.Record, now time.Time) bool {
	if theirs.TTL == 0 || len(canonicalRData(theirs)) == 0 {
		return false
	}
	if compareRecordData(ours, theirs) >= 0 {
		return false
	}
	pcb.FailedProbes++
	switch kind {
	case CollisionHost:
		m.Store.SetHostname(Mangle(m.Store.Hostname()))
	default:
		if subject != nil && subject.Instance != "" {
			subject.Instance = Mangle(subject.Instance)
		} else {
			m.Store.SetInstanceName(Mangle(m.Store.InstanceName()))
		}
	}
	for _, pkt := range m.Queue.PendingForPCB(pcb.Key, txqueue.KindProbe) {
		m.Queue.Remove(pkt)
	}
	pcb.State = model.PCBProbe1
	m.scheduleProbe(pcb, now.Add(ProbeRetryDelay(m.Rand, pcb.FailedProbes)))
	return true
}

// MarkDuplicate silences pcb as a subnet duplicate of another PCB (spec.md
// §4.3's "Subnet duplicates").
func (m *Machine) MarkDuplicate(pcb *model.PCB, of model.PCBKey) {
	pcb.State = model.PCBDup
	pcb.DuplicateOf = &of
}

// PromoteDuplicate reactivates a previously-silenced duplicate PCB (e.g.
// because the PCB it deferred to went down), re-probing everything it is
// responsible for.
func (m *Machine) PromoteDuplicate(pcb *model.PCB, now time.Time) {
	pcb.DuplicateOf = nil
	pcb.ProbeHostname = true
	pcb.FailedProbes = 0
	for _, svc := range m.Store.Services() {
		if !svc.IsDelegated() {
			pcb.MergeProbe(svc.ID())
		}
	}
	pcb.State = model.PCBProbe1
	m.scheduleProbe(pcb, now.Add(InitialProbeDelay(m.Rand, pcb.FailedProbes)))
}

// Goodbye immediately schedules a TTL=0 PTR for svc (spec.md scenario S5).
func (m *Machine) Goodbye(pcb *model.PCB, svc *model.Service, now time.Time) {
	instance := m.Store.InstanceName()
	msg := &wire.Message{Flags: wire.FlagResponse | wire.FlagAuthoritative}
	msg.Answers = append(msg.Answers, wire.Record{
		Name: svc.ServiceName(), Type: wire.TypePTR, Class: wire.ClassINET, TTL: 0,
		PTR: svc.InstanceName(instance),
	})
	m.Queue.Schedule(&txqueue.TxPacket{
		Kind: txqueue.KindGoodbye, PCBKey: pcb.Key, Msg: msg, SendAt: now,
		ServiceIDs: []uint64{svc.ID()},
	})
}

func (m *Machine) scheduleProbe(pcb *model.PCB, at time.Time) {
	m.Queue.Schedule(&txqueue.TxPacket{
		Kind: txqueue.KindProbe, PCBKey: pcb.Key, Msg: m.buildProbeMessage(pcb), SendAt: at,
		ServiceIDs: serviceIDList(pcb.ProbeServices),
	})
}

func (m *Machine) scheduleAnnounce(pcb *model.PCB, at time.Time) {
	m.Queue.Schedule(&txqueue.TxPacket{
		Kind: txqueue.KindAnnounce, PCBKey: pcb.Key, Msg: m.buildAnnounceMessage(pcb), SendAt: at,
		ServiceIDs: serviceIDList(pcb.ProbeServices),
	})
}

func (m *Machine) buildProbeMessage(pcb *model.PCB) *wire.Message {
	msg := &wire.Message{}
	hostname := m.Store.Hostname()
	if pcb.ProbeHostname {
		msg.Questions = append(msg.Questions, wire.Question{Name: hostname + ".local", Type: wire.TypeANY, Unicast: true})
		if rec, ok := hostAddrRecord(pcb, hostname, false); ok {
			msg.Authority = append(msg.Authority, rec)
		}
	}
	instance := m.Store.InstanceName()
	for _, id := range serviceIDList(pcb.ProbeServices) {
		svc, ok := m.Store.Service(id)
		if !ok {
			continue
		}
		msg.Questions = append(msg.Questions, wire.Question{Name: svc.InstanceName(instance), Type: wire.TypeANY, Unicast: true})
		msg.Authority = append(msg.Authority, txqueue.BuildSRV(svc, instance, hostname, false))
	}
	return msg
}

func (m *Machine) buildAnnounceMessage(pcb *model.PCB) *wire.Message {
	msg := &wire.Message{Flags: wire.FlagResponse | wire.FlagAuthoritative}
	hostname := m.Store.Hostname()
	if pcb.ProbeHostname {
		if rec, ok := hostAddrRecord(pcb, hostname, true); ok {
			msg.Answers = append(msg.Answers, rec)
		}
	}
	instance := m.Store.InstanceName()
	for _, id := range serviceIDList(pcb.ProbeServices) {
		svc, ok := m.Store.Service(id)
		if !ok {
			continue
		}
		msg.Answers = append(msg.Answers, txqueue.BuildPTR(svc, instance, txqueue.DefaultSharedTTL))
		msg.Answers = append(msg.Answers, txqueue.BuildSRV(svc, instance, hostname, true))
		msg.Answers = append(msg.Answers, txqueue.BuildTXT(svc, instance, true))
	}
	return msg
}

func hostAddrRecord(pcb *model.PCB, hostname string, cacheFlush bool) (wire.Record, bool) {
	ip := net.ParseIP(pcb.LocalAddr)
	if ip == nil {
		return wire.Record{}, false
	}
	if pcb.Key.Family == model.FamilyV4 {
		return txqueue.BuildA(hostname, ip, cacheFlush), true
	}
	return txqueue.BuildAAAA(hostname, ip, cacheFlush), true
}

func serviceIDList(set map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
