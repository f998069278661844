// Package dispatch implements spec.md §4.4: parsing inbound datagrams,
// matching them against owned data and active queries/browses, running
// probe-time collision detection, and composing/suppressing responses.
package dispatch

import (
	"net"
	"time"

	"github.com/kdanielm/mdnsd/internal/browse"
	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/query"
	"github.com/kdanielm/mdnsd/internal/statemachine"
	"github.com/kdanielm/mdnsd/internal/txqueue"
	"github.com/kdanielm/mdnsd/internal/wire"
)

// Config holds the dispatcher's runtime options, mapped 1:1 to spec.md §6's
// configuration options that affect packet handling.
type Config struct {
	SuppressOwnQueries    bool
	RespondReverseQueries bool
	SkipSelfSuppress      bool
	DefaultInstance       func() string
}

// Dispatcher ties together the data model, the transmit queue, the
// probe/announce state machine, and the query/browse aggregators — the
// "parser & dispatcher" component of spec.md §4.4, generalized from the
// teacher's single-service handleQuery/handleQuestion into the full
// owned-name/query/browse matching table.
type Dispatcher struct {
	Store   *model.Store
	Queue   *txqueue.Queue
	Machine *statemachine.Machine
	Queries *query.Engine
	Browses *browse.Engine
	Config  Config
}

// NewDispatcher wires a Dispatcher to its collaborators.
func NewDispatcher(store *model.Store, q *txqueue.Queue, m *statemachine.Machine, qe *query.Engine, be *browse.Engine, cfg Config) *Dispatcher {
	return &Dispatcher{Store: store, Queue: q, Machine: m, Queries: qe, Browses: be, Config: cfg}
}

func (d *Dispatcher) defaultInstance() string {
	if d.Config.DefaultInstance != nil {
		return d.Config.DefaultInstance()
	}
	return d.Store.InstanceName()
}

// HandlePacket implements spec.md §4.4 steps 1-6 for one inbound datagram
// received on pcb's (interface, family). srcIP/srcPort identify the sender,
// and are also where the reply goes when a question set the
// unicast-response bit.
func (d *Dispatcher) HandlePacket(data []byte, pcb *model.PCB, srcIP net.IP, srcPort int, now time.Time) {
	if len(data) <= wire.HeaderLen {
		return
	}
	if d.Config.SuppressOwnQueries && !d.Config.SkipSelfSuppress && srcIP.String() == pcb.LocalAddr {
		return
	}

	msg, err := wire.Decode(data)
	if err != nil {
		return // parser errors are swallowed per spec.md §7
	}
	if msg.IsAuthoritative() && srcPort != 5353 {
		return
	}

	ifaceV4, ifaceV6 := localAddrsFor(pcb)
	ctx := txqueue.AnswerContext{
		Store: d.Store, SelfHostname: d.Store.Hostname(), DefaultInstance: d.defaultInstance(),
		IfaceAddrsV4: ifaceV4, IfaceAddrsV6: ifaceV6, RespondReverse: d.Config.RespondReverseQueries,
	}

	var answers, additional []wire.Record
	unicastWanted := false
	for _, q := range msg.Questions {
		name := wire.ParseFQDN(q.Name, d.Config.RespondReverseQueries)
		if name.Invalid {
			continue
		}
		if q.Unicast {
			unicastWanted = true
		}
		if !msg.IsResponse() && pcb.State == model.PCBRunning {
			a, add := txqueue.ComposeAnswer(q, name, ctx)
			answers = append(answers, a...)
			additional = append(additional, add...)
		}
		if q.Type == wire.TypeANY && name.Host != "" && name.Service == "" && name.Host == ctx.SelfHostname {
			d.handleIncomingProbe(pcb, msg, now)
		}
	}

	d.dispatchRecords(pcb, msg.Answers, true, now)
	d.dispatchRecords(pcb, msg.Authority, false, now)
	d.dispatchRecords(pcb, msg.Additional, false, now)
	d.Browses.Flush()

	if len(answers) == 0 {
		return
	}
	answers = suppressKnownAnswers(answers, msg.Answers)
	if len(answers) == 0 {
		return
	}

	out := &wire.Message{Flags: wire.FlagResponse | wire.FlagAuthoritative, Answers: answers, Additional: additional}
	pkt := &txqueue.TxPacket{Kind: txqueue.KindResponse, PCBKey: pcb.Key, Msg: out}
	if unicastWanted {
		pkt.Unicast = true
		pkt.Dest = srcIP
		pkt.DestPort = srcPort
		pkt.SendAt = now
	} else {
		pkt.SendAt = now.Add(d.Machine.Shared.Next())
	}
	d.Queue.Schedule(pkt)
}

// dispatchRecords implements step 4 of spec.md §4.4 for one record section:
// collision detection against in-flight probes, and aggregation feed for
// active queries/browses.
func (d *Dispatcher) dispatchRecords(pcb *model.PCB, records []wire.Record, isAnswer bool, now time.Time) {
	for _, rec := range records {
		name := wire.ParseFQDN(rec.Name, d.Config.RespondReverseQueries)
		if name.Invalid {
			continue
		}
		d.collide(pcb, name, rec, now)

		fr := query.FeedResult{
			Name: name, Type: rec.Type, Interface: pcb.Key.Interface, Family: pcb.Key.Family,
			TTL: rec.TTL, PTRTarget: rec.PTR, SRV: rec.SRV, TXT: rec.TXT, A: rec.A, AAAA: rec.AAAA,
		}
		d.Queries.Feed(fr)
		d.Browses.Feed(browse.FeedResult{
			Name: name, Type: rec.Type, Interface: pcb.Key.Interface, Family: pcb.Key.Family,
			TTL: rec.TTL, PTRTarget: rec.PTR, SRV: rec.SRV, TXT: rec.TXT, A: rec.A, AAAA: rec.AAAA,
		})

		if isAnswer && rec.Type == wire.TypePTR && rec.TTL > txqueue.DefaultSharedTTL/2 {
			d.suppressScheduled(pcb, rec)
		}
	}
}

// collide runs spec.md §4.3's probe-time collision detection when pcb is
// currently probing a name this record conflicts with.
func (d *Dispatcher) collide(pcb *model.PCB, name wire.Name, rec wire.Record, now time.Time) {
	if !pcb.State.IsProbing() {
		return
	}
	hostname := d.Store.Hostname()
	switch rec.Type {
	case wire.TypeA, wire.TypeAAAA:
		if !pcb.ProbeHostname || name.Host != hostname || name.Service != "" {
			return
		}
		ours, ok := hostOwnRecord(pcb, rec.Type)
		if !ok {
			return
		}
		d.Machine.Collide(pcb, statemachine.CollisionHost, nil, ours, rec, now)
	case wire.TypeSRV:
		svc := d.probeServiceFor(pcb, name, d.Store.InstanceName())
		if svc == nil {
			return
		}
		ours := txqueue.BuildSRV(svc, d.Store.InstanceName(), hostname, false)
		d.Machine.Collide(pcb, statemachine.CollisionService, svc, ours, rec, now)
	case wire.TypeTXT:
		svc := d.probeServiceFor(pcb, name, d.Store.InstanceName())
		if svc == nil {
			return
		}
		ours := txqueue.BuildTXT(svc, d.Store.InstanceName(), false)
		d.Machine.Collide(pcb, statemachine.CollisionTXT, svc, ours, rec, now)
	}
}

func (d *Dispatcher) probeServiceFor(pcb *model.PCB, name wire.Name, defaultInstance string) *model.Service {
	for id := range pcb.ProbeServices {
		svc, ok := d.Store.Service(id)
		if ok && svc.InstanceName(defaultInstance) == name.FQDN() {
			return svc
		}
	}
	return nil
}

// handleIncomingProbe implements the supplemented RFC 6762 §8.2 simultaneous
// probe tie-break (SPEC_FULL.md §9 "added"): a peer probing for the same
// name we are also probing is compared the same way an answer would be,
// using the authority-section records the peer proposes.
func (d *Dispatcher) handleIncomingProbe(pcb *model.PCB, msg *wire.Message, now time.Time) {
	if msg.IsResponse() || !pcb.ProbeHostname {
		return
	}
	for _, rec := range msg.Authority {
		name := wire.ParseFQDN(rec.Name, false)
		if name.Invalid || name.Host != d.Store.Hostname() || name.Service != "" {
			continue
		}
		if ours, ok := hostOwnRecord(pcb, rec.Type); ok {
			d.Machine.Collide(pcb, statemachine.CollisionHost, nil, ours, rec, now)
		}
	}
}

// suppressScheduled removes a not-yet-sent scheduled PTR response that a
// peer's own answer has already satisfied, per spec.md §4.4's "walk the
// scheduled tx queue and remove outbound answers already satisfied".
func (d *Dispatcher) suppressScheduled(pcb *model.PCB, satisfied wire.Record) {
	for _, pkt := range d.Queue.PendingForPCB(pcb.Key, txqueue.KindResponse) {
		kept := pkt.Msg.Answers[:0]
		for _, a := range pkt.Msg.Answers {
			if a.Type == wire.TypePTR && a.Name == satisfied.Name && a.PTR == satisfied.PTR {
				continue
			}
			kept = append(kept, a)
		}
		pkt.Msg.Answers = kept
		if len(pkt.Msg.Answers) == 0 && len(pkt.Msg.Additional) == 0 {
			d.Queue.Remove(pkt)
		}
	}
}

// suppressKnownAnswers drops any planned answer already satisfied by a
// record present in the querier's own answer section with TTL greater than
// half its default (RFC 6762 §7.1 known-answer suppression; a TTL of exactly
// half does not suppress, unlike the teacher's ttl >= answer.Ttl/2 rule in
// isKnownAnswer).
func suppressKnownAnswers(planned, known []wire.Record) []wire.Record {
	out := planned[:0]
	for _, p := range planned {
		suppressed := false
		for _, k := range known {
			if k.Type == p.Type && k.Name == p.Name && sameRData(k, p) && k.TTL > defaultTTLFor(p.Type)/2 {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out = append(out, p)
		}
	}
	return out
}

func sameRData(a, b wire.Record) bool {
	switch a.Type {
	case wire.TypePTR:
		return a.PTR == b.PTR
	case wire.TypeSRV:
		return a.SRV == b.SRV
	case wire.TypeA:
		return a.A.Equal(b.A)
	case wire.TypeAAAA:
		return a.AAAA.Equal(b.AAAA)
	default:
		return true
	}
}

func defaultTTLFor(t uint16) uint32 {
	switch t {
	case wire.TypeA, wire.TypeAAAA, wire.TypeSRV:
		return txqueue.DefaultHostTTL
	default:
		return txqueue.DefaultSharedTTL
	}
}

func hostOwnRecord(pcb *model.PCB, rtype uint16) (wire.Record, bool) {
	ip := net.ParseIP(pcb.LocalAddr)
	if ip == nil {
		return wire.Record{}, false
	}
	if rtype == wire.TypeA && pcb.Key.Family == model.FamilyV4 {
		return wire.Record{Type: wire.TypeA, A: ip.To4()}, true
	}
	if rtype == wire.TypeAAAA && pcb.Key.Family == model.FamilyV6 {
		return wire.Record{Type: wire.TypeAAAA, AAAA: ip.To16()}, true
	}
	return wire.Record{}, false
}

func localAddrsFor(pcb *model.PCB) (v4, v6 []net.IP) {
	ip := net.ParseIP(pcb.LocalAddr)
	if ip == nil {
		return nil, nil
	}
	if pcb.Key.Family == model.FamilyV4 {
		return []net.IP{ip}, nil
	}
	return nil, []net.IP{ip}
}
