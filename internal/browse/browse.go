// Package browse implements the continuous subscription engine of
// spec.md §4.6: a long-lived PTR-type query with delta notifications
// instead of a final result-set callback.
package browse

import (
	"net"

	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/wire"
)

// Result mirrors query.Result's shape; browse keeps its own type so a
// removal delivery (TTL=0) is visibly distinct from a normal update.
type Result struct {
	Instance  string
	Hostname  string
	Interface string
	Family    model.Family
	Port      uint16
	Priority  uint16
	Weight    uint16
	TXT       []model.TxtItem
	AddrsV4   []net.IP
	AddrsV6   []net.IP
	TTL       uint32
	Removed   bool
}

func (r *Result) equalIgnoringTTL(o *Result) bool {
	if r.Hostname != o.Hostname || r.Port != o.Port || r.Priority != o.Priority || r.Weight != o.Weight {
		return false
	}
	if len(r.TXT) != len(o.TXT) || len(r.AddrsV4) != len(o.AddrsV4) || len(r.AddrsV6) != len(o.AddrsV6) {
		return false
	}
	for i := range r.TXT {
		if r.TXT[i].Key != o.TXT[i].Key || string(r.TXT[i].Value) != string(o.TXT[i].Value) || r.TXT[i].HasValue != o.TXT[i].HasValue {
			return false
		}
	}
	for i := range r.AddrsV4 {
		if !r.AddrsV4[i].Equal(o.AddrsV4[i]) {
			return false
		}
	}
	for i := range r.AddrsV6 {
		if !r.AddrsV6[i].Equal(o.AddrsV6[i]) {
			return false
		}
	}
	return true
}

func (r *Result) clone() *Result {
	c := *r
	c.TXT = append([]model.TxtItem(nil), r.TXT...)
	c.AddrsV4 = append([]net.IP(nil), r.AddrsV4...)
	c.AddrsV6 = append([]net.IP(nil), r.AddrsV6...)
	return &c
}

// Browse is one long-lived subscription. Records are absorbed into a
// per-instance pending delta as a packet's sections are walked; Engine.Flush,
// called once HandlePacket has walked every section, compares each touched
// instance against its last-delivered state and notifies only the ones that
// actually changed — matching spec.md §4.6/§4.7's single BROWSE_SYNC per
// packet instead of firing once per record with a partially-filled result.
type Browse struct {
	ID       uint64
	Service  string
	Proto    string
	Notifier func(*Result)

	results map[string]*Result
	pending map[string]*Result
}

// Engine owns the set of active browses.
type Engine struct {
	active map[uint64]*Browse
	nextID uint64
}

// NewEngine returns an empty browse engine.
func NewEngine() *Engine {
	return &Engine{active: make(map[uint64]*Browse)}
}

// Add registers a new browse.
func (e *Engine) Add(b *Browse) *Browse {
	e.nextID++
	b.ID = e.nextID
	b.results = make(map[string]*Result)
	b.pending = make(map[string]*Result)
	e.active[b.ID] = b
	return b
}

// Delete cancels a browse.
func (e *Engine) Delete(id uint64) {
	delete(e.active, id)
}

// Get looks up a browse by id.
func (e *Engine) Get(id uint64) (*Browse, bool) {
	b, ok := e.active[id]
	return b, ok
}

// FeedResult is one decoded record handed to the engine by the dispatcher.
type FeedResult struct {
	Name      wire.Name
	Type      uint16
	Interface string
	Family    model.Family
	TTL       uint32
	PTRTarget string
	SRV       wire.SRVData
	TXT       []wire.TxtField
	A, AAAA   net.IP
}

// Feed accumulates one record into every browse it matches, without
// notifying yet. Flush delivers the resulting deltas.
func (e *Engine) Feed(rec FeedResult) {
	for _, b := range e.active {
		b.absorb(rec)
	}
}

// Flush delivers every browse's accumulated deltas and clears them, meant to
// run once per inbound packet after every section has been fed.
func (e *Engine) Flush() {
	for _, b := range e.active {
		b.flush()
	}
}

// absorb folds one record into b's pending delta. PTR/SRV/TXT are matched by
// owner name against b.Service/b.Proto the way a PTR-type query would be;
// A/AAAA records carry no service/proto labels of their own (their owner is
// a bare "host.local"), so they're correlated instead by hostname against
// whatever instance in this browse already points at that host.
func (b *Browse) absorb(rec FeedResult) {
	switch rec.Type {
	case wire.TypeA, wire.TypeAAAA:
		b.absorbAddr(rec)
		return
	case wire.TypePTR, wire.TypeSRV, wire.TypeTXT:
		if rec.Name.Service != b.Service || rec.Name.Proto != b.Proto {
			return
		}
	default:
		return
	}

	var instance string
	if rec.Type == wire.TypePTR {
		instance = wire.ParseFQDN(rec.PTRTarget, false).Host
	} else {
		instance = rec.Name.Host
	}
	if instance == "" {
		return
	}

	if rec.Type == wire.TypePTR && rec.TTL == 0 {
		b.markRemoved(instance)
		return
	}

	cur := b.pendingFor(instance, rec)
	switch rec.Type {
	case wire.TypePTR:
		if cur.TTL == 0 || rec.TTL < cur.TTL {
			cur.TTL = rec.TTL
		}
	case wire.TypeSRV:
		cur.Hostname = rec.SRV.Target
		cur.Port = rec.SRV.Port
		cur.Priority = rec.SRV.Priority
		cur.Weight = rec.SRV.Weight
	case wire.TypeTXT:
		cur.TXT = decodeTxt(rec.TXT)
	}
}

func (b *Browse) absorbAddr(rec FeedResult) {
	host := rec.Name.FQDN()
	cur := b.findPendingByHostname(host)
	if cur == nil {
		return
	}
	if rec.Type == wire.TypeA {
		cur.AddrsV4 = appendIfNew(cur.AddrsV4, rec.A)
	} else {
		cur.AddrsV6 = appendIfNew(cur.AddrsV6, rec.AAAA)
	}
}

// pendingFor returns this packet's in-progress result for instance, seeding
// it from the last-delivered state (or a fresh result) on first touch.
func (b *Browse) pendingFor(instance string, rec FeedResult) *Result {
	if cur, ok := b.pending[instance]; ok {
		return cur
	}
	var cur *Result
	if prev, ok := b.results[instance]; ok {
		cur = prev.clone()
	} else {
		cur = &Result{Instance: instance, Interface: rec.Interface, Family: rec.Family, TTL: rec.TTL}
	}
	b.pending[instance] = cur
	return cur
}

func (b *Browse) markRemoved(instance string) {
	cur, ok := b.pending[instance]
	if !ok {
		prev, existed := b.results[instance]
		if !existed {
			return
		}
		cur = prev.clone()
		b.pending[instance] = cur
	}
	cur.Removed = true
	cur.TTL = 0
}

// findPendingByHostname looks for an instance already pointed at host,
// checking this packet's in-progress deltas first and falling back to
// already-delivered results (promoting a hit into pending so it gets
// flushed with the new address attached).
func (b *Browse) findPendingByHostname(host string) *Result {
	for _, cur := range b.pending {
		if cur.Hostname == host {
			return cur
		}
	}
	for instance, prev := range b.results {
		if prev.Hostname == host {
			cur := prev.clone()
			b.pending[instance] = cur
			return cur
		}
	}
	return nil
}

// flush compares every instance touched this packet against its
// last-delivered state, notifying once per instance that actually changed
// and clearing the pending set for the next packet.
func (b *Browse) flush() {
	for instance, cur := range b.pending {
		prev, existed := b.results[instance]
		if cur.Removed {
			if existed {
				delete(b.results, instance)
				if b.Notifier != nil {
					b.Notifier(cur.clone())
				}
			}
			continue
		}
		b.results[instance] = cur
		if existed && prev.equalIgnoringTTL(cur) {
			continue
		}
		if b.Notifier != nil {
			b.Notifier(cur.clone())
		}
	}
	b.pending = make(map[string]*Result)
}

func decodeTxt(fields []wire.TxtField) []model.TxtItem {
	out := make([]model.TxtItem, len(fields))
	for i, f := range fields {
		out[i] = model.TxtItem{Key: f.Key, Value: f.Value, HasValue: f.HasValue}
	}
	return out
}

func appendIfNew(list []net.IP, ip net.IP) []net.IP {
	if ip == nil {
		return list
	}
	for _, c := range list {
		if c.Equal(ip) {
			return list
		}
	}
	return append(list, ip)
}
