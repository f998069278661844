// Package query implements the one-shot search engine of spec.md §4.5: a
// bounded, timed aggregation of PTR/SRV/TXT/A/AAAA/SDPTR records into
// results, driven by the action executor's timer tick.
package query

import (
	"net"
	"time"

	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/wire"
)

// State is a query's lifecycle state (spec.md §4.5).
type State int

const (
	StateInit State = iota
	StateRunning
	StateOff
)

// resendInterval matches the source's "SEND if >1000ms since last send".
const resendInterval = time.Second

// Result is one aggregated answer, built up across several records the way
// spec.md §4.5 describes (PTR creates it, SRV/TXT/A/AAAA fill it in).
type Result struct {
	Instance    string
	ServiceType string // populated for SDPTR aggregation
	Hostname    string
	Interface   string
	Family      model.Family
	Port        uint16
	Priority    uint16
	Weight      uint16
	TXT         []model.TxtItem
	AddrsV4     []net.IP
	AddrsV6     []net.IP
	TTL         uint32
}

func (r *Result) key() string {
	if r.Instance != "" {
		return "inst\x00" + r.Instance
	}
	if r.ServiceType != "" {
		return "type\x00" + r.ServiceType
	}
	return "host\x00" + r.Interface + "\x00" + r.Family.String() + "\x00" + r.Hostname
}

func (r *Result) clone() *Result {
	c := *r
	c.TXT = append([]model.TxtItem(nil), r.TXT...)
	c.AddrsV4 = append([]net.IP(nil), r.AddrsV4...)
	c.AddrsV6 = append([]net.IP(nil), r.AddrsV6...)
	return &c
}

// Query is one active search (spec.md §4.5's lifecycle and filter fields).
type Query struct {
	ID         uint64
	Instance   string // optional: restrict to one instance
	Hostname   string // optional: bare hostname for an A/AAAA-only query
	Service    string
	Proto      string
	Type       uint16 // wire.TypePTR/SRV/TXT/A/AAAA/ANY/SDPTR
	Unicast    bool
	Timeout    time.Duration
	MaxResults int
	Notifier   func([]*Result)

	State     State
	StartedAt time.Time
	SentAt    time.Time

	results []*Result
	index   map[string]int
	done    chan struct{}
}

// Engine owns the set of active queries (spec.md §4.5's "active list").
type Engine struct {
	active map[uint64]*Query
	nextID uint64
}

// NewEngine returns an empty query engine.
func NewEngine() *Engine {
	return &Engine{active: make(map[uint64]*Query)}
}

// Add starts a new query in INIT state (spec.md §4.5's ADD).
func (e *Engine) Add(q *Query, now time.Time) *Query {
	e.nextID++
	q.ID = e.nextID
	q.State = StateInit
	q.StartedAt = now
	q.index = make(map[string]int)
	q.done = make(chan struct{})
	e.active[q.ID] = q
	return q
}

// Active returns a snapshot of every in-flight query.
func (e *Engine) Active() []*Query {
	out := make([]*Query, 0, len(e.active))
	for _, q := range e.active {
		out = append(out, q)
	}
	return out
}

// Get looks up a query by id.
func (e *Engine) Get(id uint64) (*Query, bool) {
	q, ok := e.active[id]
	return q, ok
}

// Tick advances every active query's send/timeout clock (spec.md §4.5's
// "Timer tick" rule). send is invoked once per query that should transmit
// this tick; it is the caller's job to actually build and schedule the
// packet (internal/dispatch owns that, since it needs the PCB set).
func (e *Engine) Tick(now time.Time, send func(q *Query)) {
	for id, q := range e.active {
		if q.Timeout > 0 && now.Sub(q.StartedAt) >= q.Timeout {
			e.End(id)
			continue
		}
		if q.State == StateInit || (q.State == StateRunning && now.Sub(q.SentAt) >= resendInterval) {
			q.State = StateRunning
			q.SentAt = now
			if send != nil {
				send(q)
			}
		}
	}
}

// End stops a query, delivering its final result set to the notifier and
// releasing any waiter blocked on Done.
func (e *Engine) End(id uint64) {
	q, ok := e.active[id]
	if !ok {
		return
	}
	q.State = StateOff
	delete(e.active, id)
	if q.Notifier != nil {
		q.Notifier(append([]*Result(nil), q.results...))
	}
	close(q.done)
}

// Done returns a channel closed when q reaches END, matching spec.md §5's
// "done semaphore".
func (q *Query) Done() <-chan struct{} { return q.done }

// Results returns a snapshot of the query's current result set.
func (q *Query) Results() []*Result {
	return append([]*Result(nil), q.results...)
}

// matches implements spec.md §4.5's matching table: an incoming record
// matches a query if its type is compatible with the query's requested
// type and its service/protocol/instance labels equal the query's filter.
// The instance label is compared in Feed, where a PTR record's target is at
// hand.
func (q *Query) matches(name wire.Name, rtype uint16) bool {
	if q.Type == wire.TypeSDPTR {
		return rtype == wire.TypePTR
	}
	if q.Hostname != "" {
		return (rtype == wire.TypeA || rtype == wire.TypeAAAA) && name.Host == q.Hostname && name.Service == ""
	}
	// A/AAAA records for a resolved instance's target host carry no
	// service/proto labels of their own (their owner is "host.local", not
	// "host.service.proto.local") — they're correlated to a query by
	// hostname in absorb, not by the owner-name filter below.
	if rtype == wire.TypeA || rtype == wire.TypeAAAA {
		return q.Type == wire.TypePTR || q.Type == wire.TypeANY || q.Type == wire.TypeA || q.Type == wire.TypeAAAA
	}
	if q.Service != "" && (name.Service != q.Service || name.Proto != q.Proto) {
		return false
	}
	switch rtype {
	case wire.TypePTR:
		return q.Type == wire.TypePTR || q.Type == wire.TypeANY
	case wire.TypeSRV:
		return q.Type == wire.TypeSRV || q.Type == wire.TypePTR || q.Type == wire.TypeANY
	case wire.TypeTXT:
		return q.Type == wire.TypeTXT || q.Type == wire.TypePTR || q.Type == wire.TypeANY
	default:
		return false
	}
}

// FeedResult is one decoded record handed to the engine by the dispatcher,
// already classified.
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

// Feed routes one record into every active query it matches, per spec.md
// §4.5's aggregation rules, ending any query that reaches MaxResults.
func (e *Engine) Feed(rec FeedResult) {
	for id, q := range e.active {
		if q.State == StateOff || !q.matches(rec.Name, rec.Type) {
			continue
		}
		if q.Instance != "" && q.Type != wire.TypeSDPTR && rec.Type != wire.TypeA && rec.Type != wire.TypeAAAA {
			inst := rec.Name.Host
			if rec.Type == wire.TypePTR {
				inst = wire.ParseFQDN(rec.PTRTarget, false).Host
			}
			if inst != wire.ParseFQDN(q.Instance, false).Host {
				continue
			}
		}
		q.absorb(rec)
		if q.MaxResults > 0 && len(q.results) >= q.MaxResults {
			e.End(id)
		}
	}
}

func (q *Query) absorb(rec FeedResult) {
	switch {
	case q.Type == wire.TypeSDPTR:
		r := q.getOrCreate(&Result{ServiceType: rec.PTRTarget, TTL: rec.TTL})
		r.TTL = minTTL(r.TTL, rec.TTL)
	case rec.Type == wire.TypePTR:
		inst := wire.ParseFQDN(rec.PTRTarget, false).Host
		r := q.getOrCreate(&Result{Instance: inst, Interface: rec.Interface, Family: rec.Family, TTL: rec.TTL})
		r.TTL = minTTL(r.TTL, rec.TTL)
	case rec.Type == wire.TypeSRV:
		r := q.getOrCreate(&Result{Instance: rec.Name.Host, Interface: rec.Interface, Family: rec.Family, TTL: rec.TTL})
		r.Hostname = rec.SRV.Target
		r.Port = rec.SRV.Port
		r.Priority = rec.SRV.Priority
		r.Weight = rec.SRV.Weight
		r.TTL = minTTL(r.TTL, rec.TTL)
	case rec.Type == wire.TypeTXT:
		r := q.getOrCreate(&Result{Instance: rec.Name.Host, Interface: rec.Interface, Family: rec.Family, TTL: rec.TTL})
		r.TXT = decodeTxt(rec.TXT)
		r.TTL = minTTL(r.TTL, rec.TTL)
	case rec.Type == wire.TypeA || rec.Type == wire.TypeAAAA:
		var r *Result
		if q.Hostname != "" {
			r = q.getOrCreate(&Result{Hostname: q.Hostname, Interface: rec.Interface, Family: rec.Family, TTL: rec.TTL})
		} else {
			// Fill in an existing SRV-created result whose hostname matches,
			// falling back to a host-keyed result for bare A/AAAA aggregation.
			host := rec.Name.FQDN()
			r = q.findByHostname(host)
			if r == nil {
				r = q.getOrCreate(&Result{Hostname: host, Interface: rec.Interface, Family: rec.Family, TTL: rec.TTL})
			}
		}
		if rec.Type == wire.TypeA {
			r.AddrsV4 = appendIfNew(r.AddrsV4, rec.A)
		} else {
			r.AddrsV6 = appendIfNew(r.AddrsV6, rec.AAAA)
		}
		r.TTL = minTTL(r.TTL, rec.TTL)
	}
}

func (q *Query) getOrCreate(want *Result) *Result {
	key := want.key()
	if i, ok := q.index[key]; ok {
		return q.results[i]
	}
	q.index[key] = len(q.results)
	q.results = append(q.results, want)
	return want
}

func (q *Query) findByHostname(host string) *Result {
	for _, r := range q.results {
		if r.Hostname == host {
			return r
		}
	}
	return nil
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

func minTTL(a, b uint32) uint32 {
	if b < a {
		return b
	}
	return a
}
