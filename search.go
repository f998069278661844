package mdns

import (
	"time"

	"github.com/kdanielm/mdnsd/internal/action"
	"github.com/kdanielm/mdnsd/internal/mdnserr"
	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/query"
	"github.com/kdanielm/mdnsd/internal/txqueue"
	"github.com/kdanielm/mdnsd/internal/wire"
)

// QueryResult is one aggregated answer from a search (spec.md §4.5).
type QueryResult = query.Result

// Wire record types a QueryParams.Type can request, plus the synthetic
// SDPTR sentinel for RFC 6763 §9 service-type enumeration.
const (
	QueryTypePTR   = wire.TypePTR
	QueryTypeSRV   = wire.TypeSRV
	QueryTypeTXT   = wire.TypeTXT
	QueryTypeA     = wire.TypeA
	QueryTypeAAAA  = wire.TypeAAAA
	QueryTypeANY   = wire.TypeANY
	QueryTypeSDPTR = wire.TypeSDPTR
)

// QueryParams selects what a one-shot search matches (spec.md §4.5).
type QueryParams struct {
	Instance   string // optional: restrict to one fully qualified instance
	Hostname   string // optional: bare hostname for an A/AAAA-only lookup
	Service    string
	Proto      string
	Type       uint16
	Unicast    bool
	Timeout    time.Duration
	MaxResults int
}

func (p QueryParams) toQuery() *query.Query {
	return &query.Query{
		Instance: p.Instance, Hostname: p.Hostname, Service: p.Service, Proto: p.Proto,
		Type: p.Type, Unicast: p.Unicast, Timeout: p.Timeout, MaxResults: p.MaxResults,
	}
}

// Query runs a search to completion and returns its aggregated results,
// blocking until it ends by timeout or MaxResults (spec.md §4.5's ADD then
// wait-for-END lifecycle, realized as a channel instead of a semaphore).
func (s *Server) Query(p QueryParams) ([]*QueryResult, error) {
	q := p.toQuery()
	done := make(chan []*QueryResult, 1)
	q.Notifier = func(r []*query.Result) { done <- r }

	if _, err := s.addQuery(q); err != nil {
		return nil, err
	}
	select {
	case r := <-done:
		return r, nil
	case <-s.ctx.Done():
		return nil, mdnserr.New(mdnserr.InvalidState, "mdns.Query")
	}
}

// QueryAsyncNew starts a search without blocking; notifier, if non-nil, is
// invoked once with the final result set when the search ends.
func (s *Server) QueryAsyncNew(p QueryParams, notifier func([]*QueryResult)) (uint64, error) {
	q := p.toQuery()
	if notifier != nil {
		q.Notifier = notifier
	}
	return s.addQuery(q)
}

func (s *Server) addQuery(q *query.Query) (uint64, error) {
	a := &action.Action{Kind: action.KindSearchAdd, Payload: q}
	if err := s.actions.EnqueueWait(a); err != nil {
		return 0, err
	}
	return q.ID, nil
}

func (s *Server) handleSearchAdd(a *action.Action) {
	q, ok := a.Payload.(*query.Query)
	if !ok {
		a.Err = mdnserr.New(mdnserr.InvalidArg, "mdns.QueryAsyncNew")
		return
	}
	s.queries.Add(q, s.clock.Now())
}

type searchResultsPayload struct {
	id    uint64
	out   []*QueryResult
	found bool
}

// QueryAsyncGetResults returns a snapshot of a still-running search's
// current results.
func (s *Server) QueryAsyncGetResults(id uint64) ([]*QueryResult, error) {
	p := &searchResultsPayload{id: id}
	if err := s.actions.EnqueueWait(&action.Action{Kind: action.KindSearchResults, Payload: p}); err != nil {
		return nil, err
	}
	if !p.found {
		return nil, mdnserr.New(mdnserr.NotFound, "mdns.QueryAsyncGetResults")
	}
	return p.out, nil
}

func (s *Server) handleSearchResults(a *action.Action) {
	p, ok := a.Payload.(*searchResultsPayload)
	if !ok {
		return
	}
	if q, exists := s.queries.Get(p.id); exists {
		p.out = q.Results()
		p.found = true
	}
}

// QueryAsyncDelete cancels a running search (spec.md §5's "cancellation is
// a FIFO SEARCH_END; it takes effect when processed").
func (s *Server) QueryAsyncDelete(id uint64) error {
	return s.actions.EnqueueWait(&action.Action{Kind: action.KindSearchEnd, Payload: id})
}

func (s *Server) handleSearchEnd(a *action.Action) {
	id, _ := a.Payload.(uint64)
	s.queries.End(id)
}

// sendQuery builds and schedules one search's outbound question on every
// interface currently up, called from onTick's query.Engine.Tick callback.
func (s *Server) sendQuery(q *query.Query, now time.Time) {
	msg := buildQueryMessage(q)
	if len(msg.Questions) == 0 {
		return
	}
	for _, pcb := range s.store.PCBs() {
		if pcb.State == model.PCBOff || pcb.State == model.PCBDup {
			continue
		}
		s.queue.Schedule(&txqueue.TxPacket{Kind: txqueue.KindQuery, PCBKey: pcb.Key, Msg: msg, SendAt: now})
	}
}

func buildQueryMessage(q *query.Query) *wire.Message {
	msg := &wire.Message{}
	switch {
	case q.Type == wire.TypeSDPTR:
		msg.Questions = append(msg.Questions, wire.Question{Name: wire.SDPTRName, Type: wire.TypePTR, Unicast: q.Unicast})
	case q.Instance != "":
		qtype := q.Type
		if qtype == 0 {
			qtype = wire.TypeANY
		}
		msg.Questions = append(msg.Questions, wire.Question{Name: q.Instance, Type: qtype, Unicast: q.Unicast})
	case q.Hostname != "":
		qtype := q.Type
		if qtype != wire.TypeA && qtype != wire.TypeAAAA {
			qtype = wire.TypeANY
		}
		msg.Questions = append(msg.Questions, wire.Question{Name: q.Hostname + ".local", Type: qtype, Unicast: q.Unicast})
	case q.Service != "":
		qtype := q.Type
		if qtype == 0 {
			qtype = wire.TypePTR
		}
		msg.Questions = append(msg.Questions, wire.Question{Name: q.Service + "." + q.Proto + ".local", Type: qtype, Unicast: q.Unicast})
	}
	return msg
}
