package mdns

import (
	"github.com/kdanielm/mdnsd/internal/action"
	"github.com/kdanielm/mdnsd/internal/browse"
	"github.com/kdanielm/mdnsd/internal/mdnserr"
)

// BrowseResult is one delta notification from a continuous subscription
// (spec.md §4.6). Removed is set when the underlying PTR expired (TTL=0).
type BrowseResult = browse.Result

// BrowseParams selects the service type a continuous subscription watches.
type BrowseParams struct {
	Service string
	Proto   string
}

// BrowseNew starts a long-lived subscription on a service type; notifier
// fires once per materially-changed instance for as long as the
// subscription is active.
func (s *Server) BrowseNew(p BrowseParams, notifier func(*BrowseResult)) (uint64, error) {
	b := &browse.Browse{Service: p.Service, Proto: p.Proto, Notifier: notifier}
	if err := s.actions.EnqueueWait(&action.Action{Kind: action.KindBrowseAdd, Payload: b}); err != nil {
		return 0, err
	}
	return b.ID, nil
}

func (s *Server) handleBrowseAdd(a *action.Action) {
	b, ok := a.Payload.(*browse.Browse)
	if !ok {
		a.Err = mdnserr.New(mdnserr.InvalidArg, "mdns.BrowseNew")
		return
	}
	s.browses.Add(b)
}

// BrowseDelete cancels a continuous subscription.
func (s *Server) BrowseDelete(id uint64) error {
	return s.actions.EnqueueWait(&action.Action{Kind: action.KindBrowseEnd, Payload: id})
}

func (s *Server) handleBrowseEnd(a *action.Action) {
	id, _ := a.Payload.(uint64)
	s.browses.Delete(id)
}
