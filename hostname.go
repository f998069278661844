package mdns

import (
	"github.com/kdanielm/mdnsd/internal/action"
	"github.com/kdanielm/mdnsd/internal/mdnserr"
	"github.com/kdanielm/mdnsd/internal/model"
)

// HostnameGet returns the responder's currently owned hostname. It is a
// plain mutex-guarded read (model.Store is safe for concurrent reads
// against the executor's writes) and does not go through the action queue.
func (s *Server) HostnameGet() string {
	return s.store.Hostname()
}

// HostnameSet renames the responder's owned hostname and restarts probing
// for it on every known interface (spec.md §4.3's rename path).
func (s *Server) HostnameSet(name string) error {
	return s.actions.EnqueueWait(&action.Action{Kind: action.KindHostnameSet, Payload: name})
}

func (s *Server) handleHostnameSet(a *action.Action) {
	name, _ := a.Payload.(string)
	if err := s.store.SetHostname(name); err != nil {
		a.Err = err
		return
	}
	s.reprobeAll()
}

// InstanceNameSet replaces the default DNS-SD instance name used by
// services that don't carry their own, restarting probing for affected
// interfaces.
func (s *Server) InstanceNameSet(name string) error {
	return s.actions.EnqueueWait(&action.Action{Kind: action.KindInstanceSet, Payload: name})
}

func (s *Server) handleInstanceSet(a *action.Action) {
	name, _ := a.Payload.(string)
	if err := s.store.SetInstanceName(name); err != nil {
		a.Err = err
		return
	}
	s.reprobeAll()
}

// reprobeAll restarts PROBE_1 on every enabled PCB after a hostname or
// instance-name rename, re-claiming every non-delegated service the way
// EnablePCB does for a freshly-enabled interface.
func (s *Server) reprobeAll() {
	now := s.clock.Now()
	for _, pcb := range s.store.PCBs() {
		if pcb.State == model.PCBOff || pcb.State == model.PCBDup {
			continue
		}
		s.machine.EnablePCB(pcb.Key, pcb.LocalAddr, now)
	}
}

type delegateSetAddrPayload struct {
	hostname string
	addrsV4  []string
	addrsV6  []string
}

// DelegateHostnameAdd registers a hostname the responder answers A/AAAA and
// reverse-lookup queries for on behalf of a non-local entity.
func (s *Server) DelegateHostnameAdd(hostname string, addrsV4, addrsV6 []string) error {
	return s.actions.EnqueueWait(&action.Action{
		Kind:    action.KindDelegateHostnameAdd,
		Payload: &model.DelegatedHost{Hostname: hostname, AddrsV4: addrsV4, AddrsV6: addrsV6},
	})
}

func (s *Server) handleDelegateAdd(a *action.Action) {
	h, ok := a.Payload.(*model.DelegatedHost)
	if !ok {
		a.Err = mdnserr.New(mdnserr.InvalidArg, "mdns.DelegateHostnameAdd")
		return
	}
	a.Err = s.store.AddDelegatedHost(h)
}

// DelegateHostnameRemove removes a delegated hostname. It fails with
// ErrConflict if a service still resolves to it.
func (s *Server) DelegateHostnameRemove(hostname string) error {
	return s.actions.EnqueueWait(&action.Action{Kind: action.KindDelegateHostnameRemove, Payload: hostname})
}

func (s *Server) handleDelegateRemove(a *action.Action) {
	hostname, _ := a.Payload.(string)
	a.Err = s.store.RemoveDelegatedHost(hostname)
}

// DelegateHostnameSetAddr replaces a delegated host's address lists.
func (s *Server) DelegateHostnameSetAddr(hostname string, addrsV4, addrsV6 []string) error {
	return s.actions.EnqueueWait(&action.Action{
		Kind:    action.KindDelegateHostnameSetAddr,
		Payload: delegateSetAddrPayload{hostname: hostname, addrsV4: addrsV4, addrsV6: addrsV6},
	})
}

func (s *Server) handleDelegateSetAddr(a *action.Action) {
	p, ok := a.Payload.(delegateSetAddrPayload)
	if !ok {
		a.Err = mdnserr.New(mdnserr.InvalidArg, "mdns.DelegateHostnameSetAddr")
		return
	}
	a.Err = s.store.SetDelegatedHostAddrs(p.hostname, p.addrsV4, p.addrsV6)
}
