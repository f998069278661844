package mdns

import (
	"net"
	"time"

	"github.com/kdanielm/mdnsd/internal/action"
	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/transport"
	"go.uber.org/zap"
)

// RegisterNetif manually brings up a PCB for (iface, family) at addr,
// bypassing the automatic InterfaceWatcher. Useful on platforms where the
// caller already has its own interface-change notification and wants to
// drive the responder directly (spec.md §6's ENABLE event, invoked by hand).
func (s *Server) RegisterNetif(iface *net.Interface, family model.Family, addr net.IP) error {
	return s.actions.EnqueueWait(&action.Action{
		Kind:    action.KindSystemEvent,
		Payload: transport.InterfaceEvent{Kind: transport.EventEnable, Interface: iface, Family: family, Addr: addr},
	})
}

// UnregisterNetif tears down the PCB for (iface, family), promoting any
// subnet duplicate that was deferring to it (spec.md §4.3's DUP promotion).
func (s *Server) UnregisterNetif(iface *net.Interface, family model.Family) error {
	return s.actions.EnqueueWait(&action.Action{
		Kind:    action.KindSystemEvent,
		Payload: transport.InterfaceEvent{Kind: transport.EventDisable, Interface: iface, Family: family},
	})
}

// NetifAction reports an address change on an already-registered PCB,
// restarting probing for the new address (spec.md §6's ANNOUNCE event).
func (s *Server) NetifAction(iface *net.Interface, family model.Family, addr net.IP) error {
	return s.actions.EnqueueWait(&action.Action{
		Kind:    action.KindSystemEvent,
		Payload: transport.InterfaceEvent{Kind: transport.EventAnnounce, Interface: iface, Family: family, Addr: addr},
	})
}

func (s *Server) handleSystemEvent(a *action.Action) {
	ev, ok := a.Payload.(transport.InterfaceEvent)
	if !ok || ev.Interface == nil {
		return
	}
	now := s.clock.Now()
	key := model.PCBKey{Interface: ev.Interface.Name, Family: ev.Family}

	switch ev.Kind {
	case transport.EventEnable, transport.EventAnnounce:
		s.enablePCB(key, ev.Interface, ev.Addr, now)
	case transport.EventDisable:
		s.disablePCB(key, ev.Interface, now)
	case transport.EventReverseLookup:
		// Reverse queries are answered straight from pcb.LocalAddr and the
		// delegated-host table once respond_reverse_queries is set
		// (SPEC_FULL.md §9); no separate bookkeeping is needed here.
	}
}

func (s *Server) enablePCB(key model.PCBKey, iface *net.Interface, addr net.IP, now time.Time) {
	if addr == nil {
		return
	}
	if err := s.socket.Open(iface, key.Family); err != nil {
		s.logger.Warn("enablePCB: join multicast group failed",
			zap.String("interface", key.Interface), zap.Error(err))
		return
	}
	if of, isDup := s.findSubnetDuplicate(key, iface, addr); isDup {
		pcb := s.store.PCB(key)
		pcb.LocalAddr = addr.String()
		s.machine.MarkDuplicate(pcb, of)
		return
	}
	s.machine.EnablePCB(key, addr.String(), now)
}

func (s *Server) disablePCB(key model.PCBKey, iface *net.Interface, now time.Time) {
	for _, other := range s.store.PCBs() {
		if other.DuplicateOf != nil && *other.DuplicateOf == key {
			s.machine.PromoteDuplicate(other, now)
		}
	}
	s.store.RemovePCB(key)
	if iface == nil {
		return
	}
	if err := s.socket.Close(iface, key.Family); err != nil {
		s.logger.Debug("disablePCB: leave multicast group failed",
			zap.String("interface", key.Interface), zap.Error(err))
	}
}

// findSubnetDuplicate implements spec.md §9's "static table ... reassess on
// interface up/down events only": a newly-enabled PCB defers to an existing
// one already RUNNING/probing on the same address-family subnet.
func (s *Server) findSubnetDuplicate(key model.PCBKey, iface *net.Interface, addr net.IP) (model.PCBKey, bool) {
	for _, other := range s.store.PCBs() {
		if other.Key.Family != key.Family || other.Key == key {
			continue
		}
		if other.State == model.PCBOff || other.DuplicateOf != nil {
			continue
		}
		otherIface, err := net.InterfaceByName(other.Key.Interface)
		if err != nil {
			continue
		}
		otherAddr := net.ParseIP(other.LocalAddr)
		if otherAddr == nil {
			continue
		}
		if sameSubnet(iface, addr, otherIface, otherAddr) {
			return other.Key, true
		}
	}
	return model.PCBKey{}, false
}

func sameSubnet(ifaceA *net.Interface, addrA net.IP, ifaceB *net.Interface, addrB net.IP) bool {
	netA := networkFor(ifaceA, addrA)
	netB := networkFor(ifaceB, addrB)
	if netA == nil || netB == nil {
		return false
	}
	return netA.Contains(addrB) || netB.Contains(addrA)
}

func networkFor(iface *net.Interface, addr net.IP) *net.IPNet {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if ok && ipnet.IP.Equal(addr) {
			return ipnet
		}
	}
	return nil
}
