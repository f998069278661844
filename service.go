package mdns

import (
	"github.com/kdanielm/mdnsd/internal/action"
	"github.com/kdanielm/mdnsd/internal/mdnserr"
	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/txqueue"
	"github.com/kdanielm/mdnsd/internal/wire"
)

// TxtItem is one DNS-SD TXT record item (spec.md §3).
type TxtItem = model.TxtItem

// NewTxtItem validates and builds a TxtItem.
func NewTxtItem(key string, value []byte) (TxtItem, error) { return model.NewTxtItem(key, value) }

// ServiceParams describes a service to register via ServiceAdd.
type ServiceParams struct {
	Instance string // optional; empty uses the responder's default instance name
	Type     string // e.g. "_http"
	Proto    string // "_tcp" or "_udp"
	Host     string // optional delegated hostname; empty means the responder's own host
	Port     uint16
	Priority uint16
	Weight   uint16
	TXT      []TxtItem
	Subtypes []string
}

// ServiceAdd registers a new service instance, probing it for name
// collisions on every enabled interface before it becomes visible to
// queriers (spec.md §4.3).
func (s *Server) ServiceAdd(p ServiceParams) (uint64, error) {
	svc := &model.Service{
		Instance: p.Instance, Type: p.Type, Proto: p.Proto, Host: p.Host,
		Port: p.Port, Priority: p.Priority, Weight: p.Weight, TXT: p.TXT,
	}
	for _, label := range p.Subtypes {
		svc.Subtypes = append(svc.Subtypes, model.Subtype{Label: label})
	}
	err := s.actions.EnqueueWait(&action.Action{Kind: action.KindServiceAdd, Payload: svc})
	if err != nil {
		return 0, err
	}
	return svc.ID(), nil
}

func (s *Server) handleServiceAdd(a *action.Action) {
	svc, ok := a.Payload.(*model.Service)
	if !ok {
		a.Err = mdnserr.New(mdnserr.InvalidArg, "mdns.ServiceAdd")
		return
	}
	added, err := s.store.AddService(svc, s.cfg.maxServices)
	if err != nil {
		a.Err = err
		return
	}
	s.claimOnAllPCBs(added)
}

func (s *Server) claimOnAllPCBs(svc *model.Service) {
	if svc.IsDelegated() {
		return
	}
	now := s.clock.Now()
	for _, pcb := range s.store.PCBs() {
		if pcb.State == model.PCBOff {
			continue
		}
		s.machine.AddService(pcb, svc.ID(), now)
	}
}

// ServiceRemove unregisters a service, sending a goodbye on every interface
// it was running on.
func (s *Server) ServiceRemove(id uint64) error {
	return s.actions.EnqueueWait(&action.Action{Kind: action.KindServiceRemove, Payload: id})
}

func (s *Server) handleServiceRemove(a *action.Action) {
	id, _ := a.Payload.(uint64)
	svc, err := s.store.RemoveService(id)
	if err != nil {
		a.Err = err
		return
	}
	s.goodbyeAndUnclaim(svc)
}

func (s *Server) goodbyeAndUnclaim(svc *model.Service) {
	now := s.clock.Now()
	for _, pcb := range s.store.PCBs() {
		delete(pcb.ProbeServices, svc.ID())
		if pcb.State == model.PCBRunning {
			s.machine.Goodbye(pcb, svc, now)
		}
	}
}

// ServiceRemoveAll unregisters every service, sending goodbyes for each.
func (s *Server) ServiceRemoveAll() error {
	return s.actions.EnqueueWait(&action.Action{Kind: action.KindServiceRemoveAll})
}

func (s *Server) handleServiceRemoveAll(a *action.Action) {
	for _, svc := range s.store.RemoveAllServices() {
		s.goodbyeAndUnclaim(svc)
	}
}

type serviceUpdatePayload struct {
	id      uint64
	mutate  func(*model.Service) error
	op      string
	reprobe bool
}

func (s *Server) updateService(id uint64, op string, reprobe bool, mutate func(*model.Service) error) error {
	return s.actions.EnqueueWait(&action.Action{
		Kind:    action.KindServiceUpdate,
		Payload: serviceUpdatePayload{id: id, mutate: mutate, op: op, reprobe: reprobe},
	})
}

func (s *Server) handleServiceUpdate(a *action.Action) {
	p, ok := a.Payload.(serviceUpdatePayload)
	if !ok {
		a.Err = mdnserr.New(mdnserr.InvalidArg, "mdns.updateService")
		return
	}
	svc, exists := s.store.Service(p.id)
	if !exists {
		a.Err = mdnserr.New(mdnserr.NotFound, p.op)
		return
	}
	if err := p.mutate(svc); err != nil {
		a.Err = err
		return
	}
	if p.reprobe {
		now := s.clock.Now()
		for _, pcb := range s.store.PCBs() {
			if pcb.State == model.PCBOff {
				continue
			}
			s.machine.AddService(pcb, svc.ID(), now)
		}
		return
	}
	s.announceUpdate(svc)
}

// PortSet changes a service's port, restarting probing since the SRV
// record's target tuple is part of what a peer would compare during a
// collision (spec.md §4.3's RDATA comparison covers the whole record).
func (s *Server) PortSet(id uint64, port uint16) error {
	return s.updateService(id, "mdns.PortSet", true, func(svc *model.Service) error {
		svc.Port = port
		return nil
	})
}

// TXTSet replaces a service's entire TXT record.
func (s *Server) TXTSet(id uint64, items []TxtItem) error {
	return s.updateService(id, "mdns.TXTSet", false, func(svc *model.Service) error {
		svc.TXT = items
		return nil
	})
}

// TXTItemSet upserts one key in a service's TXT record.
func (s *Server) TXTItemSet(id uint64, item TxtItem) error {
	return s.updateService(id, "mdns.TXTItemSet", false, func(svc *model.Service) error {
		for i, existing := range svc.TXT {
			if existing.Key == item.Key {
				svc.TXT[i] = item
				return nil
			}
		}
		svc.TXT = append(svc.TXT, item)
		return nil
	})
}

// TXTItemRemove deletes one key from a service's TXT record.
func (s *Server) TXTItemRemove(id uint64, key string) error {
	return s.updateService(id, "mdns.TXTItemRemove", false, func(svc *model.Service) error {
		kept := svc.TXT[:0]
		for _, existing := range svc.TXT {
			if existing.Key != key {
				kept = append(kept, existing)
			}
		}
		svc.TXT = kept
		return nil
	})
}

// SubtypeAdd registers a new subtype selector on a service.
func (s *Server) SubtypeAdd(id uint64, label string) error {
	return s.updateService(id, "mdns.SubtypeAdd", false, func(svc *model.Service) error {
		for _, st := range svc.Subtypes {
			if st.Label == label {
				return nil
			}
		}
		svc.Subtypes = append(svc.Subtypes, model.Subtype{Label: label})
		return nil
	})
}

// SubtypeRemove deletes a subtype selector from a service.
func (s *Server) SubtypeRemove(id uint64, label string) error {
	return s.updateService(id, "mdns.SubtypeRemove", false, func(svc *model.Service) error {
		kept := svc.Subtypes[:0]
		for _, st := range svc.Subtypes {
			if st.Label != label {
				kept = append(kept, st)
			}
		}
		svc.Subtypes = kept
		return nil
	})
}

// SubtypeUpdate replaces a service's entire subtype list.
func (s *Server) SubtypeUpdate(id uint64, labels []string) error {
	return s.updateService(id, "mdns.SubtypeUpdate", false, func(svc *model.Service) error {
		subtypes := make([]model.Subtype, len(labels))
		for i, l := range labels {
			subtypes[i] = model.Subtype{Label: l}
		}
		svc.Subtypes = subtypes
		return nil
	})
}

// ServiceInstanceNameSet overrides a single service's own instance name,
// restarting probing since the instance name is part of its owner name.
func (s *Server) ServiceInstanceNameSet(id uint64, instance string) error {
	return s.updateService(id, "mdns.ServiceInstanceNameSet", true, func(svc *model.Service) error {
		svc.Instance = instance
		return nil
	})
}

// announceUpdate re-publishes a service's current SRV/TXT/PTR records with
// the cache-flush bit set on every interface it is already running on, for
// mutations (TXT, subtypes) that don't require re-probing.
func (s *Server) announceUpdate(svc *model.Service) {
	now := s.clock.Now()
	hostname := s.store.Hostname()
	instance := s.store.InstanceName()
	for _, pcb := range s.store.PCBs() {
		if pcb.State != model.PCBRunning {
			continue
		}
		msg := &wire.Message{Flags: wire.FlagResponse | wire.FlagAuthoritative}
		msg.Answers = append(msg.Answers,
			txqueue.BuildPTR(svc, instance, txqueue.DefaultSharedTTL),
			txqueue.BuildSRV(svc, instance, hostname, true),
			txqueue.BuildTXT(svc, instance, true),
		)
		for _, st := range svc.Subtypes {
			msg.Answers = append(msg.Answers, txqueue.BuildSubtypePTR(svc, st.Label, instance, txqueue.DefaultSharedTTL))
		}
		s.queue.Schedule(&txqueue.TxPacket{
			Kind: txqueue.KindAnnounce, PCBKey: pcb.Key, Msg: msg, SendAt: now,
			ServiceIDs: []uint64{svc.ID()},
		})
	}
}
