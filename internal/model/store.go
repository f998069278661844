package model

import (
	"sync"

	"github.com/kdanielm/mdnsd/internal/mdnserr"
)

// Store holds all Server-level state (spec.md §3). A single mutex guards
// every mutation and every external read, per spec.md §5's "a mutex that
// also guards all data-model reads by external API calls" — the action
// loop is the only writer, but readers (synchronous API calls such as
// ServiceExists) may run concurrently with it.
type Store struct {
	mu sync.RWMutex

	hostname     string
	instanceName string
	nextID       uint64

	services  map[uint64]*Service
	delegated map[string]*DelegatedHost
	pcbs      map[PCBKey]*PCB
}

// NewStore returns an empty Store with the given initial hostname.
func NewStore(hostname string) *Store {
	return &Store{
		hostname:  hostname,
		services:  make(map[uint64]*Service),
		delegated: make(map[string]*DelegatedHost),
		pcbs:      make(map[PCBKey]*PCB),
	}
}

// Hostname returns the responder's owned hostname.
func (st *Store) Hostname() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.hostname
}

// SetHostname replaces the owned hostname. The Store itself does not probe:
// its callers (a hostname change, a lost host-name collision) set the new
// name first and then restart probing for it.
func (st *Store) SetHostname(name string) error {
	const op = "model.Store.SetHostname"
	if name == "" {
		return mdnserr.New(mdnserr.InvalidArg, op)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.hostname = name
	return nil
}

// InstanceName returns the default instance name used by services that
// don't specify their own.
func (st *Store) InstanceName() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.instanceName
}

// SetInstanceName replaces the default instance name.
func (st *Store) SetInstanceName(name string) error {
	const op = "model.Store.SetInstanceName"
	if name == "" {
		return mdnserr.New(mdnserr.InvalidArg, op)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.instanceName = name
	return nil
}

// AddService validates and inserts svc, enforcing spec.md §3's uniqueness
// and host-resolution invariants. On success svc.id is assigned and the
// service is visible to ServiceExists/Services/etc. immediately.
func (st *Store) AddService(svc *Service, maxServices int) (*Service, error) {
	const op = "model.Store.AddService"
	if svc.Type == "" || svc.Proto == "" || svc.Port == 0 {
		return nil, mdnserr.New(mdnserr.InvalidArg, op)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if maxServices > 0 && len(st.services) >= maxServices {
		return nil, mdnserr.New(mdnserr.OutOfMemory, op)
	}
	if svc.IsDelegated() {
		if _, ok := st.delegated[svc.Host]; !ok {
			return nil, mdnserr.New(mdnserr.InvalidArg, op)
		}
	}

	key := tupleKey(svc.EffectiveInstance(st.instanceName), svc.Type, svc.Proto, svc.Host)
	for _, existing := range st.services {
		existingKey := tupleKey(existing.EffectiveInstance(st.instanceName), existing.Type, existing.Proto, existing.Host)
		if existingKey == key {
			return nil, mdnserr.New(mdnserr.Conflict, op)
		}
	}

	st.nextID++
	svc.id = st.nextID
	st.services[svc.id] = svc
	return svc, nil
}

// RemoveService deletes the service with the given id.
func (st *Store) RemoveService(id uint64) (*Service, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	svc, ok := st.services[id]
	if !ok {
		return nil, mdnserr.New(mdnserr.NotFound, "model.Store.RemoveService")
	}
	delete(st.services, id)
	return svc, nil
}

// RemoveAllServices deletes every registered service, returning them so
// the caller can emit goodbyes for each.
func (st *Store) RemoveAllServices() []*Service {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Service, 0, len(st.services))
	for _, svc := range st.services {
		out = append(out, svc)
	}
	st.services = make(map[uint64]*Service)
	return out
}

// Service looks up a service by id.
func (st *Store) Service(id uint64) (*Service, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	svc, ok := st.services[id]
	return svc, ok
}

// ServiceExists reports whether a service matching the given tuple is
// currently registered (spec.md §8 invariant 4).
func (st *Store) ServiceExists(instance, svcType, proto, host string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	want := tupleKey(instance, svcType, proto, host)
	for _, existing := range st.services {
		if tupleKey(existing.EffectiveInstance(st.instanceName), existing.Type, existing.Proto, existing.Host) == want {
			return true
		}
	}
	return false
}

// Services returns a snapshot slice of every registered service.
func (st *Store) Services() []*Service {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*Service, 0, len(st.services))
	for _, svc := range st.services {
		out = append(out, svc)
	}
	return out
}

// ServicesByType returns services matching the given type/proto.
func (st *Store) ServicesByType(svcType, proto string) []*Service {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var out []*Service
	for _, svc := range st.services {
		if svc.Type == svcType && svc.Proto == proto {
			out = append(out, svc)
		}
	}
	return out
}

// AddDelegatedHost registers a hostname the responder answers on behalf of.
func (st *Store) AddDelegatedHost(h *DelegatedHost) error {
	const op = "model.Store.AddDelegatedHost"
	if h.Hostname == "" {
		return mdnserr.New(mdnserr.InvalidArg, op)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.delegated[h.Hostname]; exists {
		return mdnserr.New(mdnserr.Conflict, op)
	}
	st.delegated[h.Hostname] = h
	return nil
}

// RemoveDelegatedHost removes a delegated hostname. It fails with Conflict
// if a service still references it, matching spec.md §3's invariant that a
// service always resolves to exactly one live host.
func (st *Store) RemoveDelegatedHost(hostname string) error {
	const op = "model.Store.RemoveDelegatedHost"
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.delegated[hostname]; !ok {
		return mdnserr.New(mdnserr.NotFound, op)
	}
	for _, svc := range st.services {
		if svc.Host == hostname {
			return mdnserr.New(mdnserr.Conflict, op)
		}
	}
	delete(st.delegated, hostname)
	return nil
}

// SetDelegatedHostAddrs replaces a delegated host's address lists.
func (st *Store) SetDelegatedHostAddrs(hostname string, v4, v6 []string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	h, ok := st.delegated[hostname]
	if !ok {
		return mdnserr.New(mdnserr.NotFound, "model.Store.SetDelegatedHostAddrs")
	}
	h.AddrsV4 = v4
	h.AddrsV6 = v6
	return nil
}

// DelegatedHost looks up a delegated host by name.
func (st *Store) DelegatedHost(hostname string) (*DelegatedHost, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	h, ok := st.delegated[hostname]
	return h, ok
}

// DelegatedHosts returns a snapshot of every delegated host.
func (st *Store) DelegatedHosts() []*DelegatedHost {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*DelegatedHost, 0, len(st.delegated))
	for _, h := range st.delegated {
		out = append(out, h)
	}
	return out
}

// PCB returns (creating if necessary) the PCB for key.
func (st *Store) PCB(key PCBKey) *PCB {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.pcbs[key]
	if !ok {
		p = NewPCB(key)
		st.pcbs[key] = p
	}
	return p
}

// PCBs returns a snapshot of every known PCB.
func (st *Store) PCBs() []*PCB {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*PCB, 0, len(st.pcbs))
	for _, p := range st.pcbs {
		out = append(out, p)
	}
	return out
}

// RemovePCB deletes the PCB for key, e.g. on interface-down.
func (st *Store) RemovePCB(key PCBKey) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.pcbs, key)
}
