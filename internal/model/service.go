// Package model holds the mDNS responder's data model: owned hostname,
// delegated hosts, services, TXT records, subtypes, and the per-interface
// PCB table (spec.md §3), plus the invariants that guard mutation.
package model

import (
	"strings"

	"github.com/kdanielm/mdnsd/internal/mdnserr"
)

// TxtItem is one DNS-SD TXT record item: a non-empty key with an optional
// value. Per RFC 6763 §6.4, the packed "key[=value]" byte string must be
// at most 255 bytes.
type TxtItem struct {
	Key      string
	Value    []byte
	HasValue bool
}

// NewTxtItem validates and constructs a TxtItem per spec.md §3's rules:
// key non-empty, no '=' in the key, packed length <= 255.
func NewTxtItem(key string, value []byte) (TxtItem, error) {
	const op = "model.NewTxtItem"
	if key == "" {
		return TxtItem{}, mdnserr.New(mdnserr.InvalidArg, op)
	}
	if strings.Contains(key, "=") {
		return TxtItem{}, mdnserr.New(mdnserr.InvalidArg, op)
	}
	total := len(key)
	if value != nil {
		total += 1 + len(value)
	}
	if total > 255 {
		return TxtItem{}, mdnserr.New(mdnserr.InvalidArg, op)
	}
	return TxtItem{Key: key, Value: value, HasValue: value != nil}, nil
}

// Subtype is a single DNS-SD subtype selector label (the part before
// "._sub." in a subtype PTR name).
type Subtype struct {
	Label string
}

// SelfHostname is the sentinel used by Service.Host to mean "resolve to the
// responder's own hostname and the underlying interface addresses"
// (spec.md §3's SelfHost). An empty Host field means the same thing; this
// constant exists so callers can be explicit.
const SelfHostname = ""

// DelegatedHost is a hostname the responder answers A/AAAA/reverse queries
// for on behalf of a non-local entity, with statically provided addresses.
type DelegatedHost struct {
	Hostname string
	AddrsV4  []string
	AddrsV6  []string
}

// Service is one registered DNS-SD service instance (spec.md §3).
type Service struct {
	id uint64

	Instance string // optional; empty means "use the default instance name"
	Type     string // e.g. "_http"
	Proto    string // "_tcp" or "_udp"
	Host     string // empty = SelfHostname; else must name a DelegatedHost
	Port     uint16
	Priority uint16
	Weight   uint16
	TXT      []TxtItem
	Subtypes []Subtype
}

// ID returns the service's opaque stable identity, used in place of the
// source's intrusive linked-list pointers (spec.md §9 REDESIGN).
func (s *Service) ID() uint64 { return s.id }

// ServiceName is the PTR owner name "<type>.<proto>.local" (spec.md §4.2).
func (s *Service) ServiceName() string {
	return s.Type + "." + s.Proto + ".local"
}

// InstanceName is the fully qualified instance name
// "<instance>.<type>.<proto>.local", falling back to defaultInstance when
// the service has no instance name of its own.
func (s *Service) InstanceName(defaultInstance string) string {
	inst := s.Instance
	if inst == "" {
		inst = defaultInstance
	}
	return inst + "." + s.ServiceName()
}

// EffectiveInstance returns the service's own instance name, or
// defaultInstance if it has none.
func (s *Service) EffectiveInstance(defaultInstance string) string {
	if s.Instance != "" {
		return s.Instance
	}
	return defaultInstance
}

// SubtypeName is the owner name "<subtype>._sub.<type>.<proto>.local" for
// one of the service's registered subtypes.
func (s *Service) SubtypeName(label string) string {
	return label + "._sub." + s.ServiceName()
}

// HostFQDN is the "<host>.local" name this service's SRV target resolves
// to, given the responder's own hostname (used when Host == SelfHostname).
func (s *Service) HostFQDN(selfHostname string) string {
	if s.Host == SelfHostname {
		return selfHostname + ".local"
	}
	return s.Host + ".local"
}

// IsDelegated reports whether this service's host is a DelegatedHost
// rather than the responder's own SelfHost.
func (s *Service) IsDelegated() bool { return s.Host != SelfHostname }

// tupleKey is the uniqueness key from spec.md §3's invariant 1:
// (instance-or-default, service, protocol, hostname).
func tupleKey(instance, svcType, proto, host string) string {
	return instance + "\x00" + svcType + "\x00" + proto + "\x00" + host
}
