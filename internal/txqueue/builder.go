// Package txqueue implements the outbound packet builder (spec.md §4.2) and
// the time-ordered transmit queue/scheduler (spec.md §4.7) that drives the
// responder state machine.
package txqueue

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/wire"
)

// Default TTLs per spec.md §4.2/§4.3.
const (
	DefaultSRVTTL    uint32 = 120
	DefaultHostTTL   uint32 = 120
	DefaultSharedTTL uint32 = 4500
)

// BuildPTR builds the service-discovery PTR: owner "<type>.<proto>.local",
// rdata "<instance>.<type>.<proto>.local".
func BuildPTR(svc *model.Service, defaultInstance string, ttl uint32) wire.Record {
	return wire.Record{
		Name: svc.ServiceName(), Type: wire.TypePTR, Class: wire.ClassINET, TTL: ttl,
		PTR: svc.InstanceName(defaultInstance),
	}
}

// BuildSubtypePTR builds a subtype PTR: owner "<subtype>._sub.<type>.<proto>.local".
func BuildSubtypePTR(svc *model.Service, label, defaultInstance string, ttl uint32) wire.Record {
	return wire.Record{
		Name: svc.SubtypeName(label), Type: wire.TypePTR, Class: wire.ClassINET, TTL: ttl,
		PTR: svc.InstanceName(defaultInstance),
	}
}

// BuildSDPTR builds the well-known service-enumeration PTR for one service type.
func BuildSDPTR(svc *model.Service, ttl uint32) wire.Record {
	return wire.Record{
		Name: wire.SDPTRName, Type: wire.TypePTR, Class: wire.ClassINET, TTL: ttl,
		PTR: svc.ServiceName(),
	}
}

// BuildSRV builds the SRV record for a service instance.
func BuildSRV(svc *model.Service, defaultInstance, selfHostname string, cacheFlush bool) wire.Record {
	return wire.Record{
		Name: svc.InstanceName(defaultInstance), Type: wire.TypeSRV, Class: wire.ClassINET,
		TTL: DefaultSRVTTL, CacheFlush: cacheFlush,
		SRV: wire.SRVData{Priority: svc.Priority, Weight: svc.Weight, Port: svc.Port, Target: svc.HostFQDN(selfHostname)},
	}
}

// BuildTXT builds the TXT record for a service instance. An empty TXT item
// list still emits a single zero-length item (spec.md §4.2), handled by the
// wire encoder.
func BuildTXT(svc *model.Service, defaultInstance string, cacheFlush bool) wire.Record {
	items := make([]wire.TxtField, len(svc.TXT))
	for i, it := range svc.TXT {
		items[i] = wire.TxtField{Key: it.Key, Value: it.Value, HasValue: it.HasValue}
	}
	return wire.Record{
		Name: svc.InstanceName(defaultInstance), Type: wire.TypeTXT, Class: wire.ClassINET,
		TTL: DefaultSharedTTL, CacheFlush: cacheFlush, TXT: items,
	}
}

// BuildA builds an A record for hostname.local.
func BuildA(hostname string, ip net.IP, cacheFlush bool) wire.Record {
	return wire.Record{
		Name: hostname + ".local", Type: wire.TypeA, Class: wire.ClassINET,
		TTL: DefaultHostTTL, CacheFlush: cacheFlush, A: ip,
	}
}

// BuildAAAA builds an AAAA record for hostname.local.
func BuildAAAA(hostname string, ip net.IP, cacheFlush bool) wire.Record {
	return wire.Record{
		Name: hostname + ".local", Type: wire.TypeAAAA, Class: wire.ClassINET,
		TTL: DefaultHostTTL, CacheFlush: cacheFlush, AAAA: ip,
	}
}

// ReverseName builds the in-addr.arpa/ip6.arpa owner name for ip.
func ReverseName(ip net.IP) (string, error) {
	if v4 := ip.To4(); v4 != nil && ip.To16() != nil && strings.Count(ip.String(), ":") == 0 {
		return fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa", v4[3], v4[2], v4[1], v4[0]), nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return "", fmt.Errorf("txqueue: invalid IP %v", ip)
	}
	var nib [32]byte
	for i := 0; i < 16; i++ {
		nib[2*i] = v6[i] >> 4
		nib[2*i+1] = v6[i] & 0xF
	}
	labels := make([]string, 32)
	for k := 0; k < 32; k++ {
		labels[k] = fmt.Sprintf("%x", nib[31-k])
	}
	return strings.Join(labels, ".") + ".ip6.arpa", nil
}

// reverseNameToIP parses a decoded in-addr.arpa/ip6.arpa owner name back
// into a net.IP, the inverse of ReverseName.
func reverseNameToIP(raw string) net.IP {
	name := strings.TrimSuffix(raw, ".")
	if strings.HasSuffix(name, ".in-addr.arpa") {
		base := strings.TrimSuffix(name, ".in-addr.arpa")
		parts := strings.Split(base, ".")
		if len(parts) != 4 {
			return nil
		}
		b := make([]byte, 4)
		for i := 0; i < 4; i++ {
			v, err := strconv.Atoi(parts[3-i])
			if err != nil || v < 0 || v > 255 {
				return nil
			}
			b[i] = byte(v)
		}
		return net.IPv4(b[0], b[1], b[2], b[3])
	}
	if strings.HasSuffix(name, ".ip6.arpa") {
		base := strings.TrimSuffix(name, ".ip6.arpa")
		nibbles := strings.Split(base, ".")
		if len(nibbles) != 32 {
			return nil
		}
		b := make([]byte, 16)
		for i := 0; i < 16; i++ {
			hi, err1 := strconv.ParseUint(nibbles[31-2*i], 16, 8)
			lo, err2 := strconv.ParseUint(nibbles[30-2*i], 16, 8)
			if err1 != nil || err2 != nil {
				return nil
			}
			b[i] = byte(hi<<4 | lo)
		}
		return net.IP(b)
	}
	return nil
}

// BuildReversePTR builds the reverse-lookup PTR for ip -> hostname.local.
func BuildReversePTR(ip net.IP, hostname string, ttl uint32) (wire.Record, error) {
	owner, err := ReverseName(ip)
	if err != nil {
		return wire.Record{}, err
	}
	return wire.Record{Name: owner, Type: wire.TypePTR, Class: wire.ClassINET, TTL: ttl, PTR: hostname + ".local"}, nil
}
