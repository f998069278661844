package wire

import (
	"strings"
)

// pointer marker: top two bits of a length byte set to 11.
const (
	labelPtrMask  = 0xC0
	labelLenMask  = 0x3F
	maxNameBytes  = 255
	maxLabelBytes = 63
	maxPointerHop = 128 // backward-only pointers bound decode depth; this is generous slack
)

// compressionTable maps an already-written dotted-label suffix to the byte
// offset in the packet where that suffix starts. Entries are only ever
// offsets strictly less than the current write position, which is what
// keeps every pointer written by PutName backward-only.
type compressionTable map[string]int

// NewCompressionTable returns an empty compression table for a fresh message.
func NewCompressionTable() compressionTable { return make(compressionTable) }

// PutName encodes fqdn (without a trailing dot) into buf, using comp to
// compress against already-written names, and records new suffixes of fqdn
// into comp for names written after it. The name compression search tries
// the longest suffix first, matching spec.md's "longest suffix match" rule.
func PutName(buf []byte, fqdn string, comp compressionTable) ([]byte, error) {
	name := strings.TrimSuffix(fqdn, ".")
	if name == "" {
		return append(buf, 0), nil
	}
	if len(name) > maxNameBytes {
		return nil, ErrNameTooLong
	}
	labels := strings.Split(name, ".")

	for i := 0; i < len(labels); i++ {
		suffix := strings.Join(labels[i:], ".")
		if off, ok := comp[suffix]; ok && off < len(buf) && off <= 0x3FFF {
			for _, l := range labels[:i] {
				if len(l) > maxLabelBytes {
					return nil, ErrLabelTooLong
				}
				buf = append(buf, byte(len(l)))
				buf = append(buf, l...)
			}
			ptr := uint16(labelPtrMask)<<8 | uint16(off)
			buf = append(buf, byte(ptr>>8), byte(ptr))
			return buf, nil
		}
	}

	pos := len(buf)
	for i, l := range labels {
		if len(l) > maxLabelBytes {
			return nil, ErrLabelTooLong
		}
		suffix := strings.Join(labels[i:], ".")
		if _, ok := comp[suffix]; !ok && pos <= 0x3FFF {
			comp[suffix] = pos
		}
		buf = append(buf, byte(len(l)))
		buf = append(buf, l...)
		pos += 1 + len(l)
	}
	buf = append(buf, 0)
	return buf, nil
}

// GetName decodes a (possibly compressed) name starting at offset within
// data, returning the dotted name (without a trailing dot) and the offset
// immediately following the name's on-the-wire representation (after any
// pointer, not after the pointer's target). A pointer must target an offset
// strictly below both its own offset and the offset the name (or the
// previous pointer) started at, so every jump lands strictly earlier than
// the last one and pointer cycles are structurally impossible.
func GetName(data []byte, offset int) (string, int, error) {
	var labels []string
	pos := offset
	lowest := offset
	jumped := false
	end := -1
	hops := 0
	totalLen := 0

	for {
		if pos >= len(data) {
			return "", 0, ErrTruncated
		}
		b := data[pos]

		if b&labelPtrMask == labelPtrMask {
			if pos+1 >= len(data) {
				return "", 0, ErrTruncated
			}
			hops++
			if hops > maxPointerHop {
				return "", 0, ErrForwardPointer
			}
			target := int(b&^labelPtrMask)<<8 | int(data[pos+1])
			if target >= pos || target >= lowest {
				return "", 0, ErrForwardPointer
			}
			lowest = target
			if !jumped {
				end = pos + 2
				jumped = true
			}
			pos = target
			continue
		}

		if b&labelPtrMask != 0 {
			return "", 0, ErrMalformedLength
		}
		if b == 0 {
			pos++
			break
		}

		length := int(b)
		pos++
		if pos+length > len(data) {
			return "", 0, ErrTruncated
		}
		totalLen += length + 1
		if totalLen > maxNameBytes {
			return "", 0, ErrNameTooLong
		}
		labels = append(labels, string(data[pos:pos+length]))
		pos += length
	}

	if !jumped {
		end = pos
	}
	return strings.Join(labels, "."), end, nil
}

// Name is the parsed four-field structure spec.md §4.1 describes:
// host/service/proto/domain, plus the _sub subtype marker and a reverse
// (in-addr.arpa / ip6.arpa) escape hatch for reverse lookups.
type Name struct {
	Host         string
	Service      string
	Proto        string
	Domain       string
	Subtype      bool
	SubtypeLabel string
	Reverse      bool
	RawName      string
	Invalid      bool
}

// FQDN reconstructs the dotted name this Name was parsed from (best-effort;
// used for logging and for re-deriving the original string for reverse names).
func (n Name) FQDN() string {
	if n.Reverse {
		return n.RawName
	}
	parts := make([]string, 0, 5)
	if n.Subtype {
		parts = append(parts, n.SubtypeLabel, "_sub")
	} else if n.Host != "" {
		parts = append(parts, n.Host)
	}
	if n.Service != "" {
		parts = append(parts, n.Service)
	}
	if n.Proto != "" {
		parts = append(parts, n.Proto)
	}
	if n.Domain != "" {
		parts = append(parts, n.Domain)
	}
	return strings.Join(parts, ".")
}

// ParseFQDN classifies a decoded dotted name into host/service/proto/domain
// per spec.md §4.1. Domain must be "local", or "arpa" when reverseEnabled is
// set; anything else marks the name Invalid. Names with more label slots
// than host/service/proto/domain (or subtype/_sub/service/proto/domain)
// allow for are marked Invalid but still returned so the caller can skip
// them without aborting the rest of the packet.
func ParseFQDN(fqdn string, reverseEnabled bool) Name {
	name := strings.TrimSuffix(fqdn, ".")
	if name == "" {
		return Name{Invalid: true}
	}
	labels := strings.Split(name, ".")
	last := labels[len(labels)-1]

	if last == "arpa" {
		if !reverseEnabled {
			return Name{Domain: "arpa", RawName: name, Invalid: true}
		}
		return Name{Domain: "arpa", Reverse: true, RawName: name}
	}
	if last != "local" {
		return Name{Domain: last, RawName: name, Invalid: true}
	}

	n := Name{Domain: "local"}
	rest := labels[:len(labels)-1]

	// Classify left-to-right by how many label slots precede the domain:
	// 0 = apex, 1 = bare hostname, 2 = service type, 3 = service instance,
	// 4 = subtype selector. Popping from the right (proto, then service)
	// unconditionally would misclassify a bare hostname like "alpha.local"
	// as a lone "proto" label, so the slot count decides the shape first.
	switch len(rest) {
	case 0:
	case 1:
		n.Host = rest[0]
	case 2:
		n.Service, n.Proto = rest[0], rest[1]
	case 3:
		n.Host, n.Service, n.Proto = rest[0], rest[1], rest[2]
	case 4:
		if rest[1] == "_sub" {
			n.Subtype = true
			n.SubtypeLabel = rest[0]
			n.Service, n.Proto = rest[2], rest[3]
		} else {
			n.Invalid = true
		}
	default:
		n.Invalid = true
	}
	return n
}
