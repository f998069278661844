package wire

import (
	"encoding/binary"
	"net"
)

// Resource record types this responder understands on the wire.
const (
	TypeA     uint16 = 1
	TypePTR   uint16 = 12
	TypeTXT   uint16 = 16
	TypeAAAA  uint16 = 28
	TypeSRV   uint16 = 33
	TypeNSEC  uint16 = 47
	TypeOPT   uint16 = 41
	TypeANY   uint16 = 255
)

// TypeSDPTR is a synthetic query-type sentinel, not a real DNS RR type: it
// lets Query.Type request RFC 6763 §9 service-type enumeration. An SDPTR
// query goes on the wire as an ordinary PTR question for SDPTRName; this
// value never appears in an encoded message, only in Query/Result filters.
const TypeSDPTR uint16 = 0xFF01

// ClassINET is the only record class mDNS uses.
const ClassINET uint16 = 1

// CacheFlushBit is the top bit of the class field in an answer record,
// RFC 6762 §10.2's "cache flush" indicator.
const CacheFlushBit uint16 = 1 << 15

// UnicastBit is the top bit of the qclass field in a question, RFC 6762
// §5.4's "unicast response requested" indicator.
const UnicastBit uint16 = 1 << 15

// SDPTRName is the well-known service-enumeration meta-query name
// (RFC 6763 §9). On the wire it is an ordinary PTR record; the SDPTR label
// is a semantic one this responder's builder and dispatcher use.
const SDPTRName = "_services._dns-sd._udp.local"

// Question is a parsed question-section entry.
type Question struct {
	Name    string
	Type    uint16
	Unicast bool
}

// SRVData is the RDATA of an SRV record.
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// TxtField is one length-prefixed TXT item as it appears on the wire:
// key, and optionally "=value" packed into one byte string.
type TxtField struct {
	Key      string
	Value    []byte
	HasValue bool
}

// Record is a parsed (or to-be-encoded) resource record. Only the field
// matching Header.Type is meaningful; Raw carries the untouched RDATA for
// record types this responder ignores on receive (NSEC, OPT) or does not
// recognize.
type Record struct {
	Name       string
	Type       uint16
	Class      uint16
	CacheFlush bool
	TTL        uint32

	PTR  string
	SRV  SRVData
	TXT  []TxtField
	A    net.IP
	AAAA net.IP
	Raw  []byte
}

// packTxt serializes TXT items into their on-the-wire length-prefixed form.
// An empty item list still emits a single zero-length item per RFC 6763 §6.1.
func packTxt(items []TxtField) []byte {
	if len(items) == 0 {
		return []byte{0}
	}
	var out []byte
	for _, it := range items {
		s := it.Key
		if it.HasValue {
			s = s + "=" + string(it.Value)
		}
		if len(s) > 255 {
			s = s[:255]
		}
		out = append(out, byte(len(s)))
		out = append(out, s...)
	}
	return out
}

func unpackTxt(data []byte) []TxtField {
	var items []TxtField
	i := 0
	for i < len(data) {
		n := int(data[i])
		i++
		if i+n > len(data) {
			break
		}
		s := string(data[i : i+n])
		i += n
		if n == 0 {
			continue
		}
		if eq := indexByte(s, '='); eq >= 0 {
			items = append(items, TxtField{Key: s[:eq], Value: []byte(s[eq+1:]), HasValue: true})
		} else {
			items = append(items, TxtField{Key: s})
		}
	}
	return items
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// encodeRecord appends name + type + class + ttl + rdlength + rdata to buf,
// returning the updated buffer. rdata is written directly into buf (not a
// side buffer) so names embedded in RDATA (PTR targets, SRV targets) can be
// compressed against the rest of the packet.
func encodeRecord(buf []byte, r Record, comp compressionTable) ([]byte, error) {
	var err error
	buf, err = PutName(buf, r.Name, comp)
	if err != nil {
		return nil, err
	}
	buf = appendU16(buf, r.Type)
	class := r.Class
	if r.CacheFlush {
		class |= CacheFlushBit
	}
	buf = appendU16(buf, class)
	buf = appendU32(buf, r.TTL)

	rdLenPos := len(buf)
	buf = appendU16(buf, 0) // patched below
	rdStart := len(buf)

	switch r.Type {
	case TypePTR:
		buf, err = PutName(buf, r.PTR, comp)
	case TypeSRV:
		buf = appendU16(buf, r.SRV.Priority)
		buf = appendU16(buf, r.SRV.Weight)
		buf = appendU16(buf, r.SRV.Port)
		buf, err = PutName(buf, r.SRV.Target, comp)
	case TypeTXT:
		buf = append(buf, packTxt(r.TXT)...)
	case TypeA:
		ip4 := r.A.To4()
		if ip4 == nil {
			ip4 = net.IPv4zero.To4()
		}
		buf = append(buf, ip4...)
	case TypeAAAA:
		ip6 := r.AAAA.To16()
		if ip6 == nil {
			ip6 = net.IPv6zero
		}
		buf = append(buf, ip6...)
	default:
		buf = append(buf, r.Raw...)
	}
	if err != nil {
		return nil, err
	}

	rdLen := len(buf) - rdStart
	binary.BigEndian.PutUint16(buf[rdLenPos:rdLenPos+2], uint16(rdLen))
	return buf, nil
}

func decodeRecord(data []byte, offset int, keepRaw bool) (Record, int, error) {
	name, pos, err := GetName(data, offset)
	if err != nil {
		return Record{}, 0, err
	}
	if pos+10 > len(data) {
		return Record{}, 0, ErrTruncated
	}
	rtype := binary.BigEndian.Uint16(data[pos : pos+2])
	class := binary.BigEndian.Uint16(data[pos+2 : pos+4])
	ttl := binary.BigEndian.Uint32(data[pos+4 : pos+8])
	rdlen := int(binary.BigEndian.Uint16(data[pos+8 : pos+10]))
	pos += 10
	if pos+rdlen > len(data) {
		return Record{}, 0, ErrTruncated
	}
	rdata := data[pos : pos+rdlen]

	r := Record{
		Name:       name,
		Type:       rtype,
		Class:      class &^ CacheFlushBit,
		CacheFlush: class&CacheFlushBit != 0,
		TTL:        ttl,
	}

	switch rtype {
	case TypePTR:
		ptr, _, perr := GetName(data, pos)
		if perr != nil {
			return Record{}, 0, perr
		}
		r.PTR = ptr
	case TypeSRV:
		if len(rdata) < 6 {
			return Record{}, 0, ErrTruncated
		}
		target, _, serr := GetName(data, pos+6)
		if serr != nil {
			return Record{}, 0, serr
		}
		r.SRV = SRVData{
			Priority: binary.BigEndian.Uint16(rdata[0:2]),
			Weight:   binary.BigEndian.Uint16(rdata[2:4]),
			Port:     binary.BigEndian.Uint16(rdata[4:6]),
			Target:   target,
		}
	case TypeTXT:
		r.TXT = unpackTxt(rdata)
	case TypeA:
		if len(rdata) >= 4 {
			r.A = net.IP(append([]byte(nil), rdata[:4]...))
		}
	case TypeAAAA:
		if len(rdata) >= 16 {
			r.AAAA = net.IP(append([]byte(nil), rdata[:16]...))
		}
	case TypeNSEC, TypeOPT:
		// Ignored on receive per spec.md §4.1; no fields populated.
	default:
		if keepRaw {
			r.Raw = append([]byte(nil), rdata...)
		}
	}

	return r, pos + rdlen, nil
}

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
