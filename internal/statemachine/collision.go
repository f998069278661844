package statemachine

import (
	"bytes"
	"encoding/binary"

	"github.com/kdanielm/mdnsd/internal/wire"
)

// CollisionKind names which probe comparison rule applies to a conflicting
// record observed during probing (spec.md §4.3).
type CollisionKind int

const (
	CollisionHost CollisionKind = iota
	CollisionService
	CollisionTXT
)

// canonicalRData serializes a record's type-specific data for the
// byte-wise comparison spec.md §9 calls for ("serialize both records into
// a temporary buffer and compare byte-wise; this avoids field-by-field
// tie-breakers"). Names inside RDATA (SRV target, PTR target) are compared
// as plain dotted strings rather than wire-compressed bytes — sufficient
// for a total order, which is all the tie-break needs.
func canonicalRData(r wire.Record) []byte {
	switch r.Type {
	case wire.TypeA:
		return append([]byte(nil), r.A.To4()...)
	case wire.TypeAAAA:
		return append([]byte(nil), r.AAAA.To16()...)
	case wire.TypeSRV:
		buf := make([]byte, 6, 6+len(r.SRV.Target))
		binary.BigEndian.PutUint16(buf[0:2], r.SRV.Priority)
		binary.BigEndian.PutUint16(buf[2:4], r.SRV.Weight)
		binary.BigEndian.PutUint16(buf[4:6], r.SRV.Port)
		return append(buf, r.SRV.Target...)
	case wire.TypeTXT:
		var buf []byte
		for _, it := range r.TXT {
			item := it.Key
			if it.HasValue {
				item += "=" + string(it.Value)
			}
			buf = append(buf, byte(len(item)))
			buf = append(buf, item...)
		}
		return buf
	case wire.TypePTR:
		return []byte(r.PTR)
	default:
		return r.Raw
	}
}

// compareRecordData returns -1/0/1 per bytes.Compare of the two records'
// canonical RDATA; the "alphabetically larger" record wins a collision.
func compareRecordData(a, b wire.Record) int {
	return bytes.Compare(canonicalRData(a), canonicalRData(b))
}
