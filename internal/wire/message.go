package wire

import "encoding/binary"

// Message is a full decoded (or to-be-encoded) mDNS packet.
type Message struct {
	ID         uint16
	Flags      uint16
	Questions  []Question
	Answers    []Record
	Authority  []Record
	Additional []Record
}

// IsResponse reports whether the QR bit is set.
func (m *Message) IsResponse() bool { return m.Flags&FlagResponse != 0 }

// IsAuthoritative reports whether the AA bit is set.
func (m *Message) IsAuthoritative() bool { return m.Flags&FlagAuthoritative != 0 }

// Encode serializes m into a wire-format datagram. It returns
// ErrPacketTooLarge if the result would not fit in a single mDNS datagram
// per spec.md §6 (the encoder never fragments).
func Encode(m *Message) ([]byte, error) {
	if len(m.Questions) > 0xFFFF || len(m.Answers) > 0xFFFF || len(m.Authority) > 0xFFFF || len(m.Additional) > 0xFFFF {
		return nil, ErrNameTooLong // record counts cannot legally reach here; defensive only
	}

	hdr := Header{
		ID:      m.ID,
		Flags:   m.Flags,
		QDCount: uint16(len(m.Questions)),
		ANCount: uint16(len(m.Answers)),
		NSCount: uint16(len(m.Authority)),
		ARCount: uint16(len(m.Additional)),
	}
	buf := make([]byte, HeaderLen, 512)
	encodeHeader(buf, hdr)

	comp := NewCompressionTable()
	var err error

	for _, q := range m.Questions {
		buf, err = PutName(buf, q.Name, comp)
		if err != nil {
			return nil, err
		}
		buf = appendU16(buf, q.Type)
		qclass := ClassINET
		if q.Unicast {
			qclass |= UnicastBit
		}
		buf = appendU16(buf, qclass)
	}

	for _, section := range [][]Record{m.Answers, m.Authority, m.Additional} {
		for _, r := range section {
			buf, err = encodeRecord(buf, r, comp)
			if err != nil {
				return nil, err
			}
		}
	}

	if len(buf) > MaxDatagramSize {
		return nil, ErrPacketTooLarge
	}
	return buf, nil
}

// Decode parses a wire-format datagram. It aborts (returns an error) on
// truncation, malformed label lengths, or compression pointer loops;
// individual records with out-of-range name structure are not abort
// conditions at this layer (that classification happens in ParseFQDN).
func Decode(data []byte) (*Message, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	m := &Message{ID: hdr.ID, Flags: hdr.Flags}
	pos := HeaderLen

	for i := 0; i < int(hdr.QDCount); i++ {
		name, next, qerr := GetName(data, pos)
		if qerr != nil {
			return nil, qerr
		}
		if next+4 > len(data) {
			return nil, ErrTruncated
		}
		qtype := binary.BigEndian.Uint16(data[next : next+2])
		qclass := binary.BigEndian.Uint16(data[next+2 : next+4])
		m.Questions = append(m.Questions, Question{
			Name:    name,
			Type:    qtype,
			Unicast: qclass&UnicastBit != 0,
		})
		pos = next + 4
	}

	decodeSection := func(count int) ([]Record, error) {
		recs := make([]Record, 0, count)
		for i := 0; i < count; i++ {
			r, next, rerr := decodeRecord(data, pos, true)
			if rerr != nil {
				return nil, rerr
			}
			recs = append(recs, r)
			pos = next
		}
		return recs, nil
	}

	if m.Answers, err = decodeSection(int(hdr.ANCount)); err != nil {
		return nil, err
	}
	if m.Authority, err = decodeSection(int(hdr.NSCount)); err != nil {
		return nil, err
	}
	if m.Additional, err = decodeSection(int(hdr.ARCount)); err != nil {
		return nil, err
	}

	return m, nil
}
