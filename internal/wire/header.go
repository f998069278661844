package wire

import "encoding/binary"

// HeaderLen is the fixed size of the mDNS/DNS message header.
const HeaderLen = 12

// Flag bits within the 16-bit flags field (RFC 1035 §4.1.1).
const (
	FlagResponse      uint16 = 1 << 15 // QR
	FlagAuthoritative uint16 = 1 << 10 // AA
	FlagTruncated     uint16 = 1 << 9  // TC
)

// Header is the fixed 12-byte mDNS message header.
type Header struct {
	ID         uint16
	Flags      uint16
	QDCount    uint16
	ANCount    uint16
	NSCount    uint16
	ARCount    uint16
}

// IsResponse reports whether the QR bit is set.
func (h Header) IsResponse() bool { return h.Flags&FlagResponse != 0 }

// IsAuthoritative reports whether the AA bit is set.
func (h Header) IsAuthoritative() bool { return h.Flags&FlagAuthoritative != 0 }

func encodeHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.ID)
	binary.BigEndian.PutUint16(buf[2:4], h.Flags)
	binary.BigEndian.PutUint16(buf[4:6], h.QDCount)
	binary.BigEndian.PutUint16(buf[6:8], h.ANCount)
	binary.BigEndian.PutUint16(buf[8:10], h.NSCount)
	binary.BigEndian.PutUint16(buf[10:12], h.ARCount)
}

func decodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderLen {
		return Header{}, ErrTruncated
	}
	return Header{
		ID:      binary.BigEndian.Uint16(data[0:2]),
		Flags:   binary.BigEndian.Uint16(data[2:4]),
		QDCount: binary.BigEndian.Uint16(data[4:6]),
		ANCount: binary.BigEndian.Uint16(data[6:8]),
		NSCount: binary.BigEndian.Uint16(data[8:10]),
		ARCount: binary.BigEndian.Uint16(data[10:12]),
	}, nil
}
