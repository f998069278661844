// Package wire implements the mDNS/DNS-SD binary message codec: header,
// compressed names, and resource records. It is hand rolled rather than
// delegated to a general-purpose DNS library because the compression
// pointer-cycle guard and the four-field Host/Service/Proto/Domain name
// model are the bespoke piece this responder is built around.
package wire

import "errors"

var (
	// ErrTruncated is returned when a read would run past the end of the packet.
	ErrTruncated = errors.New("wire: truncated packet")
	// ErrMalformedLength is returned for a label length byte that is neither
	// a valid label length (0-63) nor a compression pointer (top two bits 11).
	ErrMalformedLength = errors.New("wire: malformed label length")
	// ErrForwardPointer is returned when a compression pointer targets an
	// offset that is not strictly smaller than the pointer's own offset and
	// than the offset the name or the previous pointer started at.
	ErrForwardPointer = errors.New("wire: forward or self compression pointer")
	// ErrNameTooLong is returned when an encoded or decoded name exceeds 255 bytes.
	ErrNameTooLong = errors.New("wire: name exceeds 255 bytes")
	// ErrLabelTooLong is returned when a single label exceeds 63 bytes.
	ErrLabelTooLong = errors.New("wire: label exceeds 63 bytes")
	// ErrPacketTooLarge is returned when an encoded message exceeds the
	// maximum mDNS UDP payload the encoder will produce.
	ErrPacketTooLarge = errors.New("wire: encoded packet exceeds maximum datagram size")
)

// MaxDatagramSize is the largest UDP payload this encoder will produce.
// RFC 6762 allows larger multicast responses but this responder targets
// small devices and single-datagram replies only (spec Non-goals: no
// IP-layer fragmentation handling).
const MaxDatagramSize = 1460
