package txqueue

import (
	"net"
	"sort"
	"time"

	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/wire"
)

// Kind distinguishes why a packet was scheduled, for logging and for the
// state machine's TX_HANDLE follow-up (e.g. advancing a PCB after its last
// announcement goes out).
type Kind int

const (
	KindProbe Kind = iota
	KindAnnounce
	KindGoodbye
	KindQuery
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindProbe:
		return "probe"
	case KindAnnounce:
		return "announce"
	case KindGoodbye:
		return "goodbye"
	case KindQuery:
		return "query"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// TxPacket is one scheduled outbound datagram (spec.md §4.7's tx queue
// entry). After scheduling, only SendAt (Reschedule), Queued (flipped by the
// scheduler) and a pending response's answer list (trimmed by known-answer
// suppression) change.
type TxPacket struct {
	ID     uint64
	Kind   Kind
	PCBKey model.PCBKey

	Dest     net.IP // nil means "the well-known multicast group for PCBKey.Family"
	DestPort int
	Unicast  bool

	Msg *wire.Message

	SendAt time.Time
	Queued bool // true once the scheduler has handed this packet to TX_HANDLE

	// ServiceIDs names the services a probe/announce/goodbye packet covers.
	// It is informational: the PCB advanced after a send is the one named
	// by PCBKey.
	ServiceIDs []uint64
}

// Queue is the strictly send-at-ordered transmit queue described in
// spec.md §4.7, generalized from the source's "always respond immediately"
// model to "schedule with jitter, detached from the socket write" so probe
// delays, announce backoff and randomized response delay (spec.md §9(ii))
// share one mechanism.
//
// Queue is not safe for concurrent use; it is owned exclusively by the
// single-threaded action executor (internal/action).
type Queue struct {
	packets []*TxPacket
	nextID  uint64
}

// NewQueue returns an empty transmit queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Schedule inserts pkt in SendAt order and assigns it an id. The queue
// remains sorted ascending by SendAt at all times, so due packets are always
// found at the head.
func (q *Queue) Schedule(pkt *TxPacket) *TxPacket {
	q.nextID++
	pkt.ID = q.nextID
	i := sort.Search(len(q.packets), func(i int) bool {
		return q.packets[i].SendAt.After(pkt.SendAt)
	})
	q.packets = append(q.packets, nil)
	copy(q.packets[i+1:], q.packets[i:])
	q.packets[i] = pkt
	return pkt
}

// DueHead returns every not-yet-queued packet at the front of the queue
// whose SendAt is at or before now, marking each Queued so a second call
// won't return it again. Because the queue is sorted, due packets are always
// a prefix; DueHead stops scanning at the first not-yet-due packet.
func (q *Queue) DueHead(now time.Time) []*TxPacket {
	var due []*TxPacket
	for _, p := range q.packets {
		if p.SendAt.After(now) {
			break
		}
		if p.Queued {
			continue
		}
		p.Queued = true
		due = append(due, p)
	}
	return due
}

// Remove deletes pkt from the queue, e.g. once it has been transmitted or
// superseded.
func (q *Queue) Remove(pkt *TxPacket) {
	for i, p := range q.packets {
		if p.ID == pkt.ID {
			q.packets = append(q.packets[:i], q.packets[i+1:]...)
			return
		}
	}
}

// Reschedule moves pkt to a new SendAt, preserving the queue's sort order,
// and clears its Queued flag.
func (q *Queue) Reschedule(pkt *TxPacket, sendAt time.Time) {
	q.Remove(pkt)
	pkt.SendAt = sendAt
	pkt.Queued = false
	i := sort.Search(len(q.packets), func(i int) bool {
		return q.packets[i].SendAt.After(sendAt)
	})
	q.packets = append(q.packets, nil)
	copy(q.packets[i+1:], q.packets[i:])
	q.packets[i] = pkt
}

// Len reports the number of packets currently queued.
func (q *Queue) Len() int { return len(q.packets) }

// PendingForPCB returns every not-yet-sent packet of the given kind queued
// for key, in SendAt order. Known-answer suppression (spec.md §4.4) uses it
// to also check the scheduled tx queue, not just the inbound packet's answer
// section, and the state machine uses it to drop superseded probes.
func (q *Queue) PendingForPCB(key model.PCBKey, kind Kind) []*TxPacket {
	var out []*TxPacket
	for _, p := range q.packets {
		if p.PCBKey == key && p.Kind == kind && !p.Queued {
			out = append(out, p)
		}
	}
	return out
}

// Peek returns the earliest not-yet-queued packet's SendAt. ok is false
// when the queue has nothing left to send.
func (q *Queue) Peek() (sendAt time.Time, ok bool) {
	for _, p := range q.packets {
		if !p.Queued {
			return p.SendAt, true
		}
	}
	return time.Time{}, false
}
