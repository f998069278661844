// Package action implements the bounded action queue and single-threaded
// executor of spec.md §4.7 and §5: every mutation to the data model is
// serialized through one FIFO queue, processed by exactly one goroutine.
package action

import "github.com/kdanielm/mdnsd/internal/mdnserr"

// Kind names one of the action kinds spec.md §4.7 lists.
type Kind int

const (
	KindSystemEvent Kind = iota
	KindHostnameSet
	KindInstanceSet
	KindSearchAdd
	KindSearchSend
	KindSearchEnd
	KindBrowseAdd
	KindBrowseSync
	KindBrowseEnd
	KindTxHandle
	KindRxHandle
	KindDelegateHostnameAdd
	KindDelegateHostnameRemove
	KindDelegateHostnameSetAddr
	KindTaskStop

	// The kinds below are additive to spec.md §4.7's "kinds include" list
	// (explicitly non-exhaustive): service registration mutates the data
	// model exactly like HOSTNAME_SET/INSTANCE_SET do, and needs the same
	// single-writer serialization, so it gets the same treatment rather
	// than bypassing the executor.
	KindServiceAdd
	KindServiceRemove
	KindServiceRemoveAll
	KindServiceUpdate
	KindSearchResults
)

func (k Kind) String() string {
	switch k {
	case KindSystemEvent:
		return "SYSTEM_EVENT"
	case KindHostnameSet:
		return "HOSTNAME_SET"
	case KindInstanceSet:
		return "INSTANCE_SET"
	case KindSearchAdd:
		return "SEARCH_ADD"
	case KindSearchSend:
		return "SEARCH_SEND"
	case KindSearchEnd:
		return "SEARCH_END"
	case KindBrowseAdd:
		return "BROWSE_ADD"
	case KindBrowseSync:
		return "BROWSE_SYNC"
	case KindBrowseEnd:
		return "BROWSE_END"
	case KindTxHandle:
		return "TX_HANDLE"
	case KindRxHandle:
		return "RX_HANDLE"
	case KindDelegateHostnameAdd:
		return "DELEGATE_HOSTNAME_ADD"
	case KindDelegateHostnameRemove:
		return "DELEGATE_HOSTNAME_REMOVE"
	case KindDelegateHostnameSetAddr:
		return "DELEGATE_HOSTNAME_SET_ADDR"
	case KindTaskStop:
		return "TASK_STOP"
	case KindServiceAdd:
		return "SERVICE_ADD"
	case KindServiceRemove:
		return "SERVICE_REMOVE"
	case KindServiceRemoveAll:
		return "SERVICE_REMOVE_ALL"
	case KindServiceUpdate:
		return "SERVICE_UPDATE"
	case KindSearchResults:
		return "SEARCH_RESULTS"
	default:
		return "UNKNOWN"
	}
}

// Action is one heap-allocated unit of work accepted by the queue. Payload
// carries the kind-specific argument (e.g. a *txqueue.TxPacket for
// TX_HANDLE, a hostname string for HOSTNAME_SET); the executor's Handler
// knows how to type-assert it per Kind.
//
// Done, when non-nil, is closed by the executor once Handler returns — the
// "binary semaphore" spec.md §5 describes for API calls that wait for
// their own mutation to land before returning.
type Action struct {
	Kind    Kind
	Payload interface{}
	Err     error
	Done    chan struct{}
}

// Queue is the bounded channel backing the action queue (spec.md §4.7's
// "capacity configurable"). It is safe for concurrent Enqueue from many
// goroutines; only the executor goroutine ever receives from it.
type Queue struct {
	ch chan *Action
}

// NewQueue returns a queue with the given capacity (0 picks a default).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{ch: make(chan *Action, capacity)}
}

// Enqueue appends a without blocking. At capacity it returns
// mdnserr.Full immediately (spec.md §7's "Full: action queue at
// capacity; caller gets a try-again error").
func (q *Queue) Enqueue(a *Action) error {
	select {
	case q.ch <- a:
		return nil
	default:
		return mdnserr.New(mdnserr.Full, "action.Queue.Enqueue")
	}
}

// EnqueueWait enqueues a and blocks until the executor has processed it,
// returning whatever error the handler recorded. API calls that must
// observe the outcome of their own mutation (e.g. ServiceAdd) use this
// instead of Enqueue.
func (q *Queue) EnqueueWait(a *Action) error {
	a.Done = make(chan struct{})
	if err := q.Enqueue(a); err != nil {
		return err
	}
	<-a.Done
	return a.Err
}

// Len reports the number of actions currently buffered, for diagnostics.
func (q *Queue) Len() int { return len(q.ch) }
