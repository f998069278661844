package transport

import (
	"net"
	"time"

	"github.com/kdanielm/mdnsd/internal/model"
)

// EventKind names one interface lifecycle event (spec.md §6's
// "ENABLE/DISABLE/ANNOUNCE ... and an optional REVERSE_LOOKUP registration
// event carrying the interface's own IP").
type EventKind int

const (
	EventEnable EventKind = iota
	EventDisable
	EventAnnounce
	EventReverseLookup
)

func (k EventKind) String() string {
	switch k {
	case EventEnable:
		return "ENABLE"
	case EventDisable:
		return "DISABLE"
	case EventAnnounce:
		return "ANNOUNCE"
	case EventReverseLookup:
		return "REVERSE_LOOKUP"
	default:
		return "UNKNOWN"
	}
}

// InterfaceEvent is one lifecycle notification for an (interface, family).
type InterfaceEvent struct {
	Kind      EventKind
	Interface *net.Interface
	Family    model.Family
	Addr      net.IP
}

// InterfaceWatcher is the interface-event collaborator of spec.md §6.
type InterfaceWatcher interface {
	Events() <-chan InterfaceEvent
	Close()
}

type trackedAddr struct {
	iface  net.Interface
	family model.Family
	addr   net.IP
}

// pollingWatcher is InterfaceWatcher's default implementation. There is no
// portable OS-level link-change notification in the standard library, so it
// polls net.Interfaces() the way the retrieval pack's addrsForInterface-
// style helpers enumerate addresses, diffing the (interface, family,
// address) set each tick and emitting ENABLE/ANNOUNCE/DISABLE accordingly.
type pollingWatcher struct {
	out      chan InterfaceEvent
	stop     chan struct{}
	interval time.Duration
	list     func() ([]net.Interface, error)
	seen     map[string]trackedAddr
}

// NewInterfaceWatcher starts a poller that checks interface addresses every
// interval (0 picks a 5s default).
func NewInterfaceWatcher(interval time.Duration) InterfaceWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	w := &pollingWatcher{
		out:      make(chan InterfaceEvent, 16),
		stop:     make(chan struct{}),
		interval: interval,
		list:     net.Interfaces,
		seen:     make(map[string]trackedAddr),
	}
	go w.run()
	return w
}

func (w *pollingWatcher) Events() <-chan InterfaceEvent { return w.out }

func (w *pollingWatcher) Close() { close(w.stop) }

func (w *pollingWatcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.poll()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *pollingWatcher) poll() {
	ifaces, err := w.list()
	if err != nil {
		return
	}
	current := make(map[string]trackedAddr)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			family := model.FamilyV4
			ip := ipnet.IP.To4()
			if ip == nil {
				family = model.FamilyV6
				ip = ipnet.IP.To16()
				if ip == nil || ip.IsLinkLocalUnicast() {
					continue
				}
			}
			key := iface.Name + "\x00" + family.String()
			entry := trackedAddr{iface: iface, family: family, addr: ip}
			current[key] = entry
			if prev, ok := w.seen[key]; !ok {
				w.emit(EventEnable, entry)
				w.emit(EventReverseLookup, entry)
			} else if !prev.addr.Equal(ip) {
				w.emit(EventAnnounce, entry)
			}
		}
	}
	for key, prev := range w.seen {
		if _, ok := current[key]; !ok {
			w.emit(EventDisable, prev)
		}
	}
	w.seen = current
}

func (w *pollingWatcher) emit(kind EventKind, entry trackedAddr) {
	iface := entry.iface
	w.out <- InterfaceEvent{Kind: kind, Interface: &iface, Family: entry.family, Addr: entry.addr}
}
