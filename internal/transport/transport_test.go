package transport

import (
	"net"
	"testing"
	"time"

	"github.com/kdanielm/mdnsd/internal/model"
)

func TestJoinKeyDistinguishesFamilyAndInterface(t *testing.T) {
	eth0 := &net.Interface{Name: "eth0"}
	eth1 := &net.Interface{Name: "eth1"}

	keys := map[string]bool{
		joinKey(eth0, model.FamilyV4): true,
		joinKey(eth0, model.FamilyV6): true,
		joinKey(eth1, model.FamilyV4): true,
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 distinct keys, got %d", len(keys))
	}
	if joinKey(eth0, model.FamilyV4) == joinKey(eth0, model.FamilyV6) {
		t.Fatal("same interface, different family must not collide")
	}
}

func TestEventKindString(t *testing.T) {
	cases := map[EventKind]string{
		EventEnable:        "ENABLE",
		EventDisable:       "DISABLE",
		EventAnnounce:      "ANNOUNCE",
		EventReverseLookup: "REVERSE_LOOKUP",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}

func TestPollingWatcherEmitReportsAddrChange(t *testing.T) {
	eth0 := net.Interface{Name: "eth0", Flags: net.FlagUp | net.FlagMulticast}
	w := &pollingWatcher{out: make(chan InterfaceEvent, 16), seen: make(map[string]trackedAddr)}

	changed := trackedAddr{iface: eth0, family: model.FamilyV4, addr: net.ParseIP("192.0.2.20")}
	w.emit(EventAnnounce, changed)

	select {
	case ev := <-w.out:
		if ev.Kind != EventAnnounce || !ev.Addr.Equal(changed.addr) || ev.Interface.Name != "eth0" {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("expected a queued ANNOUNCE event")
	}
}

func TestPollingWatcherDetectsGoneInterface(t *testing.T) {
	w := &pollingWatcher{
		out:  make(chan InterfaceEvent, 16),
		seen: make(map[string]trackedAddr),
		list: func() ([]net.Interface, error) { return nil, nil },
	}
	eth0 := net.Interface{Name: "eth0", Flags: net.FlagUp | net.FlagMulticast}
	w.seen["eth0\x00v4"] = trackedAddr{iface: eth0, family: model.FamilyV4, addr: net.ParseIP("192.0.2.10")}
	if len(w.seen) != 1 {
		t.Fatal("fixture must track eth0 before the poll")
	}

	w.poll()

	select {
	case ev := <-w.out:
		if ev.Kind != EventDisable || ev.Interface.Name != "eth0" || ev.Family != model.FamilyV4 {
			t.Fatalf("event = %+v, want DISABLE for eth0/v4", ev)
		}
	default:
		t.Fatal("expected a DISABLE event once eth0 disappears")
	}
	if len(w.seen) != 0 {
		t.Fatal("expected eth0 to be untracked once it disappears")
	}
}

func TestSystemClockTickerFires(t *testing.T) {
	clk := NewSystemClock()
	ticker := clk.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker never fired")
	}
}

func TestNewSocketBindsAtLeastOneFamily(t *testing.T) {
	sock, err := NewSocket()
	if err != nil {
		t.Skipf("no mDNS socket available in this sandbox: %v", err)
	}
	sock.CloseAll()
}
