package txqueue

import (
	"net"
	"testing"
	"time"

	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/wire"
)

func mustService(t *testing.T, instance, typ, proto string, port uint16) *model.Service {
	t.Helper()
	return &model.Service{Instance: instance, Type: typ, Proto: proto, Port: port}
}

func TestBuildPTRAndSRVShapes(t *testing.T) {
	svc := mustService(t, "kitchen", "_http", "_tcp", 80)
	ptr := BuildPTR(svc, "default", DefaultSharedTTL)
	if ptr.Name != "_http._tcp.local" || ptr.PTR != "kitchen._http._tcp.local" {
		t.Fatalf("PTR = %+v", ptr)
	}
	srv := BuildSRV(svc, "default", "alpha", true)
	if srv.Name != "kitchen._http._tcp.local" || srv.SRV.Target != "alpha.local" || srv.SRV.Port != 80 {
		t.Fatalf("SRV = %+v", srv)
	}
	if !srv.CacheFlush {
		t.Error("SRV should set cache-flush")
	}
}

func TestReverseNameRoundTripV4(t *testing.T) {
	ip := net.ParseIP("192.0.2.33").To4()
	name, err := ReverseName(ip)
	if err != nil {
		t.Fatal(err)
	}
	if name != "33.2.0.192.in-addr.arpa" {
		t.Fatalf("name = %q", name)
	}
	got := reverseNameToIP(name)
	if got == nil || !got.Equal(ip) {
		t.Fatalf("reverseNameToIP(%q) = %v, want %v", name, got, ip)
	}
}

func TestReverseNameRoundTripV6(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	name, err := ReverseName(ip)
	if err != nil {
		t.Fatal(err)
	}
	got := reverseNameToIP(name)
	if got == nil || !got.Equal(ip) {
		t.Fatalf("reverseNameToIP(%q) = %v, want %v", name, got, ip)
	}
}

func TestComposeServicePTRIncludesAdditional(t *testing.T) {
	st := model.NewStore("alpha")
	svc := mustService(t, "kitchen", "_http", "_tcp", 80)
	if _, err := st.AddService(svc, 16); err != nil {
		t.Fatal(err)
	}
	ctx := AnswerContext{
		Store: st, SelfHostname: "alpha", DefaultInstance: "default",
		IfaceAddrsV4: []net.IP{net.ParseIP("192.0.2.5")},
	}
	name := wire.ParseFQDN("_http._tcp.local", false)
	answers, additional := ComposeAnswer(wire.Question{Name: "_http._tcp.local", Type: wire.TypePTR}, name, ctx)
	if len(answers) != 1 || answers[0].Type != wire.TypePTR {
		t.Fatalf("answers = %+v", answers)
	}
	var sawSRV, sawTXT, sawA bool
	for _, r := range additional {
		switch r.Type {
		case wire.TypeSRV:
			sawSRV = true
		case wire.TypeTXT:
			sawTXT = true
		case wire.TypeA:
			sawA = true
		}
	}
	if !sawSRV || !sawTXT || !sawA {
		t.Fatalf("additional missing records: %+v", additional)
	}
}

func TestComposeDelegatedSRVGoesToAdditional(t *testing.T) {
	st := model.NewStore("alpha")
	if err := st.AddDelegatedHost(&model.DelegatedHost{Hostname: "printer", AddrsV4: []string{"192.0.2.9"}}); err != nil {
		t.Fatal(err)
	}
	svc := &model.Service{Type: "_ipp", Proto: "_tcp", Port: 631, Host: "printer"}
	if _, err := st.AddService(svc, 16); err != nil {
		t.Fatal(err)
	}
	ctx := AnswerContext{Store: st, SelfHostname: "alpha", DefaultInstance: "default"}
	q := wire.Question{Name: svc.InstanceName("default"), Type: wire.TypeSRV}
	answers, additional := ComposeAnswer(q, wire.Name{}, ctx)
	if len(answers) != 0 {
		t.Fatalf("answers = %+v, want empty for delegated host", answers)
	}
	if len(additional) == 0 {
		t.Fatal("additional empty, want SRV + A")
	}
}

func TestComposeSDPTREnumeratesDistinctTypes(t *testing.T) {
	st := model.NewStore("alpha")
	a := mustService(t, "one", "_http", "_tcp", 80)
	b := mustService(t, "two", "_http", "_tcp", 81)
	c := mustService(t, "three", "_ipp", "_tcp", 631)
	for _, s := range []*model.Service{a, b, c} {
		if _, err := st.AddService(s, 16); err != nil {
			t.Fatal(err)
		}
	}
	ctx := AnswerContext{Store: st, SelfHostname: "alpha", DefaultInstance: "default"}
	answers, _ := ComposeAnswer(wire.Question{Name: wire.SDPTRName, Type: wire.TypePTR}, wire.Name{}, ctx)
	if len(answers) != 2 {
		t.Fatalf("SDPTR answers = %d, want 2 distinct service types", len(answers))
	}
}

func TestComposeReverseRequiresOptIn(t *testing.T) {
	st := model.NewStore("alpha")
	ctx := AnswerContext{Store: st, SelfHostname: "alpha", IfaceAddrsV4: []net.IP{net.ParseIP("192.0.2.5")}, RespondReverse: false}
	name := wire.ParseFQDN("5.2.0.192.in-addr.arpa", true)
	answers, _ := ComposeAnswer(wire.Question{Name: "5.2.0.192.in-addr.arpa", Type: wire.TypePTR}, name, ctx)
	if len(answers) != 0 {
		t.Fatalf("answers = %+v, want none when reverse queries disabled", answers)
	}
	ctx.RespondReverse = true
	answers, _ = ComposeAnswer(wire.Question{Name: "5.2.0.192.in-addr.arpa", Type: wire.TypePTR}, name, ctx)
	if len(answers) != 1 || answers[0].PTR != "alpha.local" {
		t.Fatalf("answers = %+v", answers)
	}
}

func TestQueueOrdersBySendAt(t *testing.T) {
	q := NewQueue()
	base := time.Unix(1000, 0)
	p3 := q.Schedule(&TxPacket{SendAt: base.Add(300 * time.Millisecond)})
	p1 := q.Schedule(&TxPacket{SendAt: base.Add(100 * time.Millisecond)})
	p2 := q.Schedule(&TxPacket{SendAt: base.Add(200 * time.Millisecond)})

	due := q.DueHead(base.Add(250 * time.Millisecond))
	if len(due) != 2 || due[0].ID != p1.ID || due[1].ID != p2.ID {
		t.Fatalf("DueHead = %+v", due)
	}
	if p3.Queued {
		t.Error("p3 should not be due yet")
	}

	due2 := q.DueHead(base.Add(250 * time.Millisecond))
	if len(due2) != 0 {
		t.Fatalf("second DueHead call should not re-return queued packets, got %+v", due2)
	}
}

func TestQueueRescheduleMaintainsOrder(t *testing.T) {
	q := NewQueue()
	base := time.Unix(2000, 0)
	a := q.Schedule(&TxPacket{SendAt: base})
	b := q.Schedule(&TxPacket{SendAt: base.Add(time.Second)})
	q.Reschedule(a, base.Add(2*time.Second))

	if sendAt, ok := q.Peek(); !ok || !sendAt.Equal(b.SendAt) {
		t.Fatalf("Peek = %v, %v; want b's send time first", sendAt, ok)
	}
}

func TestQueuePendingForPCBSkipsQueued(t *testing.T) {
	q := NewQueue()
	key := model.PCBKey{Interface: "eth0", Family: model.FamilyV4}
	pkt := q.Schedule(&TxPacket{PCBKey: key, Kind: KindAnnounce, SendAt: time.Unix(0, 0)})
	if got := q.PendingForPCB(key, KindAnnounce); len(got) != 1 {
		t.Fatalf("PendingForPCB = %v", got)
	}
	q.DueHead(time.Unix(1, 0))
	if got := q.PendingForPCB(key, KindAnnounce); len(got) != 0 {
		t.Fatalf("PendingForPCB after queued = %v, want empty", got)
	}
	_ = pkt
}
