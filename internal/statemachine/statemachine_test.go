package statemachine

import (
	"net"
	"testing"
	"time"

	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/txqueue"
	"github.com/kdanielm/mdnsd/internal/wire"
)

// zeroRand pins every jitter draw to 0 so scenario timings are exact, per
// spec.md §9's "inject the RNG as a collaborator" note.
type zeroRand struct{}

func (zeroRand) Intn(n int) int { return 0 }

func TestMangleAppendsThenIncrements(t *testing.T) {
	if got := Mangle("alpha"); got != "alpha-2" {
		t.Fatalf("Mangle(alpha) = %q", got)
	}
	if got := Mangle("alpha-2"); got != "alpha-3" {
		t.Fatalf("Mangle(alpha-2) = %q", got)
	}
	if got := Mangle("alpha-9"); got != "alpha-10" {
		t.Fatalf("Mangle(alpha-9) = %q", got)
	}
}

func TestMangleTruncatesTo63(t *testing.T) {
	long := ""
	for i := 0; i < 62; i++ {
		long += "a"
	}
	got := Mangle(long)
	if len(got) > 63 {
		t.Fatalf("len(Mangle(...)) = %d, want <= 63", len(got))
	}
}

func TestProbeNoConflictReachesRunning(t *testing.T) {
	st := model.NewStore("alpha")
	svc := &model.Service{Type: "_http", Proto: "_tcp", Port: 80}
	if _, err := st.AddService(svc, 16); err != nil {
		t.Fatal(err)
	}
	q := txqueue.NewQueue()
	m := NewMachine(st, q, zeroRand{})
	key := model.PCBKey{Interface: "eth0", Family: model.FamilyV4}
	now := time.Unix(1000, 0)

	pcb := m.EnablePCB(key, "192.0.2.5", now)
	if pcb.State != model.PCBProbe1 {
		t.Fatalf("state after enable = %v", pcb.State)
	}

	var sent []*txqueue.TxPacket
	cur := now
	for i := 0; i < ProbeCount; i++ {
		due := q.DueHead(cur.Add(ProbeSeparation))
		if len(due) != 1 {
			t.Fatalf("probe %d: due = %d packets", i, len(due))
		}
		sent = append(sent, due[0])
		cur = cur.Add(ProbeSeparation)
		m.AdvanceAfterSend(pcb, cur)
	}
	if pcb.State != model.PCBAnnounce1 {
		t.Fatalf("state after 3 probes = %v, want ANNOUNCE_1", pcb.State)
	}
	for _, p := range sent {
		if len(p.Msg.Questions) == 0 || p.Msg.Questions[0].Name != "alpha.local" || p.Msg.Questions[0].Type != wire.TypeANY {
			t.Fatalf("probe packet question = %+v", p.Msg.Questions)
		}
	}

	for i := 0; i < AnnounceCount; i++ {
		due := q.DueHead(cur.Add(AnnounceGap))
		if len(due) != 1 {
			t.Fatalf("announce %d: due = %d", i, len(due))
		}
		if i == 0 {
			foundA := false
			for _, r := range due[0].Msg.Answers {
				if r.Type == wire.TypeA && r.TTL == txqueue.DefaultHostTTL && r.A.Equal(net.ParseIP("192.0.2.5")) {
					foundA = true
				}
			}
			if !foundA {
				t.Fatalf("first announce missing A record: %+v", due[0].Msg.Answers)
			}
		}
		cur = cur.Add(AnnounceGap)
		m.AdvanceAfterSend(pcb, cur)
	}
	if pcb.State != model.PCBRunning {
		t.Fatalf("final state = %v, want RUNNING", pcb.State)
	}
}

func TestHostCollisionRenamesAndRestartsProbe(t *testing.T) {
	st := model.NewStore("alpha")
	q := txqueue.NewQueue()
	m := NewMachine(st, q, zeroRand{})
	key := model.PCBKey{Interface: "eth0", Family: model.FamilyV4}
	now := time.Unix(2000, 0)
	pcb := m.EnablePCB(key, "192.0.2.5", now)
	pcb.State = model.PCBProbe2

	ours := wire.Record{Type: wire.TypeA, A: net.ParseIP("192.0.2.5").To4()}
	theirs := wire.Record{Type: wire.TypeA, A: net.ParseIP("192.0.2.200").To4(), TTL: 120}

	renamed := m.Collide(pcb, CollisionHost, nil, ours, theirs, now)
	if !renamed {
		t.Fatal("Collide returned false, want true (peer IP is lexicographically larger)")
	}
	if got := st.Hostname(); got != "alpha-2" {
		t.Fatalf("hostname after collision = %q, want alpha-2", got)
	}
	if pcb.State != model.PCBProbe1 {
		t.Fatalf("state after collision = %v, want PROBE_1", pcb.State)
	}
	due := q.DueHead(now.Add(300 * time.Millisecond))
	if len(due) != 1 || due[0].Msg.Questions[0].Name != "alpha-2.local" {
		t.Fatalf("rescheduled probe = %+v", due)
	}
}

func TestCollisionIgnoresGoodbye(t *testing.T) {
	st := model.NewStore("alpha")
	q := txqueue.NewQueue()
	m := NewMachine(st, q, zeroRand{})
	pcb := model.NewPCB(model.PCBKey{Interface: "eth0", Family: model.FamilyV4})
	pcb.State = model.PCBProbe1

	ours := wire.Record{Type: wire.TypeA, A: net.ParseIP("192.0.2.5").To4()}
	theirs := wire.Record{Type: wire.TypeA, A: net.ParseIP("192.0.2.200").To4(), TTL: 0}
	if m.Collide(pcb, CollisionHost, nil, ours, theirs, time.Unix(0, 0)) {
		t.Fatal("Collide should ignore a TTL=0 goodbye record")
	}
	if st.Hostname() != "alpha" {
		t.Fatalf("hostname changed on goodbye collision: %q", st.Hostname())
	}
}

func TestServiceCollisionMangleUsesInstanceName(t *testing.T) {
	st := model.NewStore("alpha")
	q := txqueue.NewQueue()
	m := NewMachine(st, q, zeroRand{})
	svc := &model.Service{Instance: "kitchen", Type: "_http", Proto: "_tcp", Port: 80}
	pcb := model.NewPCB(model.PCBKey{Interface: "eth0", Family: model.FamilyV4})

	ours := wire.Record{Type: wire.TypeSRV, SRV: wire.SRVData{Port: 80, Target: "alpha.local"}}
	theirs := wire.Record{Type: wire.TypeSRV, SRV: wire.SRVData{Port: 80, Target: "zzzz.local"}, TTL: 120}
	if !m.Collide(pcb, CollisionService, svc, ours, theirs, time.Unix(0, 0)) {
		t.Fatal("expected collision loss")
	}
	if svc.Instance != "kitchen-2" {
		t.Fatalf("svc.Instance = %q, want kitchen-2", svc.Instance)
	}
}

func TestAddServiceToRunningPCBRestartsProbing(t *testing.T) {
	st := model.NewStore("alpha")
	q := txqueue.NewQueue()
	m := NewMachine(st, q, zeroRand{})
	pcb := model.NewPCB(model.PCBKey{Interface: "eth0", Family: model.FamilyV4})
	pcb.State = model.PCBRunning

	svc := &model.Service{Type: "_http", Proto: "_tcp", Port: 80}
	if _, err := st.AddService(svc, 16); err != nil {
		t.Fatal(err)
	}
	m.AddService(pcb, svc.ID(), time.Unix(0, 0))
	if pcb.State != model.PCBProbe1 {
		t.Fatalf("state = %v, want PROBE_1", pcb.State)
	}
}

func TestGoodbyeSchedulesImmediateTTLZero(t *testing.T) {
	st := model.NewStore("alpha")
	q := txqueue.NewQueue()
	m := NewMachine(st, q, zeroRand{})
	svc := &model.Service{Type: "_http", Proto: "_tcp", Port: 80}
	if _, err := st.AddService(svc, 16); err != nil {
		t.Fatal(err)
	}
	pcb := model.NewPCB(model.PCBKey{Interface: "eth0", Family: model.FamilyV4})
	now := time.Unix(5000, 0)
	m.Goodbye(pcb, svc, now)

	due := q.DueHead(now)
	if len(due) != 1 || due[0].Msg.Answers[0].TTL != 0 {
		t.Fatalf("goodbye packet = %+v", due)
	}
}

func TestSharedDelayCycleRepeatsFourSteps(t *testing.T) {
	var c SharedDelayCycle
	want := []time.Duration{25 * time.Millisecond, 50 * time.Millisecond, 75 * time.Millisecond, 100 * time.Millisecond, 25 * time.Millisecond}
	for i, w := range want {
		if got := c.Next(); got != w {
			t.Fatalf("step %d = %v, want %v", i, got, w)
		}
	}
}
