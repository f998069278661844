package dispatch

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/kdanielm/mdnsd/internal/browse"
	"github.com/kdanielm/mdnsd/internal/model"
	"github.com/kdanielm/mdnsd/internal/query"
	"github.com/kdanielm/mdnsd/internal/statemachine"
	"github.com/kdanielm/mdnsd/internal/txqueue"
	"github.com/kdanielm/mdnsd/internal/wire"
)

func newFixture(t *testing.T) (*Dispatcher, *model.Store, *txqueue.Queue, *query.Engine, *model.Service) {
	t.Helper()
	store := model.NewStore("kitchen")
	if err := store.SetInstanceName("kitchen"); err != nil {
		t.Fatal(err)
	}
	svc, err := store.AddService(&model.Service{Type: "_http", Proto: "_tcp", Port: 80}, 0)
	if err != nil {
		t.Fatal(err)
	}
	q := txqueue.NewQueue()
	m := statemachine.NewMachine(store, q, rand.New(rand.NewSource(1)))
	qe := query.NewEngine()
	be := browse.NewEngine()
	d := NewDispatcher(store, q, m, qe, be, Config{})
	return d, store, q, qe, svc
}

func encode(t *testing.T, msg *wire.Message) []byte {
	t.Helper()
	data, err := wire.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHandleQueryBuildsScheduledAnswer(t *testing.T) {
	d, _, q, _, _ := newFixture(t)
	pcb := model.NewPCB(model.PCBKey{Interface: "eth0", Family: model.FamilyV4})
	pcb.LocalAddr = "192.0.2.10"
	pcb.State = model.PCBRunning

	now := time.Unix(0, 0)
	data := encode(t, &wire.Message{Questions: []wire.Question{{Name: "_http._tcp.local", Type: wire.TypePTR}}})
	d.HandlePacket(data, pcb, net.ParseIP("192.0.2.20"), 5353, now)

	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	due := q.DueHead(now.Add(200 * time.Millisecond))
	if len(due) != 1 {
		t.Fatalf("due packets = %d, want 1", len(due))
	}
	if len(due[0].Msg.Answers) != 1 || due[0].Msg.Answers[0].PTR != "kitchen._http._tcp.local" {
		t.Fatalf("answer = %+v", due[0].Msg.Answers)
	}
}

func TestKnownAnswerSuppressionDropsSatisfiedAnswer(t *testing.T) {
	d, _, q, _, _ := newFixture(t)
	pcb := model.NewPCB(model.PCBKey{Interface: "eth0", Family: model.FamilyV4})
	pcb.LocalAddr = "192.0.2.10"
	pcb.State = model.PCBRunning

	now := time.Unix(0, 0)
	data := encode(t, &wire.Message{
		Questions: []wire.Question{{Name: "_http._tcp.local", Type: wire.TypePTR}},
		Answers: []wire.Record{{
			Name: "_http._tcp.local", Type: wire.TypePTR, Class: wire.ClassINET,
			TTL: 4500, PTR: "kitchen._http._tcp.local",
		}},
	})
	d.HandlePacket(data, pcb, net.ParseIP("192.0.2.20"), 5353, now)

	if q.Len() != 0 {
		t.Fatalf("queue len = %d, want 0 (already-known answer should suppress our reply)", q.Len())
	}
}

func TestUnicastQuestionDispatchesImmediately(t *testing.T) {
	d, _, q, _, _ := newFixture(t)
	pcb := model.NewPCB(model.PCBKey{Interface: "eth0", Family: model.FamilyV4})
	pcb.LocalAddr = "192.0.2.10"
	pcb.State = model.PCBRunning

	now := time.Unix(0, 0)
	data := encode(t, &wire.Message{Questions: []wire.Question{{Name: "_http._tcp.local", Type: wire.TypePTR, Unicast: true}}})
	d.HandlePacket(data, pcb, net.ParseIP("192.0.2.20"), 4000, now)

	due := q.DueHead(now)
	if len(due) != 1 {
		t.Fatalf("due at send time = %d, want 1 (unicast reply is not jittered)", len(due))
	}
	if !due[0].Unicast || due[0].DestPort != 4000 || !due[0].Dest.Equal(net.ParseIP("192.0.2.20")) {
		t.Fatalf("unicast dispatch = %+v", due[0])
	}
}

func TestDispatchFeedsActiveQuery(t *testing.T) {
	d, _, _, qe, _ := newFixture(t)
	pcb := model.NewPCB(model.PCBKey{Interface: "eth0", Family: model.FamilyV4})
	pcb.LocalAddr = "192.0.2.10"
	pcb.State = model.PCBRunning

	active := qe.Add(&query.Query{Service: "_http", Proto: "_tcp", Type: wire.TypePTR, Timeout: time.Minute}, time.Unix(0, 0))

	data := encode(t, &wire.Message{
		Flags: wire.FlagResponse | wire.FlagAuthoritative,
		Answers: []wire.Record{{
			Name: "_http._tcp.local", Type: wire.TypePTR, Class: wire.ClassINET,
			TTL: 4500, PTR: "oven._http._tcp.local",
		}},
	})
	d.HandlePacket(data, pcb, net.ParseIP("192.0.2.30"), 5353, time.Unix(0, 0))

	results := active.Results()
	if len(results) != 1 || results[0].Instance != "oven" {
		t.Fatalf("results = %+v", results)
	}
}

func TestProbeCollisionOnSRVRenamesInstance(t *testing.T) {
	d, store, q, _, svc := newFixture(t)
	pcb := model.NewPCB(model.PCBKey{Interface: "eth0", Family: model.FamilyV4})
	pcb.LocalAddr = "192.0.2.10"
	pcb.State = model.PCBProbe2
	pcb.MergeProbe(svc.ID())

	data := encode(t, &wire.Message{
		Flags: wire.FlagResponse | wire.FlagAuthoritative,
		Answers: []wire.Record{{
			Name: "kitchen._http._tcp.local", Type: wire.TypeSRV, Class: wire.ClassINET,
			TTL: 120, SRV: wire.SRVData{Port: 9999, Target: "intruder.local"},
		}},
	})
	d.HandlePacket(data, pcb, net.ParseIP("192.0.2.40"), 5353, time.Unix(0, 0))

	if pcb.State != model.PCBProbe1 {
		t.Fatalf("pcb.State = %v, want PROBE_1 after losing the collision", pcb.State)
	}
	if store.InstanceName() != "kitchen-2" {
		t.Fatalf("instance name = %q, want mangled to kitchen-2", store.InstanceName())
	}
	if q.Len() == 0 {
		t.Fatal("expected a rescheduled probe packet after the collision")
	}
}

func TestLoopbackSuppression(t *testing.T) {
	d, _, q, _, _ := newFixture(t)
	d.Config.SuppressOwnQueries = true
	pcb := model.NewPCB(model.PCBKey{Interface: "eth0", Family: model.FamilyV4})
	pcb.LocalAddr = "192.0.2.10"
	pcb.State = model.PCBRunning

	data := encode(t, &wire.Message{Questions: []wire.Question{{Name: "_http._tcp.local", Type: wire.TypePTR}}})
	d.HandlePacket(data, pcb, net.ParseIP("192.0.2.10"), 5353, time.Unix(0, 0))

	if q.Len() != 0 {
		t.Fatalf("queue len = %d, want 0 (own traffic should be suppressed)", q.Len())
	}
}
