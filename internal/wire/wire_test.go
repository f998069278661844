package wire

import (
	"net"
	"testing"
)

func TestNameRoundTripNoCompression(t *testing.T) {
	names := []string{"kitchen._http._tcp.local", "local", "_services._dns-sd._udp.local"}
	for _, n := range names {
		buf, err := PutName(nil, n, NewCompressionTable())
		if err != nil {
			t.Fatalf("PutName(%q): %v", n, err)
		}
		got, next, err := GetName(buf, 0)
		if err != nil {
			t.Fatalf("GetName(%q): %v", n, err)
		}
		if got != n {
			t.Errorf("round trip = %q, want %q", got, n)
		}
		if next != len(buf) {
			t.Errorf("next = %d, want %d", next, len(buf))
		}
	}
}

func TestNameCompressionSharesSuffix(t *testing.T) {
	comp := NewCompressionTable()
	buf, err := PutName(nil, "_http._tcp.local", comp)
	if err != nil {
		t.Fatal(err)
	}
	firstLen := len(buf)
	buf, err = PutName(buf, "kitchen._http._tcp.local", comp)
	if err != nil {
		t.Fatal(err)
	}
	// "kitchen" label (1+7 bytes) + 2-byte pointer, not the full remainder again.
	if len(buf)-firstLen != 1+7+2 {
		t.Fatalf("compressed length = %d, want %d", len(buf)-firstLen, 1+7+2)
	}
	got, _, err := GetName(buf, firstLen)
	if err != nil {
		t.Fatal(err)
	}
	if got != "kitchen._http._tcp.local" {
		t.Errorf("got %q", got)
	}
}

func TestPointerMustPointBackward(t *testing.T) {
	// Hand-craft a name at offset 0 whose pointer targets itself.
	data := []byte{0xC0, 0x00}
	if _, _, err := GetName(data, 0); err != ErrForwardPointer {
		t.Fatalf("err = %v, want ErrForwardPointer", err)
	}
}

func TestPointerCycleRejected(t *testing.T) {
	// Offset 2 points back to offset 0; offset 0 is a label "a" followed by
	// the same pointer at offset 2 again -- a cycle even though each jump
	// is backward from the pointer's own position.
	// Construct: [0]=len(1) [1]='a' [2]=ptr->0 (second visit targets 0, not below the previous target 0, rejected)
	data := []byte{1, 'a', 0xC0, 0x00}
	if _, _, err := GetName(data, 2); err != ErrForwardPointer {
		t.Fatalf("err = %v, want ErrForwardPointer", err)
	}
}

func TestMalformedLengthRejected(t *testing.T) {
	data := []byte{0x40, 'x'}
	if _, _, err := GetName(data, 0); err != ErrMalformedLength {
		t.Fatalf("err = %v, want ErrMalformedLength", err)
	}
}

func TestTruncatedRejected(t *testing.T) {
	data := []byte{5, 'a', 'b'}
	if _, _, err := GetName(data, 0); err != ErrTruncated {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestParseFQDNBasic(t *testing.T) {
	cases := []struct {
		in   string
		want Name
	}{
		{"kitchen._http._tcp.local", Name{Host: "kitchen", Service: "_http", Proto: "_tcp", Domain: "local"}},
		{"_http._tcp.local", Name{Service: "_http", Proto: "_tcp", Domain: "local"}},
		{"_printer._sub._http._tcp.local", Name{Subtype: true, SubtypeLabel: "_printer", Service: "_http", Proto: "_tcp", Domain: "local"}},
		{"alpha.local", Name{Host: "alpha", Domain: "local"}},
	}
	for _, c := range cases {
		got := ParseFQDN(c.in, false)
		if got.Host != c.want.Host || got.Service != c.want.Service || got.Proto != c.want.Proto ||
			got.Domain != c.want.Domain || got.Subtype != c.want.Subtype || got.SubtypeLabel != c.want.SubtypeLabel ||
			got.Invalid {
			t.Errorf("ParseFQDN(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseFQDNRejectsNonLocalWithoutReverse(t *testing.T) {
	got := ParseFQDN("1.0.0.127.in-addr.arpa", false)
	if !got.Invalid {
		t.Error("expected arpa name to be invalid when reverse lookups disabled")
	}
	got = ParseFQDN("1.0.0.127.in-addr.arpa", true)
	if got.Invalid || !got.Reverse {
		t.Error("expected arpa name to be valid+reverse when reverse lookups enabled")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{
		ID:    0,
		Flags: FlagResponse | FlagAuthoritative,
		Answers: []Record{
			{Name: "_http._tcp.local", Type: TypePTR, Class: ClassINET, TTL: 4500, PTR: "kitchen._http._tcp.local"},
			{Name: "kitchen._http._tcp.local", Type: TypeSRV, Class: ClassINET, CacheFlush: true, TTL: 120,
				SRV: SRVData{Priority: 0, Weight: 0, Port: 8080, Target: "kitchen.local"}},
			{Name: "kitchen._http._tcp.local", Type: TypeTXT, Class: ClassINET, TTL: 4500,
				TXT: []TxtField{{Key: "path", Value: []byte("/"), HasValue: true}}},
			{Name: "kitchen.local", Type: TypeA, Class: ClassINET, TTL: 120, A: net.IPv4(192, 0, 2, 5)},
		},
	}
	buf, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Answers) != len(msg.Answers) {
		t.Fatalf("answers = %d, want %d", len(got.Answers), len(msg.Answers))
	}
	if got.Answers[0].PTR != "kitchen._http._tcp.local" {
		t.Errorf("PTR = %q", got.Answers[0].PTR)
	}
	if got.Answers[1].SRV.Port != 8080 || got.Answers[1].SRV.Target != "kitchen.local" {
		t.Errorf("SRV = %+v", got.Answers[1].SRV)
	}
	if !got.Answers[1].CacheFlush {
		t.Error("expected cache-flush bit preserved")
	}
	if len(got.Answers[2].TXT) != 1 || got.Answers[2].TXT[0].Key != "path" {
		t.Errorf("TXT = %+v", got.Answers[2].TXT)
	}
	if !got.Answers[3].A.Equal(net.IPv4(192, 0, 2, 5)) {
		t.Errorf("A = %v", got.Answers[3].A)
	}
}

func TestEncodeRejectsOversizePacket(t *testing.T) {
	msg := &Message{Flags: FlagResponse}
	for i := 0; i < 100; i++ {
		msg.Answers = append(msg.Answers, Record{
			Name: "kitchen._http._tcp.local", Type: TypeTXT, Class: ClassINET, TTL: 4500,
			TXT: []TxtField{{Key: "k", Value: make([]byte, 200), HasValue: true}},
		})
	}
	if _, err := Encode(msg); err != ErrPacketTooLarge {
		t.Fatalf("err = %v, want ErrPacketTooLarge", err)
	}
}

func TestEmptyTXTEmitsSingleZeroItem(t *testing.T) {
	got := packTxt(nil)
	if len(got) != 1 || got[0] != 0 {
		t.Errorf("packTxt(nil) = %v, want [0]", got)
	}
}
