// Package transport supplies the external collaborators spec.md §6 defines:
// the UDP socket (open/write/recv/close per interface and address family),
// the interface-event watcher, and the tick source. The core packages only
// see the Socket/InterfaceWatcher/Clock interfaces; this package's default
// implementations are the only code in the module that touches a live
// network socket or the OS clock.
package transport

import (
	"fmt"
	"net"
	"runtime"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/kdanielm/mdnsd/internal/model"
)

// Port is the well-known mDNS UDP port (RFC 6762 §3).
const Port = 5353

var (
	groupIPv4 = net.IPv4(224, 0, 0, 251)
	groupIPv6 = net.ParseIP("ff02::fb")

	groupAddr4 = &net.UDPAddr{IP: groupIPv4, Port: Port}
	groupAddr6 = &net.UDPAddr{IP: groupIPv6, Port: Port}

	wildcardAddr4 = &net.UDPAddr{IP: net.IPv4zero, Port: Port}
	wildcardAddr6 = &net.UDPAddr{IP: net.IPv6unspecified, Port: Port}
)

// Packet is one received datagram, the payload of an RX_HANDLE action
// (spec.md §6: "recv path delivers (interface, family, src, src_port, dst,
// multicast_flag, bytes)").
type Packet struct {
	Interface string
	Family    model.Family
	Src       net.IP
	SrcPort   int
	Data      []byte
}

// Socket is the UDP collaborator the core consumes. A single Socket owns at
// most one IPv4 and one IPv6 wildcard-bound connection for the whole
// process; Open/Close join and leave the multicast group on a specific
// interface without opening a new connection per interface.
type Socket interface {
	Open(iface *net.Interface, family model.Family) error
	Write(iface *net.Interface, family model.Family, dst net.IP, port int, data []byte) error
	Recv() <-chan Packet
	Close(iface *net.Interface, family model.Family) error
	CloseAll()
}

// udpSocket is Socket's default implementation. The wildcard-bind-then-join
// shape and the per-GOOS multicast-interface selection on send are both
// patterns shared across the retrieval pack's mDNS responders; neither the
// join call nor the send call are exposed as distinct network round-trips,
// matching spec.md §6's "open joins the group" / "write" split.
type udpSocket struct {
	mu sync.Mutex

	raw4  *net.UDPConn
	raw6  *net.UDPConn
	conn4 *ipv4.PacketConn
	conn6 *ipv6.PacketConn

	joined map[string]bool

	out chan Packet
}

// NewSocket binds the IPv4 and IPv6 wildcard mDNS sockets. A family that
// fails to bind (no IPv6 support, port already taken by another responder)
// does not fail the call; Open reports the error for that family the first
// time a caller tries to use it.
func NewSocket() (Socket, error) {
	s := &udpSocket{joined: make(map[string]bool), out: make(chan Packet, 64)}

	if c, err := net.ListenUDP("udp4", wildcardAddr4); err == nil {
		s.raw4 = c
		s.conn4 = ipv4.NewPacketConn(c)
		s.conn4.SetControlMessage(ipv4.FlagInterface, true)
		go s.recvLoop4()
	}
	if c, err := net.ListenUDP("udp6", wildcardAddr6); err == nil {
		s.raw6 = c
		s.conn6 = ipv6.NewPacketConn(c)
		s.conn6.SetControlMessage(ipv6.FlagInterface, true)
		go s.recvLoop6()
	}
	if s.conn4 == nil && s.conn6 == nil {
		return nil, fmt.Errorf("transport: failed to bind either mDNS socket")
	}
	return s, nil
}

func joinKey(iface *net.Interface, family model.Family) string {
	name := "*"
	if iface != nil {
		name = iface.Name
	}
	return name + "\x00" + family.String()
}

func (s *udpSocket) Open(iface *net.Interface, family model.Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := joinKey(iface, family)
	if s.joined[key] {
		return nil
	}
	var err error
	switch family {
	case model.FamilyV4:
		if s.conn4 == nil {
			return fmt.Errorf("transport: no ipv4 socket bound")
		}
		err = s.conn4.JoinGroup(iface, &net.UDPAddr{IP: groupIPv4})
	case model.FamilyV6:
		if s.conn6 == nil {
			return fmt.Errorf("transport: no ipv6 socket bound")
		}
		err = s.conn6.JoinGroup(iface, &net.UDPAddr{IP: groupIPv6})
	}
	if err != nil {
		return err
	}
	s.joined[key] = true
	return nil
}

func (s *udpSocket) Close(iface *net.Interface, family model.Family) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := joinKey(iface, family)
	if !s.joined[key] {
		return nil
	}
	delete(s.joined, key)
	switch family {
	case model.FamilyV4:
		if s.conn4 != nil {
			return s.conn4.LeaveGroup(iface, &net.UDPAddr{IP: groupIPv4})
		}
	case model.FamilyV6:
		if s.conn6 != nil {
			return s.conn6.LeaveGroup(iface, &net.UDPAddr{IP: groupIPv6})
		}
	}
	return nil
}

// CloseAll closes both wildcard connections, ending both receive loops.
func (s *udpSocket) CloseAll() {
	if s.raw4 != nil {
		s.raw4.Close()
	}
	if s.raw6 != nil {
		s.raw6.Close()
	}
}

func (s *udpSocket) Recv() <-chan Packet { return s.out }

// Write sends data on the given interface/family. dst == nil means "the
// well-known multicast group", matching txqueue.TxPacket's nil-Dest
// convention for scheduled multicast responses.
func (s *udpSocket) Write(iface *net.Interface, family model.Family, dst net.IP, port int, data []byte) error {
	if family == model.FamilyV4 {
		return s.write4(iface, dst, port, data)
	}
	return s.write6(iface, dst, port, data)
}

func (s *udpSocket) write4(iface *net.Interface, dst net.IP, port int, data []byte) error {
	if s.conn4 == nil {
		return fmt.Errorf("transport: no ipv4 socket bound")
	}
	addr := groupAddr4
	if dst != nil {
		addr = &net.UDPAddr{IP: dst, Port: port}
	}
	var wcm ipv4.ControlMessage
	if iface != nil {
		if err := setMulticastInterface4(s.conn4, iface); err != nil {
			return err
		}
		wcm.IfIndex = iface.Index
	}
	_, err := s.conn4.WriteTo(data, &wcm, addr)
	return err
}

func (s *udpSocket) write6(iface *net.Interface, dst net.IP, port int, data []byte) error {
	if s.conn6 == nil {
		return fmt.Errorf("transport: no ipv6 socket bound")
	}
	addr := groupAddr6
	if dst != nil {
		addr = &net.UDPAddr{IP: dst, Port: port}
	}
	var wcm ipv6.ControlMessage
	if iface != nil {
		if err := setMulticastInterface6(s.conn6, iface); err != nil {
			return err
		}
		wcm.IfIndex = iface.Index
	}
	_, err := s.conn6.WriteTo(data, &wcm, addr)
	return err
}

// setMulticastInterface4/6 skip the Windows Teredo pseudo-interface rather
// than failing the send outright — the same quirk every GOOS switch in the
// retrieval pack's mDNS responders carries for SetMulticastInterface.
func setMulticastInterface4(conn *ipv4.PacketConn, iface *net.Interface) error {
	if runtime.GOOS == "windows" && iface.Name == "Teredo Tunneling Pseudo-Interface" {
		return nil
	}
	return conn.SetMulticastInterface(iface)
}

func setMulticastInterface6(conn *ipv6.PacketConn, iface *net.Interface) error {
	if runtime.GOOS == "windows" && iface.Name == "Teredo Tunneling Pseudo-Interface" {
		return nil
	}
	return conn.SetMulticastInterface(iface)
}

func (s *udpSocket) recvLoop4() {
	buf := make([]byte, 65536)
	for {
		n, cm, from, err := s.conn4.ReadFrom(buf)
		if err != nil {
			return
		}
		s.deliver(model.FamilyV4, buf[:n], cm4Index(cm), from)
	}
}

func (s *udpSocket) recvLoop6() {
	buf := make([]byte, 65536)
	for {
		n, cm, from, err := s.conn6.ReadFrom(buf)
		if err != nil {
			return
		}
		s.deliver(model.FamilyV6, buf[:n], cm6Index(cm), from)
	}
}

func cm4Index(cm *ipv4.ControlMessage) int {
	if cm == nil {
		return 0
	}
	return cm.IfIndex
}

func cm6Index(cm *ipv6.ControlMessage) int {
	if cm == nil {
		return 0
	}
	return cm.IfIndex
}

func (s *udpSocket) deliver(family model.Family, data []byte, ifIndex int, from net.Addr) {
	pkt := Packet{Family: family, Data: append([]byte(nil), data...)}
	if ifIndex != 0 {
		if iface, err := net.InterfaceByIndex(ifIndex); err == nil {
			pkt.Interface = iface.Name
		}
	}
	if udpAddr, ok := from.(*net.UDPAddr); ok {
		pkt.Src = udpAddr.IP
		pkt.SrcPort = udpAddr.Port
	}
	s.out <- pkt
}
