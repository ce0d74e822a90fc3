// Package mcast implements the datagram transport of spec.md §4.2
// (component C2): multicast join/leave, gather-send/peek/read, TTL and
// interface selection.
//
// Grounded on the teacher corpus's practice of wrapping a raw net
// connection to get control beyond stdlib's bare API
// (sockatz/common/conn.go's QUICProxyConn wraps a net.PacketConn so QUIC
// can drive it directly); here the wrapped layer is
// golang.org/x/net/ipv4.PacketConn, the idiomatic way to get multicast
// TTL/interface control that net.ListenMulticastUDP alone does not expose.
package mcast

import (
	"net"
	"strconv"

	"golang.org/x/net/ipv4"

	"github.com/Unidata/rmtp"
	"github.com/Unidata/rmtp/wire"
)

// Sender is the sender-side multicast endpoint: bound for sends to iface
// with the requested TTL, connected to (groupAddr, port).
type Sender struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	dst     *net.UDPAddr
	scratch []byte
}

// OpenSender creates a multicast send endpoint. Construction fails if the
// socket cannot be created or iface cannot be resolved (spec.md §4.2,
// a resource error per §7).
func OpenSender(groupAddr string, port int, ttl int, iface string) (*Sender, error) {
	laddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(iface, "0"))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(groupAddr, strconv.Itoa(port)))
	if err != nil {
		conn.Close()
		return nil, err
	}
	pconn := ipv4.NewPacketConn(conn)
	if err := pconn.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, err
	}
	if ifi, err := interfaceFor(iface); err == nil && ifi != nil {
		_ = pconn.SetMulticastInterface(ifi)
	}
	return &Sender{conn: conn, pconn: pconn, dst: dst, scratch: make([]byte, rmtp.MaxPacketLen)}, nil
}

// Send gather-sends header+payload as a single datagram.
func (s *Sender) Send(h wire.Header, payload []byte) error {
	buf := s.scratch[:rmtp.HeaderLen+len(payload)]
	wire.Encode(buf, h)
	copy(buf[rmtp.HeaderLen:], payload)
	_, err := s.conn.WriteToUDP(buf, s.dst)
	return err
}

// Close releases the socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

// Receiver is the receiver-side multicast endpoint: bound to (*, port),
// joined to the multicast group on INADDR_ANY.
type Receiver struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	peeked  []byte
	peekN   int
	hasPeek bool
}

// Join binds to (*, port) and joins groupAddr on the system-chosen
// default interface (INADDR_ANY), per spec.md §4.2.
func Join(groupAddr string, port int) (*Receiver, error) {
	laddr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}
	pconn := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(groupAddr)}
	if err := pconn.JoinGroup(nil, group); err != nil {
		conn.Close()
		return nil, err
	}
	return &Receiver{conn: conn, pconn: pconn}, nil
}

// fill reads the next datagram into the peek buffer if one is not already
// buffered there.
func (r *Receiver) fill() error {
	if r.hasPeek {
		return nil
	}
	buf := make([]byte, rmtp.MaxPacketLen)
	n, err := r.conn.Read(buf)
	if err != nil {
		return err
	}
	r.peeked = buf
	r.peekN = n
	r.hasPeek = true
	return nil
}

// PeekHeader returns the next datagram's header without consuming the
// datagram: the following ReadInto must still return the same bytes. May
// block waiting for a datagram to arrive (spec.md §4.2, §5 cancellation
// point for the multicast-ingest thread).
func (r *Receiver) PeekHeader() (wire.Header, error) {
	if err := r.fill(); err != nil {
		return wire.Header{}, err
	}
	return wire.Decode(r.peeked[:r.peekN])
}

// ReadInto performs a gather-read of the buffered datagram into a scratch
// header (discarded by the caller, already returned by PeekHeader) and
// dst. On an unknown flags value, the datagram is consumed and discarded
// per spec.md §4.2; ReadInto always consumes exactly one datagram.
//
// wire.Decode validates that a datagram's declared PayloadLen matches the
// bytes actually following the header (spec.md §4.1), and ReadInto also
// rejects a header-only datagram that declares a non-zero PayloadLen, so
// by the time this copy runs, r.peeked[HeaderLen:peekN] is always exactly
// PayloadLen bytes long — callers size dst to h.PayloadLen and never see
// a truncated copy.
func (r *Receiver) ReadInto(dst []byte) (wire.Header, int, error) {
	if err := r.fill(); err != nil {
		return wire.Header{}, 0, err
	}
	h, err := wire.Decode(r.peeked[:r.peekN])
	r.hasPeek = false
	if err != nil {
		return wire.Header{}, 0, err
	}
	if r.peekN-rmtp.HeaderLen != int(h.PayloadLen) {
		return wire.Header{}, 0, rmtp.ErrTooShort
	}
	n := copy(dst, r.peeked[rmtp.HeaderLen:r.peekN])
	return h, n, nil
}

// Discard drops the currently buffered datagram without copying its
// payload anywhere (the receiver's discard-on-no-buffer path, spec.md §9).
func (r *Receiver) Discard() error {
	if err := r.fill(); err != nil {
		return err
	}
	r.hasPeek = false
	return nil
}

// Close releases the socket.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

func interfaceFor(addr string) (*net.Interface, error) {
	if addr == "" || addr == "0.0.0.0" {
		return nil, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.String() == addr {
				return &ifi, nil
			}
		}
	}
	return nil, nil
}
