// Package rstream implements the reliable retransmission-request/reply
// stream transport of spec.md §4.3 (component C3): one TCP connection per
// receiver, framed send/recv of header+payload, and the receiver-side
// reconnect policy.
//
// Grounded on two teacher shapes: client2/connection.go's doConnect/
// onTCPConn dial-and-retry loop (capped backoff, HaltCh()-interruptible
// wait between attempts) for the receiver-side Connect, and
// stream/stream.go's reader/writer goroutine split plus its frame codec
// (there: cbor+secretbox over a katzenpost map store; here: the spec's
// raw 12-byte header framing over a plain net.TCPConn, since spec.md
// explicitly excludes end-to-end encryption).
package rstream

import (
	"errors"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/Unidata/rmtp"
	"github.com/Unidata/rmtp/wire"
)

// ErrPeerClosed is returned by RecvHeader on a short read caused by the
// peer closing the connection (spec.md §4.3).
var ErrPeerClosed = io.ErrUnexpectedEOF

// reconnectable errno-class checks. Go's net package surfaces these as
// *net.OpError wrapping a syscall.Errno or as a plain timeout; retryable
// below matches the listed syscall.Errno values and timeouts, and every
// other dial error fails the call.

// Conn wraps a TCP connection with RMTP's framed header+payload protocol.
type Conn struct {
	tcp *net.TCPConn
}

// NewConn wraps an already-established TCP connection.
func NewConn(tcp *net.TCPConn) *Conn {
	return &Conn{tcp: tcp}
}

// SendFramed writes header followed by payload as one logical frame
// (spec.md §4.3 send_framed).
func (c *Conn) SendFramed(h wire.Header, payload []byte) error {
	buf := make([]byte, rmtp.HeaderLen+len(payload))
	wire.Encode(buf, h)
	copy(buf[rmtp.HeaderLen:], payload)
	_, err := c.tcp.Write(buf)
	return err
}

// RecvHeader blocks until exactly HeaderLen bytes are read, or the peer
// closes (ErrPeerClosed) or another error occurs.
func (c *Conn) RecvHeader() (wire.Header, error) {
	buf := make([]byte, rmtp.HeaderLen)
	if _, err := io.ReadFull(c.tcp, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return wire.Header{}, ErrPeerClosed
		}
		return wire.Header{}, err
	}
	return wire.Decode(buf)
}

// RecvPayloadInto reads exactly len(dst) bytes of payload following a
// header already consumed by RecvHeader.
func (c *Conn) RecvPayloadInto(dst []byte) error {
	_, err := io.ReadFull(c.tcp, dst)
	return err
}

// Close closes the underlying TCP connection.
func (c *Conn) Close() error {
	return c.tcp.Close()
}

// Listener accepts receiver connections on the sender side. bind_and_listen
// with portHint == 0 means OS-selected, per spec.md §4.3.
type Listener struct {
	ln *net.TCPListener
}

// BindAndListen binds addr:portHint and starts listening. The listen(2)
// backlog is the operating system's default as chosen by Go's net
// package; it is not set to 50 pending connections.
func BindAndListen(addr string, portHint int) (*Listener, string, error) {
	laddr, err := net.ResolveTCPAddr("tcp4", net.JoinHostPort(addr, strconv.Itoa(portHint)))
	if err != nil {
		return nil, "", err
	}
	ln, err := net.ListenTCP("tcp4", laddr)
	if err != nil {
		return nil, "", err
	}
	return &Listener{ln: ln}, ln.Addr().String(), nil
}

// Accept blocks for the next inbound connection, enabling TCP keepalive
// with a 30-second interval per spec.md §4.3.
func (l *Listener) Accept() (*Conn, error) {
	tcp, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	tcp.SetKeepAlive(true)
	tcp.SetKeepAlivePeriod(30 * time.Second)
	return NewConn(tcp), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// dialBackoff is the fixed back-off between connect retries, per spec.md
// §4.3 ("a fixed 30-second back-off, indefinitely").
const dialBackoff = 30 * time.Second

// Connect dials addr:port, retrying indefinitely on transient network
// errors with a fixed 30-second back-off (spec.md §4.3). haltCh, if
// non-nil, is a cancellation point checked between retries so callers can
// interrupt an indefinitely-retrying connect (spec.md §5's single
// blocking-syscall-per-loop-iteration cancellation discipline).
func Connect(addr string, port int, haltCh <-chan struct{}) (*Conn, error) {
	raddr := net.JoinHostPort(addr, strconv.Itoa(port))
	for {
		d := net.Dialer{Timeout: 10 * time.Second}
		conn, err := d.Dial("tcp4", raddr)
		if err == nil {
			tcp := conn.(*net.TCPConn)
			tcp.SetKeepAlive(true)
			tcp.SetKeepAlivePeriod(30 * time.Second)
			return NewConn(tcp), nil
		}
		if !retryable(err) {
			return nil, err
		}
		select {
		case <-time.After(dialBackoff):
		case <-haltCh:
			return nil, err
		}
	}
}

// retryable reports whether err is one of the transient conditions
// (ECONNREFUSED, ETIMEDOUT, ECONNRESET, EHOSTUNREACH, ENETUNREACH, or a
// dial timeout) for which Connect should keep retrying rather than fail.
//
// opErr.Err here is a *os.SyscallError, whose Error() formats as
// "<syscall>: <message>" (e.g. "connect: connection refused"), not the bare
// message text alone — errors.Is unwraps through that formatting down to
// the underlying syscall.Errno, so it's used instead of matching the
// string literally.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.EHOSTUNREACH),
			errors.Is(opErr.Err, syscall.ENETUNREACH),
			errors.Is(opErr.Err, syscall.ETIMEDOUT):
			return true
		}
	}
	// Any other error, including one that is not a *net.OpError, is not
	// retried.
	return false
}
