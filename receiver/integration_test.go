//go:build integration

// End-to-end sender/receiver round trips over real loopback sockets.
// Gated behind the integration build tag because, like arq_test.go's
// "time" tag, a CI sandbox without multicast routing can't run these
// reliably: `go test ./...` skips them by default.
package receiver_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Unidata/rmtp"
	"github.com/Unidata/rmtp/receiver"
	"github.com/Unidata/rmtp/sender"
)

type recordingSendNotifier struct {
	mu   sync.Mutex
	eops []rmtp.ProdIndex
}

func (n *recordingSendNotifier) OnEOP(index rmtp.ProdIndex) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.eops = append(n.eops, index)
}

func (n *recordingSendNotifier) sawEOP(index rmtp.ProdIndex) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.eops {
		if e == index {
			return true
		}
	}
	return false
}

type recordingRecvNotifier struct {
	mu     sync.Mutex
	dst    []byte
	bop    chan uint32
	eop    chan struct{}
	missed chan rmtp.ProdIndex
}

func newRecordingRecvNotifier() *recordingRecvNotifier {
	return &recordingRecvNotifier{
		bop:    make(chan uint32, 8),
		eop:    make(chan struct{}, 8),
		missed: make(chan rmtp.ProdIndex, 8),
	}
}

func (n *recordingRecvNotifier) OnBOP(prodsize uint32, metadata []byte) []byte {
	n.mu.Lock()
	n.dst = make([]byte, prodsize)
	buf := n.dst
	n.mu.Unlock()
	n.bop <- prodsize
	return buf
}

func (n *recordingRecvNotifier) OnEOP() {
	n.eop <- struct{}{}
}

func (n *recordingRecvNotifier) OnMissedProd(index rmtp.ProdIndex) {
	n.missed <- index
}

func (n *recordingRecvNotifier) buffer() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dst
}

// startPair brings up one sender and one receiver engine on multicast
// group 239.1.2.3 at the given multicast port and loopback TCP port,
// tearing both down at test end.
func startPair(t *testing.T, mcastPort, tcpPort int) (*sender.Engine, *recordingSendNotifier, *receiver.Engine, *recordingRecvNotifier) {
	cfg := rmtp.DefaultConfig()
	cfg.McastAddr = "239.1.2.3"
	cfg.McastPort = mcastPort
	cfg.TCPAddr = "127.0.0.1"
	cfg.TCPPort = tcpPort
	cfg.IfaceAddr = "127.0.0.1"
	cfg.RetentionTimeout = 5 * time.Second
	cfg.EOPWatchdogTimeout = 200 * time.Millisecond

	sendN := &recordingSendNotifier{}
	s := sender.New(cfg, sendN, nil)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	recvN := newRecordingRecvNotifier()
	r := receiver.New(cfg, recvN, nil)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })

	// Let the receiver's listener/connect loop settle before the first
	// product goes out.
	time.Sleep(100 * time.Millisecond)

	return s, sendN, r, recvN
}

func TestLosslessSingleProduct(t *testing.T) {
	s, sendN, _, recvN := startPair(t, 31998, 31444)

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}

	idx, err := s.SendProduct(payload, []byte("meta"))
	require.NoError(t, err)

	select {
	case prodsize := <-recvN.bop:
		require.Equal(t, uint32(len(payload)), prodsize)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never saw BOP")
	}

	select {
	case <-recvN.eop:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never saw EOP")
	}

	require.Equal(t, payload, recvN.buffer())
	require.Eventually(t, func() bool {
		return sendN.sawEOP(idx)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestZeroLengthProduct(t *testing.T) {
	s, _, _, recvN := startPair(t, 31999, 31445)

	_, err := s.SendProduct(nil, nil)
	require.NoError(t, err)

	select {
	case prodsize := <-recvN.bop:
		require.Equal(t, uint32(0), prodsize)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never saw BOP")
	}

	select {
	case <-recvN.eop:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver never saw EOP")
	}

	require.Empty(t, recvN.buffer())
}
