// Package sender implements the sending half of the protocol (spec.md
// §4.8, component C8): multicast emission of products, the sender-side
// retention map, per-receiver retransmission service goroutines, and the
// retention-timer goroutine that releases retention after a grace period.
//
// Grounded on client2/connection.go's connectWorker/doConnect/onWireConn
// split: an accept/coordinator goroutine spawns one worker per peer
// connection, each registered with the shared worker.Worker so Stop can
// cancel and join every one of them. Here the PKI/Sphinx per-connection
// concerns are replaced with RMTP's retention-map/bitmap concerns.
package sender

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Unidata/rmtp"
	"github.com/Unidata/rmtp/internal/rmtplog"
	"github.com/Unidata/rmtp/internal/worker"
	"github.com/Unidata/rmtp/mcast"
	"github.com/Unidata/rmtp/metrics"
	"github.com/Unidata/rmtp/rate"
	"github.com/Unidata/rmtp/retention"
	"github.com/Unidata/rmtp/rstream"
	"github.com/Unidata/rmtp/timerqueue"
	"github.com/Unidata/rmtp/wire"
)

// Engine is the sender side of one RMTP session: one multicast group, one
// TCP listener accepting per-receiver retransmission connections.
type Engine struct {
	worker.Worker

	cfg      rmtp.Config
	notifier rmtp.SendNotifier
	log      interface {
		Infof(string, ...interface{})
		Errorf(string, ...interface{})
		Debugf(string, ...interface{})
	}
	metrics *metrics.Collector

	mc  *mcast.Sender
	ln  *rstream.Listener
	ret *retention.Map
	tq  *timerqueue.Queue
	rs  *rate.Shaper

	mu        sync.Mutex
	nextIndex rmtp.ProdIndex

	connsMu sync.Mutex
	conns   map[string]*rstream.Conn // stream id -> connection, for retention snapshots and shutdown
}

// New constructs a sender Engine. Start must be called before SendProduct.
func New(cfg rmtp.Config, notifier rmtp.SendNotifier, mc *metrics.Collector) *Engine {
	if mc == nil {
		mc = metrics.NewCollector("rmtp", "sender")
	}
	return &Engine{
		cfg:       cfg,
		notifier:  notifier,
		log:       rmtplog.New(nil, "sender"),
		metrics:   mc,
		ret:       retention.New(),
		tq:        timerqueue.New(),
		rs:        rate.New(cfg.RateBPS),
		nextIndex: cfg.InitialProdIndex,
		conns:     make(map[string]*rstream.Conn),
	}
}

// Start opens the multicast sender endpoint, binds the TCP listener, and
// launches the accept/coordinator and retention-timer goroutines. It
// returns immediately (spec.md §4.8).
func (e *Engine) Start() (err error) {
	e.mc, err = mcast.OpenSender(e.cfg.McastAddr, e.cfg.McastPort, e.cfg.MulticastTTL, e.cfg.IfaceAddr)
	if err != nil {
		return fmt.Errorf("sender: open multicast: %w", err)
	}
	var addr string
	e.ln, addr, err = rstream.BindAndListen(e.cfg.TCPAddr, e.cfg.TCPPort)
	if err != nil {
		e.mc.Close()
		return fmt.Errorf("sender: bind stream listener: %w", err)
	}
	e.log.Infof("listening for receivers on %s", addr)

	e.Go(e.acceptLoop)
	e.Go(e.retentionTimerLoop)
	return nil
}

// Stop disables the delay queue, cancels the accept and per-connection
// goroutines, joins them, and returns any pending resource error (spec.md
// §4.8, §4.10).
func (e *Engine) Stop() error {
	e.tq.Disable()
	e.Halt()
	if e.ln != nil {
		e.ln.Close()
	}
	e.connsMu.Lock()
	for _, conn := range e.conns {
		conn.Close()
	}
	e.connsMu.Unlock()
	e.Wait()
	if e.mc != nil {
		e.mc.Close()
	}
	return e.Err()
}

// SendProduct is synchronous from the application's perspective: it adds
// a retention entry, emits BOP, all data blocks (rate-shaped), and EOP,
// pushes the retention deadline, and returns the assigned prodindex
// before incrementing it for the next call (spec.md §4.8).
func (e *Engine) SendProduct(payload, metadata []byte) (rmtp.ProdIndex, error) {
	if err := e.Err(); err != nil {
		return 0, err
	}
	select {
	case <-e.HaltCh():
		return 0, rmtp.ErrStopped
	default:
	}
	if len(metadata) > rmtp.MetaMax {
		return 0, rmtp.ErrMetadataTooLarge
	}

	e.mu.Lock()
	index := e.nextIndex
	e.nextIndex++
	e.mu.Unlock()

	prodsize := uint32(len(payload))

	e.connsMu.Lock()
	receivers := make([]string, 0, len(e.conns))
	for id := range e.conns {
		receivers = append(receivers, id)
	}
	e.connsMu.Unlock()

	entry := retention.NewEntry(index, payload, metadata, receivers)
	e.ret.Add(entry)

	if err := e.emitBOP(index, prodsize, metadata); err != nil {
		return index, err
	}
	if err := e.emitData(index, payload); err != nil {
		return index, err
	}
	if err := e.emitEOP(index); err != nil {
		return index, err
	}

	e.tq.Push(index, e.cfg.RetentionTimeout)
	e.metrics.RetentionEntries.Set(float64(e.ret.Len()))
	e.metrics.DelayQueueDepth.Set(float64(e.tq.Size()))
	e.metrics.ProductsSent.Inc()
	return index, nil
}

func (e *Engine) emitBOP(index rmtp.ProdIndex, prodsize uint32, metadata []byte) error {
	body := wire.EncodeBOP(prodsize, metadata)
	h := wire.Header{ProdIndex: index, Seqnum: 0, PayloadLen: uint16(len(body)), Flags: wire.BOP}
	return e.mc.Send(h, body)
}

func (e *Engine) emitData(index rmtp.ProdIndex, payload []byte) error {
	prodsize := uint32(len(payload))
	for off := uint32(0); off < prodsize; off += rmtp.DataLen {
		end := off + rmtp.DataLen
		if end > prodsize {
			end = prodsize
		}
		block := payload[off:end]
		e.rs.StartPacket(len(block))
		h := wire.Header{ProdIndex: index, Seqnum: off, PayloadLen: uint16(len(block)), Flags: wire.MemData}
		if err := e.mc.Send(h, block); err != nil {
			return err
		}
		e.rs.EndPacketAndSleep()
	}
	return nil
}

func (e *Engine) emitEOP(index rmtp.ProdIndex) error {
	h := wire.Header{ProdIndex: index, Seqnum: 0, PayloadLen: 0, Flags: wire.EOP}
	return e.mc.Send(h, nil)
}

// acceptLoop is the accept/coordinator goroutine (spec.md §4.8): accepts
// new receiver connections and spawns a per-connection retransmission
// service goroutine for each.
func (e *Engine) acceptLoop() {
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			select {
			case <-e.HaltCh():
				return
			default:
			}
			e.log.Errorf("accept: %v", err)
			return
		}
		e.handleNewConn(conn)
	}
}

func (e *Engine) handleNewConn(conn *rstream.Conn) {
	id := newStreamID()
	e.connsMu.Lock()
	e.conns[id] = conn
	e.connsMu.Unlock()

	e.Go(func() {
		defer func() {
			conn.Close()
			e.connsMu.Lock()
			delete(e.conns, id)
			e.connsMu.Unlock()
			e.releaseFromAll(id)
		}()
		e.serviceConn(id, conn)
	})
}

// releaseFromAll drops id from the pending set of every live retention
// entry, as the teacher's connection-loss handling does for its peer
// bookkeeping (spec.md §7: "sender drops and logs the connection,
// releases its receiver-id from all retention entries").
func (e *Engine) releaseFromAll(id string) {
	for _, idx := range e.ret.Indices() {
		if e.ret.ReleaseReceiver(idx, id) {
			e.metrics.RetentionEntries.Set(float64(e.ret.Len()))
			if e.notifier != nil {
				e.notifier.OnEOP(idx)
			}
		}
	}
}

// serviceConn is the per-connection retransmission service loop of
// spec.md §4.8's table: RETX_REQ / BOP_REQ / EOP_REQ / RETX_END.
func (e *Engine) serviceConn(id string, conn *rstream.Conn) {
	for {
		select {
		case <-e.HaltCh():
			return
		default:
		}
		h, err := conn.RecvHeader()
		if err != nil {
			return
		}
		switch h.Flags {
		case wire.RetxReq:
			e.handleRetxReq(conn, h)
		case wire.BopReq:
			e.handleBopReq(conn, h)
		case wire.EopReq:
			e.handleEopReq(conn, h)
		case wire.RetxEnd:
			e.handleRetxEnd(id, h)
		default:
			if !h.Flags.Known() {
				e.log.Debugf("serviceConn: dropping frame with unrecognized flags %#x", uint16(h.Flags))
			}
			// unexpected-but-valid or unknown flags ignored, not fatal (spec.md §4.8)
		}
	}
}

func (e *Engine) handleRetxReq(conn *rstream.Conn, h wire.Header) {
	entry, ok := e.ret.Get(h.ProdIndex)
	if !ok {
		e.sendRetxRej(conn, h.ProdIndex)
		return
	}
	out := h.Seqnum + uint32(h.PayloadLen)
	if out > entry.Len {
		out = entry.Len
	}
	start := rmtp.AlignDown(h.Seqnum)
	for start < out {
		end := start + rmtp.DataLen
		if end > entry.Len {
			end = entry.Len
		}
		block := entry.Payload[start:end]
		rh := wire.Header{ProdIndex: h.ProdIndex, Seqnum: start, PayloadLen: uint16(len(block)), Flags: wire.RetxData}
		if err := conn.SendFramed(rh, block); err != nil {
			return
		}
		e.metrics.BytesRetransmitted.Add(float64(len(block)))
		start = end
	}
}

func (e *Engine) handleBopReq(conn *rstream.Conn, h wire.Header) {
	entry, ok := e.ret.Get(h.ProdIndex)
	if !ok {
		e.sendRetxRej(conn, h.ProdIndex)
		return
	}
	body := wire.EncodeBOP(entry.Len, entry.Metadata)
	rh := wire.Header{ProdIndex: h.ProdIndex, Seqnum: 0, PayloadLen: uint16(len(body)), Flags: wire.RetxBop}
	_ = conn.SendFramed(rh, body)
}

func (e *Engine) handleEopReq(conn *rstream.Conn, h wire.Header) {
	if _, ok := e.ret.Get(h.ProdIndex); !ok {
		e.sendRetxRej(conn, h.ProdIndex)
		return
	}
	rh := wire.Header{ProdIndex: h.ProdIndex, Seqnum: 0, PayloadLen: 0, Flags: wire.RetxEop}
	_ = conn.SendFramed(rh, nil)
}

func (e *Engine) handleRetxEnd(id string, h wire.Header) {
	if e.ret.ReleaseReceiver(h.ProdIndex, id) {
		e.metrics.RetentionEntries.Set(float64(e.ret.Len()))
		if e.notifier != nil {
			e.notifier.OnEOP(h.ProdIndex)
		}
	}
}

func (e *Engine) sendRetxRej(conn *rstream.Conn, index rmtp.ProdIndex) {
	rh := wire.Header{ProdIndex: index, Seqnum: 0, PayloadLen: 0, Flags: wire.RetxRej}
	_ = conn.SendFramed(rh, nil)
}

// retentionTimerLoop is the retention-timer goroutine (spec.md §4.8):
// pops the delay queue and removes expired entries, notifying on_eop for
// any entry still present (i.e. not already released by every receiver).
func (e *Engine) retentionTimerLoop() {
	for {
		index, err := e.tq.PopWhenReady()
		if err != nil {
			return
		}
		if e.ret.Remove(index) {
			e.metrics.RetentionEntries.Set(float64(e.ret.Len()))
			if e.notifier != nil {
				e.notifier.OnEOP(index)
			}
		}
	}
}

var streamIDCounter uint64
var streamIDMu sync.Mutex

// newStreamID assigns a small opaque identifier to a newly accepted
// connection, used as the retention map's pending-receiver key (spec.md
// §3's "active receiver stream identifiers").
func newStreamID() string {
	streamIDMu.Lock()
	defer streamIDMu.Unlock()
	streamIDCounter++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, streamIDCounter)
	return string(buf)
}
