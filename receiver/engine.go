// Package receiver implements the receiving half of the protocol
// (spec.md §4.9, component C9): multicast ingest, out-of-order loss
// detection, a missing-block request queue, a retransmission receive
// loop, an EOP watchdog, and completion reporting via the product
// bitmap.
//
// Grounded on map/client/stream.go's reader/writer goroutine split
// (s.Go(s.reader), s.Go(s.writer)) and its prodWriter wake-up-the-writer
// channel idiom, here repurposed as the watchdog's preemption condition
// variable. State is scoped to a single current product at a time,
// matching the original implementation's single BOPmsg/prodptr/bitmap
// fields rather than a per-product table.
package receiver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Unidata/rmtp"
	"github.com/Unidata/rmtp/bitmap"
	"github.com/Unidata/rmtp/internal/rmtplog"
	"github.com/Unidata/rmtp/internal/worker"
	"github.com/Unidata/rmtp/mcast"
	"github.com/Unidata/rmtp/metrics"
	"github.com/Unidata/rmtp/rstream"
	"github.com/Unidata/rmtp/wire"
)

type reqKind int

const (
	reqMissingBOP reqKind = iota
	reqMissingData
	reqMissingEOP
)

type request struct {
	kind       reqKind
	index      rmtp.ProdIndex
	seqnum     uint32
	payloadlen uint32
}

// requestQueue is the FIFO of spec.md §3's "request queue": producers are
// the ingest, retransmission-receive and watchdog goroutines; the single
// consumer is the retransmission-request goroutine.
type requestQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []request
	disabled bool
}

func newRequestQueue() *requestQueue {
	q := &requestQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *requestQueue) push(r request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disabled {
		return
	}
	q.items = append(q.items, r)
	q.cond.Broadcast()
}

func (q *requestQueue) pop() (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.disabled {
		q.cond.Wait()
	}
	if q.disabled && len(q.items) == 0 {
		return request{}, false
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r, true
}

func (q *requestQueue) disable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disabled = true
	q.cond.Broadcast()
}

// watchdog is the single-slot, preemptible EOP timer of spec.md §4.9:
// each BOP preempts the previous product's deadline and installs its own.
type watchdog struct {
	mu         sync.Mutex
	cond       *sync.Cond
	generation uint64
	index      rmtp.ProdIndex
	deadline   time.Time
	active     bool
	stopped    bool
}

func newWatchdog() *watchdog {
	w := &watchdog{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// push installs a new deadline for index, preempting whatever deadline
// (if any) was previously being waited on.
func (w *watchdog) push(index rmtp.ProdIndex, d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.generation++
	w.index = index
	w.deadline = time.Now().Add(d)
	w.active = true
	w.cond.Broadcast()
}

// preempt wakes the watchdog without installing a new deadline, used
// when the current product's EOP arrives.
func (w *watchdog) preempt() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.generation++
	w.cond.Broadcast()
}

func (w *watchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.cond.Broadcast()
}

// run is the EOP-watchdog goroutine body: waits up to the installed
// duration, and if not preempted by then, reports fire(index) to the
// caller-supplied callback.
func (w *watchdog) run(fire func(rmtp.ProdIndex)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		for !w.active && !w.stopped {
			w.cond.Wait()
		}
		if w.stopped {
			return
		}
		gen := w.generation
		idx := w.index
		deadline := w.deadline
		w.active = false

		wait := time.Until(deadline)
		var timer *time.Timer
		if wait > 0 {
			timer = time.AfterFunc(wait, func() {
				w.mu.Lock()
				w.cond.Broadcast()
				w.mu.Unlock()
			})
		}
		for w.generation == gen && !w.stopped && time.Now().Before(deadline) {
			w.cond.Wait()
		}
		if timer != nil {
			timer.Stop()
		}
		fired := w.generation == gen && !w.stopped
		if w.stopped {
			return
		}
		if fired {
			w.mu.Unlock()
			fire(idx)
			w.mu.Lock()
		}
	}
}

// rxState is the receiver's single current-product state (spec.md §4.9
// "State"), guarded by mu (the "rx state" mutex of spec.md §5's table).
type rxState struct {
	mu sync.Mutex

	started     bool
	current     rmtp.ProdIndex
	highWater   uint32
	prodsize    uint32
	metadata    []byte
	prodptr     []byte
	bm          *bitmap.Bitmap
	eopReceived bool
}

// Engine is the receiver side of one RMTP session.
type Engine struct {
	worker.Worker

	cfg      rmtp.Config
	notifier rmtp.RecvNotifier
	log      interface {
		Infof(string, ...interface{})
		Errorf(string, ...interface{})
		Debugf(string, ...interface{})
	}
	metrics *metrics.Collector

	mc   *mcast.Receiver
	conn *rstream.Conn

	rx  rxState
	wd  *watchdog
	rq  *requestQueue

	bopSetMu sync.Mutex
	bopSet   map[rmtp.ProdIndex]bool
}

// New constructs a receiver Engine. Start must be called to begin
// ingesting.
func New(cfg rmtp.Config, notifier rmtp.RecvNotifier, mc *metrics.Collector) *Engine {
	if mc == nil {
		mc = metrics.NewCollector("rmtp", "receiver")
	}
	return &Engine{
		cfg:      cfg,
		notifier: notifier,
		log:      rmtplog.New(nil, "receiver"),
		metrics:  mc,
		wd:       newWatchdog(),
		rq:       newRequestQueue(),
		bopSet:   make(map[rmtp.ProdIndex]bool),
	}
}

// Start joins the multicast group, connects the retransmission stream,
// and launches the watchdog, request, retransmission-receive and
// multicast-ingest goroutines, in that order (spec.md §4.9).
func (e *Engine) Start() error {
	mc, err := mcast.Join(e.cfg.McastAddr, e.cfg.McastPort)
	if err != nil {
		return fmt.Errorf("receiver: join multicast: %w", err)
	}
	e.mc = mc

	conn, err := rstream.Connect(e.cfg.TCPAddr, e.cfg.TCPPort, e.HaltCh())
	if err != nil {
		mc.Close()
		return fmt.Errorf("receiver: connect stream: %w", err)
	}
	e.conn = conn

	e.rx.current = e.cfg.InitialProdIndex - 1

	e.Go(func() { e.wd.run(e.onWatchdogFired) })
	e.Go(e.retransmitRequestLoop)
	e.Go(e.retransmitReceiveLoop)
	e.Go(e.multicastIngestLoop)
	return nil
}

// Stop cancels every goroutine and joins them (spec.md §4.9).
func (e *Engine) Stop() error {
	e.Halt()
	e.wd.stop()
	e.rq.disable()
	if e.mc != nil {
		e.mc.Close()
	}
	if e.conn != nil {
		e.conn.Close()
	}
	e.Wait()
	return e.Err()
}

// multicastIngestLoop is the multicast-ingest goroutine of spec.md §4.9.
func (e *Engine) multicastIngestLoop() {
	scratch := make([]byte, rmtp.MaxPacketLen)
	for {
		select {
		case <-e.HaltCh():
			return
		default:
		}
		h, err := e.mc.PeekHeader()
		if err != nil {
			if errors.Is(err, rmtp.ErrTooShort) {
				// Malformed or truncated datagram (bad length): drop it
				// and keep ingesting, per spec.md §7 —
				// this is a per-datagram parse failure, not a transport
				// error, so it must not end the ingest loop.
				e.mc.Discard()
				continue
			}
			select {
			case <-e.HaltCh():
				return
			default:
			}
			e.log.Errorf("multicast ingest: %v", err)
			return
		}
		switch h.Flags {
		case wire.BOP:
			payload := make([]byte, h.PayloadLen)
			if _, _, err := e.mc.ReadInto(payload); err != nil {
				continue
			}
			bop, err := wire.DecodeBOP(payload)
			if err != nil {
				continue
			}
			e.handleBOP(h.ProdIndex, bop.ProdSize, bop.Metadata)
		case wire.MemData:
			e.handleMemData(h, scratch)
		case wire.EOP:
			if _, _, err := e.mc.ReadInto(nil); err != nil {
				continue
			}
			e.rx.mu.Lock()
			cur := e.rx.current
			e.rx.eopReceived = true
			e.rx.mu.Unlock()
			if h.ProdIndex == cur {
				e.wd.preempt()
				e.runEOPHandler(cur)
			}
		default:
			if !h.Flags.Known() {
				e.log.Debugf("multicast ingest: dropping datagram with unrecognized flags %#x", uint16(h.Flags))
			}
			e.mc.Discard()
		}
	}
}

func (e *Engine) handleMemData(h wire.Header, scratch []byte) {
	e.rx.mu.Lock()
	cur := e.rx.current
	started := e.rx.started
	e.rx.mu.Unlock()

	if !started || h.ProdIndex != cur {
		if _, _, err := e.mc.ReadInto(nil); err != nil {
			return
		}
		if started {
			e.requestMissingBOPRange(cur, h.ProdIndex)
		}
		return
	}

	dst := scratch[:h.PayloadLen]
	_, n, err := e.mc.ReadInto(dst)
	if err != nil {
		return
	}
	dst = dst[:n]

	e.rx.mu.Lock()
	needGapReq := h.Seqnum > e.rx.highWater
	gapStart := rmtp.AlignDown(e.rx.highWater)
	gapEnd := h.Seqnum
	if e.rx.prodptr != nil && int(h.Seqnum)+len(dst) <= len(e.rx.prodptr) {
		copy(e.rx.prodptr[h.Seqnum:], dst)
	}
	e.rx.bm.Set(rmtp.BlockIndex(h.Seqnum))
	if end := h.Seqnum + uint32(len(dst)); end > e.rx.highWater {
		e.rx.highWater = end
	}
	e.rx.mu.Unlock()

	if needGapReq {
		e.pushMissingData(cur, gapStart, gapEnd)
	}
}

// maxReqSpan is the largest byte range one MISSING_DATA request can
// name: the wire header's payloadlen field is 16 bits wide even when
// reused to carry a requested-range length (spec.md §6), so a gap wider
// than this is split into several requests, each still block-aligned.
const maxReqSpan = (65535 / rmtp.DataLen) * rmtp.DataLen

// pushMissingData enqueues one or more MISSING_DATA requests covering
// [start, end), chunked to maxReqSpan so every request's payloadlen fits
// the wire header's 16-bit field.
func (e *Engine) pushMissingData(index rmtp.ProdIndex, start, end uint32) {
	for start < end {
		span := end - start
		if span > maxReqSpan {
			span = maxReqSpan
		}
		e.rq.push(request{kind: reqMissingData, index: index, seqnum: start, payloadlen: span})
		start += span
	}
}

// requestMissingBOPRange enqueues MISSING_BOP for every prodindex
// strictly between cur and newIndex, wrap-aware, each at most once
// (spec.md §4.9, guarded by missing_bop_set).
func (e *Engine) requestMissingBOPRange(cur, newIndex rmtp.ProdIndex) {
	for idx := cur + 1; idx.Precedes(newIndex); idx++ {
		e.bopSetMu.Lock()
		already := e.bopSet[idx]
		if !already {
			e.bopSet[idx] = true
		}
		e.bopSetMu.Unlock()
		if !already {
			e.rq.push(request{kind: reqMissingBOP, index: idx})
		}
	}
}

// handleBOP implements the shared BOP handler of spec.md §4.9, used both
// from live multicast ingest and from RETX_BOP on the retransmission
// stream.
func (e *Engine) handleBOP(index rmtp.ProdIndex, prodsize uint32, metadata []byte) {
	e.wd.preempt()

	var dst []byte
	if e.notifier != nil {
		dst = e.notifier.OnBOP(prodsize, metadata)
	}

	e.rx.mu.Lock()
	e.rx.started = true
	e.rx.current = index
	e.rx.highWater = 0
	e.rx.prodsize = prodsize
	e.rx.metadata = metadata
	e.rx.prodptr = dst
	e.rx.bm = bitmap.New(rmtp.NumBlocks(prodsize))
	e.rx.eopReceived = false
	e.rx.mu.Unlock()

	e.bopSetMu.Lock()
	delete(e.bopSet, index)
	e.bopSetMu.Unlock()

	e.wd.push(index, e.cfg.EOPWatchdogTimeout)
}

// runEOPHandler implements the shared EOP handler of spec.md §4.9.
func (e *Engine) runEOPHandler(index rmtp.ProdIndex) {
	e.rx.mu.Lock()
	complete := e.rx.bm != nil && e.rx.bm.Complete()
	prodsize := e.rx.prodsize
	highWater := e.rx.highWater
	e.rx.mu.Unlock()

	if complete {
		if e.conn != nil {
			h := wire.Header{ProdIndex: index, Flags: wire.RetxEnd}
			_ = e.conn.SendFramed(h, nil)
		}
		e.metrics.ProductsReceived.Inc()
		if e.notifier != nil {
			e.notifier.OnEOP()
		}
		return
	}
	if highWater < prodsize {
		start := rmtp.AlignDown(highWater)
		e.pushMissingData(index, start, prodsize)
	}
}

func (e *Engine) onWatchdogFired(index rmtp.ProdIndex) {
	e.rx.mu.Lock()
	cur := e.rx.current
	received := e.rx.eopReceived
	e.rx.mu.Unlock()
	if cur == index && !received {
		e.rq.push(request{kind: reqMissingEOP, index: index})
	}
}

// retransmitRequestLoop is the retransmission-request goroutine of
// spec.md §4.9: drains the request queue onto the stream, one write at a
// time. Each request is removed from the queue before its write; on a
// failed write that request is dropped and the loop ends.
func (e *Engine) retransmitRequestLoop() {
	for {
		r, ok := e.rq.pop()
		if !ok {
			return
		}
		var flag wire.Flag
		switch r.kind {
		case reqMissingBOP:
			flag = wire.BopReq
		case reqMissingData:
			flag = wire.RetxReq
		case reqMissingEOP:
			flag = wire.EopReq
		}
		h := wire.Header{ProdIndex: r.index, Seqnum: r.seqnum, PayloadLen: uint16(r.payloadlen), Flags: flag}
		if err := e.conn.SendFramed(h, nil); err != nil {
			select {
			case <-e.HaltCh():
				return
			default:
			}
			e.log.Errorf("retransmission request: %v", err)
			return
		}
	}
}

// retransmitReceiveLoop is the retransmission-receive goroutine of
// spec.md §4.9's table (RETX_BOP / RETX_DATA / RETX_EOP / RETX_REJ).
func (e *Engine) retransmitReceiveLoop() {
	for {
		h, err := e.conn.RecvHeader()
		if err != nil {
			select {
			case <-e.HaltCh():
				return
			default:
			}
			e.log.Errorf("retransmission receive: %v", err)
			return
		}
		switch h.Flags {
		case wire.RetxBop:
			payload := make([]byte, h.PayloadLen)
			if err := e.conn.RecvPayloadInto(payload); err != nil {
				return
			}
			bop, err := wire.DecodeBOP(payload)
			if err != nil {
				continue
			}
			e.handleBOP(h.ProdIndex, bop.ProdSize, bop.Metadata)
			if bop.ProdSize > 0 {
				e.pushMissingData(h.ProdIndex, 0, bop.ProdSize)
			}
			e.rq.push(request{kind: reqMissingEOP, index: h.ProdIndex})
		case wire.RetxData:
			e.handleRetxData(h)
		case wire.RetxEop:
			if err := e.conn.RecvPayloadInto(nil); err != nil {
				return
			}
			e.wd.preempt()
			e.runEOPHandler(h.ProdIndex)
		case wire.RetxRej:
			if err := e.conn.RecvPayloadInto(nil); err != nil {
				return
			}
			e.metrics.ProductsMissed.Inc()
			if e.notifier != nil {
				e.notifier.OnMissedProd(h.ProdIndex)
			}
		default:
			if !h.Flags.Known() {
				e.log.Debugf("retransmission receive: dropping frame with unrecognized flags %#x", uint16(h.Flags))
			}
			buf := make([]byte, h.PayloadLen)
			_ = e.conn.RecvPayloadInto(buf)
		}
	}
}

func (e *Engine) handleRetxData(h wire.Header) {
	buf := make([]byte, h.PayloadLen)
	if err := e.conn.RecvPayloadInto(buf); err != nil {
		return
	}
	e.metrics.BytesRetransmitted.Add(float64(len(buf)))

	e.rx.mu.Lock()
	if h.ProdIndex != e.rx.current || e.rx.bm == nil {
		e.rx.mu.Unlock()
		return
	}
	if e.rx.prodptr != nil && int(h.Seqnum)+len(buf) <= len(e.rx.prodptr) {
		copy(e.rx.prodptr[h.Seqnum:], buf)
	}
	for off := h.Seqnum; off < h.Seqnum+uint32(len(buf)); off += rmtp.DataLen {
		e.rx.bm.Set(rmtp.BlockIndex(off))
	}
	if end := h.Seqnum + uint32(len(buf)); end > e.rx.highWater {
		e.rx.highWater = end
	}
	complete := e.rx.bm.Complete()
	index := e.rx.current
	e.rx.mu.Unlock()

	if complete {
		if e.conn != nil {
			rh := wire.Header{ProdIndex: index, Flags: wire.RetxEnd}
			_ = e.conn.SendFramed(rh, nil)
		}
		e.metrics.ProductsReceived.Inc()
		if e.notifier != nil {
			e.notifier.OnEOP()
		}
	}
}
