package receiver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Unidata/rmtp"
)

func TestRequestQueueFIFO(t *testing.T) {
	q := newRequestQueue()
	q.push(request{kind: reqMissingBOP, index: 1})
	q.push(request{kind: reqMissingData, index: 2})

	r, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, rmtp.ProdIndex(1), r.index)

	r, ok = q.pop()
	require.True(t, ok)
	require.Equal(t, rmtp.ProdIndex(2), r.index)
}

func TestRequestQueueDisableUnblocksPop(t *testing.T) {
	q := newRequestQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.disable()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pop did not unblock after disable")
	}
}

func TestPushMissingDataChunksLargeGaps(t *testing.T) {
	e := &Engine{rq: newRequestQueue()}
	const end = maxReqSpan*2 + 100
	e.pushMissingData(5, 0, end)

	var covered uint32
	for covered < end {
		r, ok := e.rq.pop()
		require.True(t, ok)
		require.Equal(t, rmtp.ProdIndex(5), r.index)
		require.Equal(t, covered, r.seqnum)
		require.LessOrEqual(t, r.payloadlen, uint32(maxReqSpan))
		covered += r.payloadlen
	}
	require.Equal(t, uint32(end), covered)
}

func TestRequestMissingBOPRangeDedup(t *testing.T) {
	e := &Engine{rq: newRequestQueue(), bopSet: make(map[rmtp.ProdIndex]bool)}
	e.requestMissingBOPRange(0, 3)
	require.Equal(t, 2, len(e.rq.items))

	e.requestMissingBOPRange(0, 3)
	require.Equal(t, 2, len(e.rq.items), "already-requested indices must not be requested twice")
}

func TestWatchdogFiresAfterDeadline(t *testing.T) {
	w := newWatchdog()
	fired := make(chan rmtp.ProdIndex, 1)
	go w.run(func(idx rmtp.ProdIndex) { fired <- idx })
	defer w.stop()

	w.push(7, 30*time.Millisecond)
	select {
	case idx := <-fired:
		require.Equal(t, rmtp.ProdIndex(7), idx)
	case <-time.After(time.Second):
		t.Fatal("watchdog never fired")
	}
}

func TestWatchdogPreemptedDeadlineNeverFires(t *testing.T) {
	w := newWatchdog()
	fired := make(chan rmtp.ProdIndex, 2)
	go w.run(func(idx rmtp.ProdIndex) { fired <- idx })
	defer w.stop()

	w.push(1, 50*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	w.push(2, 50*time.Millisecond)

	select {
	case idx := <-fired:
		require.Equal(t, rmtp.ProdIndex(2), idx, "preempted deadline must not fire")
	case <-time.After(time.Second):
		t.Fatal("watchdog never fired")
	}
	select {
	case <-fired:
		t.Fatal("watchdog fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}
