// Package worker reconstructs the worker-goroutine lifecycle mixin used
// throughout the teacher corpus (embedded as `worker.Worker` in
// client2/connection.go, client2/arq.go, map/client/stream.go and
// sockatz/common/conn.go: a HaltCh() closed on shutdown, a Go(fn) that
// tracks a goroutine, and Halt()/Wait() for cooperative, idempotent
// teardown). The katzenpost package that defines that type was not itself
// part of the retrieved example pack, so this is a from-scratch
// reimplementation of the same call shape, extended with the single-slot
// first-exception cell spec.md §4.10 and §7 require (C10).
package worker

import (
	"sync"
)

// Worker is embedded by engines and their long-running goroutines. It
// supplies cooperative cancellation (HaltCh) and single-source exception
// capture. The zero value is ready to use; embedders must not copy it
// after first use.
type Worker struct {
	haltOnce sync.Once
	haltCh   chan struct{}
	initOnce sync.Once

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error
}

func (w *Worker) lazyInit() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// HaltCh returns the channel that is closed when Halt is called. Every
// worker goroutine's blocking syscall or select must include this channel
// as a cancellation point (spec.md §5 "Cancellation semantics").
func (w *Worker) HaltCh() <-chan struct{} {
	w.lazyInit()
	return w.haltCh
}

// Go spawns fn as a tracked goroutine. Wait will not return until every
// goroutine started with Go has returned.
func (w *Worker) Go(fn func()) {
	w.lazyInit()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Halt requests cancellation of all tracked goroutines. Idempotent and
// non-blocking: it only closes HaltCh, it does not wait for goroutines to
// observe it.
func (w *Worker) Halt() {
	w.lazyInit()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
}

// Wait blocks until every goroutine started with Go has returned. Callers
// normally call Halt first.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// SetFatal records err as the worker's fatal exception, if none has been
// recorded yet. Only the first call has any effect, matching spec.md
// §4.10's single-slot "first exception" cell. Resource errors (bind
// failures, socket create failures) are the only class that should reach
// this; transient transport and protocol-parse errors are handled locally
// by the affected goroutine and never reach SetFatal. Guarded by errMu
// rather than sync.Once alone: Once only orders callers that themselves
// go through Do, so a concurrent Err() read (e.g. from Stop() racing a
// worker goroutine's SetFatal) needs its own lock against the write below.
func (w *Worker) SetFatal(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Err returns the first fatal exception recorded via SetFatal, or nil.
// The engines' Stop and sender.Engine.SendProduct check this and propagate
// it to the caller; neither engine's Start reads it.
func (w *Worker) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}
