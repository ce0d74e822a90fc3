package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoHaltWait(t *testing.T) {
	var w Worker
	started := make(chan struct{})
	w.Go(func() {
		close(started)
		<-w.HaltCh()
	})
	<-started
	w.Halt()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after Halt()")
	}
}

func TestHaltIdempotent(t *testing.T) {
	var w Worker
	require.NotPanics(t, func() {
		w.Halt()
		w.Halt()
		w.Halt()
	})
}

func TestSetFatalKeepsFirst(t *testing.T) {
	var w Worker
	first := errors.New("first")
	second := errors.New("second")
	w.SetFatal(first)
	w.SetFatal(second)
	require.Equal(t, first, w.Err())
}

func TestSetFatalIgnoresNil(t *testing.T) {
	var w Worker
	w.SetFatal(nil)
	require.NoError(t, w.Err())
	err := errors.New("boom")
	w.SetFatal(err)
	require.Equal(t, err, w.Err())
}
