package rstream

import (
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryableMatchesSyscallErrnoNotBareString(t *testing.T) {
	// opErr.Err is an *os.SyscallError whose Error() formats as
	// "<syscall>: <message>", e.g. "connect: connection refused" — not the
	// bare "connection refused" a naive string-equality check would expect.
	cases := []struct {
		errno syscall.Errno
		want  bool
	}{
		{syscall.ECONNREFUSED, true},
		{syscall.ECONNRESET, true},
		{syscall.EHOSTUNREACH, true},
		{syscall.ENETUNREACH, true},
		{syscall.ETIMEDOUT, true},
		{syscall.EACCES, false},
	}
	for _, c := range cases {
		opErr := &net.OpError{
			Op:  "dial",
			Net: "tcp4",
			Err: &os.SyscallError{Syscall: "connect", Err: c.errno},
		}
		require.Equal(t, c.want, retryable(opErr), fmt.Sprintf("errno %v, wrapped error text %q", c.errno, opErr.Err.Error()))
	}
}

func TestRetryableHandlesNilAndTimeout(t *testing.T) {
	require.False(t, retryable(nil))

	to := &net.OpError{Op: "dial", Net: "tcp4", Err: timeoutError{}}
	require.True(t, retryable(to))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
