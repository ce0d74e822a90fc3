package sender

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Unidata/rmtp"
)

func TestNewStreamIDsAreUnique(t *testing.T) {
	a := newStreamID()
	b := newStreamID()
	require.NotEqual(t, a, b)
}

func TestSendProductRejectsOversizedMetadata(t *testing.T) {
	e := New(rmtp.DefaultConfig(), nil, nil)
	_, err := e.SendProduct([]byte("payload"), make([]byte, rmtp.MetaMax+1))
	require.ErrorIs(t, err, rmtp.ErrMetadataTooLarge)
}

func TestSendProductRejectsAfterFatalError(t *testing.T) {
	e := New(rmtp.DefaultConfig(), nil, nil)
	e.SetFatal(rmtp.ErrStopped)
	_, err := e.SendProduct([]byte("payload"), nil)
	require.ErrorIs(t, err, rmtp.ErrStopped)
}
