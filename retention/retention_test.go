package retention

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Unidata/rmtp"
)

func TestAddGetRemove(t *testing.T) {
	m := New()
	e := NewEntry(1, []byte("payload"), []byte("meta"), []string{"r1"})
	m.Add(e)

	got, ok := m.Get(1)
	require.True(t, ok)
	require.Equal(t, e, got)

	require.True(t, m.Remove(1))
	_, ok = m.Get(1)
	require.False(t, ok)
}

func TestRemoveIdempotent(t *testing.T) {
	m := New()
	m.Add(NewEntry(1, nil, nil, nil))
	require.True(t, m.Remove(1))
	require.False(t, m.Remove(1))
}

func TestReleaseReceiverRemovesOnceEmpty(t *testing.T) {
	m := New()
	m.Add(NewEntry(1, nil, nil, []string{"a", "b"}))

	require.False(t, m.ReleaseReceiver(1, "a"))
	_, ok := m.Get(1)
	require.True(t, ok, "entry should still be present with one pending receiver left")

	require.True(t, m.ReleaseReceiver(1, "b"))
	_, ok = m.Get(1)
	require.False(t, ok)
}

func TestReleaseReceiverIdempotent(t *testing.T) {
	m := New()
	m.Add(NewEntry(1, nil, nil, []string{"a"}))
	require.True(t, m.ReleaseReceiver(1, "a"))
	// second call: entry already removed.
	require.False(t, m.ReleaseReceiver(1, "a"))
}

func TestReleaseReceiverUnknownIndex(t *testing.T) {
	m := New()
	require.False(t, m.ReleaseReceiver(rmtp.ProdIndex(99), "a"))
}

func TestReleaseUnknownReceiverIsNoop(t *testing.T) {
	m := New()
	m.Add(NewEntry(1, nil, nil, []string{"a"}))
	require.False(t, m.ReleaseReceiver(1, "not-pending"))
	_, ok := m.Get(1)
	require.True(t, ok)
}

func TestLen(t *testing.T) {
	m := New()
	require.Equal(t, 0, m.Len())
	m.Add(NewEntry(1, nil, nil, nil))
	m.Add(NewEntry(2, nil, nil, nil))
	require.Equal(t, 2, m.Len())
}
