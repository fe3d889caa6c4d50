package seal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealRoundTrip(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	sealed, err := Seal(key, "I need someone to talk to")
	require.NoError(t, err)
	require.NotEqual(t, "I need someone to talk to", sealed)

	opened, err := Open(key, sealed)
	require.NoError(t, err)
	require.Equal(t, "I need someone to talk to", opened)
}

func TestOpenWrongKey(t *testing.T) {
	key1, err := NewKey()
	require.NoError(t, err)
	key2, err := NewKey()
	require.NoError(t, err)

	sealed, err := Seal(key1, "hello")
	require.NoError(t, err)

	_, err = Open(key2, sealed)
	require.ErrorIs(t, err, ErrOpenFailed)
}

func TestOpenOrPlaceholder(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	sealed, err := Seal(key, "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", OpenOrPlaceholder(key, sealed))

	other, err := NewKey()
	require.NoError(t, err)
	require.Equal(t, Placeholder, OpenOrPlaceholder(other, sealed))
	require.Equal(t, Placeholder, OpenOrPlaceholder(key, "not base64!!"))
}

func TestReseal(t *testing.T) {
	roomKey, err := NewKey()
	require.NoError(t, err)
	connKey, err := NewKey()
	require.NoError(t, err)

	sealed, err := Seal(roomKey, "see you at 5")
	require.NoError(t, err)

	resealed, err := Reseal(roomKey, connKey, sealed)
	require.NoError(t, err)
	require.NotEqual(t, sealed, resealed)

	opened, err := Open(connKey, resealed)
	require.NoError(t, err)
	require.Equal(t, "see you at 5", opened)
}
