package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookstr/enrich"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("k", []byte("value")))

	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, s.Remove("k"))
	_, err = s.Get("k")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStoreGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("absent")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Removing an absent key is not an error
	assert.NoError(t, s.Remove("absent"))
}

func TestStoreOverwrite(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("k", []byte("one")))
	require.NoError(t, s.Set("k", []byte("two")))

	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func TestSnapshotsRelayList(t *testing.T) {
	s := newTestStore(t)
	snaps := NewSnapshots(s)

	relays := []string{"wss://relay.damus.io", "wss://nos.lol"}
	require.NoError(t, snaps.SaveRelayList("alice", relays))

	got, err := snaps.RelayList("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.PubKey)
	assert.Equal(t, relays, got.Relays)
	assert.False(t, got.FetchedAt.IsZero())

	_, err = snaps.RelayList("bob")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSnapshotsProfile(t *testing.T) {
	s := newTestStore(t)
	snaps := NewSnapshots(s)

	profile := enrich.Profile{Name: "alice", DisplayName: "Alice", About: "reader"}
	require.NoError(t, snaps.SaveProfile("alice", profile))

	got, err := snaps.Profile("alice")
	require.NoError(t, err)
	assert.Equal(t, profile, got.Profile)
}
