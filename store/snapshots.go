package store

import (
	"time"

	"bookstr/enrich"
)

const (
	relayListKeyPrefix = "relaylist:"
	profileKeyPrefix   = "profile:"
)

// RelayListSnapshot is a pubkey's last-known relay endpoints, persisted so
// the client can connect before the network answers on restart.
type RelayListSnapshot struct {
	PubKey    string    `json:"pubkey"`
	Relays    []string  `json:"relays"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ProfileSnapshot is a cached display profile.
type ProfileSnapshot struct {
	PubKey    string         `json:"pubkey"`
	Profile   enrich.Profile `json:"profile"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// Snapshots layers typed accessors over a KV backend.
type Snapshots struct {
	kv KV
}

// NewSnapshots wraps kv with typed snapshot helpers.
func NewSnapshots(kv KV) *Snapshots {
	return &Snapshots{kv: kv}
}

// SaveRelayList persists the relay list for a pubkey.
func (s *Snapshots) SaveRelayList(pubkey string, relays []string) error {
	snap := RelayListSnapshot{
		PubKey:    pubkey,
		Relays:    relays,
		FetchedAt: time.Now(),
	}
	return setJSON(s.kv, relayListKeyPrefix+pubkey, snap)
}

// RelayList loads a persisted relay list. Returns ErrNotFound when no
// snapshot exists.
func (s *Snapshots) RelayList(pubkey string) (RelayListSnapshot, error) {
	var snap RelayListSnapshot
	err := getJSON(s.kv, relayListKeyPrefix+pubkey, &snap)
	return snap, err
}

// SaveProfile persists a display profile snapshot.
func (s *Snapshots) SaveProfile(pubkey string, profile enrich.Profile) error {
	snap := ProfileSnapshot{
		PubKey:    pubkey,
		Profile:   profile,
		FetchedAt: time.Now(),
	}
	return setJSON(s.kv, profileKeyPrefix+pubkey, snap)
}

// Profile loads a persisted profile snapshot.
func (s *Snapshots) Profile(pubkey string) (ProfileSnapshot, error) {
	var snap ProfileSnapshot
	err := getJSON(s.kv, profileKeyPrefix+pubkey, &snap)
	return snap, err
}
