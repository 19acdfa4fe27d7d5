package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"bookstr/cache"
	"bookstr/nostr"
)

// ParseProfileEvent decodes a kind 0 event's JSON content. Malformed content
// yields nil: the single offending record is discarded and the caller falls
// back to a placeholder identity without invalidating the rest of the batch.
func ParseProfileEvent(evt nostr.Event) *Profile {
	if evt.Kind != nostr.KindProfile {
		return nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(evt.Content), &fields); err != nil {
		slog.Debug("discarding malformed profile", "pubkey", nostr.ShortID(evt.PubKey), "error", err)
		return nil
	}

	profile := &Profile{}
	if name, ok := fields["name"].(string); ok {
		profile.Name = name
	}
	if displayName, ok := fields["display_name"].(string); ok {
		profile.DisplayName = displayName
	}
	if picture, ok := fields["picture"].(string); ok {
		profile.Picture = picture
	}
	if about, ok := fields["about"].(string); ok {
		profile.About = about
	}
	if nip05, ok := fields["nip05"].(string); ok {
		profile.Nip05 = nip05
	}
	return profile
}

// cachedProfile is the stored cache representation. NotFound entries record
// that a lookup already failed so we do not re-query on every page.
type cachedProfile struct {
	Profile   *Profile `json:"profile"`
	FetchedAt int64    `json:"fetched_at"`
	NotFound  bool     `json:"not_found"`
}

// profileCacheTTLs
const (
	profileTTL         = 1 * time.Hour
	profileNotFoundTTL = 30 * time.Second
)

// EventFetcher produces events matching a filter from the relay layer.
type EventFetcher func(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error)

// ProfileService resolves author identities from kind 0 events with caching
// and request coalescing. Implements ProfileResolver.
type ProfileService struct {
	fetch   EventFetcher
	backend cache.Backend
	batcher *Batcher
	logger  *slog.Logger
}

// NewProfileService creates a profile service over the given relay fetcher
// and cache backend.
func NewProfileService(fetch EventFetcher, backend cache.Backend, logger *slog.Logger) *ProfileService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ProfileService{
		fetch:   fetch,
		backend: backend,
		logger:  logger,
	}
	// 50ms window merges overlapping concurrent requests into one REQ
	s.batcher = NewBatcher(s.fetchDirect, 50*time.Millisecond, 100, logger)
	return s
}

// LookupProfiles resolves profiles for the given pubkeys. Missing entries are
// fetched through the batcher; pubkeys that cannot be resolved are absent
// from the result, never an error.
func (s *ProfileService) LookupProfiles(ctx context.Context, pubkeys []string) (map[string]*Profile, error) {
	if len(pubkeys) == 0 {
		return nil, nil
	}

	cached, missing := s.getCached(ctx, pubkeys)
	if len(missing) == 0 {
		return cached, nil
	}

	fresh := s.batcher.LookupMany(ctx, missing)

	result := make(map[string]*Profile, len(cached)+len(fresh))
	for pk, p := range cached {
		result[pk] = p
	}
	for pk, p := range fresh {
		if p != nil {
			result[pk] = p
		}
	}
	return result, nil
}

// getCached returns cached profiles and the pubkeys still needing a fetch.
// Pubkeys with a cached not-found marker are neither returned nor refetched.
func (s *ProfileService) getCached(ctx context.Context, pubkeys []string) (map[string]*Profile, []string) {
	found := make(map[string]*Profile)
	var missing []string

	keys := make([]string, len(pubkeys))
	for i, pk := range pubkeys {
		keys[i] = "profile:" + pk
	}

	results, err := s.backend.GetMultiple(ctx, keys)
	if err != nil {
		return found, pubkeys
	}

	for i, pubkey := range pubkeys {
		data, ok := results[keys[i]]
		if !ok {
			missing = append(missing, pubkey)
			continue
		}
		var cached cachedProfile
		if err := json.Unmarshal(data, &cached); err != nil {
			missing = append(missing, pubkey)
			continue
		}
		if !cached.NotFound && cached.Profile != nil {
			found[pubkey] = cached.Profile
		}
	}
	return found, missing
}

// fetchDirect is the batch function: one kind 0 REQ for all missing pubkeys.
func (s *ProfileService) fetchDirect(pubkeys []string) map[string]*Profile {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := s.fetch(ctx, nostr.Filter{
		Authors: pubkeys,
		Kinds:   []int{nostr.KindProfile},
		Limit:   len(pubkeys),
	})
	if err != nil {
		s.logger.Warn("profile fetch failed", "pubkeys", len(pubkeys), "error", err)
		return nil
	}

	// Keep only the newest profile event per pubkey
	newest := make(map[string]nostr.Event, len(events))
	for _, evt := range events {
		if cur, ok := newest[evt.PubKey]; !ok || evt.CreatedAt > cur.CreatedAt {
			newest[evt.PubKey] = evt
		}
	}

	profiles := make(map[string]*Profile, len(newest))
	for pk, evt := range newest {
		if profile := ParseProfileEvent(evt); profile != nil {
			profiles[pk] = profile
		}
	}

	s.storeCached(ctx, pubkeys, profiles)
	return profiles
}

// storeCached writes fetched profiles, marking unresolved pubkeys not-found.
func (s *ProfileService) storeCached(ctx context.Context, requested []string, profiles map[string]*Profile) {
	now := time.Now().Unix()
	for _, pk := range requested {
		profile := profiles[pk]
		data, err := json.Marshal(cachedProfile{
			Profile:   profile,
			FetchedAt: now,
			NotFound:  profile == nil,
		})
		if err != nil {
			continue
		}
		ttl := profileTTL
		if profile == nil {
			ttl = profileNotFoundTTL
		}
		s.backend.Set(ctx, "profile:"+pk, data, ttl)
	}
}
