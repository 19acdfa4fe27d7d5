package bookstr

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"bookstr/enrich"
	"bookstr/relay"
)

// RelaysConfig is the JSON configuration for relay lists. Every list falls
// back to the embedded defaults when empty.
type RelaysConfig struct {
	DefaultRelays []string `json:"defaultRelays"`
	PublishRelays []string `json:"publishRelays"`
	ProfileRelays []string `json:"profileRelays"`
}

// LoadRelaysConfig reads the relay list configuration. Path resolution order:
// the explicit argument, the RELAYS_CONFIG env var, then config/relays.json.
// Any read or parse failure falls back to the embedded defaults.
func LoadRelaysConfig(path string, logger *slog.Logger) *RelaysConfig {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = os.Getenv("RELAYS_CONFIG")
	}
	if path == "" {
		path = "config/relays.json"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("relay config file not found, using defaults", "path", path)
		} else {
			logger.Warn("could not read relay config, using defaults", "path", path, "error", err)
		}
		return defaultRelaysConfig()
	}

	var config RelaysConfig
	if err := json.Unmarshal(data, &config); err != nil {
		logger.Error("invalid JSON in relay config, using defaults", "path", path, "error", err)
		return defaultRelaysConfig()
	}

	logger.Info("loaded relay configuration",
		"path", path,
		"default", len(config.DefaultRelays),
		"publish", len(config.PublishRelays),
		"profile", len(config.ProfileRelays))
	return &config
}

// defaultRelaysConfig returns the embedded default configuration.
func defaultRelaysConfig() *RelaysConfig {
	return &RelaysConfig{
		DefaultRelays: []string{
			"wss://relay.damus.io",
			"wss://relay.nostr.band",
			"wss://relay.primal.net",
			"wss://nos.lol",
			"wss://nostr.mom",
		},
		PublishRelays: []string{
			"wss://relay.damus.io",
			"wss://relay.nostr.band",
			"wss://relay.primal.net",
		},
		ProfileRelays: []string{
			"wss://relay.nostr.band",
		},
	}
}

// Default returns the general-query relay list.
func (c *RelaysConfig) Default() []string {
	if len(c.DefaultRelays) > 0 {
		return c.DefaultRelays
	}
	return defaultRelaysConfig().DefaultRelays
}

// Publish returns the relay list for publishing events.
func (c *RelaysConfig) Publish() []string {
	if len(c.PublishRelays) > 0 {
		return c.PublishRelays
	}
	return defaultRelaysConfig().PublishRelays
}

// Profile returns the relay list for profile lookups.
func (c *RelaysConfig) Profile() []string {
	if len(c.ProfileRelays) > 0 {
		return c.ProfileRelays
	}
	return defaultRelaysConfig().ProfileRelays
}

// Options configures a Client. The zero value plus defaults gives a working
// in-memory client talking to the embedded default relays.
type Options struct {
	// Relays overrides the configured relay list entirely.
	Relays []string

	// RelaysConfigPath points at a relays.json file; defers to the
	// RELAYS_CONFIG env var and then the embedded defaults when empty.
	RelaysConfigPath string

	// RedisURL selects the redis cache backend; empty means in-process
	// memory backend. Overridable via REDIS_URL.
	RedisURL string

	// StorePath, when set, opens a Badger snapshot store at that path.
	StorePath string

	// Viewer is the consuming user's pubkey. Optional; enables
	// viewer-reacted flags and the following feed.
	Viewer string

	// Topic selects topical feed events with no ISBN reference.
	Topic string

	// AckPolicy controls publish acknowledgement semantics.
	AckPolicy relay.AckPolicy

	// BookResolver supplies bibliographic metadata by ISBN. Optional;
	// without it feed items carry placeholder titles.
	BookResolver enrich.BookResolver

	PageSize      int
	RefreshWindow time.Duration

	// Cache tiers. Query is the general tier, Feed the short-lived feed
	// tier.
	QueryFreshTTL time.Duration
	QueryStaleTTL time.Duration
	FeedFreshTTL  time.Duration
	FeedStaleTTL  time.Duration

	// LogLevel is one of debug/info/warn/error. Overridable via LOG_LEVEL.
	LogLevel string
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.RedisURL == "" {
		o.RedisURL = os.Getenv("REDIS_URL")
	}
	if o.PageSize <= 0 {
		o.PageSize = 10
	}
	if o.RefreshWindow <= 0 {
		o.RefreshWindow = 20 * time.Second
	}
	if o.QueryFreshTTL <= 0 {
		o.QueryFreshTTL = 2 * time.Minute
	}
	if o.QueryStaleTTL <= 0 {
		o.QueryStaleTTL = 10 * time.Minute
	}
	if o.FeedFreshTTL <= 0 {
		o.FeedFreshTTL = 1 * time.Minute
	}
	if o.FeedStaleTTL <= 0 {
		o.FeedStaleTTL = 5 * time.Minute
	}
	return o
}
