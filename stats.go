package bookstr

// CacheStats is a counter snapshot for one cache tier.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	StaleHits int64 `json:"stale_hits"`
	Misses    int64 `json:"misses"`
}

// HitRatio returns the fraction of lookups served from cache (0-1).
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.StaleHits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits+s.StaleHits) / float64(total)
}

// RelayStats is a counter snapshot for the connection layer.
type RelayStats struct {
	Status            string `json:"status"`
	OpenConnections   int    `json:"open_connections"`
	DialFailures      int64  `json:"dial_failures"`
	RateLimitsTripped int64  `json:"rate_limits_tripped"`
	DroppedEvents     int64  `json:"dropped_events"`
}

// Stats is a point-in-time diagnostic snapshot for the consuming UI.
type Stats struct {
	Queries CacheStats `json:"queries"`
	Feeds   CacheStats `json:"feeds"`
	Relay   RelayStats `json:"relay"`
}

// Stats returns a diagnostic counter snapshot.
func (c *Client) Stats() Stats {
	var s Stats
	queries, feeds, _ := c.cacheStack()
	s.Queries.Hits, s.Queries.StaleHits, s.Queries.Misses = queries.Stats()
	s.Feeds.Hits, s.Feeds.StaleHits, s.Feeds.Misses = feeds.Stats()

	s.Relay.Status = c.mgr.Status().String()
	s.Relay.OpenConnections = len(c.mgr.OpenConns())
	s.Relay.DialFailures, s.Relay.RateLimitsTripped, s.Relay.DroppedEvents = c.mgr.Stats()
	return s
}
