// Package reconcile merges result sets from multiple relays and resolves
// competing event-sourced facts about the same logical entity into one
// canonical value.
package reconcile

import (
	"bookstr/nostr"
)

// DedupeByID removes duplicate events by id across relay responses.
// The first occurrence wins; content is identical for a given id, so which
// copy survives does not matter. Relay provenance is merged onto the survivor.
func DedupeByID(events []nostr.Event) []nostr.Event {
	seen := make(map[string]int, len(events))
	result := make([]nostr.Event, 0, len(events))
	for _, evt := range events {
		if idx, ok := seen[evt.ID]; ok {
			result[idx].RelaysSeen = mergeRelays(result[idx].RelaysSeen, evt.RelaysSeen)
			continue
		}
		seen[evt.ID] = len(result)
		result = append(result, evt)
	}
	return result
}

func mergeRelays(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a))
	for _, r := range a {
		seen[r] = true
	}
	for _, r := range b {
		if !seen[r] {
			a = append(a, r)
			seen[r] = true
		}
	}
	return a
}

// DedupeLatestPerAuthorIsbn keeps, for each (author, isbn) pair, only the
// event with the greatest CreatedAt. Events without an ISBN reference pass
// through untouched. Input order is preserved for survivors.
func DedupeLatestPerAuthorIsbn(events []nostr.Event) []nostr.Event {
	type key struct {
		author string
		isbn   string
	}

	latest := make(map[key]nostr.Event, len(events))
	for _, evt := range events {
		isbn := evt.Isbn()
		if isbn == "" {
			continue
		}
		k := key{author: evt.PubKey, isbn: isbn}
		if cur, ok := latest[k]; !ok || evt.CreatedAt > cur.CreatedAt {
			latest[k] = evt
		}
	}

	result := make([]nostr.Event, 0, len(events))
	emitted := make(map[key]bool, len(latest))
	for _, evt := range events {
		isbn := evt.Isbn()
		if isbn == "" {
			result = append(result, evt)
			continue
		}
		k := key{author: evt.PubKey, isbn: isbn}
		if emitted[k] {
			continue
		}
		if latest[k].ID == evt.ID {
			result = append(result, evt)
			emitted[k] = true
		}
	}
	return result
}

// ResolveListPrecedence applies the fixed cross-category precedence
// finished > reading > tbr to three reconciled list maps keyed by ISBN.
// An ISBN present in several categories survives only in the highest one.
//
// This must run after per-category latest-wins reconciliation: a stale tbr
// event must not out-rank an older but higher-precedence finished record.
func ResolveListPrecedence(tbr, reading, finished map[string]nostr.Event) (map[string]nostr.Event, map[string]nostr.Event, map[string]nostr.Event) {
	outReading := make(map[string]nostr.Event, len(reading))
	for isbn, evt := range reading {
		if _, done := finished[isbn]; done {
			continue
		}
		outReading[isbn] = evt
	}

	outTBR := make(map[string]nostr.Event, len(tbr))
	for isbn, evt := range tbr {
		if _, done := finished[isbn]; done {
			continue
		}
		if _, cur := outReading[isbn]; cur {
			continue
		}
		outTBR[isbn] = evt
	}

	outFinished := make(map[string]nostr.Event, len(finished))
	for isbn, evt := range finished {
		outFinished[isbn] = evt
	}

	return outTBR, outReading, outFinished
}
