package reconcile

import (
	"reflect"
	"testing"

	"bookstr/nostr"
)

func listEvent(id, author, isbn string, kind int, createdAt int64) nostr.Event {
	return nostr.Event{
		ID:        id,
		PubKey:    author,
		Kind:      kind,
		CreatedAt: createdAt,
		Tags:      [][]string{{"i", "isbn:" + isbn}},
	}
}

func TestDedupeByID(t *testing.T) {
	events := []nostr.Event{
		{ID: "a", RelaysSeen: []string{"wss://one"}},
		{ID: "b", RelaysSeen: []string{"wss://one"}},
		{ID: "a", RelaysSeen: []string{"wss://two"}},
		{ID: "c"},
		{ID: "b", RelaysSeen: []string{"wss://one"}},
	}

	got := DedupeByID(events)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("order not preserved: %v", ids(got))
	}
	// Provenance from both relays survives on the kept copy
	if !reflect.DeepEqual(got[0].RelaysSeen, []string{"wss://one", "wss://two"}) {
		t.Errorf("RelaysSeen = %v", got[0].RelaysSeen)
	}
}

func TestDedupeByIDIdempotent(t *testing.T) {
	events := []nostr.Event{
		{ID: "a"}, {ID: "b"}, {ID: "a"}, {ID: "c"}, {ID: "c"},
	}
	once := DedupeByID(events)
	twice := DedupeByID(once)
	if !reflect.DeepEqual(ids(once), ids(twice)) {
		t.Errorf("dedupe not idempotent: %v vs %v", ids(once), ids(twice))
	}
}

func TestDedupeLatestPerAuthorIsbn(t *testing.T) {
	events := []nostr.Event{
		listEvent("old", "alice", "111", nostr.KindBookReading, 100),
		listEvent("new", "alice", "111", nostr.KindBookReading, 200),
		listEvent("other-author", "bob", "111", nostr.KindBookReading, 50),
		listEvent("other-book", "alice", "222", nostr.KindBookTBR, 10),
		{ID: "no-isbn", PubKey: "alice", Kind: nostr.KindNote, CreatedAt: 5},
	}

	got := DedupeLatestPerAuthorIsbn(events)
	want := []string{"new", "other-author", "other-book", "no-isbn"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}
}

func TestResolveListPrecedence(t *testing.T) {
	// The same book appears on all three lists; only finished survives.
	tbr := map[string]nostr.Event{
		"111": listEvent("t1", "alice", "111", nostr.KindBookTBR, 300),
		"222": listEvent("t2", "alice", "222", nostr.KindBookTBR, 100),
	}
	reading := map[string]nostr.Event{
		"111": listEvent("r1", "alice", "111", nostr.KindBookReading, 200),
		"333": listEvent("r3", "alice", "333", nostr.KindBookReading, 100),
	}
	finished := map[string]nostr.Event{
		"111": listEvent("f1", "alice", "111", nostr.KindBookRead, 100),
	}

	outTBR, outReading, outFinished := ResolveListPrecedence(tbr, reading, finished)

	if len(outFinished) != 1 || outFinished["111"].ID != "f1" {
		t.Errorf("finished = %v", outFinished)
	}
	// The tbr event is newer than the finished one, but precedence is not
	// recency: finished still wins.
	if _, ok := outTBR["111"]; ok {
		t.Error("isbn 111 survived on tbr")
	}
	if _, ok := outReading["111"]; ok {
		t.Error("isbn 111 survived on reading")
	}
	if _, ok := outTBR["222"]; !ok {
		t.Error("isbn 222 missing from tbr")
	}
	if _, ok := outReading["333"]; !ok {
		t.Error("isbn 333 missing from reading")
	}
}

func TestResolveListPrecedenceReadingOverTBR(t *testing.T) {
	tbr := map[string]nostr.Event{
		"111": listEvent("t1", "alice", "111", nostr.KindBookTBR, 100),
	}
	reading := map[string]nostr.Event{
		"111": listEvent("r1", "alice", "111", nostr.KindBookReading, 50),
	}

	outTBR, outReading, _ := ResolveListPrecedence(tbr, reading, nil)
	if _, ok := outTBR["111"]; ok {
		t.Error("isbn 111 survived on tbr")
	}
	if outReading["111"].ID != "r1" {
		t.Errorf("reading = %v", outReading)
	}
}

func ids(events []nostr.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
