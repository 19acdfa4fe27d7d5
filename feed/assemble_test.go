package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"bookstr/enrich"
	"bookstr/nostr"
)

type stubProfiles struct {
	profiles map[string]*enrich.Profile
	err      error
}

func (s stubProfiles) LookupProfiles(ctx context.Context, pubkeys []string) (map[string]*enrich.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.profiles, nil
}

type stubBooks struct {
	metadata map[string]*enrich.BookMetadata
	err      error
}

func (s stubBooks) LookupByIsbn(ctx context.Context, isbn string) (*enrich.BookMetadata, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.metadata[isbn], nil
}

func (s stubBooks) LookupByIsbns(ctx context.Context, isbns []string) (map[string]*enrich.BookMetadata, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.metadata, nil
}

func bookEvent(id, author, isbn string, createdAt int64) nostr.Event {
	return nostr.Event{
		ID:        id,
		PubKey:    author,
		Kind:      nostr.KindBookReading,
		CreatedAt: createdAt,
		Tags:      [][]string{{"i", "isbn:" + isbn}},
	}
}

func topicEvent(id, author string, createdAt int64) nostr.Event {
	return nostr.Event{
		ID:        id,
		PubKey:    author,
		Kind:      nostr.KindNote,
		CreatedAt: createdAt,
		Tags:      [][]string{{"t", DefaultTopic}},
	}
}

func TestAssembleJoins(t *testing.T) {
	assembler := &Assembler{
		Profiles: stubProfiles{profiles: map[string]*enrich.Profile{
			"alice": {DisplayName: "Alice"},
		}},
		Books: stubBooks{metadata: map[string]*enrich.BookMetadata{
			"111": {Isbn: "111", Title: "Nineteen Eighty-Four", Author: "George Orwell"},
		}},
	}

	events := []nostr.Event{
		bookEvent("e1", "alice", "111", 200),
		topicEvent("e2", "bob", 100),
	}

	activities := assembler.Assemble(context.Background(), events, 10)
	if len(activities) != 2 {
		t.Fatalf("activities = %d", len(activities))
	}

	first := activities[0]
	if first.Event.ID != "e1" {
		t.Errorf("order: first = %s", first.Event.ID)
	}
	if first.AuthorName != "Alice" {
		t.Errorf("AuthorName = %q", first.AuthorName)
	}
	if first.Book == nil || first.Book.Title != "Nineteen Eighty-Four" {
		t.Errorf("Book = %+v", first.Book)
	}

	// bob has no profile: shortened pubkey would need 12 chars, so the
	// raw pubkey falls through to the generic placeholder
	second := activities[1]
	if second.AuthorName != enrich.UnknownAuthor {
		t.Errorf("AuthorName = %q", second.AuthorName)
	}
	if second.Book != nil {
		t.Errorf("topical note should carry no book: %+v", second.Book)
	}
}

func TestAssembleFiltersBeforeTruncation(t *testing.T) {
	// 3 topical events interleaved with replies and off-topic noise;
	// limit 3 must yield 3 activities, not a page shortened by dropped rows.
	events := []nostr.Event{
		bookEvent("keep1", "alice", "111", 600),
		{ID: "reply", PubKey: "bob", Kind: nostr.KindNote, CreatedAt: 500,
			Tags: [][]string{{"e", "keep1"}, {"t", DefaultTopic}}},
		{ID: "offtopic", PubKey: "bob", Kind: nostr.KindNote, CreatedAt: 400},
		bookEvent("keep2", "alice", "222", 300),
		{ID: "reaction", PubKey: "bob", Kind: nostr.KindReaction, CreatedAt: 250,
			Tags: [][]string{{"e", "keep1"}}},
		topicEvent("keep3", "carol", 200),
	}

	assembler := &Assembler{}
	activities := assembler.Assemble(context.Background(), events, 3)

	if len(activities) != 3 {
		t.Fatalf("activities = %d, want 3", len(activities))
	}
	for i, want := range []string{"keep1", "keep2", "keep3"} {
		if activities[i].Event.ID != want {
			t.Errorf("activities[%d] = %s, want %s", i, activities[i].Event.ID, want)
		}
	}
}

func TestAssembleDegradesOnJoinFailure(t *testing.T) {
	assembler := &Assembler{
		Profiles: stubProfiles{err: errors.New("profile service down")},
		Books:    stubBooks{err: errors.New("enrichment down")},
		Fetch: func(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
			return nil, errors.New("relays down")
		},
	}

	events := []nostr.Event{bookEvent("e1", "alice", "111", 100)}
	activities := assembler.Assemble(context.Background(), events, 10)

	if len(activities) != 1 {
		t.Fatalf("failed joins must not drop activities: %d", len(activities))
	}
	a := activities[0]
	if a.AuthorName != enrich.UnknownAuthor {
		t.Errorf("AuthorName = %q", a.AuthorName)
	}
	if a.Book == nil || a.Book.Title != enrich.UnknownTitle {
		t.Errorf("Book = %+v", a.Book)
	}
	if a.Reactions.Count != 0 || len(a.Replies) != 0 {
		t.Errorf("side channel should be zero: %+v", a.Reactions)
	}
}

func TestAssembleSideChannel(t *testing.T) {
	reaction := func(id, author, target string, createdAt int64) nostr.Event {
		return nostr.Event{ID: id, PubKey: author, Kind: nostr.KindReaction,
			CreatedAt: createdAt, Tags: [][]string{{"e", target}}}
	}
	reply := func(id, target string, createdAt int64) nostr.Event {
		return nostr.Event{ID: id, PubKey: "bob", Kind: nostr.KindNote,
			CreatedAt: createdAt, Tags: [][]string{{"e", target}}}
	}

	side := []nostr.Event{
		reaction("r1", "bob", "e1", 10),
		reaction("r2", "viewer-pubkey", "e1", 20),
		reaction("r1", "bob", "e1", 10), // duplicate from a second relay
		reply("rep-late", "e1", 300),
		reply("rep-early", "e1", 100),
		reaction("r3", "bob", "unrelated", 30),
	}

	assembler := &Assembler{
		Viewer: "viewer-pubkey",
		Fetch: func(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
			return side, nil
		},
	}

	events := []nostr.Event{bookEvent("e1", "alice", "111", 1000)}
	activities := assembler.Assemble(context.Background(), events, 10)
	if len(activities) != 1 {
		t.Fatal("expected one activity")
	}

	a := activities[0]
	if a.Reactions.Count != 2 {
		t.Errorf("reaction count = %d, want 2", a.Reactions.Count)
	}
	if !a.Reactions.ViewerReacted {
		t.Error("ViewerReacted = false")
	}
	if len(a.Replies) != 2 || a.Replies[0].ID != "rep-early" || a.Replies[1].ID != "rep-late" {
		t.Errorf("replies = %v", a.Replies)
	}
}

func TestAssembleChunksSideChannelQueries(t *testing.T) {
	var chunks [][]string
	assembler := &Assembler{
		Fetch: func(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
			chunks = append(chunks, filter.ETags)
			return nil, nil
		},
	}

	events := make([]nostr.Event, 25)
	for i := range events {
		events[i] = bookEvent(fmt.Sprintf("e%02d", i), "alice", "111", int64(1000-i))
	}

	assembler.Assemble(context.Background(), events, 25)

	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 10 || len(chunks[1]) != 10 || len(chunks[2]) != 5 {
		t.Errorf("chunk sizes = %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestAssembleEmptyInput(t *testing.T) {
	assembler := &Assembler{}
	if got := assembler.Assemble(context.Background(), nil, 10); got != nil {
		t.Errorf("Assemble(nil) = %v", got)
	}
}
