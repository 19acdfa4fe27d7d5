package books

import (
	"math"
	"testing"

	"bookstr/nostr"
)

func event(id, isbn string, kind int, createdAt int64, extraTags ...[]string) nostr.Event {
	tags := [][]string{{"i", "isbn:" + isbn}}
	tags = append(tags, extraTags...)
	return nostr.Event{
		ID:        id,
		PubKey:    "alice",
		Kind:      kind,
		CreatedAt: createdAt,
		Tags:      tags,
	}
}

func TestBuildLibraryPrecedence(t *testing.T) {
	// Book 111 travels tbr -> reading -> finished; only finished survives,
	// even though the tbr event is the newest.
	events := []nostr.Event{
		event("f1", "111", nostr.KindBookRead, 100),
		event("r1", "111", nostr.KindBookReading, 200),
		event("t1", "111", nostr.KindBookTBR, 300),
		event("t2", "222", nostr.KindBookTBR, 50),
	}

	lib := BuildLibrary(events)

	if len(lib.Finished) != 1 || lib.Finished[0].Isbn != "111" {
		t.Fatalf("finished = %v", lib.Finished)
	}
	if len(lib.Reading) != 0 {
		t.Errorf("reading = %v", lib.Reading)
	}
	if len(lib.TBR) != 1 || lib.TBR[0].Isbn != "222" {
		t.Errorf("tbr = %v", lib.TBR)
	}
	if lib.Size() != 2 {
		t.Errorf("Size() = %d", lib.Size())
	}
}

func TestBuildLibraryLatestWinsWithinCategory(t *testing.T) {
	events := []nostr.Event{
		event("old", "111", nostr.KindBookReading, 100),
		event("new", "111", nostr.KindBookReading, 300),
		// Duplicate of the newest from a second relay
		event("new", "111", nostr.KindBookReading, 300),
	}

	lib := BuildLibrary(events)
	if len(lib.Reading) != 1 {
		t.Fatalf("reading = %v", lib.Reading)
	}
	if lib.Reading[0].Reading.DateAdded != 300 {
		t.Errorf("DateAdded = %d, want 300", lib.Reading[0].Reading.DateAdded)
	}
}

func TestBuildLibraryReviewRatingsMerge(t *testing.T) {
	events := []nostr.Event{
		event("f1", "111", nostr.KindBookRead, 100),
		// Newest review wins the side channel
		event("rev-old", "111", nostr.KindReview, 150, []string{"rating", "2"}),
		event("rev-new", "111", nostr.KindReview, 200, []string{"rating", "4"}),
		// The review alone does not put a book on a shelf
		event("rev-unshelved", "999", nostr.KindReview, 100, []string{"rating", "5"}),
	}

	lib := BuildLibrary(events)
	if lib.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", lib.Size())
	}
	rating := lib.Finished[0].Reading.Rating
	if rating == nil {
		t.Fatal("rating missing")
	}
	if math.Abs(*rating-0.8) > 1e-9 {
		t.Errorf("rating = %v, want 0.8", *rating)
	}
}

func TestBuildLibraryListEventRatingWinsOverReview(t *testing.T) {
	events := []nostr.Event{
		event("f1", "111", nostr.KindBookRead, 100, []string{"rating", "5"}),
		event("rev", "111", nostr.KindReview, 200, []string{"rating", "1"}),
	}

	lib := BuildLibrary(events)
	rating := lib.Finished[0].Reading.Rating
	if rating == nil || *rating != 1 {
		t.Errorf("rating = %v, want 1 (from the list event)", rating)
	}
}

func TestBuildLibraryShelfOrder(t *testing.T) {
	events := []nostr.Event{
		event("a", "111", nostr.KindBookTBR, 100),
		event("b", "222", nostr.KindBookTBR, 300),
		event("c", "333", nostr.KindBookTBR, 100),
	}

	lib := BuildLibrary(events)
	if len(lib.TBR) != 3 {
		t.Fatalf("tbr = %v", lib.TBR)
	}
	// Newest first, ISBN breaks the 100/100 tie
	wantOrder := []string{"222", "111", "333"}
	for i, want := range wantOrder {
		if lib.TBR[i].Isbn != want {
			t.Errorf("tbr[%d].Isbn = %s, want %s", i, lib.TBR[i].Isbn, want)
		}
	}
}

func TestBuildLibraryEmpty(t *testing.T) {
	lib := BuildLibrary(nil)
	if lib.Size() != 0 {
		t.Errorf("Size() = %d", lib.Size())
	}
}
