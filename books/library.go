package books

import (
	"sort"

	"bookstr/nostr"
	"bookstr/reconcile"
)

// BuildLibrary reconciles list-membership and review events into shelves.
//
// Pipeline order matters: dedupe by id, latest-wins per (author, isbn)
// within each category, then cross-category precedence, then review-rating
// merge. Running precedence before latest-wins would let a stale tbr event
// out-rank a finished record.
func BuildLibrary(events []nostr.Event) Library {
	events = reconcile.DedupeByID(events)

	byCategory := map[nostr.StatusCategory][]nostr.Event{}
	var reviews []nostr.Event
	for _, evt := range events {
		def, ok := nostr.KindRegistry[evt.Kind]
		if !ok {
			continue
		}
		switch {
		case def.IsListKind:
			byCategory[def.Category] = append(byCategory[def.Category], evt)
		case def.IsReview:
			reviews = append(reviews, evt)
		}
	}

	tbr := latestByIsbn(byCategory[nostr.CategoryTBR])
	reading := latestByIsbn(byCategory[nostr.CategoryReading])
	finished := latestByIsbn(byCategory[nostr.CategoryFinished])

	tbr, reading, finished = reconcile.ResolveListPrecedence(tbr, reading, finished)

	ratings := ratingsByIsbn(reviews)

	return Library{
		TBR:      shelf(tbr, StatusTBR, ratings),
		Reading:  shelf(reading, StatusReading, ratings),
		Finished: shelf(finished, StatusFinished, ratings),
	}
}

// latestByIsbn reduces one category's events to the newest per (author, isbn),
// keyed by ISBN.
func latestByIsbn(events []nostr.Event) map[string]nostr.Event {
	out := make(map[string]nostr.Event, len(events))
	for _, evt := range reconcile.DedupeLatestPerAuthorIsbn(events) {
		isbn := evt.Isbn()
		if isbn == "" {
			continue
		}
		if cur, ok := out[isbn]; !ok || evt.CreatedAt > cur.CreatedAt {
			out[isbn] = evt
		}
	}
	return out
}

// ratingsByIsbn extracts the newest normalized rating per ISBN from review
// events. Reviews are a side channel: they merge into the surviving book
// record instead of producing their own list entry.
func ratingsByIsbn(reviews []nostr.Event) map[string]*float64 {
	newest := make(map[string]nostr.Event, len(reviews))
	for _, evt := range reviews {
		isbn := evt.Isbn()
		if isbn == "" {
			continue
		}
		if cur, ok := newest[isbn]; !ok || evt.CreatedAt > cur.CreatedAt {
			newest[isbn] = evt
		}
	}

	out := make(map[string]*float64, len(newest))
	for isbn, evt := range newest {
		if rating := reconcile.ParseRating(evt.RawRating()); rating != nil {
			out[isbn] = rating
		}
	}
	return out
}

func shelf(entries map[string]nostr.Event, status Status, ratings map[string]*float64) []Book {
	shelf := make([]Book, 0, len(entries))
	for isbn, evt := range entries {
		book := Book{
			Isbn: isbn,
			Reading: &ReadingStatus{
				Status:    status,
				DateAdded: evt.CreatedAt,
			},
		}
		// A rating on the list event itself wins over the review side channel
		if rating := reconcile.ParseRating(evt.RawRating()); rating != nil {
			book.Reading.Rating = rating
		} else if rating, ok := ratings[isbn]; ok {
			book.Reading.Rating = rating
		}
		shelf = append(shelf, book)
	}

	// Newest first, ISBN tiebreak for stable output
	sort.Slice(shelf, func(i, j int) bool {
		if shelf[i].Reading.DateAdded != shelf[j].Reading.DateAdded {
			return shelf[i].Reading.DateAdded > shelf[j].Reading.DateAdded
		}
		return shelf[i].Isbn < shelf[j].Isbn
	})
	return shelf
}
