// Package feed turns deduplicated relay events into application-level
// activity records and drives the paginated, retryable fetch protocol
// behind each feed view.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bookstr/books"
	"bookstr/enrich"
	"bookstr/internal/util"
	"bookstr/nostr"
	"bookstr/reconcile"
)

// DefaultTopic is the topical tag marking events that belong to the book feed.
const DefaultTopic = "bookstr"

// reactionChunkSize bounds the number of ids per batched multi-id query.
const reactionChunkSize = 10

// ReactionSummary aggregates reactions to one activity.
type ReactionSummary struct {
	Count         int  `json:"count"`
	ViewerReacted bool `json:"viewer_reacted"`
}

// Activity is the view-model record for one feed item. Constructed per
// fetch, never persisted.
type Activity struct {
	Event      nostr.Event     `json:"event"`
	AuthorName string          `json:"author_name"`
	Author     *enrich.Profile `json:"author,omitempty"`

	// Book is nil for generic discussion items with no ISBN reference.
	Book *books.Book `json:"book,omitempty"`

	Reactions ReactionSummary `json:"reactions"`
	Replies   []nostr.Event   `json:"replies,omitempty"`
}

// FetchFunc produces events matching a filter from the relay layer.
type FetchFunc func(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error)

// Assembler joins author identity, bibliographic metadata and the
// reaction/reply side channel onto raw events. Every join stage is
// independently fault-tolerant: a failed join degrades its field, never
// the activity.
type Assembler struct {
	Fetch    FetchFunc
	Profiles enrich.ProfileResolver
	Books    enrich.BookResolver

	// Viewer is the consuming user's pubkey, used for ViewerReacted.
	Viewer string

	// Topic selects topical events with no ISBN reference. Defaults to
	// DefaultTopic.
	Topic string

	Logger *slog.Logger
}

func (a *Assembler) topic() string {
	if a.Topic != "" {
		return a.Topic
	}
	return DefaultTopic
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// Assemble builds activities from a raw event set.
//
// Filtering runs before truncation so a page is not under-filled by
// dropped replies. Output is sorted by CreatedAt descending.
func (a *Assembler) Assemble(ctx context.Context, events []nostr.Event, limit int) []Activity {
	events = reconcile.DedupeByID(events)

	topical := util.FilterSlice(events, func(evt nostr.Event) bool {
		def, ok := nostr.KindRegistry[evt.Kind]
		if !ok || !def.ShowInTimeline {
			return false
		}
		// Replies surface only through the per-activity reply join
		if evt.IsReply() {
			return false
		}
		return evt.Isbn() != "" || evt.HasTopic(a.topic())
	})
	topical = util.LimitSlice(topical, limit)
	if len(topical) == 0 {
		return nil
	}

	var authors, isbns, ids []string
	for _, evt := range topical {
		authors = append(authors, evt.PubKey)
		if isbn := evt.Isbn(); isbn != "" {
			isbns = append(isbns, isbn)
		}
		ids = append(ids, evt.ID)
	}
	authors = util.UniqueStrings(authors)
	isbns = util.UniqueStrings(isbns)

	var (
		wg        sync.WaitGroup
		profiles  map[string]*enrich.Profile
		metadata  map[string]*enrich.BookMetadata
		reactions map[string]ReactionSummary
		replies   map[string][]nostr.Event
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		profiles = a.resolveProfiles(ctx, authors)
	}()
	go func() {
		defer wg.Done()
		metadata = a.resolveBooks(ctx, isbns)
	}()
	go func() {
		defer wg.Done()
		reactions, replies = a.resolveSideChannel(ctx, ids)
	}()
	wg.Wait()

	activities := make([]Activity, 0, len(topical))
	for _, evt := range topical {
		activity := Activity{
			Event:      evt,
			Author:     profiles[evt.PubKey],
			AuthorName: profiles[evt.PubKey].BestName(evt.PubKey),
			Reactions:  reactions[evt.ID],
			Replies:    replies[evt.ID],
		}
		if isbn := evt.Isbn(); isbn != "" {
			activity.Book = bookFor(isbn, metadata[isbn])
		}
		activities = append(activities, activity)
	}

	sort.Slice(activities, func(i, j int) bool {
		return activities[i].Event.CreatedAt > activities[j].Event.CreatedAt
	})
	return activities
}

// bookFor joins enrichment metadata onto a book reference, degrading to a
// placeholder title when the lookup failed.
func bookFor(isbn string, meta *enrich.BookMetadata) *books.Book {
	book := &books.Book{Isbn: isbn, Title: enrich.UnknownTitle}
	if meta != nil {
		book.Title = meta.Title
		book.Author = meta.Author
		book.CoverURL = meta.CoverURL
		book.Description = meta.Description
		if book.Title == "" {
			book.Title = enrich.UnknownTitle
		}
	}
	return book
}

func (a *Assembler) resolveProfiles(ctx context.Context, authors []string) map[string]*enrich.Profile {
	if a.Profiles == nil || len(authors) == 0 {
		return nil
	}
	profiles, err := a.Profiles.LookupProfiles(ctx, authors)
	if err != nil {
		a.logger().Warn("author join failed, using placeholders", "authors", len(authors), "error", err)
		return nil
	}
	return profiles
}

func (a *Assembler) resolveBooks(ctx context.Context, isbns []string) map[string]*enrich.BookMetadata {
	if a.Books == nil || len(isbns) == 0 {
		return nil
	}
	metadata, err := a.Books.LookupByIsbns(ctx, isbns)
	if err != nil {
		a.logger().Warn("book join failed, using placeholders", "isbns", len(isbns), "error", err)
		return nil
	}
	return metadata
}

// resolveSideChannel batch-fetches reactions and replies referencing the
// given event ids, chunked to bound filter size. A failed chunk yields
// zero/empty for its ids only.
func (a *Assembler) resolveSideChannel(ctx context.Context, ids []string) (map[string]ReactionSummary, map[string][]nostr.Event) {
	reactions := make(map[string]ReactionSummary)
	replies := make(map[string][]nostr.Event)
	if a.Fetch == nil || len(ids) == 0 {
		return reactions, replies
	}

	for _, chunk := range util.ChunkStrings(ids, reactionChunkSize) {
		fetchCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		events, err := a.Fetch(fetchCtx, nostr.Filter{
			Kinds: []int{nostr.KindReaction, nostr.KindNote},
			ETags: chunk,
			Limit: 500,
		})
		cancel()
		if err != nil {
			a.logger().Debug("side-channel chunk failed", "ids", len(chunk), "error", err)
			continue
		}

		inChunk := make(map[string]bool, len(chunk))
		for _, id := range chunk {
			inChunk[id] = true
		}

		for _, evt := range reconcile.DedupeByID(events) {
			target := evt.ReplyTo()
			if target == "" || !inChunk[target] {
				continue
			}
			switch evt.Kind {
			case nostr.KindReaction:
				summary := reactions[target]
				summary.Count++
				if a.Viewer != "" && evt.PubKey == a.Viewer {
					summary.ViewerReacted = true
				}
				reactions[target] = summary
			case nostr.KindNote:
				replies[target] = append(replies[target], evt)
			}
		}
	}

	// Oldest reply first within each thread
	for id := range replies {
		sort.Slice(replies[id], func(i, j int) bool {
			return replies[id][i].CreatedAt < replies[id][j].CreatedAt
		})
	}

	return reactions, replies
}
