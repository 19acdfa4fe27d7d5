package nostr

// Event kinds understood by the aggregation layer.
const (
	KindProfile   = 0     // profile metadata (JSON content)
	KindNote      = 1     // plain text note / reply
	KindContacts  = 3     // contact list (p tags)
	KindReaction  = 7     // reaction to another event (e tags)
	KindRelayList = 10002 // relay list metadata (r tags)

	// Reading-status list kinds. One event per book per list; the newest
	// event per (author, isbn) is the current membership.
	KindBookRead    = 10073 // finished
	KindBookReading = 10074 // currently reading
	KindBookTBR     = 10075 // to be read

	KindReview = 31985 // book review with optional rating tag
)

// StatusCategory classifies a list kind by reading status.
type StatusCategory int

const (
	CategoryNone StatusCategory = iota
	CategoryTBR
	CategoryReading
	CategoryFinished
)

// KindDefinition describes how to process a specific event kind.
// This is the single source of truth for kind-specific behavior.
type KindDefinition struct {
	Kind     int
	Name     string // machine name: "note", "book-read", etc.
	Category StatusCategory

	IsListKind     bool // membership event for a reading-status list
	IsReview       bool // carries a rating side channel
	ShowInTimeline bool // eligible as a top-level feed item
}

// KindRegistry maps kind numbers to their definitions.
// Add new kinds here to support them throughout the library.
var KindRegistry = map[int]*KindDefinition{
	KindNote: {
		Kind:           KindNote,
		Name:           "note",
		ShowInTimeline: true,
	},
	KindReaction: {
		Kind: KindReaction,
		Name: "reaction",
	},
	KindBookRead: {
		Kind:           KindBookRead,
		Name:           "book-read",
		Category:       CategoryFinished,
		IsListKind:     true,
		ShowInTimeline: true,
	},
	KindBookReading: {
		Kind:           KindBookReading,
		Name:           "book-reading",
		Category:       CategoryReading,
		IsListKind:     true,
		ShowInTimeline: true,
	},
	KindBookTBR: {
		Kind:           KindBookTBR,
		Name:           "book-tbr",
		Category:       CategoryTBR,
		IsListKind:     true,
		ShowInTimeline: true,
	},
	KindReview: {
		Kind:           KindReview,
		Name:           "review",
		IsReview:       true,
		ShowInTimeline: true,
	},
}

// ListKinds returns the three reading-status list kinds.
func ListKinds() []int {
	return []int{KindBookRead, KindBookReading, KindBookTBR}
}

// Category returns the reading-status category for a kind, or CategoryNone.
func Category(kind int) StatusCategory {
	if def, ok := KindRegistry[kind]; ok {
		return def.Category
	}
	return CategoryNone
}
