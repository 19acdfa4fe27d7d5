package nostr

import (
	"strconv"
	"strings"
)

// Tag is a decoded tag variant. Raw [][]string tags are decoded exactly once
// at the protocol boundary; downstream code switches on the variant instead
// of re-parsing positional string arrays.
type Tag interface {
	tagName() string
}

// IsbnRef references a book by ISBN ("i" tag, value "isbn:<digits>").
type IsbnRef struct {
	Isbn string
}

// ReplyRef references the event this one replies to ("e" tag).
type ReplyRef struct {
	EventID string
	Relay   string
}

// MediaRef references an attached media URL ("imeta"/"r" media tags).
type MediaRef struct {
	URL string
}

// RatingTag carries a raw rating value as published.
type RatingTag struct {
	Value string
}

// SpoilerMarker flags spoiler content ("content-warning" / "spoiler").
type SpoilerMarker struct {
	Reason string
}

// TopicRef is a topical hashtag ("t" tag).
type TopicRef struct {
	Topic string
}

func (IsbnRef) tagName() string       { return "i" }
func (ReplyRef) tagName() string      { return "e" }
func (MediaRef) tagName() string      { return "r" }
func (RatingTag) tagName() string     { return "rating" }
func (SpoilerMarker) tagName() string { return "content-warning" }
func (TopicRef) tagName() string      { return "t" }

// DecodeTags decodes raw tags into typed variants. Unknown tags are dropped.
func DecodeTags(raw [][]string) []Tag {
	var tags []Tag
	for _, t := range raw {
		if len(t) < 1 {
			continue
		}
		switch t[0] {
		case "i":
			if len(t) >= 2 {
				if isbn, ok := strings.CutPrefix(t[1], "isbn:"); ok {
					tags = append(tags, IsbnRef{Isbn: isbn})
				}
			}
		case "e":
			if len(t) >= 2 {
				ref := ReplyRef{EventID: t[1]}
				if len(t) >= 3 {
					ref.Relay = t[2]
				}
				tags = append(tags, ref)
			}
		case "t":
			if len(t) >= 2 {
				tags = append(tags, TopicRef{Topic: t[1]})
			}
		case "rating":
			if len(t) >= 2 {
				tags = append(tags, RatingTag{Value: t[1]})
			}
		case "content-warning", "spoiler":
			marker := SpoilerMarker{}
			if len(t) >= 2 {
				marker.Reason = t[1]
			}
			tags = append(tags, marker)
		case "imeta":
			for _, field := range t[1:] {
				if url, ok := strings.CutPrefix(field, "url "); ok {
					tags = append(tags, MediaRef{URL: url})
				}
			}
		}
	}
	return tags
}

// Isbn returns the first ISBN reference on the event, or "".
func (e *Event) Isbn() string {
	for _, tag := range DecodeTags(e.Tags) {
		if ref, ok := tag.(IsbnRef); ok {
			return ref.Isbn
		}
	}
	return ""
}

// ReplyTo returns the id of the event being replied to, or "".
// The last "e" tag is the direct parent by convention.
func (e *Event) ReplyTo() string {
	var parent string
	for _, tag := range DecodeTags(e.Tags) {
		if ref, ok := tag.(ReplyRef); ok {
			parent = ref.EventID
		}
	}
	return parent
}

// IsReply reports whether the event carries a reply reference.
func (e *Event) IsReply() bool {
	return e.ReplyTo() != ""
}

// Topics returns all topical hashtags on the event.
func (e *Event) Topics() []string {
	var topics []string
	for _, tag := range DecodeTags(e.Tags) {
		if ref, ok := tag.(TopicRef); ok {
			topics = append(topics, ref.Topic)
		}
	}
	return topics
}

// HasTopic reports whether the event carries the given topical tag.
func (e *Event) HasTopic(topic string) bool {
	for _, t := range e.Topics() {
		if t == topic {
			return true
		}
	}
	return false
}

// RawRating returns the published rating value, or "" when absent.
func (e *Event) RawRating() string {
	for _, tag := range DecodeTags(e.Tags) {
		if r, ok := tag.(RatingTag); ok {
			return r.Value
		}
	}
	return ""
}

// IsbnTagValue formats an ISBN for publishing as an "i" tag value.
func IsbnTagValue(isbn string) string {
	return "isbn:" + isbn
}

// FormatRating formats a normalized rating for publishing.
func FormatRating(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
