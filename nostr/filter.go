package nostr

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"bookstr/internal/util"
)

// Filter represents a relay subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Limit   int
	Since   *int64
	Until   *int64
	ETags   []string // #e tag filter (reply/reaction targets)
	ITags   []string // #i tag filter (external ids, "isbn:..." references)
	TTags   []string // #t tag filter (hashtags/topics)
}

// ToWire converts the filter to its REQ wire representation.
func (f Filter) ToWire() map[string]interface{} {
	wire := map[string]interface{}{}
	if f.Limit > 0 {
		wire["limit"] = f.Limit
	}
	if len(f.IDs) > 0 {
		wire["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		wire["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		wire["kinds"] = f.Kinds
	}
	if f.Since != nil {
		wire["since"] = *f.Since
	}
	if f.Until != nil {
		wire["until"] = *f.Until
	}
	if len(f.ETags) > 0 {
		wire["#e"] = f.ETags
	}
	if len(f.ITags) > 0 {
		wire["#i"] = f.ITags
	}
	if len(f.TTags) > 0 {
		wire["#t"] = f.TTags
	}
	return wire
}

// CanonicalKey derives a deterministic cache key from the normalized filter.
// Structurally identical filters produce identical keys regardless of call
// site or slice ordering.
func (f Filter) CanonicalKey() string {
	var sb strings.Builder

	writeList := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(strings.Join(util.SortedCopy(values), ","))
		sb.WriteByte(';')
	}

	writeList("ids", f.IDs)
	writeList("authors", f.Authors)

	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = strconv.Itoa(k)
		}
		sort.Strings(kinds)
		sb.WriteString("kinds=")
		sb.WriteString(strings.Join(kinds, ","))
		sb.WriteByte(';')
	}

	if f.Limit > 0 {
		sb.WriteString("limit=")
		sb.WriteString(strconv.Itoa(f.Limit))
		sb.WriteByte(';')
	}
	if f.Since != nil {
		sb.WriteString("since=")
		sb.WriteString(strconv.FormatInt(*f.Since, 10))
		sb.WriteByte(';')
	}
	if f.Until != nil {
		sb.WriteString("until=")
		sb.WriteString(strconv.FormatInt(*f.Until, 10))
		sb.WriteByte(';')
	}

	writeList("#e", f.ETags)
	writeList("#i", f.ITags)
	writeList("#t", f.TTags)

	sum := xxhash.Sum64String(sb.String())
	return "query:" + strconv.FormatUint(sum, 16)
}
