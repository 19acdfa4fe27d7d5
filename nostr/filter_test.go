package nostr

import (
	"testing"
)

func TestCanonicalKeyStable(t *testing.T) {
	f := Filter{
		Authors: []string{"aaa", "bbb"},
		Kinds:   []int{KindBookRead, KindReview},
		Limit:   50,
	}
	first := f.CanonicalKey()
	for i := 0; i < 10; i++ {
		if got := f.CanonicalKey(); got != first {
			t.Fatalf("key not stable: %s vs %s", got, first)
		}
	}
}

func TestCanonicalKeyOrderIndependent(t *testing.T) {
	until := int64(1700000000)
	a := Filter{
		Authors: []string{"bbb", "aaa", "ccc"},
		Kinds:   []int{KindReview, KindBookRead},
		ITags:   []string{"isbn:222", "isbn:111"},
		Until:   &until,
	}
	b := Filter{
		Authors: []string{"aaa", "ccc", "bbb"},
		Kinds:   []int{KindBookRead, KindReview},
		ITags:   []string{"isbn:111", "isbn:222"},
		Until:   &until,
	}
	if a.CanonicalKey() != b.CanonicalKey() {
		t.Errorf("structurally identical filters produced different keys:\n  %s\n  %s",
			a.CanonicalKey(), b.CanonicalKey())
	}
}

func TestCanonicalKeyDistinguishesFilters(t *testing.T) {
	since := int64(100)
	until := int64(100)
	base := Filter{Authors: []string{"aaa"}, Kinds: []int{KindNote}, Limit: 10}

	variants := []Filter{
		{Authors: []string{"aaa"}, Kinds: []int{KindNote}, Limit: 20},
		{Authors: []string{"aab"}, Kinds: []int{KindNote}, Limit: 10},
		{Authors: []string{"aaa"}, Kinds: []int{KindReaction}, Limit: 10},
		{Authors: []string{"aaa"}, Kinds: []int{KindNote}, Limit: 10, Since: &since},
		{Authors: []string{"aaa"}, Kinds: []int{KindNote}, Limit: 10, Until: &until},
		{Authors: []string{"aaa"}, Kinds: []int{KindNote}, Limit: 10, TTags: []string{"bookstr"}},
	}

	baseKey := base.CanonicalKey()
	for i, v := range variants {
		if v.CanonicalKey() == baseKey {
			t.Errorf("variant %d collided with base key", i)
		}
	}
}

func TestToWireOmitsEmptyFields(t *testing.T) {
	wire := Filter{Kinds: []int{KindProfile}, Authors: []string{"aaa"}, Limit: 1}.ToWire()

	if _, ok := wire["since"]; ok {
		t.Error("since should be absent")
	}
	if _, ok := wire["ids"]; ok {
		t.Error("ids should be absent")
	}
	if wire["limit"] != 1 {
		t.Errorf("limit = %v, want 1", wire["limit"])
	}
	if _, ok := wire["#e"]; ok {
		t.Error("#e should be absent")
	}
}
