// Package util holds small generic helpers shared across internal packages.
package util

import (
	"sort"
)

// =============================================================================
// Slice Utilities
// =============================================================================

// SortedCopy returns a sorted copy of a string slice.
// The original slice is not modified.
// Useful for building stable cache keys from unordered inputs.
func SortedCopy(slice []string) []string {
	if len(slice) == 0 {
		return nil
	}
	sorted := make([]string, len(slice))
	copy(sorted, slice)
	sort.Strings(sorted)
	return sorted
}

// LimitSlice returns the first n elements of a slice, or the entire slice if
// it has fewer than n elements. Safe to call with n <= 0 (returns empty slice).
func LimitSlice[T any](slice []T, n int) []T {
	if n <= 0 {
		return nil
	}
	if len(slice) <= n {
		return slice
	}
	return slice[:n]
}

// FilterSlice returns a new slice containing only elements that satisfy the predicate.
// The original slice is not modified.
func FilterSlice[T any](items []T, predicate func(T) bool) []T {
	result := make([]T, 0, len(items))
	for _, item := range items {
		if predicate(item) {
			result = append(result, item)
		}
	}
	return result
}

// ChunkStrings splits a string slice into chunks of at most size elements.
// Used to bound filter sizes in batched multi-id relay queries.
func ChunkStrings(items []string, size int) [][]string {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// =============================================================================
// Generic Map Utilities
// =============================================================================

// MapKeys returns all keys from a map as a slice.
// Order is not guaranteed (map iteration order).
func MapKeys[K comparable, V any](m map[K]V) []K {
	result := make([]K, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	return result
}

// UniqueStrings returns the distinct non-empty values in order of first occurrence.
func UniqueStrings(items []string) []string {
	seen := make(map[string]bool, len(items))
	var result []string
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		result = append(result, item)
	}
	return result
}
