package statesync

import "sort"

// upsertByID inserts or replaces item in a list kept sorted by key. Replace
// happens in place so the sort invariant survives; repeated application with
// the same item converges to the same list.
func upsertByID[T any](list []T, key func(T) string, item T) []T {
	id := key(item)
	i := sort.Search(len(list), func(n int) bool { return key(list[n]) >= id })
	if i < len(list) && key(list[i]) == id {
		list[i] = item
		return list
	}
	list = append(list, item)
	copy(list[i+1:], list[i:])
	list[i] = item
	return list
}

// removeByID splices the entry with the given key out of a sorted list.
// Removing an absent id is a no-op.
func removeByID[T any](list []T, key func(T) string, id string) []T {
	i := sort.Search(len(list), func(n int) bool { return key(list[n]) >= id })
	if i >= len(list) || key(list[i]) != id {
		return list
	}
	return append(list[:i], list[i+1:]...)
}

// findByID binary-searches a sorted list.
func findByID[T any](list []T, key func(T) string, id string) (T, bool) {
	i := sort.Search(len(list), func(n int) bool { return key(list[n]) >= id })
	if i < len(list) && key(list[i]) == id {
		return list[i], true
	}
	var zero T
	return zero, false
}
