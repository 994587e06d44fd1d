package query

import (
	"slices"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
)

// Predicate is an entity-specific equality filter.
type Predicate[T model.Record] func(T) bool

// Apply filters, sorts and limits items. The input slice is not modified.
// Predicates are ANDed with the timestamp bounds.
func Apply[T model.Record](items []T, filters Filters, mode BoundsMode, predicates ...Predicate[T]) ([]T, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	bounds := filters.bounds(mode)
	result := make([]T, 0, len(items))
	for _, item := range items {
		if matches(item, bounds, predicates) {
			result = append(result, item)
		}
	}

	if filters.OrderBy != "" {
		direction, _ := ParseDirection(string(filters.OrderDirection))
		field := filters.OrderBy
		slices.SortStableFunc(result, func(a, b T) int {
			left, _ := a.Field(field)
			right, _ := b.Field(field)
			if direction == Ascending {
				return compare(left, right)
			}
			return compare(right, left)
		})
	}

	if filters.Limit > 0 && len(result) > filters.Limit {
		result = result[:filters.Limit]
	}
	return result, nil
}

// Count returns how many items satisfy the bounds and predicates. Ordering and limit are ignored.
func Count[T model.Record](items []T, filters Filters, mode BoundsMode, predicates ...Predicate[T]) (int, error) {
	filters.OrderBy = ""
	filters.Limit = 0
	if err := filters.Validate(); err != nil {
		return 0, err
	}
	bounds := filters.bounds(mode)
	count := 0
	for _, item := range items {
		if matches(item, bounds, predicates) {
			count++
		}
	}
	return count, nil
}

// Find returns the first item matching every predicate.
func Find[T model.Record](items []T, predicates ...Predicate[T]) (T, bool) {
	for _, item := range items {
		if matches(item, nil, predicates) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Index returns the position of the record with id, or -1.
func Index[T model.Record](items []T, id string) int {
	return slices.IndexFunc(items, func(item T) bool {
		return item.RecordID() == id
	})
}

func matches[T model.Record](item T, bounds []bound, predicates []Predicate[T]) bool {
	for _, b := range bounds {
		if !b.holds(item) {
			return false
		}
	}
	for _, predicate := range predicates {
		if predicate != nil && !predicate(item) {
			return false
		}
	}
	return true
}

// compare orders by subtraction sign without overflowing on extreme values.
func compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// MatchIDs keeps records whose id is in ids. An empty set matches everything.
func MatchIDs[T model.Record](ids []string) Predicate[T] {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(item T) bool {
		_, ok := set[item.RecordID()]
		return ok
	}
}

// MatchString keeps records where get returns want. An empty want matches everything.
func MatchString[T model.Record](want string, get func(T) string) Predicate[T] {
	if want == "" {
		return nil
	}
	return func(item T) bool {
		return get(item) == want
	}
}

// MatchInt64s keeps records where get returns one of values. An empty set matches everything.
func MatchInt64s[T model.Record](values []int64, get func(T) int64) Predicate[T] {
	if len(values) == 0 {
		return nil
	}
	set := make(map[int64]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return func(item T) bool {
		_, ok := set[get(item)]
		return ok
	}
}
