package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
)

// Direction is the sort order applied to OrderBy.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// BoundsMode selects how the four timestamp bounds combine.
type BoundsMode int

const (
	// BoundsConjunctive requires every supplied bound to hold.
	BoundsConjunctive BoundsMode = iota
	// BoundsFirstMatch applies only the first supplied bound in the order
	// createdAfter, createdBefore, updatedAfter, updatedBefore.
	BoundsFirstMatch
)

var (
	// ErrUnsupportedField indicates an OrderBy value that is not a numeric field.
	ErrUnsupportedField = errors.New("query: unsupported order field")
	// ErrInvalidDirection indicates an OrderDirection other than ASC or DESC.
	ErrInvalidDirection = errors.New("query: invalid order direction")
	// ErrInvalidLimit indicates a negative limit.
	ErrInvalidLimit = errors.New("query: invalid limit")
)

var orderableFields = map[string]struct{}{
	model.FieldCreatedAt:  {},
	model.FieldUpdatedAt:  {},
	model.FieldPageNumber: {},
	model.FieldLastRead:   {},
}

// Filters is the descriptor shared by every list query. Bounds are exclusive unix milliseconds.
type Filters struct {
	OrderBy        string    `json:"orderBy,omitempty"`
	OrderDirection Direction `json:"orderDirection,omitempty"`
	CreatedAfter   *int64    `json:"createdAfter,omitempty"`
	CreatedBefore  *int64    `json:"createdBefore,omitempty"`
	UpdatedAfter   *int64    `json:"updatedAfter,omitempty"`
	UpdatedBefore  *int64    `json:"updatedBefore,omitempty"`
	// Limit keeps the first N results after filtering and sorting. Zero means no limit.
	Limit int `json:"limit,omitempty"`
}

// ParseDirection validates raw input. Empty input means descending.
func ParseDirection(rawInput string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(rawInput))) {
	case "", Descending:
		return Descending, nil
	case Ascending:
		return Ascending, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, rawInput)
	}
}

// Validate reports descriptor errors before any records are touched.
func (f Filters) Validate() error {
	if f.OrderBy != "" {
		if _, ok := orderableFields[f.OrderBy]; !ok {
			return fmt.Errorf("%w: %q", ErrUnsupportedField, f.OrderBy)
		}
	}
	if _, err := ParseDirection(string(f.OrderDirection)); err != nil {
		return err
	}
	if f.Limit < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, f.Limit)
	}
	return nil
}

type bound struct {
	field string
	value int64
	after bool
}

func (f Filters) bounds(mode BoundsMode) []bound {
	candidates := []struct {
		value *int64
		field string
		after bool
	}{
		{f.CreatedAfter, model.FieldCreatedAt, true},
		{f.CreatedBefore, model.FieldCreatedAt, false},
		{f.UpdatedAfter, model.FieldUpdatedAt, true},
		{f.UpdatedBefore, model.FieldUpdatedAt, false},
	}
	var result []bound
	for _, candidate := range candidates {
		if candidate.value == nil {
			continue
		}
		result = append(result, bound{field: candidate.field, value: *candidate.value, after: candidate.after})
		if mode == BoundsFirstMatch {
			break
		}
	}
	return result
}

func (b bound) holds(record model.Record) bool {
	value, ok := record.Field(b.field)
	if !ok {
		return false
	}
	if b.after {
		return value > b.value
	}
	return value < b.value
}

// Int64 is a convenience for building bound pointers.
func Int64(value int64) *int64 {
	return &value
}
