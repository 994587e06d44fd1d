package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/collabstore/internal/query"
	"github.com/gin-gonic/gin"
)

var errInvalidQueryParameter = errors.New("invalid query parameter")

// parseFilters reads the shared list descriptor from the query string.
func parseFilters(c *gin.Context) (query.Filters, error) {
	filters := query.Filters{
		OrderBy:        strings.TrimSpace(c.Query("orderBy")),
		OrderDirection: query.Direction(strings.TrimSpace(c.Query("orderDirection"))),
	}
	bounds := []struct {
		name   string
		target **int64
	}{
		{name: "createdAfter", target: &filters.CreatedAfter},
		{name: "createdBefore", target: &filters.CreatedBefore},
		{name: "updatedAfter", target: &filters.UpdatedAfter},
		{name: "updatedBefore", target: &filters.UpdatedBefore},
	}
	for _, bound := range bounds {
		value, ok, err := optionalInt64(c, bound.name)
		if err != nil {
			return query.Filters{}, err
		}
		if ok {
			*bound.target = query.Int64(value)
		}
	}
	limit, ok, err := optionalInt64(c, "limit")
	if err != nil {
		return query.Filters{}, err
	}
	if ok {
		filters.Limit = int(limit)
	}
	if err := filters.Validate(); err != nil {
		return query.Filters{}, fmt.Errorf("%w: %w", errInvalidQueryParameter, err)
	}
	return filters, nil
}

func optionalInt64(c *gin.Context, name string) (int64, bool, error) {
	raw, present := c.GetQuery(name)
	if !present || strings.TrimSpace(raw) == "" {
		return 0, false, nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s", errInvalidQueryParameter, name)
	}
	return value, true, nil
}

func int64List(c *gin.Context, name string) ([]int64, error) {
	raw := c.QueryArray(name)
	values := make([]int64, 0, len(raw))
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			value, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", errInvalidQueryParameter, name)
			}
			values = append(values, value)
		}
	}
	return values, nil
}

func stringList(c *gin.Context, name string) []string {
	values := make([]string, 0)
	for _, item := range c.QueryArray(name) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
	}
	return values
}
