package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
)

const literaturePrefix = "lit:"

// LiteratureKey builds the cache key for a search: lit:{query}_{limit}.
// The query is trimmed and lowercased.
func LiteratureKey(query string, limit int) string {
	return fmt.Sprintf("%s%s_%d", literaturePrefix, strings.ToLower(strings.TrimSpace(query)), limit)
}

// GetLiterature returns a cached search result or nil on a miss.
func (c *Cache) GetLiterature(ctx context.Context, query string, limit int) (*model.SearchResult, error) {
	data, err := c.client.Get(ctx, LiteratureKey(query, limit)).Bytes()
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	var res model.SearchResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, nil //nolint:nilerr
	}
	return &res, nil
}

// SetLiterature stores a search result for ttl.
func (c *Cache) SetLiterature(ctx context.Context, query string, limit int, res *model.SearchResult, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal search result: %w", err)
	}
	return c.client.Set(ctx, LiteratureKey(query, limit), data, ttl).Err()
}
