package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thesisflow/thesisflow/internal/model"
)

const (
	featureCostPrefix = "tokens:feature:"
	featureCostTTL    = 10 * time.Minute
)

// GetFeatureCost returns the cached catalog row for a feature.
// A miss or a corrupt entry returns nil, nil.
func (c *Cache) GetFeatureCost(ctx context.Context, feature string) (*model.FeatureCost, error) {
	data, err := c.client.Get(ctx, featureCostPrefix+feature).Bytes()
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	var fc model.FeatureCost
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, nil //nolint:nilerr
	}
	return &fc, nil
}

// SetFeatureCost caches a catalog row for ten minutes.
func (c *Cache) SetFeatureCost(ctx context.Context, fc *model.FeatureCost) error {
	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("marshal feature cost: %w", err)
	}
	return c.client.Set(ctx, featureCostPrefix+fc.FeatureName, data, featureCostTTL).Err()
}

// DeleteFeatureCosts drops cached rows, e.g. after a catalog sync.
func (c *Cache) DeleteFeatureCosts(ctx context.Context, features ...string) error {
	if len(features) == 0 {
		return nil
	}
	keys := make([]string, len(features))
	for i, f := range features {
		keys[i] = featureCostPrefix + f
	}
	return c.client.Del(ctx, keys...).Err()
}
