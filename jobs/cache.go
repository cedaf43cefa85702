// Package jobs tracks story job status in Redis so API frontends can poll
// progress without touching the checkpoint store. Entries expire on their
// own; the cache is advisory and the checkpoint store stays the source of
// truth.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job lifecycle states as reported to pollers.
const (
	StateProcessing    = "processing"
	StatePendingReview = "pending_review"
	StatePublished     = "published"
	StateRejected      = "rejected"
	StateFailed        = "failed"
)

// DefaultTTL is how long a status entry lives without updates.
const DefaultTTL = time.Hour

const keyPrefix = "story:status:"

// Status is one job's current position in the pipeline.
type Status struct {
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache stores job status with a TTL. All methods are no-ops on a nil
// receiver so callers without Redis configured need no guards.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache wraps an existing Redis client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client, ttl: DefaultTTL}
}

// NewCacheTTL wraps a Redis client with a custom entry lifetime.
func NewCacheTTL(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func key(jobID string) string {
	return keyPrefix + jobID
}

// Set records the status of a job, refreshing its TTL.
func (c *Cache) Set(ctx context.Context, jobID string, st Status) error {
	if c == nil {
		return nil
	}
	if jobID == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return c.client.Set(ctx, key(jobID), data, c.ttl).Err()
}

// Get returns a job's status. The second return is false when the entry is
// absent or expired, which is not an error.
func (c *Cache) Get(ctx context.Context, jobID string) (Status, bool, error) {
	if c == nil {
		return Status{}, false, nil
	}
	data, err := c.client.Get(ctx, key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Status{}, false, nil
		}
		return Status{}, false, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, false, fmt.Errorf("unmarshal status: %w", err)
	}
	return st, true, nil
}

// Delete drops a job's entry. Deleting an absent entry is not an error.
func (c *Cache) Delete(ctx context.Context, jobID string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, key(jobID)).Err()
}
