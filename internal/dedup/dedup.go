// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dedup provides a short-lived in-flight claim per message id using
// Redis SET NX. It keeps two overlapping reply-check runs from working on the
// same message at once. It is not the idempotency record: the message store
// is, so a released or expired claim never hides a message from a later run.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed run can hold a claim.
	DefaultTTL = 10 * time.Minute

	// keyPrefix namespaces claim keys in Redis.
	keyPrefix = "replyflow:claim:"
)

// Claims hands out per-message claims.
type Claims struct {
	rdb   *redis.Client
	ttl   time.Duration
	owner string
}

// NewClaims creates a claim set backed by Redis. owner identifies this run so
// Release only deletes claims it holds.
func NewClaims(rdb *redis.Client, ttl time.Duration, owner string) *Claims {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Claims{rdb: rdb, ttl: ttl, owner: owner}
}

// Acquire returns true if this run now holds the claim for messageID.
func (c *Claims) Acquire(ctx context.Context, messageID string) (bool, error) {
	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := c.rdb.SetNX(ctx, keyPrefix+messageID, c.owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim SETNX: %w", err)
	}
	return set, nil
}

// releaseScript deletes the key only when it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release drops the claim for messageID if this run holds it.
func (c *Claims) Release(ctx context.Context, messageID string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{keyPrefix + messageID}, c.owner).Err(); err != nil {
		return fmt.Errorf("claim release: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *Claims) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
