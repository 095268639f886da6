// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rlx-health/rhealth/internal/platform/apperr"
	"github.com/rlx-health/rhealth/internal/platform/constants"
)

// # OAuth State Repository

// RedisStateRepository implements StateRepository using Redis.
//
// States are single-use by construction: Consume deletes the key and treats a
// zero delete count as "never existed or already used".
type RedisStateRepository struct {
	client *redis.Client
}

// NewStateRepository creates a new Redis-backed StateRepository.
func NewStateRepository(client *redis.Client) *RedisStateRepository {
	return &RedisStateRepository{client: client}
}

/*
Set stores a pending OAuth state token with the given TTL.

Parameters:
  - context: context.Context
  - state: string
  - ttl: time.Duration

Returns:
  - error: Execution errors
*/
func (repository *RedisStateRepository) Set(context context.Context, state string, ttl time.Duration) error {

	// Use constants for key prefix
	key := constants.RedisPrefixOAuthState + state

	// Set the state with TTL; the value itself carries no information
	if err := repository.client.Set(context, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis_oauth_state_set_failed: %w", err)
	}

	// Return nil on success
	return nil
}

/*
Consume redeems a state token exactly once.

Description: DEL is atomic, so two concurrent redemptions of the same state
can never both succeed.

Parameters:
  - context: context.Context
  - state: string

Returns:
  - error: apperr.NotFound if absent/expired/consumed, connectivity errors
*/
func (repository *RedisStateRepository) Consume(context context.Context, state string) error {

	// Use constants for key prefix
	key := constants.RedisPrefixOAuthState + state

	// Delete the key and inspect how many keys were actually removed
	deleted, err := repository.client.Del(context, key).Result()
	if err != nil {
		return fmt.Errorf("redis_oauth_state_consume_failed: %w", err)
	}

	if deleted == 0 {
		return apperr.NotFound("OAuth state")
	}

	return nil
}
