// Package cache keeps short-lived copies of committed account state in Redis
// for read paths. The ledger never reads from it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stylesync/quota-server-go/internal/model"
	redisclient "github.com/stylesync/quota-server-go/internal/redis"
)

// setScript stores the account only when it is newer than what the entry
// already holds. The version survives Invalidate, so a write that commits
// before an invalidate but lands after it is still refused.
var setScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'v')
if current and tonumber(current) >= tonumber(ARGV[2]) then
    return 0
end

redis.call('HSET', KEYS[1], 'd', ARGV[1], 'v', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])

return 1
`)

const (
	dataField    = "d"
	versionField = "v"
)

type AccountCache interface {
	Get(ctx context.Context, accountID string) (*model.Account, error)
	// Set is a no-op when the cache already holds the same or a later
	// version of the account.
	Set(ctx context.Context, account *model.Account) error
	Invalidate(ctx context.Context, accountID string) error
}

type redisAccountCache struct {
	redis *redisclient.Client
	ttl   time.Duration
}

func NewAccountCache(client *redisclient.Client, ttl time.Duration) AccountCache {
	return &redisAccountCache{redis: client, ttl: ttl}
}

// Get returns nil without error on a miss.
func (c *redisAccountCache) Get(ctx context.Context, accountID string) (*model.Account, error) {
	data, err := c.redis.HGet(ctx, redisclient.AccountKey(accountID), dataField).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached account: %w", err)
	}

	var account model.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("decode cached account: %w", err)
	}
	return &account, nil
}

func (c *redisAccountCache) Set(ctx context.Context, account *model.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	err = setScript.Run(
		ctx,
		c.redis,
		[]string{redisclient.AccountKey(account.ID)},
		string(data),
		account.Version,
		c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("set cached account: %w", err)
	}
	return nil
}

// Invalidate drops the cached state but keeps its version.
func (c *redisAccountCache) Invalidate(ctx context.Context, accountID string) error {
	return c.redis.HDel(ctx, redisclient.AccountKey(accountID), dataField).Err()
}
