package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript increments the window counter unless it already reached max.
// The key's TTL is the window; the first hit starts it.
// Returns {count, pttl_ms, allowed}.
var takeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

if current >= max then
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], window)
		ttl = window
	end
	return {current, ttl, 0}
end

current = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], window)
	ttl = window
end
return {current, ttl, 1}
`)

// RedisStore shares windows between instances. Window expiry follows the
// Redis server clock; now is used only to place the window start.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:"}
}

func (s *RedisStore) Take(ctx context.Context, key string, p Policy, now time.Time) (Window, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key}, p.Max, p.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("redis take: %w", err)
	}
	if len(res) != 3 {
		return Window{}, fmt.Errorf("redis take: unexpected reply length %d", len(res))
	}

	ttl := time.Duration(res[1]) * time.Millisecond
	return Window{
		Start:   now.Add(ttl - p.Window),
		Count:   int(res[0]),
		Allowed: res[2] == 1,
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis reset: %w", err)
	}
	return nil
}

// addToGroupScript files a key under a group set and keeps the set alive at
// least as long as its longest member window.
var addToGroupScript = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < tonumber(ARGV[2]) then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// resetGroupScript deletes every member window of a group and the group itself.
// Returns how many windows existed.
var resetGroupScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local removed = 0
for _, key in ipairs(members) do
	removed = removed + redis.call('DEL', ARGV[1] .. key)
end
redis.call('DEL', KEYS[1])
return removed
`)

func (s *RedisStore) groupKey(group string) string {
	return s.prefix + "group:" + group
}

func (s *RedisStore) AddToGroup(ctx context.Context, group, key string, ttl time.Duration) error {
	err := addToGroupScript.Run(ctx, s.client, []string{s.groupKey(group)}, key, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis group add: %w", err)
	}
	return nil
}

func (s *RedisStore) ResetGroup(ctx context.Context, group string) (int, error) {
	n, err := resetGroupScript.Run(ctx, s.client, []string{s.groupKey(group)}, s.prefix).Int()
	if err != nil {
		return 0, fmt.Errorf("redis group reset: %w", err)
	}
	return n, nil
}

// Close is a no-op; the client is owned by the caller
func (s *RedisStore) Close() error {
	return nil
}
