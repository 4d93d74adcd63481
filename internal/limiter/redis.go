package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"roomchat/pkg/interfaces"
)

// cooldownScript runs the limiter state machine inside Redis so every process
// sharing the server sees one actor per identity. Times are milliseconds from
// the Redis clock. The key expires once its debt is paid, which equals a fresh actor.
var cooldownScript = redis.NewScript(`
local t = redis.call("TIME")
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local interval = tonumber(ARGV[1])
local grace = tonumber(ARGV[2])
local consume = ARGV[3] == "1"

local next_allowed = tonumber(redis.call("GET", KEYS[1]) or "0")
if next_allowed < now then
	next_allowed = now
end
if consume then
	next_allowed = next_allowed + interval
end

local ttl = next_allowed - now
if ttl > 0 then
	redis.call("SET", KEYS[1], tostring(next_allowed), "PX", ttl)
end

local wait = next_allowed - now - grace
if wait < 0 then
	wait = 0
end
return wait
`)

// RedisResolver keeps limiter state in Redis
type RedisResolver struct {
	client   *redis.Client
	prefix   string
	settings Settings
}

// NewRedisResolver stores keys under prefix, e.g. "roomchat:limiter:".
func NewRedisResolver(client *redis.Client, prefix string, settings Settings) *RedisResolver {
	return &RedisResolver{client: client, prefix: prefix, settings: settings.withDefaults()}
}

// Resolve implements interfaces.LimiterResolver.
func (r *RedisResolver) Resolve(identity string) interfaces.LimiterStub {
	return &redisStub{resolver: r, key: r.prefix + identity}
}

// Ping verifies the Redis server is reachable.
func (r *RedisResolver) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (r *RedisResolver) Close() error {
	return r.client.Close()
}

type redisStub struct {
	resolver *RedisResolver
	key      string
}

func (s *redisStub) Cooldown(ctx context.Context, consume bool) (time.Duration, error) {
	flag := "0"
	if consume {
		flag = "1"
	}

	settings := s.resolver.settings
	wait, err := cooldownScript.Run(ctx, s.resolver.client, []string{s.key},
		settings.Interval.Milliseconds(),
		settings.Grace.Milliseconds(),
		flag,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis limiter failed for %s: %w", s.key, err)
	}
	return time.Duration(wait) * time.Millisecond, nil
}
