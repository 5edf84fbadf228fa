package ratelimit

import (
	"context"
	_ "embed"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/briefvault/briefvault-api/internal/xerrors"
)

//go:embed fixed_window.lua
var fixedWindowScript string

// RedisStore runs the fixed-window check as a Lua script so the
// read-check-increment sequence is atomic across all app instances.
type RedisStore struct {
	client *redis.Client
	script *redis.Script

	// keyPrefix namespaces counters away from other redis users
	keyPrefix string
}

// NewRedisStore pings the server so a bad address fails startup, not the
// first rate-limited request.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, xerrors.Wrap(err, "ratelimit: redis ping")
	}

	return &RedisStore{
		client:    client,
		script:    redis.NewScript(fixedWindowScript),
		keyPrefix: "ratelimit:",
	}, nil
}

func (s *RedisStore) Check(ctx context.Context, key string, policy Policy) (Decision, error) {
	res, err := s.script.Run(ctx, s.client,
		[]string{s.keyPrefix + key},
		policy.MaxRequests,
		policy.Window.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, xerrors.Wrap(err, "ratelimit: redis eval")
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, xerrors.Newf("ratelimit: unexpected script reply %T", res)
	}

	admitted, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryMs, _ := values[2].(int64)

	d := Decision{
		Admitted:  admitted == 1,
		Remaining: int(remaining),
	}
	if !d.Admitted {
		d.RetryAfter = time.Duration(retryMs) * time.Millisecond
	}
	return d, nil
}
