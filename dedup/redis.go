package dedup

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis set holding issued primes when none is configured.
const DefaultKey = "genrsa:primes"

// setCmdable is the subset of the go-redis client used by Redis, satisfied
// by *redis.Ring, *redis.Client and a fake in tests.
type setCmdable interface {
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// Redis is a Set stored as a single Redis set, shared by every generator
// pointed at the same key.
type Redis struct {
	client setCmdable
	key    string
	ops    *prometheus.CounterVec
}

var _ Set = (*Redis)(nil)

func NewRedis(client setCmdable, key string, stats prometheus.Registerer) *Redis {
	if key == "" {
		key = DefaultKey
	}
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rsa_dedup_redis_ops_total",
		Help: "Number of prime dedup operations sent to Redis, by method and result",
	}, []string{"method", "result"})
	stats.MustRegister(ops)

	return &Redis{
		client: client,
		key:    key,
		ops:    ops,
	}
}

func (r *Redis) Contains(ctx context.Context, value string) (bool, error) {
	found, err := r.client.SIsMember(ctx, r.key, value).Result()
	if err != nil {
		r.ops.WithLabelValues("SISMEMBER", "error").Inc()
		return false, fmt.Errorf("checking membership in %q: %w", r.key, err)
	}
	r.ops.WithLabelValues("SISMEMBER", "success").Inc()
	return found, nil
}

// Add uses SADD, whose reply counts the members that were not already
// present, so concurrent writers agree on who added a value first.
func (r *Redis) Add(ctx context.Context, value string) (bool, error) {
	n, err := r.client.SAdd(ctx, r.key, value).Result()
	if err != nil {
		r.ops.WithLabelValues("SADD", "error").Inc()
		return false, fmt.Errorf("adding to %q: %w", r.key, err)
	}
	r.ops.WithLabelValues("SADD", "success").Inc()
	return n == 1, nil
}
