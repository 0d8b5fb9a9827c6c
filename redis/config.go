package redis

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/native-crypto/genrsa/cmd"
	"github.com/native-crypto/genrsa/config"
)

// Config contains the configuration needed to act as a Redis client.
type Config struct {
	// Username used to authenticate to each Redis instance.
	Username string `yaml:"username" validate:"required"`

	// PasswordConfig holds the password, or the path to a file holding it,
	// used to authenticate to each Redis instance.
	cmd.PasswordConfig `yaml:",inline"`

	// ShardAddrs is a map of shard names to IP address:port pairs. The go-redis
	// `Ring` client will shard reads and writes across the provided Redis
	// Servers based on a consistent hashing algorithm.
	ShardAddrs map[string]string `yaml:"shardAddrs" validate:"required,min=1,dive,hostname_port"`

	// Maximum number of retries before giving up.
	// Default is to not retry failed commands.
	MaxRetries int `yaml:"maxRetries" validate:"min=0"`
	// Minimum backoff between each retry.
	// Default is 8 milliseconds; -1 disables backoff.
	MinRetryBackoff config.Duration `yaml:"minRetryBackoff" validate:"-"`
	// Maximum backoff between each retry.
	// Default is 512 milliseconds; -1 disables backoff.
	MaxRetryBackoff config.Duration `yaml:"maxRetryBackoff" validate:"-"`

	// Dial timeout for establishing new connections.
	// Default is 5 seconds.
	DialTimeout config.Duration `yaml:"dialTimeout" validate:"-"`
	// Timeout for socket reads. If reached, commands will fail
	// with a timeout instead of blocking. Use value -1 for no timeout and 0 for default.
	// Default is 3 seconds.
	ReadTimeout config.Duration `yaml:"readTimeout" validate:"-"`
	// Timeout for socket writes. If reached, commands will fail
	// with a timeout instead of blocking.
	// Default is ReadTimeout.
	WriteTimeout config.Duration `yaml:"writeTimeout" validate:"-"`

	// Maximum number of socket connections.
	// Default is 5 connections per every CPU as reported by runtime.NumCPU.
	PoolSize int `yaml:"poolSize" validate:"min=0"`
	// Minimum number of idle connections which is useful when establishing
	// new connection is slow.
	MinIdleConns int `yaml:"minIdleConns" validate:"min=0"`
	// Connection age at which client retires (closes) the connection.
	// Default is to not close aged connections.
	MaxConnAge config.Duration `yaml:"maxConnAge" validate:"-"`
	// Amount of time client waits for connection if all connections
	// are busy before returning an error.
	// Default is ReadTimeout + 1 second.
	PoolTimeout config.Duration `yaml:"poolTimeout" validate:"-"`
	// Amount of time after which client closes idle connections.
	// Should be less than server's timeout.
	// Default is 5 minutes. -1 disables idle timeout check.
	IdleTimeout config.Duration `yaml:"idleTimeout" validate:"-"`
}

// NewRing returns a new Redis ring client with tracing enabled and its
// connection pool statistics exported on stats.
func (c *Config) NewRing(stats prometheus.Registerer) (*redis.Ring, error) {
	password, err := c.Pass()
	if err != nil {
		return nil, fmt.Errorf("loading password: %w", err)
	}

	ring := redis.NewRing(&redis.RingOptions{
		Addrs:    c.ShardAddrs,
		Username: c.Username,
		Password: password,

		MaxRetries:      c.MaxRetries,
		MinRetryBackoff: c.MinRetryBackoff.Duration,
		MaxRetryBackoff: c.MaxRetryBackoff.Duration,
		DialTimeout:     c.DialTimeout.Duration,
		ReadTimeout:     c.ReadTimeout.Duration,
		WriteTimeout:    c.WriteTimeout.Duration,

		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		ConnMaxLifetime: c.MaxConnAge.Duration,
		PoolTimeout:     c.PoolTimeout.Duration,
		ConnMaxIdleTime: c.IdleTimeout.Duration,
	})

	err = redisotel.InstrumentTracing(ring)
	if err != nil {
		return nil, fmt.Errorf("instrumenting redis ring: %w", err)
	}
	MustRegisterClientMetricsCollector(ring, stats, c.ShardAddrs, c.Username)

	return ring, nil
}
