package redis

import (
	"errors"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// poolStatGetter is satisfied by *redis.Ring and by a fake in tests.
type poolStatGetter interface {
	PoolStats() *redis.PoolStats
}

var _ poolStatGetter = (*redis.Ring)(nil)

// poolCollector exports the connection pool statistics go-redis keeps for a
// client. Values are read on every scrape, so they are reported as constant
// metrics rather than kept in registered gauges.
type poolCollector struct {
	statGetter poolStatGetter

	lookups *prometheus.Desc
	conns   *prometheus.Desc
}

// Describe is implemented with DescribeByCollect, since Collect always emits
// the same descriptors.
func (pc poolCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(pc, ch)
}

// Collect may be called concurrently; PoolStats is concurrency-safe.
func (pc poolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := pc.statGetter.PoolStats()
	for _, l := range []struct {
		result string
		val    uint32
	}{
		{"hit", stats.Hits},
		{"miss", stats.Misses},
		{"timeout", stats.Timeouts},
	} {
		ch <- prometheus.MustNewConstMetric(pc.lookups, prometheus.CounterValue, float64(l.val), l.result)
	}
	for _, c := range []struct {
		state string
		val   uint32
	}{
		{"total", stats.TotalConns},
		{"idle", stats.IdleConns},
		{"stale", stats.StaleConns},
	} {
		ch <- prometheus.MustNewConstMetric(pc.conns, prometheus.GaugeValue, float64(c.val), c.state)
	}
}

func newPoolCollector(statGetter poolStatGetter, labels prometheus.Labels) poolCollector {
	return poolCollector{
		statGetter: statGetter,
		lookups: prometheus.NewDesc(
			"rsa_dedup_redis_pool_lookups",
			"Number of connection pool lookups made by the prime dedup client, by result",
			[]string{"result"}, labels),
		conns: prometheus.NewDesc(
			"rsa_dedup_redis_pool_conns",
			"Number of connections held by the prime dedup client's pool, by state",
			[]string{"state"}, labels),
	}
}

// MustRegisterClientMetricsCollector registers a pool collector for client,
// labelled with the sorted shard names and the username. Registering a second
// collector with identical labels is a no-op.
func MustRegisterClientMetricsCollector(client poolStatGetter, stats prometheus.Registerer, shards map[string]string, user string) {
	names := make([]string, 0, len(shards))
	for name := range shards {
		names = append(names, name)
	}
	slices.Sort(names)

	err := stats.Register(newPoolCollector(client, prometheus.Labels{
		"shards": strings.Join(names, ","),
		"user":   user,
	}))
	if err != nil {
		are := prometheus.AlreadyRegisteredError{}
		if errors.As(err, &are) {
			return
		}
		panic(err)
	}
}
