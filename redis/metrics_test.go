package redis

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/native-crypto/genrsa/test"
)

type fakePoolStatGetter struct{}

func (fakePoolStatGetter) PoolStats() *redis.PoolStats {
	return &redis.PoolStats{
		Hits:       13,
		Misses:     7,
		Timeouts:   4,
		TotalConns: 1000,
		IdleConns:  500,
		StaleConns: 10,
	}
}

func TestPoolCollector(t *testing.T) {
	// Each assertion names both labels so that only one family matches.
	pc := newPoolCollector(fakePoolStatGetter{}, prometheus.Labels{"shards": "a,b", "user": "genrsa"})

	test.AssertMetricWithLabelsEquals(t, pc, prometheus.Labels{"result": "hit", "state": ""}, 13)
	test.AssertMetricWithLabelsEquals(t, pc, prometheus.Labels{"result": "miss", "state": ""}, 7)
	test.AssertMetricWithLabelsEquals(t, pc, prometheus.Labels{"result": "timeout", "state": ""}, 4)
	test.AssertMetricWithLabelsEquals(t, pc, prometheus.Labels{"state": "total", "result": ""}, 1000)
	test.AssertMetricWithLabelsEquals(t, pc, prometheus.Labels{"state": "idle", "result": ""}, 500)
	test.AssertMetricWithLabelsEquals(t, pc, prometheus.Labels{"state": "stale", "result": ""}, 10)
}

func TestMustRegisterClientMetricsCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	shards := map[string]string{"shard2": "10.0.0.2:4218", "shard1": "10.0.0.1:4218"}

	MustRegisterClientMetricsCollector(fakePoolStatGetter{}, registry, shards, "genrsa")
	// Identical labels are tolerated.
	MustRegisterClientMetricsCollector(fakePoolStatGetter{}, registry, shards, "genrsa")

	families, err := registry.Gather()
	test.AssertNotError(t, err, "gathering metrics")
	test.AssertEquals(t, len(families), 2)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "shards" {
					test.AssertEquals(t, l.GetValue(), "shard1,shard2")
				}
			}
		}
	}
}
