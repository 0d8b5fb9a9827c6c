package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/native-crypto/genrsa/metrics"
	"github.com/native-crypto/genrsa/test"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	found, err := m.Contains(ctx, "65537")
	test.AssertNotError(t, err, "Contains")
	test.Assert(t, !found, "empty set should not contain anything")

	added, err := m.Add(ctx, "65537")
	test.AssertNotError(t, err, "Add")
	test.Assert(t, added, "first Add should report a new value")

	added, err = m.Add(ctx, "65537")
	test.AssertNotError(t, err, "Add")
	test.Assert(t, !added, "second Add should report an existing value")

	found, err = m.Contains(ctx, "65537")
	test.AssertNotError(t, err, "Contains")
	test.Assert(t, found, "set should contain added value")
	test.AssertEquals(t, m.Len(), 1)
}

func TestMemoryConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			added, err := m.Add(ctx, "104729")
			if err == nil && added {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	test.AssertEquals(t, wins.Load(), int32(1))
}

// fakeRedis implements setCmdable with a map.
type fakeRedis struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: make(map[string]map[string]struct{})}
}

func (f *fakeRedis) SIsMember(_ context.Context, key string, member interface{}) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	_, ok := f.sets[key][member.(string)]
	return redis.NewBoolResult(ok, nil)
}

func (f *fakeRedis) SAdd(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]struct{})
	}
	var n int64
	for _, m := range members {
		if _, ok := f.sets[key][m.(string)]; !ok {
			f.sets[key][m.(string)] = struct{}{}
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedis(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r := NewRedis(fake, "", metrics.NoopRegisterer)

	found, err := r.Contains(ctx, "7919")
	test.AssertNotError(t, err, "Contains")
	test.Assert(t, !found, "empty set should not contain anything")

	added, err := r.Add(ctx, "7919")
	test.AssertNotError(t, err, "Add")
	test.Assert(t, added, "first Add should report a new value")

	added, err = r.Add(ctx, "7919")
	test.AssertNotError(t, err, "Add")
	test.Assert(t, !added, "second Add should report an existing value")

	found, err = r.Contains(ctx, "7919")
	test.AssertNotError(t, err, "Contains")
	test.Assert(t, found, "set should contain added value")

	_, ok := fake.sets[DefaultKey]["7919"]
	test.Assert(t, ok, "value should be stored under the default key")

	test.AssertMetricWithLabelsEquals(t, r.ops, prometheus.Labels{"method": "SADD", "result": "success"}, 2)
	test.AssertMetricWithLabelsEquals(t, r.ops, prometheus.Labels{"method": "SISMEMBER", "result": "success"}, 2)
}

func TestRedisErrors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	r := NewRedis(fake, "primes", metrics.NoopRegisterer)

	_, err := r.Contains(ctx, "7919")
	test.AssertError(t, err, "Contains should fail")
	test.AssertContains(t, err.Error(), "connection refused")

	_, err = r.Add(ctx, "7919")
	test.AssertError(t, err, "Add should fail")
	test.AssertMetricWithLabelsEquals(t, r.ops, prometheus.Labels{"result": "error"}, 2)
}
