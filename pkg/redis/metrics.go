package redis

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"
)

// Operation outcomes. A Get on a missing key is a miss, not an error.
const (
	resultOK    = "ok"
	resultMiss  = "miss"
	resultError = "error"
)

var (
	kvOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stalkbot",
		Subsystem: "redis",
		Name:      "kv_operations_total",
		Help:      "Key-value calls by operation and result.",
	}, []string{"op", "result"})

	kvOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stalkbot",
		Subsystem: "redis",
		Name:      "kv_operation_duration_seconds",
		Help:      "Key-value call latency.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	}, []string{"op"})
)

// MetricsClient records the outcome and latency of every KV call.
type MetricsClient struct {
	next KV
}

var _ KV = (*MetricsClient)(nil)

func NewMetricsClient(next KV) *MetricsClient {
	return &MetricsClient{next: next}
}

func (m *MetricsClient) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := m.instrument("get", func() (err error) {
		value, err = m.next.Get(ctx, key)
		return err
	})
	return value, err
}

func (m *MetricsClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.instrument("set", func() error {
		return m.next.Set(ctx, key, value, ttl)
	})
}

func (m *MetricsClient) Delete(ctx context.Context, key string) error {
	return m.instrument("delete", func() error {
		return m.next.Delete(ctx, key)
	})
}

func (m *MetricsClient) instrument(op string, call func() error) error {
	start := time.Now()
	err := call()
	kvOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	result := resultOK
	switch {
	case errors.Is(err, goredis.Nil):
		result = resultMiss
	case err != nil:
		result = resultError
	}
	kvOpsTotal.WithLabelValues(op, result).Inc()

	return err
}
