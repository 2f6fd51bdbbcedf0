package metrics

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)

	// Dispatch
	DispatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_runs_total", Help: "Dispatch run outcomes."},
		[]string{"result"}, // completed | not_found | out_of_window | no_recipients | disabled | busy | no_attempts | error
	)
	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "delivery_attempts_total", Help: "Recorded delivery attempts."},
		[]string{"status", "kind"}, // kind is empty for success
	)
	TransportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mail_transport_duration_seconds",
			Help:    "Mail transport send latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_inflight_runs", Help: "Dispatch runs executing in this process."},
	)

	// Scheduler
	SchedulerScans = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "scheduler_scans_total", Help: "Due-campaign scans."},
		[]string{"result"}, // ok | empty | error
	)

	// Cache
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cache_requests_total", Help: "Cache lookups."},
		[]string{"result"}, // hit | miss | error
	)
)

var registerOnce sync.Once

// MustRegister registers default and service collectors once per process.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			HTTPRequests, HTTPDuration,
			DispatchRuns, DeliveryAttempts, TransportDuration, InFlight,
			SchedulerScans, CacheRequests,
		)
	})
}

// Export a tiny pgxpool stats exporter
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns        prometheus.Gauge
	idle         prometheus.Gauge
	acquireCount prometheus.Gauge
	acquireTime  prometheus.Gauge
}

func NewPGXPoolStats(pool *pgxpool.Pool) *PGXPoolStats {
	m := &PGXPoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		acquireCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_acquires", Help: "Cumulative pool acquires.",
		}),
		acquireTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_acquire_seconds", Help: "Cumulative time spent acquiring connections.",
		}),
	}
	prometheus.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireTime)

	return m
}

// Start samples the pool until stop is closed. Pool counters are already
// cumulative so they are exported as gauges.
func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s := m.pool.Stat()
			m.conns.Set(float64(s.TotalConns()))
			m.idle.Set(float64(s.IdleConns()))
			m.acquireCount.Set(float64(s.AcquireCount()))
			m.acquireTime.Set(s.AcquireDuration().Seconds())
		}
	}
}
