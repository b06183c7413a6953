package metrics

import (
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
	ScheduleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "schedule_create_total", Help: "Schedule create results."},
		[]string{"result"}, // ok | idempotent | rejected | error
	)

	// Dispatcher
	ClaimTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_claim_total", Help: "Claim attempts on due messages."},
		[]string{"result"}, // won | lost | error
	)
	DueBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_due_batch_size",
			Help:    "Number of due messages found per tick.",
			Buckets: prometheus.LinearBuckets(0, 5, 11), // 0,5,...,50
		},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_inflight", Help: "Scheduled messages being dispatched in this process."},
	)
	GatewaySendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gateway_send_total", Help: "Gateway send outcomes."},
		[]string{"outcome"}, // accepted | rejected
	)
	GatewaySendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_send_duration_seconds",
			Help:    "Gateway send latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
)

// Register default + our collectors
func MustRegister() {
	prometheus.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		HTTPRequests, HTTPDuration, ScheduleTotal,
		ClaimTotal, DueBatchSize, InFlight,
		GatewaySendTotal, GatewaySendDuration,
	)
}

// Export a tiny pgxpool stats exporter
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns          prometheus.Gauge
	idle           prometheus.Gauge
	acquireCount   prometheus.Counter
	acquireLatency prometheus.Counter
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
		acquireCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquires_total", Help: "Total pool acquires.",
		}),
		acquireLatency: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquire_seconds_total", Help: "Sum of acquire latencies.",
		}),
	}
	prometheus.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireLatency)

	return m
}

func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	for {
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
			s := m.pool.Stat()
			m.conns.Set(float64(s.TotalConns()))
			m.idle.Set(float64(s.IdleConns()))
			m.acquireCount.Add(float64(s.AcquireCount()))
			m.acquireLatency.Add(s.AcquireDuration().Seconds())
		}
	}
}
