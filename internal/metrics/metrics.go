// Package metrics exposes daemon metrics in the Prometheus exposition
// format on a dedicated registry.
package metrics

import (
	"math/big"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and updates all stakewatch metrics. A dedicated
// registry keeps the output free of default-registry noise.
type Collector struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	metaTxTotal     *prometheus.CounterVec
	scanChunksTotal *prometheus.CounterVec

	snapshotAge    prometheus.Gauge
	headBlock      prometheus.Gauge
	rewardPool     prometheus.Gauge
	totalStaked    prometheus.Gauge
	wsClients      prometheus.Gauge
	goroutineCount prometheus.Gauge
	uptimeSeconds  prometheus.Gauge

	startTime time.Time

	mu          sync.Mutex
	lastRefresh time.Time
	syncFns     []func(*Collector)
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakewatch",
			Name:      "refresh_total",
			Help:      "Dashboard refresh cycles by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stakewatch",
			Name:      "refresh_duration_seconds",
			Help:      "Dashboard refresh cycle latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),
		metaTxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakewatch",
			Name:      "meta_tx_total",
			Help:      "Gasless transaction submissions by action and result.",
		}, []string{"action", "result"}),
		scanChunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakewatch",
			Name:      "scan_chunks_total",
			Help:      "Event log chunk fetches by result.",
		}, []string{"result"}),
		snapshotAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakewatch",
			Name:      "snapshot_age_seconds",
			Help:      "Seconds since the last successful refresh.",
		}),
		headBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakewatch",
			Name:      "head_block",
			Help:      "Chain head block observed at the last refresh.",
		}),
		rewardPool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakewatch",
			Name:      "reward_pool_balance",
			Help:      "Reward pool balance in base token units.",
		}),
		totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakewatch",
			Name:      "total_staked",
			Help:      "Total staked in base token units.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakewatch",
			Name:      "ws_clients",
			Help:      "Connected WebSocket dashboard clients.",
		}),
		goroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakewatch",
			Name:      "goroutine_count",
			Help:      "Number of goroutines.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakewatch",
			Name:      "uptime_seconds",
			Help:      "Time since the daemon started in seconds.",
		}),
		startTime: time.Now(),
	}

	reg.MustRegister(
		c.refreshTotal,
		c.refreshDuration,
		c.metaTxTotal,
		c.scanChunksTotal,
		c.snapshotAge,
		c.headBlock,
		c.rewardPool,
		c.totalStaked,
		c.wsClients,
		c.goroutineCount,
		c.uptimeSeconds,
	)
	return c
}

// Registry returns the underlying registry for extra registrations.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveRefresh records one refresh cycle
func (c *Collector) ObserveRefresh(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.refreshTotal.WithLabelValues(result).Inc()
	if err == nil {
		c.refreshDuration.Observe(duration.Seconds())
		c.mu.Lock()
		c.lastRefresh = time.Now()
		c.mu.Unlock()
	}
}

// ObserveMetaTx records one submission outcome
func (c *Collector) ObserveMetaTx(action string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.metaTxTotal.WithLabelValues(action, result).Inc()
}

// ObserveScanChunk records one event log chunk fetch
func (c *Collector) ObserveScanChunk(failed bool) {
	result := "success"
	if failed {
		result = "failure"
	}
	c.scanChunksTotal.WithLabelValues(result).Inc()
}

// SetSnapshot updates the snapshot gauges after a refresh
func (c *Collector) SetSnapshot(headBlock uint64, rewardPool, totalStaked *big.Int) {
	c.headBlock.Set(float64(headBlock))
	c.rewardPool.Set(bigToFloat(rewardPool))
	c.totalStaked.Set(bigToFloat(totalStaked))
}

// AddSyncFunc registers a callback run before each scrape, for gauges
// sourced from live state such as the WebSocket client count.
func (c *Collector) AddSyncFunc(fn func(*Collector)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncFns = append(c.syncFns, fn)
}

// SetWSClients sets the connected client gauge
func (c *Collector) SetWSClients(count int) {
	c.wsClients.Set(float64(count))
}

func (c *Collector) sync() {
	c.goroutineCount.Set(float64(runtime.NumGoroutine()))
	c.uptimeSeconds.Set(time.Since(c.startTime).Seconds())

	c.mu.Lock()
	last := c.lastRefresh
	fns := make([]func(*Collector), len(c.syncFns))
	copy(fns, c.syncFns)
	c.mu.Unlock()

	if !last.IsZero() {
		c.snapshotAge.Set(time.Since(last).Seconds())
	}
	for _, fn := range fns {
		fn(c)
	}
}

// Handler serves the registry in the text exposition format, syncing
// live gauges before each scrape.
func (c *Collector) Handler() http.Handler {
	inner := promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.sync()
		inner.ServeHTTP(w, r)
	})
}

// bigToFloat converts for gauge display; precision loss is acceptable
// here, exact values come from the API.
func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
