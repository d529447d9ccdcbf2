package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors this service's components emit.
// Mirrors the teacher's internal/metrics.Metrics shape (one struct, one
// NewMetrics constructor registering every field) trimmed to the counters
// and histograms SPEC_FULL's components actually drive.
type Metrics struct {
	TicksIngested      *prometheus.CounterVec
	CandlesIngested    *prometheus.CounterVec
	UpstreamReconnects *prometheus.CounterVec
	UpstreamConnected  *prometheus.GaugeVec

	FanoutDropsTotal     *prometheus.CounterVec
	FanoutDeliveryLatency prometheus.Histogram

	CacheCircuitState prometheus.Gauge
	CacheCircuitTrips prometheus.Counter

	HydratorQueueDepth prometheus.Gauge
	HydratorCacheHits  prometheus.Counter
	HydratorAPICalls   prometheus.Counter

	ClientsConnected prometheus.Gauge
}

// NewMetrics constructs and registers all collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketfeed_ticks_ingested_total",
			Help: "Ticks ingested per instrument feed shape",
		}, []string{"feed"}),
		CandlesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketfeed_candles_ingested_total",
			Help: "Candles ingested per interval",
		}, []string{"interval"}),
		UpstreamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketfeed_upstream_reconnects_total",
			Help: "Reconnect attempts per upstream connector",
		}, []string{"token_index"}),
		UpstreamConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketfeed_upstream_connected",
			Help: "1 if the connector is currently connected",
		}, []string{"token_index"}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketfeed_fanout_drops_total",
			Help: "Clients evicted for a full outbound ring buffer",
		}, []string{"reason"}),
		FanoutDeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketfeed_fanout_delivery_seconds",
			Help:    "Time to fan an event out to all matching clients",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		CacheCircuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_cache_circuit_state",
			Help: "Cache circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		CacheCircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketfeed_cache_circuit_trips_total",
			Help: "Times the cache circuit breaker tripped open",
		}),
		HydratorQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_hydrator_queue_depth",
			Help: "Pending history-hydration jobs",
		}),
		HydratorCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketfeed_hydrator_cache_hits_total",
			Help: "OHLC subscriptions served entirely from cache",
		}),
		HydratorAPICalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketfeed_hydrator_history_api_calls_total",
			Help: "History API calls made on a cache miss",
		}),
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketfeed_downstream_clients",
			Help: "Currently connected downstream WS clients",
		}),
	}

	reg.MustRegister(
		m.TicksIngested, m.CandlesIngested, m.UpstreamReconnects, m.UpstreamConnected,
		m.FanoutDropsTotal, m.FanoutDeliveryLatency,
		m.CacheCircuitState, m.CacheCircuitTrips,
		m.HydratorQueueDepth, m.HydratorCacheHits, m.HydratorAPICalls,
		m.ClientsConnected,
	)
	return m
}
