package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcast_upstream_calls_total",
			Help: "Total upstream API calls (PVGIS, weather)",
		},
		[]string{"source", "endpoint", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solarcast_upstream_latency_seconds",
			Help:    "Upstream API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "endpoint"},
	)

	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcast_rows_skipped_total",
			Help: "Malformed upstream rows skipped during parsing",
		},
		[]string{"source"},
	)

	RefreshCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solarcast_refresh_cycles_total",
			Help: "Forecast refresh cycles by outcome",
		},
		[]string{"outcome"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "solarcast_refresh_duration_seconds",
			Help:    "Duration of a full forecast refresh cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	WeatherAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solarcast_weather_available",
			Help: "1 when the weather source delivered data in the last cycle",
		},
	)

	EnergyTodayWh = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solarcast_energy_today_wh",
			Help: "Forecast energy production for today in Wh",
		},
		[]string{"array"},
	)

	PowerNowWatts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solarcast_power_now_watts",
			Help: "Forecast power for the current hour",
		},
		[]string{"array"},
	)

	SnowCovered = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solarcast_snow_covered",
			Help: "1 when the array is considered snow covered",
		},
		[]string{"array"},
	)

	HistorySnapshots = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solarcast_history_snapshots",
			Help: "Forecast snapshots held in the retention window",
		},
	)
)
