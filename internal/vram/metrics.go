package vram

import "github.com/prometheus/client_golang/prometheus"

var (
	deviceUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "prunejuice",
			Subsystem: "vram",
			Name:      "device_bytes",
			Help:      "Device memory as last reported by the engine",
		},
		[]string{"kind"},
	)

	limitCleanups = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prunejuice",
			Subsystem: "vram",
			Name:      "limit_cleanups_total",
			Help:      "Cleanups triggered by allocated memory exceeding the limit",
		},
	)

	emergencyReleases = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prunejuice",
			Subsystem: "vram",
			Name:      "emergency_releases_total",
			Help:      "Emergency releases after OOM or on demand",
		},
	)

	releasedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "prunejuice",
			Subsystem: "vram",
			Name:      "released_bytes_total",
			Help:      "Allocated bytes reclaimed by emergency releases",
		},
	)
)

func init() {
	prometheus.MustRegister(deviceUsage, limitCleanups, emergencyReleases, releasedBytes)
}
