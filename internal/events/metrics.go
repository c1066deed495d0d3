package events

import "github.com/prometheus/client_golang/prometheus"

var (
	subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "prunejuice",
		Subsystem: "events",
		Name:      "subscribers",
		Help:      "Connected websocket subscribers",
	})

	droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prunejuice",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped for slow subscribers",
	})
)

func init() {
	prometheus.MustRegister(subscribers, droppedTotal)
}
