package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prunejuice",
		Subsystem: "manager",
		Name:      "loads_total",
		Help:      "Successful model loads",
	})

	loadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prunejuice",
		Subsystem: "manager",
		Name:      "load_failures_total",
		Help:      "Failed model loads",
	})

	loadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "prunejuice",
		Subsystem: "manager",
		Name:      "load_duration_seconds",
		Help:      "Time to load and optimize a model",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
	})

	generationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "prunejuice",
		Subsystem: "manager",
		Name:      "generations_total",
		Help:      "Generations by outcome",
	}, []string{"outcome"})

	generationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "prunejuice",
		Subsystem: "manager",
		Name:      "generation_duration_seconds",
		Help:      "Engine run time of successful generations",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
	}, []string{"scheduler"})

	residentModel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "prunejuice",
		Subsystem: "manager",
		Name:      "resident_model",
		Help:      "1 for the currently resident model",
	}, []string{"model"})

	slotWaiting = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "prunejuice",
		Subsystem: "manager",
		Name:      "slot_waiting",
		Help:      "Requests waiting for the exclusive slot",
	})
)

func init() {
	prometheus.MustRegister(loadsTotal, loadFailuresTotal, loadDuration, generationsTotal, generationDuration, residentModel, slotWaiting)
}
