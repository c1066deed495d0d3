package auth

import "github.com/prometheus/client_golang/prometheus"

var rejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "prunejuice",
	Subsystem: "auth",
	Name:      "rejected_total",
	Help:      "Requests rejected for a missing or wrong bridge token",
})

func init() {
	prometheus.MustRegister(rejectedTotal)
}
