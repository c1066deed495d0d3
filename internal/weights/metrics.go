package weights

import "github.com/prometheus/client_golang/prometheus"

var downloadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "prunejuice",
	Subsystem: "weights",
	Name:      "downloaded_bytes_total",
	Help:      "Bytes of weight files downloaded",
})

func init() {
	prometheus.MustRegister(downloadedBytes)
}
