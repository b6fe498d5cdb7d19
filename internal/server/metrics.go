package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "audioupload"

type metrics struct {
	authorizations *prometheus.CounterVec
	objectPuts     *prometheus.CounterVec
	objectBytes    prometheus.Counter
}

func newMetrics(registry prometheus.Registerer) *metrics {
	factory := promauto.With(registry)

	return &metrics{
		authorizations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "authorizations_total",
			Help:      "Upload URLs requested, by outcome.",
		}, []string{"outcome"}),

		objectPuts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "object_puts_total",
			Help:      "PUTs received by the local object store, by outcome.",
		}, []string{"outcome"}),

		objectBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "object_bytes_total",
			Help:      "Bytes written by the local object store.",
		}),
	}
}
