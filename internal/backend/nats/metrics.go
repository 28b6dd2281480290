package nats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_nats_event_count",
		Help: "The number of received messages by the NATS backend (per outcome).",
	}, []string{"outcome"})

	pc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_nats_publish_count",
		Help: "The number of sent responses by the NATS backend (per kind).",
	}, []string{"kind"})
)

func natsEventCounter(o string) prometheus.Counter {
	return ec.With(prometheus.Labels{"outcome": o})
}

func natsPublishCounter(k string) prometheus.Counter {
	return pc.With(prometheus.Labels{"kind": k})
}
