package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldtester_uplink_count",
		Help: "The number of handled uplinks (per envelope and outcome).",
	}, []string{"envelope", "outcome"})

	rc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldtester_core_reject_count",
		Help: "The number of uplinks rejected by the decoder (per reason).",
	}, []string{"reason"})

	sec = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldtester_storage_error_count",
		Help: "The number of accepted fixes that could not be stored.",
	})
)

// Uplink outcomes.
const (
	outcomeAccepted        = "accepted"
	outcomeIgnored         = "ignored"
	outcomeUnsupportedPort = "unsupported_port"
	outcomeRejected        = "rejected"
	outcomeInvalid         = "invalid"
)

func uplinkCounter(envelope, outcome string) prometheus.Counter {
	return uc.With(prometheus.Labels{"envelope": envelope, "outcome": outcome})
}

func rejectCounter(reason string) prometheus.Counter {
	return rc.With(prometheus.Labels{"reason": reason})
}

func storageErrorCounter() prometheus.Counter {
	return sec
}
