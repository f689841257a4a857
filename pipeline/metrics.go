// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_requests_total",
			Help: "Total governed requests by final decision",
		},
		[]string{"decision"},
	)

	blocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governance_blocks_total",
			Help: "Blocked requests by the stage that blocked them",
		},
		[]string{"stage"},
	)

	governDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "governance_request_duration_seconds",
			Help:    "End-to-end latency of request governance",
			Buckets: prometheus.DefBuckets,
		},
	)

	sealFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "governance_seal_failures_total",
			Help: "Requests that failed because the decision could not be sealed",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, blocksTotal, governDuration, sealFailures)
}

// Stage labels for blocksTotal.
const (
	stageInjection = "injection"
	stageAuthority = "authority"
	stageMisuse    = "misuse"
	stagePolicy    = "policy"
)
