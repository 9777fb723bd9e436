package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_active_connections",
		Help: "The total number of active connections",
	})

	metricConnectionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_connections",
		Help: "The total number of created connections",
	})

	metricMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_messages",
		Help: "The total number of messages exchanged",
	}, []string{"type"})

	metricMessagesUndeliverable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_messages_undeliverable",
		Help: "The total number of messages addressed to unknown peers",
	})

	metricMalformedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaling_messages_malformed",
		Help: "The total number of dropped messages which could not be parsed",
	})

	metricHttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests",
	}, []string{"code", "method"})

	metricHttpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds",
		Help: "Duration of all HTTP requests",
	}, []string{"code", "method"})
)
