package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess    = "success"
	resultInvalid    = "invalid"
	resultDialError  = "dial_error"
	resultWriteError = "write_error"
)

var (
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logprobe_sends_total",
			Help: "Total number of send attempts by severity and result",
		},
		[]string{"severity", "result"},
	)
	sendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logprobe_send_latency_seconds",
			Help:    "Time spent connecting and writing one message",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"result"},
	)
	connectionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logprobe_connections_opened_total",
		Help: "Connections successfully established to the logging server",
	})
	connectionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logprobe_connections_closed_total",
		Help: "Connections closed after a send",
	})
	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logprobe_bytes_written_total",
		Help: "Payload bytes written to the logging server",
	})
)
