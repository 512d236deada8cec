package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oxgame_store_requests_total",
		Help: "Store requests handled, by op.",
	}, []string{"op"})

	txRoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oxgame_store_tx_rounds_total",
		Help: "Transaction compare-and-swap rounds, by result.",
	}, []string{"result"})

	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oxgame_store_connections",
		Help: "Currently connected store clients.",
	})
)
