package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	depositsSeen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_deposits_processed_total",
		Help: "Deposits observed and upserted by the scan service.",
	}, []string{"chain", "currency"})

	depositsCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_deposits_collected_total",
		Help: "Deposits swept into the hot wallet.",
	}, []string{"chain", "currency"})

	withdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_withdrawals_total",
		Help: "Client withdrawals broadcast.",
	}, []string{"chain", "currency"})

	blocksWalked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_blocks_walked_total",
		Help: "Blocks fetched and scanned by the chain watchers.",
	}, []string{"chain"})
)
