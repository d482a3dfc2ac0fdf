package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_uploads_total",
		Help: "Upload ingestion attempts by outcome.",
	}, []string{"outcome"})

	retrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_retrievals_total",
		Help: "Retrieval requests by outcome.",
	}, []string{"outcome"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_delivery_attempts_total",
		Help: "Delivery step attempts by path and result.",
	}, []string{"path", "result"})

	codeCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_code_collisions_total",
		Help: "Generated codes that were already taken and redrawn.",
	})

	broadcastMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_broadcast_messages_total",
		Help: "Broadcast messages by result.",
	}, []string{"result"})
)
