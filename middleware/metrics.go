package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402_challenges_issued_total",
		Help: "Number of 402 payment challenges issued.",
	})

	paymentsVerified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402_payments_verified_total",
		Help: "Number of payment authorizations verified successfully.",
	})

	verificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_verification_failures_total",
		Help: "Number of rejected payment authorizations by error code.",
	}, []string{"code"})
)
