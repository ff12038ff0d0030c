package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	LoginSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keygate_logins_success_total",
		Help: "Total number of successful logins.",
	})
	LoginFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keygate_logins_failure_total",
		Help: "Total number of failed logins.",
	})
	AccountLockTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keygate_account_locks_total",
		Help: "Total number of accounts locked after repeated failures.",
	})
	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keygate_tokens_issued_total",
		Help: "Total number of access/refresh tokens issued.",
	})
	TokensRotatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keygate_tokens_rotated_total",
		Help: "Total number of refresh tokens rotated.",
	})
)

// Register registers the custom metrics with the given registerer. It should
// be called once at application startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics")
		return
	}
	for _, c := range []prometheus.Collector{
		LoginSuccessTotal,
		LoginFailureTotal,
		AccountLockTotal,
		TokensIssuedTotal,
		TokensRotatedTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}
