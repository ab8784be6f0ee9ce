// pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearbill_auth_attempts_total",
		Help: "Authentication attempts by grant and outcome.",
	}, []string{"grant", "outcome"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearbill_token_refresh_total",
		Help: "Token refresh attempts by outcome.",
	}, []string{"outcome"})

	OrgAuthCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clearbill_org_auth_cache_hits_total",
		Help: "Organization authentications served from cache.",
	})

	RateLimitDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clearbill_role_transition_denials_total",
		Help: "Super-admin transitions denied by the fixed-window limiter.",
	})

	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clearbill_webhooks_received_total",
		Help: "Webhook deliveries by verification outcome.",
	}, []string{"outcome"})
)
