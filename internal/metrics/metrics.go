// Package metrics exposes Prometheus collectors for Quill.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ViewsRecorded counts view increments committed through the locked
	// update path.
	ViewsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quill",
		Name:      "views_recorded_total",
		Help:      "View-count increments committed to storage.",
	})

	// ViewsSuppressed counts view registrations suppressed by the local
	// dedup marker or the cross-instance lease.
	ViewsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quill",
		Name:      "views_suppressed_total",
		Help:      "View registrations suppressed before reaching storage.",
	}, []string{"reason"})

	// LoginFailures counts failed login attempts.
	LoginFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quill",
		Name:      "login_failures_total",
		Help:      "Failed login attempts.",
	})

	// Lockouts counts accounts locked after repeated failures.
	Lockouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quill",
		Name:      "lockouts_total",
		Help:      "Account lockouts triggered by failed login attempts.",
	})

	// StorageFailures counts storage operations absorbed by the adapter.
	StorageFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quill",
		Name:      "storage_failures_total",
		Help:      "Storage operations that failed and were absorbed.",
	})

	// UserTableRepairs counts defensive rewrites of the user collection.
	UserTableRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quill",
		Name:      "user_table_repairs_total",
		Help:      "Defensive-merge repairs of the persisted user table.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
