package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ResyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saunasync_resync_runs_total",
			Help: "Resync runs by final status",
		},
		[]string{"status"},
	)
	ProductsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saunasync_products_deleted_total",
			Help: "Product records deleted from the content store",
		},
	)
	ProductsSyncedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saunasync_products_synced_total",
			Help: "Product records recreated by re-import",
		},
	)
	SyncErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saunasync_sync_errors_total",
			Help: "Errors during resync by phase",
		},
		[]string{"phase"}, // delete | import
	)
	ResyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saunasync_resync_duration_seconds",
			Help:    "Wall time of a full resync",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	CatalogFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saunasync_catalog_fallback_total",
			Help: "Catalog reads served from the mirror or built-in data",
		},
	)

	registerOnce sync.Once
)

// Register rejestruje metryki w domyślnym rejestrze (raz na proces).
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ResyncRunsTotal,
			ProductsDeletedTotal,
			ProductsSyncedTotal,
			SyncErrorsTotal,
			ResyncDuration,
			CatalogFallbackTotal,
		)
	})
}

func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// RecordResync odkłada wynik jednego przebiegu.
func RecordResync(status string, deleted, deleteErrors, synced, importErrors int, took time.Duration) {
	ResyncRunsTotal.WithLabelValues(status).Inc()
	ProductsDeletedTotal.Add(float64(deleted))
	ProductsSyncedTotal.Add(float64(synced))
	SyncErrorsTotal.WithLabelValues("delete").Add(float64(deleteErrors))
	SyncErrorsTotal.WithLabelValues("import").Add(float64(importErrors))
	ResyncDuration.Observe(took.Seconds())
}
