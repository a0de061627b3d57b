package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "conciliation_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	manualTotal   *prometheus.CounterVec
	manualLatency *prometheus.HistogramVec

	queryLatency *prometheus.HistogramVec

	exportTotal *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed backlog gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		manualTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "manual_total",
				Help: "Total manual conciliation attempts by result",
			},
			[]string{"result"},
		)
		manualLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "manual_latency_seconds",
				Help:    "Manual conciliation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "query_latency_seconds",
				Help:    "Dashboard read query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			manualTotal,
			manualLatency,
			queryLatency,
			exportTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveManual records one manual conciliation attempt.
func ObserveManual(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if manualTotal != nil {
		manualTotal.WithLabelValues(result).Inc()
	}
	if manualLatency != nil {
		manualLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveQuery records a dashboard read query duration.
func ObserveQuery(endpoint string, duration time.Duration) {
	if queryLatency != nil {
		queryLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
	}
}

// ObserveExport records a report export.
func ObserveExport(format, result string, _ time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}

// ManualResult maps an error to a metric result label.
func ManualResult(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        metricPrefix + "unreconciled_records",
			Help:        "Unreconciled records in the store",
			ConstLabels: prometheus.Labels{"source": "api"},
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM gold_unreconciled_api")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        metricPrefix + "unreconciled_records",
			Help:        "Unreconciled records in the store",
			ConstLabels: prometheus.Labels{"source": "erp"},
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM gold_unreconciled_erp")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "unreconciled_total_abs",
			Help: "Sum of unreconciled absolute totals across all accounts",
		},
		func() float64 {
			return queryFloat(db, logger, "SELECT COALESCE(SUM(unrec_total_abs), 0) FROM gold_conciliation_daily")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}

func queryFloat(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var value float64
	if err := db.QueryRow(query).Scan(&value); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	return value
}
