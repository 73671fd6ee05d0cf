// Package metrics provides Prometheus instrumentation for the escrow engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BroadcastsTotal counts transaction broadcasts by result.
	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowcore",
			Name:      "broadcasts_total",
			Help:      "Total transaction broadcasts by result.",
		},
		[]string{"result"},
	)

	// TransfersTotal counts custody spends by operation.
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowcore",
			Name:      "transfers_total",
			Help:      "Total custody transfers by operation.",
		},
		[]string{"operation"},
	)

	// DealsTotal counts escrow deal transitions by resulting status.
	DealsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowcore",
			Name:      "deals_total",
			Help:      "Total escrow deal state transitions by resulting status.",
		},
		[]string{"status"},
	)

	// MonitorCyclesTotal counts monitor cycles by task and result.
	MonitorCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowcore",
			Name:      "monitor_cycles_total",
			Help:      "Total monitor cycles by task and result.",
		},
		[]string{"task", "result"},
	)

	// BalanceDriftSats observes the absolute ledger-vs-chain deltas the
	// sweep discovers, in satoshis.
	BalanceDriftSats = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "escrowcore",
		Name:      "balance_drift_sats",
		Help:      "Absolute ledger-vs-chain balance deltas discovered by the sweep, in satoshis.",
		Buckets:   prometheus.ExponentialBuckets(1, 10, 8),
	})

	// MonitoredWallets tracks the size of the monitoring set.
	MonitoredWallets = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowcore",
		Name:      "monitored_wallets",
		Help:      "Number of wallets in the monitoring set.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowcore", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowcore", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowcore", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "escrowcore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		BroadcastsTotal,
		TransfersTotal,
		DealsTotal,
		MonitorCyclesTotal,
		BalanceDriftSats,
		MonitoredWallets,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}
