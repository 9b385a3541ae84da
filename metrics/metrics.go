package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lock attempt results.
const (
	ResultAcquired = "acquired"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// LockAttemptsTotal counts lock acquisition attempts by result.
var LockAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docledger_lock_attempts_total",
		Help: "Total change log lock acquisition attempts",
	},
	[]string{"collection", "result"},
)

// LockReleasesTotal counts lock releases, forced or not.
var LockReleasesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docledger_lock_releases_total",
		Help: "Total change log lock releases",
	},
	[]string{"collection"},
)

// LockTimeoutsTotal counts waits that ended without the lock.
var LockTimeoutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docledger_lock_timeouts_total",
		Help: "Total lock waits that timed out",
	},
	[]string{"collection"},
)

// LockHeld is 1 while this process holds the lock.
var LockHeld = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "docledger_lock_held",
		Help: "Whether this process holds the change log lock (1) or not (0)",
	},
	[]string{"collection"},
)

// LockWaitDuration tracks the time spent waiting for the lock.
var LockWaitDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "docledger_lock_wait_duration_seconds",
		Help:    "Time spent waiting for the change log lock",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"collection"},
)

// LedgerWritesTotal counts ledger mutations by operation.
var LedgerWritesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docledger_ledger_writes_total",
		Help: "Total ledger writes",
	},
	[]string{"collection", "operation"},
)

// LedgerErrorsTotal counts failed ledger operations.
var LedgerErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docledger_ledger_errors_total",
		Help: "Total failed ledger operations",
	},
	[]string{"collection", "operation"},
)

// ChangeSetsTotal counts change sets recorded by exec type.
var ChangeSetsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docledger_change_sets_total",
		Help: "Total change sets recorded in the ledger",
	},
	[]string{"collection", "exec_type"},
)

// ChangeSetDuration tracks the execution time of change sets.
var ChangeSetDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "docledger_change_set_duration_seconds",
		Help:    "Change set execution latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"collection"},
)
