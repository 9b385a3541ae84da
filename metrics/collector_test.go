package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewCollector_KeepsCollection(t *testing.T) {
	collector := NewCollector("databasechangeloglock")

	assert.Equal(t, "databasechangeloglock", collector.collection)
}

func TestCollector_IncLockAttempt(t *testing.T) {
	collector := NewCollector("test-coll-1")

	before := testutil.ToFloat64(LockAttemptsTotal.WithLabelValues("test-coll-1", ResultAcquired))
	collector.IncLockAttempt(ResultAcquired)
	after := testutil.ToFloat64(LockAttemptsTotal.WithLabelValues("test-coll-1", ResultAcquired))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncLockReleasesAndTimeouts(t *testing.T) {
	collector := NewCollector("test-coll-2")

	releases := testutil.ToFloat64(LockReleasesTotal.WithLabelValues("test-coll-2"))
	timeouts := testutil.ToFloat64(LockTimeoutsTotal.WithLabelValues("test-coll-2"))
	collector.IncLockReleases()
	collector.IncLockTimeouts()

	assert.Equal(t, releases+1, testutil.ToFloat64(LockReleasesTotal.WithLabelValues("test-coll-2")))
	assert.Equal(t, timeouts+1, testutil.ToFloat64(LockTimeoutsTotal.WithLabelValues("test-coll-2")))
}

func TestCollector_SetLockHeld(t *testing.T) {
	collector := NewCollector("test-coll-3")

	collector.SetLockHeld(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(LockHeld.WithLabelValues("test-coll-3")))

	collector.SetLockHeld(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(LockHeld.WithLabelValues("test-coll-3")))
}

func TestCollector_LedgerCounters(t *testing.T) {
	collector := NewCollector("test-coll-4")

	writes := testutil.ToFloat64(LedgerWritesTotal.WithLabelValues("test-coll-4", "mark_run"))
	errs := testutil.ToFloat64(LedgerErrorsTotal.WithLabelValues("test-coll-4", "mark_run"))
	sets := testutil.ToFloat64(ChangeSetsTotal.WithLabelValues("test-coll-4", "EXECUTED"))

	collector.IncLedgerWrites("mark_run")
	collector.IncLedgerErrors("mark_run")
	collector.IncChangeSets("EXECUTED")

	assert.Equal(t, writes+1, testutil.ToFloat64(LedgerWritesTotal.WithLabelValues("test-coll-4", "mark_run")))
	assert.Equal(t, errs+1, testutil.ToFloat64(LedgerErrorsTotal.WithLabelValues("test-coll-4", "mark_run")))
	assert.Equal(t, sets+1, testutil.ToFloat64(ChangeSetsTotal.WithLabelValues("test-coll-4", "EXECUTED")))
}

func TestCollector_ObserveDurations(t *testing.T) {
	collector := NewCollector("test-coll-5")

	collector.ObserveLockWait(2)
	collector.ObserveChangeSetDuration(0.5)

	assert.Greater(t, testutil.CollectAndCount(LockWaitDuration), 0)
	assert.Greater(t, testutil.CollectAndCount(ChangeSetDuration), 0)
}
