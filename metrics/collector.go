package metrics

// Collector wraps metrics and provides helper methods with the collection
// label pre-filled.
type Collector struct {
	collection string
}

// NewCollector creates a new Collector for the given collection.
func NewCollector(collection string) *Collector {
	return &Collector{collection: collection}
}

// IncLockAttempt increments the lock attempts counter for a result.
func (c *Collector) IncLockAttempt(result string) {
	LockAttemptsTotal.WithLabelValues(c.collection, result).Inc()
}

// IncLockReleases increments the lock releases counter.
func (c *Collector) IncLockReleases() {
	LockReleasesTotal.WithLabelValues(c.collection).Inc()
}

// IncLockTimeouts increments the lock timeouts counter.
func (c *Collector) IncLockTimeouts() {
	LockTimeoutsTotal.WithLabelValues(c.collection).Inc()
}

// SetLockHeld sets the lock held gauge.
func (c *Collector) SetLockHeld(held bool) {
	v := 0.0
	if held {
		v = 1
	}
	LockHeld.WithLabelValues(c.collection).Set(v)
}

// ObserveLockWait records a lock wait duration observation.
func (c *Collector) ObserveLockWait(seconds float64) {
	LockWaitDuration.WithLabelValues(c.collection).Observe(seconds)
}

// IncLedgerWrites increments the ledger writes counter for an operation.
func (c *Collector) IncLedgerWrites(operation string) {
	LedgerWritesTotal.WithLabelValues(c.collection, operation).Inc()
}

// IncLedgerErrors increments the ledger errors counter for an operation.
func (c *Collector) IncLedgerErrors(operation string) {
	LedgerErrorsTotal.WithLabelValues(c.collection, operation).Inc()
}

// IncChangeSets increments the change sets counter for an exec type.
func (c *Collector) IncChangeSets(execType string) {
	ChangeSetsTotal.WithLabelValues(c.collection, execType).Inc()
}

// ObserveChangeSetDuration records a change set execution duration.
func (c *Collector) ObserveChangeSetDuration(seconds float64) {
	ChangeSetDuration.WithLabelValues(c.collection).Observe(seconds)
}
