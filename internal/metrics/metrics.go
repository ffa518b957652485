package metrics

import "sync/atomic"

// MetricID identifies a single counter slot.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricAccountLockedOut
	MetricRegisterSuccess
	MetricRegisterConflict
	MetricPasswordChangeSuccess
	MetricPasswordChangeRejected
	MetricRefreshIssued
	MetricRefreshRedeemed
	MetricRefreshRejected
	MetricRefreshRevoked
	MetricVaultStored
	MetricVaultFetchHit
	MetricVaultFetchMiss
	MetricVaultDecryptFailure
	MetricVaultRevoked
	MetricEventRecorded
	MetricEventRecordFailure

	metricCount
)

var metricNames = [metricCount]string{
	MetricLoginSuccess:           "login_success",
	MetricLoginFailure:           "login_failure",
	MetricLoginRateLimited:       "login_rate_limited",
	MetricAccountLockedOut:       "account_locked_out",
	MetricRegisterSuccess:        "register_success",
	MetricRegisterConflict:       "register_conflict",
	MetricPasswordChangeSuccess:  "password_change_success",
	MetricPasswordChangeRejected: "password_change_rejected",
	MetricRefreshIssued:          "refresh_issued",
	MetricRefreshRedeemed:        "refresh_redeemed",
	MetricRefreshRejected:        "refresh_rejected",
	MetricRefreshRevoked:         "refresh_revoked",
	MetricVaultStored:            "vault_stored",
	MetricVaultFetchHit:          "vault_fetch_hit",
	MetricVaultFetchMiss:         "vault_fetch_miss",
	MetricVaultDecryptFailure:    "vault_decrypt_failure",
	MetricVaultRevoked:           "vault_revoked",
	MetricEventRecorded:          "event_recorded",
	MetricEventRecordFailure:     "event_record_failure",
}

// Name returns the stable snapshot key for the metric, or "unknown" for an
// out-of-range ID.
func (id MetricID) Name() string {
	if id < 0 || id >= metricCount {
		return "unknown"
	}
	return metricNames[id]
}

// Snapshot is a point-in-time copy of all counters, keyed by metric name.
type Snapshot map[string]uint64

// Metrics holds the counter slots. The zero value is not usable; construct
// with [New].
type Metrics struct {
	enabled bool
	slots   [metricCount]atomic.Uint64
}

func New(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

// Inc adds one to the counter. Disabled or nil receivers make it a no-op, so
// callers never branch on metric configuration.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled {
		return
	}
	if id < 0 || id >= metricCount {
		return
	}
	m.slots[id].Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return Snapshot{}
	}
	out := make(Snapshot, int(metricCount))
	for id := MetricID(0); id < metricCount; id++ {
		out[metricNames[id]] = m.slots[id].Load()
	}
	return out
}
