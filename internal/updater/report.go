// Package updater schedules refresh checks and publishes new snapshots.
package updater

import "time"

// Trigger names what started a check.
type Trigger string

const (
	TriggerLoad      Trigger = "load"
	TriggerScheduled Trigger = "scheduled"
	TriggerForced    Trigger = "forced"
)

// Outcome classifies a finished check.
type Outcome string

const (
	// OutcomeUpdated means a new snapshot was published.
	OutcomeUpdated Outcome = "updated"
	// OutcomeNotModified means the server answered 304.
	OutcomeNotModified Outcome = "not_modified"
	// OutcomeUnchanged means a full download matched the published checksum.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeStale means the source was unreachable and cached data was
	// used. During the initial load the cached data is still published.
	OutcomeStale Outcome = "stale"
	// OutcomeFailed means fetching or parsing failed.
	OutcomeFailed Outcome = "failed"
)

// Report describes one finished check.
type Report struct {
	Trigger     Trigger
	Outcome     Outcome
	StartedAt   time.Time
	Duration    time.Duration
	Updated     bool
	RecordCount int
	ETag        string

	// Warning is a non-fatal fetch problem (stale data, cache IO).
	Warning error
	// Err is the fetch or parse failure for OutcomeFailed.
	Err error
}
