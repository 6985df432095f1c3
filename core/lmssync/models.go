// Package lmssync keeps a local, expiring copy of a learning-management provider's data up to date.
package lmssync

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/lessonsync/core"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotConfigured = errors.New("no LMS provider configured")
	ErrUnhealthy     = errors.New("LMS provider unhealthy")

	ErrProviderReplaced = errors.New("LMS provider replaced")
)

// sub-syncs
const (
	SyncStudents = "students"
	SyncLessons  = "lessons"
	SyncProgress = "progress"
	SyncTests    = "tests"
)

type State string

const (
	StateIdle        State = "idle"
	StateSyncing     State = "syncing"
	StateBackoffWait State = "backoff_wait"
	StateStopped     State = "stopped"
)

type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomePartialFailure OutcomeKind = "partial_failure"
	OutcomeFailure        OutcomeKind = "failure"
)

type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Failed []string    `json:"failed,omitempty"` // PartialFailure: the failed sub-syncs
	Reason string      `json:"reason,omitempty"` // Failure
}

// Run is one synchronization batch.
type Run struct {
	ID         string         `json:"id"`
	Provider   string         `json:"provider"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcome    Outcome        `json:"outcome"`
	Counts     map[string]int `json:"counts"`
}

func (r Run) Succeeded() bool {
	return r.Outcome.Kind == OutcomeSuccess
}

type Status struct {
	ProviderID string        `json:"provider_id"`
	Configured bool          `json:"configured"`
	Healthy    bool          `json:"healthy"`
	Running    bool          `json:"running"`
	State      State         `json:"state"`
	LastSync   *time.Time    `json:"last_sync"`
	Interval   time.Duration `json:"interval"`
	LastRun    *Run          `json:"last_run,omitempty"`
}

// RunFilter selects sync history entries. Zero fields do not filter.
type RunFilter struct {
	Provider string
	Outcome  OutcomeKind
	Limit    int
	Ordering []core.DBOrdering // default: started_at DESC
}

// RunOrderingFields are the fields sync history can be ordered by.
var RunOrderingFields = map[string]bool{"started_at": true, "finished_at": true, "provider": true}

// RunRecorder keeps the sync history.
type RunRecorder interface {
	SaveSyncRun(ctx context.Context, run Run) error
	QuerySyncRuns(ctx context.Context, filter RunFilter) ([]Run, error)
}
