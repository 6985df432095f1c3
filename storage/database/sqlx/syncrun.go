// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lmssync"
)

type syncRunRow struct {
	ID         string         `db:"id"`
	Provider   string         `db:"provider"`
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt null.Time      `db:"finished_at"`
	Outcome    string         `db:"outcome"`
	Failed     pq.StringArray `db:"failed"`
	Reason     null.String    `db:"reason"`
	Counts     []byte         `db:"counts"`
}

func toSyncRunRow(run lmssync.Run) (syncRunRow, error) {
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return syncRunRow{}, err
	}
	return syncRunRow{
		ID:         run.ID,
		Provider:   run.Provider,
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: null.NewTime(run.FinishedAt.UTC(), !run.FinishedAt.IsZero()),
		Outcome:    string(run.Outcome.Kind),
		Failed:     run.Outcome.Failed,
		Reason:     null.NewString(run.Outcome.Reason, run.Outcome.Reason != ""),
		Counts:     counts,
	}, nil
}

func (r syncRunRow) run() (lmssync.Run, error) {
	run := lmssync.Run{
		ID:         r.ID,
		Provider:   r.Provider,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt.Time,
		Outcome: lmssync.Outcome{
			Kind:   lmssync.OutcomeKind(r.Outcome),
			Failed: r.Failed,
			Reason: r.Reason.String,
		},
	}
	if len(r.Failed) == 0 {
		run.Outcome.Failed = nil
	}
	if err := json.Unmarshal(r.Counts, &run.Counts); err != nil {
		return lmssync.Run{}, errors.Wrapf(err, "decoding counts of sync run %s", r.ID)
	}
	return run, nil
}

type syncRunRepository struct {
	db core.DB
}

var _ lmssync.RunRecorder = (*syncRunRepository)(nil) // interface compliance check

func NewSyncRunRepository(db core.DB) lmssync.RunRecorder {
	return &syncRunRepository{db: db}
}

func (repo *syncRunRepository) SaveSyncRun(ctx context.Context, run lmssync.Run) error {
	row, err := toSyncRunRow(run)
	if err != nil {
		return errors.Wrap(err, "encoding sync run")
	}
	q := `
		INSERT INTO sync_runs (id, provider, started_at, finished_at, outcome, failed, reason, counts)
		VALUES (:id, :provider, :started_at, :finished_at, :outcome, :failed, :reason, :counts)`
	_, err = repo.db.NamedExecContext(ctx, q, row)
	return errors.Wrap(err, "inserting sync run")
}

// syncRunsQuery orders by started_at DESC unless filter says otherwise. Unknown ordering fields are ignored.
func syncRunsQuery(filter lmssync.RunFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Provider != "" {
		args = append(args, filter.Provider)
		where = append(where, fmt.Sprintf("provider = $%d", len(args)))
	}
	if filter.Outcome != "" {
		args = append(args, string(filter.Outcome))
		where = append(where, fmt.Sprintf("outcome = $%d", len(args)))
	}

	orderBy := make([]string, 0, len(filter.Ordering))
	for _, ord := range filter.Ordering {
		if lmssync.RunOrderingFields[ord.Field] {
			orderBy = append(orderBy, ord.String())
		}
	}
	if len(orderBy) == 0 {
		orderBy = append(orderBy, core.DBOrdering{Field: "started_at"}.String())
	}

	q := new(strings.Builder)
	q.WriteString("SELECT * FROM sync_runs")
	if len(where) > 0 {
		q.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	q.WriteString(" ORDER BY " + strings.Join(orderBy, ", "))
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		_, _ = fmt.Fprintf(q, " LIMIT $%d", len(args))
	}
	return q.String(), args
}

func (repo *syncRunRepository) QuerySyncRuns(ctx context.Context, filter lmssync.RunFilter) ([]lmssync.Run, error) {
	q, args := syncRunsQuery(filter)
	var rows []syncRunRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting sync runs")
	}
	runs := make([]lmssync.Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.run()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}
