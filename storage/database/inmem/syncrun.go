package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lmssync"
)

type syncRunRepository struct {
	db *syncRunTable
}

var _ lmssync.RunRecorder = (*syncRunRepository)(nil)

func NewSyncRunRepository(db *DB) lmssync.RunRecorder {
	return &syncRunRepository{db: db.syncRun}
}

func (repo *syncRunRepository) SaveSyncRun(ctx context.Context, run lmssync.Run) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	counts := make(map[string]int, len(run.Counts))
	for k, v := range run.Counts {
		counts[k] = v
	}
	run.Counts = counts
	repo.db.table = append(repo.db.table, run)
	return nil
}

func (repo *syncRunRepository) QuerySyncRuns(ctx context.Context, filter lmssync.RunFilter) ([]lmssync.Run, error) {
	repo.db.mutex.RLock()
	runs := make([]lmssync.Run, 0, len(repo.db.table))
	for _, run := range repo.db.table {
		if filter.Provider != "" && run.Provider != filter.Provider {
			continue
		}
		if filter.Outcome != "" && run.Outcome.Kind != filter.Outcome {
			continue
		}
		runs = append(runs, run)
	}
	repo.db.mutex.RUnlock()

	ordering := filter.Ordering
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "started_at"}}
	}
	sort.SliceStable(runs, func(i, j int) bool {
		for _, ord := range ordering {
			c := compareRuns(runs[i], runs[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})

	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func compareRuns(a, b lmssync.Run, field string) int {
	switch field {
	case "started_at":
		return compareInt64(a.StartedAt.UnixNano(), b.StartedAt.UnixNano())
	case "finished_at":
		return compareInt64(a.FinishedAt.UnixNano(), b.FinishedAt.UnixNano())
	case "provider":
		return strings.Compare(a.Provider, b.Provider)
	}
	return 0
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
