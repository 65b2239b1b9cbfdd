package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Guizzs26/tdee-sync/internal/models"
	"github.com/Guizzs26/tdee-sync/pkg/metrics"
)

// MergeResult is the outcome of a last-write-wins merge
type MergeResult struct {
	// Records is the merged view, newest date first
	Records []models.DailyRecord `json:"records"`
	// Applied holds the remote winners that must be written locally
	Applied []models.DailyRecord `json:"applied"`

	LocalWins  int `json:"local_wins"`
	RemoteWins int `json:"remote_wins"`
	Added      int `json:"added"`
	Skipped    int `json:"skipped"`
}

// MergeEntries reconciles remote rows into the local snapshot.
//
// Every local date survives. Remote rows sharing a date collapse to the one
// with the latest updated_at. A remote row then replaces the local record
// unless the local updatedAt is strictly newer; equal timestamps go to remote.
// Rows with a malformed date are counted in Skipped.
func MergeEntries(local map[string]models.DailyRecord, remote []models.RemoteRecord) MergeResult {
	latest := make(map[string]models.RemoteRecord, len(remote))
	var res MergeResult

	for _, r := range remote {
		if models.ValidateDateKey(r.Date) != nil {
			res.Skipped++
			continue
		}
		if prev, ok := latest[r.Date]; ok && !r.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		latest[r.Date] = r
	}

	merged := make(map[string]models.DailyRecord, len(local)+len(latest))
	for date, rec := range local {
		rec.Date = date
		merged[date] = rec
	}

	for date, r := range latest {
		l, exists := merged[date]
		switch {
		case !exists:
			res.Added++
		case l.UpdatedAt.After(r.UpdatedAt):
			res.LocalWins++
			continue
		default:
			res.RemoteWins++
		}
		rec := r.ToDaily()
		merged[date] = rec
		res.Applied = append(res.Applied, rec)
	}

	res.Records = make([]models.DailyRecord, 0, len(merged))
	for _, rec := range merged {
		res.Records = append(res.Records, rec)
	}
	byDateDesc := func(a, b models.DailyRecord) int { return cmp.Compare(b.Date, a.Date) }
	slices.SortFunc(res.Records, byDateDesc)
	slices.SortFunc(res.Applied, byDateDesc)

	return res
}

// FetchAndMergeData pulls every remote row for the signed-in user, merges it
// with the local store and writes the remote winners back locally.
//
// A queued delete counts as a local mutation: remote rows for that date not
// newer than the delete are ignored so the pull does not resurrect them.
func (e *Engine) FetchAndMergeData(ctx context.Context) (MergeResult, error) {
	target, err := e.canSync(ctx)
	if err != nil {
		return MergeResult{}, err
	}

	l := e.logger.With("user_id", target.user.ID)
	start := e.now()

	remoteRows, err := target.backend.SelectAll(ctx, target.user.ID)
	if err != nil {
		return MergeResult{}, fmt.Errorf("fetch remote entries: %w", err)
	}

	remoteRows, shadowed := e.dropDeleted(remoteRows)

	local, err := e.store.ListAll(ctx)
	if err != nil {
		return MergeResult{}, fmt.Errorf("list local entries: %w", err)
	}

	res := MergeEntries(local, remoteRows)
	superseded, err := e.applyRemote(ctx, local, &res)
	if err != nil {
		return res, err
	}

	metrics.MergeRecords.WithLabelValues("local").Add(float64(res.LocalWins))
	metrics.MergeRecords.WithLabelValues("remote").Add(float64(res.RemoteWins))
	metrics.MergeRecords.WithLabelValues("added").Add(float64(res.Added))

	l.Info("Remote data merged",
		"remote_rows", len(remoteRows),
		"local_wins", res.LocalWins,
		"remote_wins", res.RemoteWins,
		"added", res.Added,
		"shadowed_by_delete", shadowed,
		"skipped", res.Skipped,
		"superseded_locally", superseded,
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)
	return res, nil
}

// applyRemote writes the merge winners to the local store. The merge ran on
// a snapshot, so each winner is checked again against the current local copy
// under writeMu: a record written after the snapshot with a newer updatedAt,
// or a snapshot record deleted since, is left alone and counted as a local win.
func (e *Engine) applyRemote(ctx context.Context, snapshot map[string]models.DailyRecord, res *MergeResult) (int, error) {
	type current struct {
		rec   models.DailyRecord
		found bool
	}
	kept := make(map[string]current)
	applied := make([]models.DailyRecord, 0, len(res.Applied))

	for _, rec := range res.Applied {
		_, inSnapshot := snapshot[rec.Date]

		ok, cur, found, err := e.applyOne(ctx, rec, inSnapshot)
		if err != nil {
			res.Applied = applied
			return len(kept), fmt.Errorf("apply remote entry %s: %w", rec.Date, err)
		}
		if ok {
			applied = append(applied, rec)
			continue
		}

		kept[rec.Date] = current{rec: cur, found: found}
		if inSnapshot {
			res.RemoteWins--
		} else {
			res.Added--
		}
		res.LocalWins++
		e.logger.Debug("Remote entry superseded by a newer local write", "date", rec.Date)
	}
	res.Applied = applied

	if len(kept) == 0 {
		return 0, nil
	}
	records := res.Records[:0]
	for _, rec := range res.Records {
		c, ok := kept[rec.Date]
		switch {
		case !ok:
			records = append(records, rec)
		case c.found:
			records = append(records, c.rec)
		}
	}
	res.Records = records
	return len(kept), nil
}

func (e *Engine) applyOne(ctx context.Context, rec models.DailyRecord, inSnapshot bool) (bool, models.DailyRecord, bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	cur, found, err := e.store.Get(ctx, rec.Date)
	if err != nil {
		return false, models.DailyRecord{}, false, err
	}
	if (found && cur.UpdatedAt.After(rec.UpdatedAt)) || (inSnapshot && !found) {
		return false, cur, found, nil
	}
	if err := e.store.Put(ctx, rec.Date, rec); err != nil {
		return false, models.DailyRecord{}, false, err
	}
	return true, cur, found, nil
}

func (e *Engine) dropDeleted(rows []models.RemoteRecord) ([]models.RemoteRecord, int) {
	deletes := make(map[string]time.Time)
	for _, op := range e.queue.List() {
		if op.Type != models.OpDelete {
			continue
		}
		if t, ok := deletes[op.Data.Date]; !ok || op.Timestamp.After(t) {
			deletes[op.Data.Date] = op.Timestamp
		}
	}
	if len(deletes) == 0 {
		return rows, 0
	}

	kept := make([]models.RemoteRecord, 0, len(rows))
	for _, r := range rows {
		if t, ok := deletes[r.Date]; ok && !r.UpdatedAt.After(t) {
			continue
		}
		kept = append(kept, r)
	}
	return kept, len(rows) - len(kept)
}
