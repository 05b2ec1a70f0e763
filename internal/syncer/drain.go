package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/mrlokans/clinicsync/internal/database/synclog"
	"github.com/mrlokans/clinicsync/internal/entities"
)

// Continue resumes the newest unfinished run of syncType, or starts a new
// one with stopBefore when there is none. If that run is leased by another
// invocation the error satisfies IsBusy.
func (o *Orchestrator) Continue(ctx context.Context, syncType entities.SyncType, stopBefore *time.Time) (*BackfillResult, error) {
	open, err := o.runs.LatestOpen(syncType)
	switch {
	case err == nil:
		return o.Backfill(ctx, BackfillRequest{SyncLogID: open.ID})
	case errors.Is(err, synclog.ErrNotFound):
		return o.Backfill(ctx, BackfillRequest{Type: syncType, StopBeforeDate: stopBefore})
	default:
		return nil, err
	}
}

// Totals sums the invocations of a drained run.
type Totals struct {
	Invocations int
	Processed   int
	Created     int
	Failed      int
	SyncLogID   uint
}

// Drain keeps invoking Backfill until the run is done, the context ends or
// maxInvocations is reached (0 means no limit). progress, if set, sees every
// invocation's result.
func (o *Orchestrator) Drain(ctx context.Context, req BackfillRequest, maxInvocations int, progress func(*BackfillResult)) (*Totals, error) {
	totals := &Totals{SyncLogID: req.SyncLogID}
	for maxInvocations <= 0 || totals.Invocations < maxInvocations {
		res, err := o.Backfill(ctx, req)
		if res != nil {
			totals.Invocations++
			totals.Processed += res.Processed
			totals.Created += res.Created
			totals.Failed += res.Failed
			totals.SyncLogID = res.SyncLogID
			if progress != nil {
				progress(res)
			}
		}
		if err != nil {
			return totals, err
		}
		if res.Done {
			return totals, nil
		}
		if err := ctx.Err(); err != nil {
			return totals, err
		}
		req = BackfillRequest{SyncLogID: res.SyncLogID}
	}
	return totals, nil
}
