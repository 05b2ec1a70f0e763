package http

import (
	"context"
	"time"

	"github.com/mrlokans/clinicsync/internal/database/summaries"
	"github.com/mrlokans/clinicsync/internal/database/synclog"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/syncer"
)

type fakeSyncLogs struct {
	runs []entities.SyncLog
	err  error
}

func (f *fakeSyncLogs) Get(id uint) (*entities.SyncLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, synclog.ErrNotFound
}

func (f *fakeSyncLogs) List(limit, offset int) ([]entities.SyncLog, int64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	total := int64(len(f.runs))
	if offset >= len(f.runs) {
		return []entities.SyncLog{}, total, nil
	}
	end := min(offset+limit, len(f.runs))
	return f.runs[offset:end], total, nil
}

type fakeBackfiller struct {
	res      *syncer.BackfillResult
	err      error
	requests []syncer.BackfillRequest
}

func (f *fakeBackfiller) Backfill(_ context.Context, req syncer.BackfillRequest) (*syncer.BackfillResult, error) {
	f.requests = append(f.requests, req)
	return f.res, f.err
}

type fakeRebuilder struct {
	stats *summaries.Stats
	err   error
	calls int
}

func (f *fakeRebuilder) Rebuild(context.Context, time.Time) (*summaries.Stats, error) {
	f.calls++
	return f.stats, f.err
}
