// Package syncer drives resumable backfills from the scheduling platform into
// the local replica.
//
// A backfill walks (locationIndex, cursor) forward one page at a time. After
// every page the position is written to the run's SyncLog, so an invocation
// may be killed at any point and the next one picks up from the last page
// that finished. Runs are bounded per invocation by a page count and a wall
// clock budget; callers keep invoking Backfill with the returned SyncLogID
// until Done is true.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mrlokans/clinicsync/internal/config"
	"github.com/mrlokans/clinicsync/internal/database/synclog"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/normalizer"
	"github.com/mrlokans/clinicsync/internal/platform"
)

var (
	// ErrUnknownType is returned for a sync type with no platform resource.
	ErrUnknownType = errors.New("unknown sync type")

	// ErrUnknownLocation is returned when a run refers to a location key that
	// is no longer configured.
	ErrUnknownLocation = errors.New("location is not configured")

	// ErrBusy is returned when this orchestrator is already running an
	// invocation.
	ErrBusy = errors.New("another backfill invocation is running")
)

// IsBusy reports whether err means some other invocation is writing, either
// in this process or on the same run elsewhere. The caller should try again
// later rather than treat the run as failed.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, synclog.ErrLeased)
}

var resources = map[entities.SyncType]string{
	entities.SyncTypeAppointments: platform.ResourceAppointments,
	entities.SyncTypeProductSales: platform.ResourceProductSales,
}

// BackfillRequest starts or continues a run. With SyncLogID set, the
// persisted checkpoint wins over Cursor and LocationIndex.
type BackfillRequest struct {
	Type           entities.SyncType `json:"type,omitempty"`
	Cursor         string            `json:"cursor,omitempty"`
	SyncLogID      uint              `json:"syncLogId,omitempty"`
	LocationIndex  int               `json:"locationIndex,omitempty"`
	StopBeforeDate *time.Time        `json:"stopBeforeDate,omitempty"`
}

// BackfillResult reports what one invocation did and where the run stands.
type BackfillResult struct {
	Processed       int        `json:"processed"`
	Created         int        `json:"created"`
	Failed          int        `json:"failed"`
	Pages           int        `json:"pages"`
	NextCursor      string     `json:"nextCursor"`
	Done            bool       `json:"done"`
	SyncLogID       uint       `json:"syncLogId"`
	LocationIndex   int        `json:"locationIndex"`
	OldestSeen      *time.Time `json:"oldestSeen,omitempty"`
	ReachedStopDate bool       `json:"reachedStopDate"`
	InvocationID    string     `json:"invocationId"`
	Error           string     `json:"error,omitempty"`
}

// Ingester normalizes and writes one raw record.
type Ingester interface {
	Ingest(ctx context.Context, resource string, raw []byte, locationKey string) (normalizer.Outcome, error)
}

// RunStore persists run state.
type RunStore interface {
	Create(syncType entities.SyncType, locationKeys []string, stopBefore *time.Time) (*entities.SyncLog, error)
	Claim(id uint, holder string) (*entities.SyncLog, error)
	Release(id uint, holder string) error
	LatestOpen(syncType entities.SyncType) (*entities.SyncLog, error)
	SaveCheckpoint(id uint, cp synclog.Checkpoint) error
	Complete(id uint) error
	Fail(id uint, errorMsg string) error
}

// Options bound a single invocation.
type Options struct {
	PageSize       int
	InterPageDelay time.Duration
	MaxPages       int           // 0 means no page limit
	Budget         time.Duration // 0 means no time limit
}

// OptionsFromConfig maps sync settings to orchestrator options.
func OptionsFromConfig(cfg config.Sync) Options {
	return Options{
		PageSize:       cfg.PageSize,
		InterPageDelay: cfg.InterPageDelay,
		MaxPages:       cfg.MaxPagesPerInvocation,
		Budget:         cfg.InvocationBudget,
	}
}

// CompletionHook runs after a run completes.
type CompletionHook func(ctx context.Context, run *entities.SyncLog)

// Orchestrator runs backfill invocations one at a time; a concurrent call
// gets ErrBusy. Each invocation also leases its run, so two processes never
// write the same run at once.
type Orchestrator struct {
	mu      sync.Mutex
	limiter *rate.Limiter

	fetcher    platform.Fetcher
	ingester   Ingester
	runs       RunStore
	locations  map[string]config.Location
	keys       []string
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
	onComplete CompletionHook
}

// New creates an orchestrator over the configured locations, in order.
func New(fetcher platform.Fetcher, ingester Ingester, runs RunStore, locations []config.Location, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}

	byKey := make(map[string]config.Location, len(locations))
	keys := make([]string, 0, len(locations))
	for _, l := range locations {
		byKey[l.Key] = l
		keys = append(keys, l.Key)
	}

	limit := rate.Inf
	if opts.InterPageDelay > 0 {
		limit = rate.Every(opts.InterPageDelay)
	}

	return &Orchestrator{
		limiter:   rate.NewLimiter(limit, 1),
		fetcher:   fetcher,
		ingester:  ingester,
		runs:      runs,
		locations: byKey,
		keys:      keys,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// OnComplete registers a hook run once per completed run.
func (o *Orchestrator) OnComplete(hook CompletionHook) {
	o.onComplete = hook
}

// WithClock sets the time source used for the invocation budget.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// run is the in-memory position of one invocation.
type run struct {
	log             *entities.SyncLog
	holder          string
	resource        string
	keys            []string
	cursor          string
	index           int
	oldest          *time.Time
	reachedStopDate bool
}

// Backfill runs one invocation. A fatal error marks the run failed and is
// returned together with the partial result; the checkpoint of the last
// finished page stays valid for a later resume.
func (o *Orchestrator) Backfill(ctx context.Context, req BackfillRequest) (*BackfillResult, error) {
	if !o.mu.TryLock() {
		return nil, ErrBusy
	}
	defer o.mu.Unlock()

	res := &BackfillResult{InvocationID: uuid.NewString()}
	logger := o.logger.With(zap.String("invocation_id", res.InvocationID))

	r, err := o.open(req, res.InvocationID)
	if errors.Is(err, synclog.ErrAlreadyCompleted) {
		res.SyncLogID = r.log.ID
		res.LocationIndex = r.log.LocationIndex
		res.OldestSeen = r.log.OldestSeen
		res.ReachedStopDate = r.log.ReachedStopDate
		res.Done = true
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	defer o.release(r.log.ID, r.holder)
	res.SyncLogID = r.log.ID
	logger = logger.With(zap.Uint("sync_log_id", r.log.ID), zap.String("resource", r.resource))
	logger.Info("backfill invocation started",
		zap.Int("location_index", r.index),
		zap.Bool("resumed", req.SyncLogID != 0),
	)

	err = o.loop(ctx, r, res, logger)

	res.NextCursor = r.cursor
	res.LocationIndex = r.index
	res.OldestSeen = r.oldest
	res.ReachedStopDate = r.reachedStopDate

	if errors.Is(err, synclog.ErrLeased) {
		logger.Warn("run was taken over by another invocation", zap.Int("processed", res.Processed))
		return res, err
	}
	if err != nil {
		res.Error = err.Error()
		if failErr := o.runs.Fail(r.log.ID, err.Error()); failErr != nil {
			logger.Error("failed to mark run failed", zap.Error(failErr))
		}
		logger.Error("backfill invocation failed",
			zap.Error(err),
			zap.Int("processed", res.Processed),
			zap.Int("location_index", r.index),
		)
		return res, err
	}

	if r.index >= len(r.keys) {
		if err := o.runs.Complete(r.log.ID); err != nil {
			return res, fmt.Errorf("complete run: %w", err)
		}
		res.Done = true
		res.NextCursor = ""
		if o.onComplete != nil {
			o.onComplete(ctx, r.log)
		}
	}

	logger.Info("backfill invocation finished",
		zap.Int("pages", res.Pages),
		zap.Int("processed", res.Processed),
		zap.Int("created", res.Created),
		zap.Int("failed", res.Failed),
		zap.Bool("done", res.Done),
	)
	return res, nil
}

// open claims the requested run, or creates and claims a new one, on behalf
// of holder.
func (o *Orchestrator) open(req BackfillRequest, holder string) (*run, error) {
	if req.SyncLogID != 0 {
		log, err := o.runs.Claim(req.SyncLogID, holder)
		if errors.Is(err, synclog.ErrAlreadyCompleted) {
			return &run{log: log}, err
		}
		if err != nil {
			return nil, fmt.Errorf("resume run %d: %w", req.SyncLogID, err)
		}
		r, err := o.runFrom(log, holder)
		if err != nil {
			o.release(log.ID, holder)
			return nil, err
		}
		return r, nil
	}

	syncType := req.Type
	if syncType == "" {
		syncType = entities.SyncTypeAppointments
	}
	if _, ok := resources[syncType]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, syncType)
	}

	created, err := o.runs.Create(syncType, o.keys, req.StopBeforeDate)
	if err != nil {
		return nil, err
	}
	log, err := o.runs.Claim(created.ID, holder)
	if err != nil {
		return nil, fmt.Errorf("claim new run %d: %w", created.ID, err)
	}
	r, err := o.runFrom(log, holder)
	if err != nil {
		o.release(log.ID, holder)
		return nil, err
	}

	if req.Cursor != "" || req.LocationIndex > 0 {
		r.cursor = req.Cursor
		r.index = max(req.LocationIndex, 0)
		cp := synclog.Checkpoint{Holder: holder, Cursor: r.cursor, LocationIndex: r.index}
		if err := o.runs.SaveCheckpoint(log.ID, cp); err != nil {
			o.release(log.ID, holder)
			return nil, err
		}
	}
	return r, nil
}

func (o *Orchestrator) release(id uint, holder string) {
	if err := o.runs.Release(id, holder); err != nil {
		o.logger.Warn("failed to release run lease", zap.Uint("sync_log_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) runFrom(log *entities.SyncLog, holder string) (*run, error) {
	resource, ok := resources[log.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, log.Type)
	}
	keys, err := synclog.LocationKeys(log)
	if err != nil {
		return nil, err
	}
	return &run{
		log:             log,
		holder:          holder,
		resource:        resource,
		keys:            keys,
		cursor:          log.Cursor,
		index:           log.LocationIndex,
		oldest:          log.OldestSeen,
		reachedStopDate: log.ReachedStopDate,
	}, nil
}

func (o *Orchestrator) loop(ctx context.Context, r *run, res *BackfillResult, logger *zap.Logger) error {
	started := o.now()

	for r.index < len(r.keys) {
		if res.Pages > 0 {
			if o.opts.MaxPages > 0 && res.Pages >= o.opts.MaxPages {
				logger.Info("page limit reached", zap.Int("pages", res.Pages))
				return nil
			}
			if o.opts.Budget > 0 && o.now().Sub(started) >= o.opts.Budget {
				logger.Info("invocation budget spent", zap.Duration("elapsed", o.now().Sub(started)))
				return nil
			}
		}
		// The limiter outlives the invocation, so the first page of a
		// resumed invocation is spaced from the last page of the one before.
		if err := o.limiter.Wait(ctx); err != nil {
			logger.Info("invocation cancelled between pages", zap.Error(err))
			return nil
		}

		if err := o.page(ctx, r, res, logger); err != nil {
			return err
		}
	}
	return nil
}

// page fetches, applies and checkpoints one page.
func (o *Orchestrator) page(ctx context.Context, r *run, res *BackfillResult, logger *zap.Logger) error {
	key := r.keys[r.index]
	loc, ok := o.locations[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLocation, key)
	}

	page, err := o.fetcher.FetchPage(ctx, platform.PageRequest{
		Resource:      r.resource,
		LocationToken: loc.Token,
		PageSize:      o.opts.PageSize,
		After:         r.cursor,
	})
	if err != nil {
		return fmt.Errorf("fetch %s page at %s: %w", r.resource, key, err)
	}

	var processed, created, failed int
	hitStop := false
	for _, node := range page.Nodes {
		processed++
		out, err := o.ingester.Ingest(ctx, r.resource, node, key)
		if err != nil {
			failed++
			logger.Warn("skipping record",
				zap.String("location", key),
				zap.Error(err),
			)
			continue
		}
		if out.Created {
			created++
		}
		if at := out.OccurredAt; !at.IsZero() {
			if r.oldest == nil || at.Before(*r.oldest) {
				oldest := at
				r.oldest = &oldest
			}
			if r.log.StopBefore != nil && at.Before(*r.log.StopBefore) {
				hitStop = true
			}
		}
	}

	switch {
	case hitStop:
		r.reachedStopDate = true
		r.index++
		r.cursor = ""
	case !page.HasMore || page.NextCursor == "":
		r.index++
		r.cursor = ""
	default:
		r.cursor = page.NextCursor
	}

	err = o.runs.SaveCheckpoint(r.log.ID, synclog.Checkpoint{
		Holder:          r.holder,
		Cursor:          r.cursor,
		LocationIndex:   r.index,
		OldestSeen:      r.oldest,
		ReachedStopDate: r.reachedStopDate,
		ProcessedDelta:  processed,
		CreatedDelta:    created,
		FailedDelta:     failed,
	})
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	res.Pages++
	res.Processed += processed
	res.Created += created
	res.Failed += failed

	logger.Debug("page checkpointed",
		zap.String("location", key),
		zap.Int("records", processed),
		zap.Int("created", created),
		zap.Bool("reached_stop_date", hitStop),
		zap.Int("next_location_index", r.index),
	)
	return nil
}
