package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrlokans/clinicsync/internal/config"
	"github.com/mrlokans/clinicsync/internal/database/summaries"
	"github.com/mrlokans/clinicsync/internal/database/synclog"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/syncer"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 1

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClient(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	cfg := DefaultConfig()
	client, err := NewClient(dbPath, cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, client)

	_, err = os.Stat(filepath.Join(tmpDir, "test-tasks.db"))
	assert.NoError(t, err, "tasks database should be created")

	assert.NoError(t, client.Close())
}

func TestQueuePath(t *testing.T) {
	assert.Equal(t, "/data/clinic-tasks.db", QueuePath("/data/clinic.db"))
	assert.Equal(t, "replica-tasks", QueuePath("replica"))
}

func TestClientStartStop(t *testing.T) {
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()

	assert.True(t, client.Stop(stopCtx), "stop should succeed gracefully")
}

func TestStopWithoutStart(t *testing.T) {
	client := newTestClient(t)
	assert.True(t, client.Stop(context.Background()))
}

type fakeBackfiller struct {
	requests  []syncer.BackfillRequest
	continued []entities.SyncType
	result    *syncer.BackfillResult
	err       error
}

func (f *fakeBackfiller) Backfill(_ context.Context, req syncer.BackfillRequest) (*syncer.BackfillResult, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func (f *fakeBackfiller) Continue(_ context.Context, syncType entities.SyncType, _ *time.Time) (*syncer.BackfillResult, error) {
	f.continued = append(f.continued, syncType)
	return f.result, f.err
}

type recordingQueue struct {
	*Client
	added []backlite.Task
}

func (q *recordingQueue) Add(tasks ...backlite.Task) *backlite.TaskAddOp {
	q.added = append(q.added, tasks...)
	return q.Client.Add(tasks...)
}

func TestBackfillStepProcessor_EnqueuesNextStep(t *testing.T) {
	queue := &recordingQueue{Client: newTestClient(t)}
	b := &fakeBackfiller{result: &syncer.BackfillResult{SyncLogID: 7, Processed: 50}}
	process := BackfillStepProcessor(b, queue, zap.NewNop())

	err := process(context.Background(), BackfillStepTask{Type: entities.SyncTypeProductSales})
	require.NoError(t, err)

	assert.Empty(t, b.requests)
	assert.Equal(t, []entities.SyncType{entities.SyncTypeProductSales}, b.continued)

	require.Len(t, queue.added, 1)
	assert.Equal(t, BackfillStepTask{SyncLogID: 7}, queue.added[0])
}

func TestBackfillStepProcessor_StopsWhenDone(t *testing.T) {
	queue := &recordingQueue{Client: newTestClient(t)}
	b := &fakeBackfiller{result: &syncer.BackfillResult{SyncLogID: 7, Done: true}}

	err := BackfillStepProcessor(b, queue, zap.NewNop())(context.Background(), BackfillStepTask{SyncLogID: 7})
	require.NoError(t, err)
	assert.Equal(t, uint(7), b.requests[0].SyncLogID)
	assert.Empty(t, queue.added)
}

func TestBackfillStepProcessor_Error(t *testing.T) {
	b := &fakeBackfiller{err: errors.New("platform down")}

	err := BackfillStepProcessor(b, nil, zap.NewNop())(context.Background(), BackfillStepTask{SyncLogID: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform down")

	err = BackfillStepProcessor(b, nil, zap.NewNop())(context.Background(), BackfillStepTask{})
	require.Error(t, err)
	assert.Equal(t, []entities.SyncType{entities.SyncTypeAppointments}, b.continued)

	err = BackfillStepProcessor(nil, nil, zap.NewNop())(context.Background(), BackfillStepTask{})
	assert.Error(t, err)
}

func TestBackfillStepProcessor_LeasedRunIsDropped(t *testing.T) {
	queue := &recordingQueue{Client: newTestClient(t)}
	b := &fakeBackfiller{err: fmt.Errorf("resume run 7: %w", synclog.ErrLeased)}

	err := BackfillStepProcessor(b, queue, zap.NewNop())(context.Background(), BackfillStepTask{SyncLogID: 7})
	require.NoError(t, err)
	assert.Empty(t, queue.added, "the holder's chain continues the run")
}

func TestBackfillStepProcessor_BusyStepIsRequeued(t *testing.T) {
	queue := &recordingQueue{Client: newTestClient(t)}
	b := &fakeBackfiller{err: syncer.ErrBusy}

	task := BackfillStepTask{Type: entities.SyncTypeProductSales}
	err := BackfillStepProcessor(b, queue, zap.NewNop())(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, queue.added, 1)
	assert.Equal(t, task, queue.added[0])

	err = BackfillStepProcessor(b, nil, zap.NewNop())(context.Background(), task)
	assert.ErrorIs(t, err, syncer.ErrBusy)
}

type fakeRebuilder struct {
	calls int
	err   error
}

func (f *fakeRebuilder) Rebuild(context.Context, time.Time) (*summaries.Stats, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &summaries.Stats{Appointments: 12, VisitRows: 4, ToxRows: 2}, nil
}

func TestRecomputeSummariesProcessor(t *testing.T) {
	r := &fakeRebuilder{}
	require.NoError(t, RecomputeSummariesProcessor(r, zap.NewNop())(context.Background(), RecomputeSummariesTask{}))
	assert.Equal(t, 1, r.calls)

	r.err = errors.New("locked")
	assert.Error(t, RecomputeSummariesProcessor(r, zap.NewNop())(context.Background(), RecomputeSummariesTask{}))
}

func TestRecomputeQueueRunsEnqueuedTask(t *testing.T) {
	client := newTestClient(t)

	executed := make(chan struct{}, 1)
	client.Register(backlite.NewQueue(func(ctx context.Context, task RecomputeSummariesTask) error {
		executed <- struct{}{}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)

	ids, err := client.Add(RecomputeSummariesTask{}).Save()
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	select {
	case <-executed:
	case <-time.After(5 * time.Second):
		t.Fatal("task was not executed within timeout")
	}
}

func TestTaskConfigs(t *testing.T) {
	step := BackfillStepTask{}.Config()
	assert.Equal(t, "backfill_step", step.Name)
	assert.Equal(t, 1, step.MaxAttempts)
	assert.Equal(t, 2*time.Minute, step.Timeout)
	assert.NotNil(t, step.Retention)

	recompute := RecomputeSummariesTask{}.Config()
	assert.Equal(t, "recompute_summaries", recompute.Name)
	assert.Equal(t, 2, recompute.MaxAttempts)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.Tasks{Workers: 3, ReleaseAfter: time.Minute})
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, time.Minute, cfg.ReleaseAfter)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
	assert.Equal(t, 24*time.Hour, cfg.RetentionDuration)

	assert.Equal(t, DefaultConfig(), ConfigFrom(config.Tasks{}))
}

type fakePruner struct {
	cutoff time.Time
	err    error
}

func (f *fakePruner) DeleteCompletedBefore(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func TestPruneSyncLogsProcessor(t *testing.T) {
	p := &fakePruner{}
	before := time.Now()

	require.NoError(t, PruneSyncLogsProcessor(p, zap.NewNop())(context.Background(), PruneSyncLogsTask{RetentionDays: 7}))
	assert.WithinDuration(t, before.Add(-7*24*time.Hour), p.cutoff, time.Minute)

	require.NoError(t, PruneSyncLogsProcessor(p, zap.NewNop())(context.Background(), PruneSyncLogsTask{}))
	assert.WithinDuration(t, before.Add(-90*24*time.Hour), p.cutoff, time.Minute, "default retention")

	p.err = errors.New("locked")
	assert.Error(t, PruneSyncLogsProcessor(p, zap.NewNop())(context.Background(), PruneSyncLogsTask{}))
	assert.Error(t, PruneSyncLogsProcessor(nil, zap.NewNop())(context.Background(), PruneSyncLogsTask{}))
}
