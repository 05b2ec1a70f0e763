package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
	"go.uber.org/zap"
)

// Client runs the backfill, recompute and pruning queues on backlite.
type Client struct {
	client *backlite.Client
	db     *sql.DB
	config Config
	logger *zap.Logger

	mu      sync.RWMutex
	started bool
}

// QueuePath returns where the queue database lives for a replica at
// replicaPath: the same directory, with "-tasks" before the extension.
func QueuePath(replicaPath string) string {
	ext := filepath.Ext(replicaPath)
	return strings.TrimSuffix(replicaPath, ext) + "-tasks" + ext
}

// NewClient opens the queue database next to the replica and installs the
// backlite schema. The queues get their own file so long task polling never
// contends with replica writes.
func NewClient(replicaPath string, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", QueuePath(replicaPath)+"?_journal=WAL&_timeout=5000&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Workers + 5)
	db.SetMaxIdleConns(cfg.Workers + 2)
	db.SetConnMaxLifetime(time.Hour)

	client, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      cfg.Workers,
		ReleaseAfter:    cfg.ReleaseAfter,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          &zapLogger{logger: logger.Sugar()},
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue client: %w", err)
	}
	if err := client.Install(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("install queue schema: %w", err)
	}

	return &Client{client: client, db: db, config: cfg, logger: logger}, nil
}

// Register adds queues. Call it before Start.
func (c *Client) Register(queues ...backlite.Queue) {
	for _, q := range queues {
		c.client.Register(q)
	}
}

// Start launches the workers and returns. Later calls do nothing.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.logger.Info("task workers started", zap.Int("workers", c.config.Workers))
	c.client.Start(ctx)
}

// Stop waits for in-flight tasks until ctx ends. It reports false when some
// workers were still busy at the deadline; their tasks are picked up again
// after ReleaseAfter.
func (c *Client) Stop(ctx context.Context) bool {
	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()
	if !started {
		return true
	}

	drained := c.client.Stop(ctx)
	if drained {
		c.logger.Info("task workers stopped")
	} else {
		c.logger.Warn("task workers stopped before finishing", zap.Duration("release_after", c.config.ReleaseAfter))
	}
	return drained
}

// Close closes the queue database. Stop the workers first.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Add starts enqueuing tasks; finish with Save.
func (c *Client) Add(tasks ...backlite.Task) *backlite.TaskAddOp {
	return c.client.Add(tasks...)
}

// Status looks up a task by the id Save returned.
func (c *Client) Status(ctx context.Context, taskID string) (backlite.TaskStatus, error) {
	return c.client.Status(ctx, taskID)
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

func (l *zapLogger) Info(message string, params ...any) {
	l.logger.Infow(message, params...)
}

func (l *zapLogger) Error(message string, params ...any) {
	l.logger.Errorw(message, params...)
}
