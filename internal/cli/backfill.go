package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrlokans/clinicsync/internal/config"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/entrypoint"
	"github.com/mrlokans/clinicsync/internal/logging"
	"github.com/mrlokans/clinicsync/internal/syncer"
)

// BackfillCommand drains a backfill run from the terminal.
type BackfillCommand struct {
	Type           string
	SyncLogID      uint
	StopBefore     string
	MaxInvocations int
	Verbose        bool

	stopBefore *time.Time
}

// NewBackfillCommand creates a new BackfillCommand
func NewBackfillCommand() *BackfillCommand {
	return &BackfillCommand{}
}

// ParseFlags parses command line flags
func (cmd *BackfillCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)

	fs.StringVar(&cmd.Type, "type", string(entities.SyncTypeAppointments), "Resource to backfill: appointments or product_sales")
	fs.UintVar(&cmd.SyncLogID, "sync-log-id", 0, "Resume this run instead of starting a new one")
	fs.StringVar(&cmd.StopBefore, "stop-before", "", "Stop each location once records older than this date (YYYY-MM-DD) are reached")
	fs.IntVar(&cmd.MaxInvocations, "max-invocations", 0, "Stop after this many invocations (0 = until done)")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s backfill [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Copy appointments or product sales from the scheduling platform into the local replica.\n\n")
		fmt.Fprintf(os.Stderr, "Every page is checkpointed; an interrupted backfill resumes with -sync-log-id.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s backfill\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s backfill -type product_sales -stop-before 2024-01-01\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s backfill -sync-log-id 12\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	switch entities.SyncType(cmd.Type) {
	case entities.SyncTypeAppointments, entities.SyncTypeProductSales:
	default:
		return fmt.Errorf("unknown -type %q", cmd.Type)
	}
	if cmd.StopBefore != "" {
		t, err := time.Parse(time.DateOnly, cmd.StopBefore)
		if err != nil {
			return fmt.Errorf("invalid -stop-before %q: %w", cmd.StopBefore, err)
		}
		cmd.stopBefore = &t
	}
	if cmd.MaxInvocations < 0 {
		return fmt.Errorf("-max-invocations must not be negative")
	}
	return nil
}

// request builds the first invocation of the drain.
func (cmd *BackfillCommand) request() syncer.BackfillRequest {
	return syncer.BackfillRequest{
		Type:           entities.SyncType(cmd.Type),
		SyncLogID:      cmd.SyncLogID,
		StopBeforeDate: cmd.stopBefore,
	}
}

// Run executes the backfill command
func (cmd *BackfillCommand) Run() error {
	fmt.Println("🔄 Platform Backfill")
	fmt.Println("====================")

	cfg := config.NewConfig()
	if err := cfg.Platform.Validate(); err != nil {
		return err
	}

	level := cfg.Log.Level
	if cmd.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, "console")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := entrypoint.NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Printf("📁 Database: %s\n", cfg.Database.Path)
	fmt.Printf("📍 Locations: %v\n", cfg.Platform.LocationKeys())
	if cmd.SyncLogID != 0 {
		fmt.Printf("⏯️  Resuming run #%d\n", cmd.SyncLogID)
	}

	// Ctrl-C stops after the current page; the checkpoint stays valid.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	totals, err := app.Orchestrator.Drain(ctx, cmd.request(), cmd.MaxInvocations, printProgress)
	if totals != nil && totals.SyncLogID != 0 {
		fmt.Printf("\n📊 Run #%d: %d invocations, %d processed, %d created, %d failed\n",
			totals.SyncLogID, totals.Invocations, totals.Processed, totals.Created, totals.Failed)
	}
	if err != nil {
		if ctx.Err() != nil {
			fmt.Printf("\n⏸️  Interrupted. Resume with: %s backfill -sync-log-id %d\n", os.Args[0], totals.SyncLogID)
			return nil
		}
		if syncer.IsBusy(err) {
			return fmt.Errorf("run is being written by another process, try again later: %w", err)
		}
		return fmt.Errorf("backfill failed: %w", err)
	}

	fmt.Println("\n✅ Backfill complete!")
	return nil
}

func printProgress(res *syncer.BackfillResult) {
	status := "⏭️ "
	if res.Done {
		status = "🏁"
	}
	oldest := "-"
	if res.OldestSeen != nil {
		oldest = res.OldestSeen.Format(time.DateOnly)
	}
	fmt.Printf("%s pages=%d processed=%d created=%d failed=%d location=%d oldest=%s\n",
		status, res.Pages, res.Processed, res.Created, res.Failed, res.LocationIndex, oldest)
}
