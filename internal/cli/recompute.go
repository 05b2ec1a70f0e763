package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mrlokans/clinicsync/internal/config"
	"github.com/mrlokans/clinicsync/internal/entrypoint"
	"github.com/mrlokans/clinicsync/internal/logging"
)

// RecomputeCommand rebuilds the client summaries from the replica.
type RecomputeCommand struct {
	Timeout time.Duration
}

// NewRecomputeCommand creates a new RecomputeCommand
func NewRecomputeCommand() *RecomputeCommand {
	return &RecomputeCommand{}
}

// ParseFlags parses command line flags
func (cmd *RecomputeCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("recompute", flag.ContinueOnError)

	fs.DurationVar(&cmd.Timeout, "timeout", 10*time.Minute, "Abort the rebuild after this long")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s recompute [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Rebuild the client visit and tox summaries from the local replica.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

// Run executes the recompute command
func (cmd *RecomputeCommand) Run() error {
	fmt.Println("🧮 Recompute Summaries")
	fmt.Println("======================")

	cfg := config.NewConfig()
	logger, err := logging.New(cfg.Log.Level, "console")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := entrypoint.NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	stats, err := app.Recompute(ctx)
	if err != nil {
		return fmt.Errorf("recompute failed: %w", err)
	}

	fmt.Printf("📅 Appointments read: %d\n", stats.Appointments)
	fmt.Printf("👥 Visit summaries: %d\n", stats.VisitRows)
	fmt.Printf("💉 Tox summaries: %d\n", stats.ToxRows)
	fmt.Println("\n✅ Recompute complete!")
	return nil
}
