package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yungbote/coursebuilder-backend/internal/app"
	"github.com/yungbote/coursebuilder-backend/internal/jobs/reaper"
)

// Runs one reaper pass and prints the stats as JSON.
func main() {
	var dryRun bool
	var batch int
	var localLocks bool
	flag.BoolVar(&dryRun, "dry-run", false, "report what would be expired or purged without writing")
	flag.IntVar(&batch, "batch", 0, "sessions per batch (0 uses REAPER_BATCH_SIZE)")
	flag.BoolVar(&localLocks, "local-locks", false, "allow writing without REDIS_ADDR when no API server is running")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, r, err := app.NewReaper(ctx, reaper.Options{BatchSize: batch, DryRun: dryRun}, localLocks)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	stats, err := r.RunOnce(ctx)
	out, _ := json.MarshalIndent(struct {
		DryRun bool             `json:"dry_run"`
		Stats  reaper.ReapStats `json:"stats"`
	}{DryRun: dryRun, Stats: stats}, "", "  ")
	fmt.Println(string(out))
	if err != nil {
		application.Log.Error("reaper pass failed", "error", err)
		application.Close()
		os.Exit(1)
	}
}
