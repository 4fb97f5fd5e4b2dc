// Command reconcile runs the reconciliation sweep that moves legacy
// appointment rows into the canonical appointments table and repairs case
// links. It can also check that every case's history replays to its status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"donation-workflow-api/config"
	"donation-workflow-api/repository"
	"donation-workflow-api/services"
	"donation-workflow-api/workflow"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()
	logger := config.NewLogger(cfg.Log.Level, "console", "donation-reconcile", os.Stderr)
	defer func() { _ = logger.Sync() }()

	var (
		subjectIDsRaw string
		limit         int
		dryRun        bool
		trigger       string
		lockName      string
		xlsxPath      string
		archive       bool
		verifyReplay  bool
	)

	flag.StringVar(&subjectIDsRaw, "subject-ids", "", "comma-separated list of case IDs to sweep (optional)")
	flag.IntVar(&limit, "limit", 0, "maximum number of subjects to process (optional)")
	flag.BoolVar(&dryRun, "dry-run", false, "classify records without writing to the database")
	flag.StringVar(&trigger, "trigger", "cli", "trigger source label stored in reconciliation_runs")
	flag.StringVar(&lockName, "lock-name", cfg.Workflow.SweepLockName, "advisory lock name (empty to disable)")
	flag.StringVar(&xlsxPath, "xlsx", "", "write the findings workbook to this path")
	flag.BoolVar(&archive, "archive", false, "upload the JSON report to S3_BUCKET")
	flag.BoolVar(&verifyReplay, "verify-replay", false, "check that every case history replays to its stored status, then exit")
	flag.Parse()

	if limit < 0 {
		log.Fatal("limit must be greater than or equal to 0")
	}

	store, err := repository.Open(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	ctx := context.Background()

	if verifyReplay {
		os.Exit(runVerifyReplay(ctx, store, cfg, logger))
	}

	var subjectIDs []string
	for _, part := range strings.Split(subjectIDsRaw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			subjectIDs = append(subjectIDs, part)
		}
	}

	var archiver services.ReportArchiver
	if archive {
		if cfg.S3.Bucket == "" {
			log.Fatal("-archive needs S3_BUCKET")
		}
		archiver, err = services.NewS3ArchiverFromConfig(ctx, cfg.S3.Bucket, cfg.S3.Region, cfg.S3.Prefix)
		if err != nil {
			log.Fatalf("failed to configure S3: %v", err)
		}
	}

	sweeper := services.NewReconciliationService(store, archiver, services.NewMetrics(), logger)
	summary, err := sweeper.SweepAll(ctx, services.SweepAllInput{
		SubjectIDs:    subjectIDs,
		Limit:         limit,
		TriggerSource: trigger,
		LockName:      lockName,
		DryRun:        dryRun,
		RecordRun:     true,
		Archive:       archive,
	})
	if err != nil {
		if errors.Is(err, services.ErrSweepAlreadyRunning) {
			log.Fatal("reconciliation sweep already running (advisory lock held)")
		}
		log.Fatalf("reconciliation sweep failed: %v", err)
	}

	fmt.Printf("Subjects scanned: %d (errors: %d)\n", summary.SubjectsScanned, summary.SubjectsWithErrors)
	fmt.Printf("Records scanned: %d, correct: %d, misplaced: %d, orphaned: %d\n",
		summary.RecordsScanned, summary.Correct, summary.Misplaced, summary.Orphaned)
	fmt.Printf("Repaired: %d, failed: %d\n", summary.Repaired, summary.Failed)
	if dryRun {
		fmt.Println("Dry run: nothing was written")
	}
	if summary.ReportKey != "" {
		fmt.Printf("Report archived at s3://%s/%s\n", cfg.S3.Bucket, summary.ReportKey)
	}

	if xlsxPath != "" {
		data, err := services.ExportSweepXLSX(summary)
		if err != nil {
			log.Fatalf("failed to build workbook: %v", err)
		}
		if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
			log.Fatalf("failed to write %s: %v", xlsxPath, err)
		}
		fmt.Printf("Findings written to %s\n", xlsxPath)
	}

	if summary.Failed > 0 || summary.SubjectsWithErrors > 0 {
		os.Exit(1)
	}
}

func runVerifyReplay(ctx context.Context, store repository.Store, cfg *config.Config, logger *zap.Logger) int {
	registry := workflow.NewRegistry()
	if cfg.Workflow.AliasFile != "" {
		if err := registry.LoadAliasFile(cfg.Workflow.AliasFile); err != nil {
			log.Fatalf("failed to load status aliases: %v", err)
		}
	}
	wf := services.NewWorkflowService(store, registry, nil, nil, logger, services.WorkflowOptions{})
	checked, problems, err := wf.VerifyAllReplays(ctx, 0)
	if err != nil {
		log.Fatalf("replay verification failed: %v", err)
	}
	for _, p := range problems {
		fmt.Printf("%s: stored %q, replayed %q: %s\n", p.CaseID, p.Stored, p.Replayed, p.Problem)
	}
	fmt.Printf("Cases checked: %d, inconsistent: %d\n", checked, len(problems))
	if len(problems) > 0 {
		return 1
	}
	return 0
}
