package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"NewsPipeline/internal/app"
	"NewsPipeline/internal/config"
	"NewsPipeline/internal/domain"
	"NewsPipeline/internal/logging"
	"NewsPipeline/internal/ports"
	"NewsPipeline/pkg/logger"
)

const dateLayout = "2006-01-02"

var startupLog = logger.New("newspipeline")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	slogger := logging.New(cfg.Logging.Level)

	application, err := app.New(cfg, slogger)
	if err != nil {
		startupLog.Printf("startup failed: %v", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := dispatch(ctx, application, os.Args[1], os.Args[2:]); err != nil {
		slogger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, application *app.Application, command string, args []string) error {
	switch command {
	case "create-run":
		return createRun(ctx, application, args)
	case "run":
		return runPipeline(ctx, application, args)
	case "review":
		return review(ctx, application, args)
	case "stats":
		return stats(ctx, application, args)
	case "reset":
		return reset(ctx, application, args)
	case "force-include":
		return forceInclude(ctx, application, args)
	case "list-force-includes":
		return listForceIncludes(ctx, application)
	case "remove-force-include":
		return removeForceInclude(ctx, application, args)
	case "analysis-status":
		return analysisStatus(ctx, application)
	case "analysis-retry-failed":
		return analysisRetryFailed(ctx, application)
	case "analysis-retry-storage":
		return analysisRetryStorage(ctx, application)
	case "analysis-clear":
		return analysisClear(ctx, application, args)
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func createRun(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("create-run", flag.ExitOnError)
	name := fs.String("name", "", "run name")
	fromRaw := fs.String("from", "", "start date (YYYY-MM-DD)")
	toRaw := fs.String("to", "", "end date (YYYY-MM-DD)")
	days := fs.Int("days", 0, "quick run over the last N days")
	quick := fs.Bool("quick", false, "quick run over the configured default window")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *days > 0 || *quick {
		run, err := application.Pipeline.CreateQuickRun(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Printf("created run %d: %s\n", run.ID, run.Name)
		return nil
	}

	from, err := parseDate(*fromRaw)
	if err != nil {
		return err
	}
	to, err := parseDate(*toRaw)
	if err != nil {
		return err
	}

	runName := *name
	if runName == "" {
		runName = fmt.Sprintf("run - %s", time.Now().Format("2006-01-02 15:04"))
	}
	run, err := application.Pipeline.CreateRun(ctx, runName, from, to)
	if err != nil {
		return err
	}
	fmt.Printf("created run %d: %s\n", run.ID, run.Name)
	return nil
}

func runPipeline(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	runID := fs.Int64("id", 0, "run id")
	until := fs.String("until", string(domain.StageStore), "last stage to execute (fetch|rule_filter|llm_analysis|store)")
	limit := fs.Int("limit", 0, "max articles to process (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == 0 {
		return fmt.Errorf("missing -id")
	}

	stage, err := parseStage(*until)
	if err != nil {
		return err
	}

	run, err := application.Pipeline.Run(ctx, *runID, stage, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("run %d finished with status %s (stage %s, %d analyzed)\n",
		run.ID, run.Status, run.CurrentStage, run.AnalyzedCount)
	return nil
}

func review(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("review", flag.ExitOnError)
	runID := fs.Int64("id", 0, "run id")
	rejected := fs.Bool("rejected", false, "list rejected articles instead of passed")
	limit := fs.Int("limit", 50, "max rows")
	export := fs.String("export", "", "write the listing as JSON to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == 0 {
		return fmt.Errorf("missing -id")
	}

	items, err := application.Stats.Review(ctx, *runID, !*rejected, *limit)
	if err != nil {
		return err
	}

	if *export != "" {
		payload, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal review export: %w", err)
		}
		if err := os.WriteFile(*export, payload, 0o644); err != nil {
			return fmt.Errorf("write review export: %w", err)
		}
		fmt.Printf("exported %d rows to %s\n", len(items), *export)
		return nil
	}

	for _, item := range items {
		marker := "+"
		if !item.Decision.Passed() {
			marker = "-"
		}
		fmt.Printf("%s %6d  %-40.40s  %-12s %s\n", marker, item.ArticleID, item.Title, item.RuleName, item.Reason)
	}
	fmt.Printf("%d rows\n", len(items))
	return nil
}

func stats(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	runID := fs.Int64("id", 0, "run id (0 = overall)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *runID != 0 {
		st, err := application.Stats.RunStats(ctx, *runID)
		if err != nil {
			return err
		}
		fmt.Printf("run %d: %s\n", st.RunID, st.Name)
		fmt.Printf("  status       %s (stage %s)\n", st.Status, st.Stage)
		fmt.Printf("  articles     %d\n", st.TotalArticles)
		fmt.Printf("  passed       %d (%d force included)\n", st.Passed, st.ForceIncluded)
		fmt.Printf("  rejected     %d (%.1f%%)\n", st.Rejected, st.FilterRate)
		fmt.Printf("  analyzed     %d\n", st.Analyzed)
		fmt.Printf("  duration     %.0fs\n", st.DurationSeconds)
		return nil
	}

	totals, recent, err := application.Stats.Overall(ctx, 10)
	if err != nil {
		return err
	}
	fmt.Printf("runs: %d (%d completed)\n", totals.TotalRuns, totals.CompletedRuns)
	fmt.Printf("articles: %d, filtered: %d (%.1f%%), analyzed: %d\n",
		totals.TotalArticles, totals.TotalRuleFiltered, totals.AvgFilterRate, totals.TotalAnalyzed)
	for _, run := range recent {
		fmt.Printf("  %4d  %-10s %-12s %s\n", run.ID, run.Status, run.CurrentStage, run.Name)
	}
	return nil
}

func reset(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	runID := fs.Int64("id", 0, "run id")
	fromStage := fs.String("from", string(domain.StageRuleFilter), "stage to reset from")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == 0 {
		return fmt.Errorf("missing -id")
	}

	stage, err := parseStage(*fromStage)
	if err != nil {
		return err
	}
	run, err := application.Pipeline.Reset(ctx, *runID, stage)
	if err != nil {
		return err
	}
	fmt.Printf("run %d reset from stage %s\n", run.ID, stage)
	return nil
}

func forceInclude(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("force-include", flag.ExitOnError)
	articleID := fs.Int64("article", 0, "article id")
	reason := fs.String("reason", "", "why the article must pass filtering")
	addedBy := fs.String("by", "", "operator name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *articleID == 0 {
		return fmt.Errorf("missing -article")
	}

	entry, err := application.Pipeline.AddForceInclude(ctx, *articleID, *reason, *addedBy)
	if err != nil {
		return err
	}
	fmt.Printf("article %d force included\n", entry.ArticleID)
	return nil
}

func listForceIncludes(ctx context.Context, application *app.Application) error {
	entries, err := application.Pipeline.ListForceIncludes(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		fmt.Printf("%6d  %-20s %s\n", entry.ArticleID, entry.AddedBy, entry.Reason)
	}
	fmt.Printf("%d entries\n", len(entries))
	return nil
}

func removeForceInclude(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("remove-force-include", flag.ExitOnError)
	articleID := fs.Int64("article", 0, "article id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *articleID == 0 {
		return fmt.Errorf("missing -article")
	}

	removed, err := application.Pipeline.RemoveForceInclude(ctx, *articleID)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("article %d was not force included\n", *articleID)
		return nil
	}
	fmt.Printf("article %d removed from force includes\n", *articleID)
	return nil
}

func analysisStatus(ctx context.Context, application *app.Application) error {
	status, err := application.Analysis.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("pending:      %d\n", status.Pending)
	fmt.Printf("success:      %d\n", status.Success)
	fmt.Printf("failed:       %d\n", status.Failed)
	fmt.Printf("store failed: %d\n", status.StoreFailed)
	return nil
}

func analysisRetryFailed(ctx context.Context, application *app.Application) error {
	success, failed, err := application.Analysis.RetryFailed(ctx)
	if err != nil {
		return err
	}
	if success == 0 && failed == 0 {
		fmt.Println("nothing to retry")
		return nil
	}
	fmt.Printf("retry complete: %d succeeded, %d failed\n", success, failed)
	return nil
}

func analysisRetryStorage(ctx context.Context, application *app.Application) error {
	stored, failed, err := application.Analysis.RetryStorage(ctx)
	if err != nil {
		return err
	}
	if stored == 0 && failed == 0 {
		fmt.Println("nothing to retry")
		return nil
	}
	fmt.Printf("storage retry complete: %d stored, %d failed\n", stored, failed)
	return nil
}

func analysisClear(ctx context.Context, application *app.Application, args []string) error {
	fs := flag.NewFlagSet("analysis-clear", flag.ExitOnError)
	all := fs.Bool("all", false, "clear every tracking row")
	failedOnly := fs.Bool("failed", false, "clear failed rows only")
	articleID := fs.Int64("article", 0, "clear rows for one article")
	handle := fs.String("batch", "", "clear rows for one batch handle")
	if err := fs.Parse(args); err != nil {
		return err
	}

	scope := ports.ClearScope{
		All:         *all,
		FailedOnly:  *failedOnly,
		ArticleID:   *articleID,
		BatchHandle: *handle,
	}
	deleted, err := application.Analysis.Clear(ctx, scope)
	if err != nil {
		return err
	}
	fmt.Printf("%d tracking rows deleted\n", deleted)
	return nil
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (expected %s)", raw, dateLayout)
	}
	return &t, nil
}

func parseStage(raw string) (domain.PipelineStage, error) {
	switch domain.PipelineStage(raw) {
	case domain.StageFetch, domain.StageRuleFilter, domain.StageLLMAnalysis, domain.StageStore:
		return domain.PipelineStage(raw), nil
	default:
		return "", fmt.Errorf("unknown stage %q", raw)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: newspipeline <command> [flags]

pipeline:
  create-run    -name <s> [-from YYYY-MM-DD] [-to YYYY-MM-DD] | -days <n> | -quick
  run           -id <n> [-until <stage>] [-limit <n>]
  reset         -id <n> [-from <stage>]
  review        -id <n> [-rejected] [-limit <n>] [-export <file>]
  stats         [-id <n>]

force includes:
  force-include         -article <n> [-reason <s>] [-by <s>]
  list-force-includes
  remove-force-include  -article <n>

analysis ledger:
  analysis-status
  analysis-retry-failed
  analysis-retry-storage
  analysis-clear  [-all | -failed | -article <n> | -batch <s>]`)
}
