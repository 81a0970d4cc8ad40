// Command run-evals scores the retrieval pipeline against a gold query set
// and exits non-zero when the quality gates are not met. It talks to the
// live document store and embedding provider, bypassing the query cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	_ "github.com/lib/pq"

	"github.com/loupe-search/loupe/internal/config"
	"github.com/loupe-search/loupe/internal/embedding"
	"github.com/loupe-search/loupe/internal/eval"
	"github.com/loupe-search/loupe/internal/fusion"
	"github.com/loupe-search/loupe/internal/metrics"
	"github.com/loupe-search/loupe/internal/observability"
	"github.com/loupe-search/loupe/internal/query"
	"github.com/loupe-search/loupe/internal/retriever"
	"github.com/loupe-search/loupe/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		goldPath   = flag.String("gold", "eval/gold.yaml", "path to the gold query file")
		configPath = flag.String("config", "", "path to the configuration file")
	)
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := observability.NewStandardLoggerAt("run-evals", observability.ParseLevel(cfg.LogLevel))

	gold, err := eval.LoadGold(*goldPath)
	if err != nil {
		log.Fatalf("Failed to load gold queries: %v", err)
	}

	db, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	st := store.New(db, cfg.Embedding.Dimensions, logger)
	defer func() { _ = st.Close() }()

	embedClient, err := embedding.NewFromConfig(ctx, cfg.Embedding, logger)
	if err != nil {
		log.Fatalf("Failed to initialize embedding client: %v", err)
	}

	m := metrics.New()
	ret := retriever.New(st, embedClient, cfg.Search, m, logger)
	ranker := fusion.NewRanker(fusion.WeightsFromConfig(cfg.Search))
	harness := eval.NewHarness(ret, ranker, query.Defaults{K: cfg.Search.DefaultK}, m, logger)

	summary, err := harness.Evaluate(ctx, gold)
	if err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}

	printSummary(summary)

	if !summary.Passed() {
		return 1
	}
	return 0
}

// printSummary renders the run as an aligned table on stdout
func printSummary(s *eval.Summary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Queries\t%d\n", s.Queries)
	fmt.Fprintf(w, "Failed\t%d\n", s.Failed)
	fmt.Fprintf(w, "Average Precision\t%.3f\n", s.AvgPrecision)
	fmt.Fprintf(w, "Average Recall\t%.3f\n", s.AvgRecall)
	fmt.Fprintf(w, "Average nDCG\t%.3f\n", s.AvgNDCG)
	fmt.Fprintf(w, "Localization Accuracy\t%.3f\n", s.LocalizationAccuracy)
	fmt.Fprintf(w, "Latency P95 (ms)\t%.1f\n", s.P95LatencyMs)
	fmt.Fprintf(w, "Passed\t%t\n", s.Passed())
	_ = w.Flush()

	for _, r := range s.Results {
		if r.Error != "" {
			fmt.Fprintf(os.Stderr, "query %q (%s) failed: %s\n", r.Query, r.Country, r.Error)
		}
	}
}
