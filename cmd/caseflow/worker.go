package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/caseflow/internal/config"
	"github.com/kalambet/caseflow/internal/engine"
	"github.com/kalambet/caseflow/internal/evidence"
	"github.com/kalambet/caseflow/internal/metrics"
	"github.com/kalambet/caseflow/internal/report"
	"github.com/kalambet/caseflow/internal/retrieval"
	"github.com/kalambet/caseflow/internal/schema"
	"github.com/kalambet/caseflow/internal/storage"
	"github.com/kalambet/caseflow/internal/tools"
	"github.com/kalambet/caseflow/internal/triage"
	"github.com/kalambet/caseflow/internal/worker"
)

// pipeline bundles the per-job processing components so the server and the
// one-shot worker command assemble them the same way.
type pipeline struct {
	extractor *triage.Extractor
	generator *report.Generator
	registry  *tools.Registry
	index     *retrieval.Index
}

func buildPipeline(eng *engine.Ollama, store *storage.Store, cfg config.Config) (*pipeline, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("compiling schemas: %w", err)
	}
	registry, err := tools.NewRegistry(validator, tools.DefaultSpecs(store)...)
	if err != nil {
		return nil, fmt.Errorf("building tool registry: %w", err)
	}
	checker := evidence.NewChecker(evidence.DefaultRules()...)
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)

	return &pipeline{
		extractor: triage.NewExtractor(eng, cfg.Ollama.TriageModel, validator),
		generator: report.NewGenerator(eng, cfg.Ollama.ReportModel, validator, checker),
		registry:  registry,
		index:     retrieval.NewIndex(store, embedder),
	}, nil
}

func workerConfig(cfg config.Config) worker.Config {
	return worker.Config{
		PollInterval: parseDurationOr(cfg.Worker.PollInterval, 500*time.Millisecond, "worker.poll_interval"),
		MaxRetries:   cfg.Worker.MaxRetries,
		BackoffBase:  parseDurationOr(cfg.Worker.BackoffBase, 30*time.Second, "worker.backoff_base"),
		TopK:         cfg.Retrieval.TopK,
		Threshold:    float32(cfg.Retrieval.Threshold),
	}
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run pipeline workers directly",
}

var workerOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Claim and process a single job, then exit",
	Long: `Claim and process a single job, then exit.

Runs the full pipeline in-process against the configured store, without the
HTTP server. Useful for debugging a stuck queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx := cmd.Context()

		eng := engine.NewOllama(cfg.Ollama.BaseURL)
		if err := engine.EnsureReady(ctx, eng, cfg.Ollama.TriageModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		pipe, err := buildPipeline(eng, store, cfg)
		if err != nil {
			return err
		}
		if err := pipe.index.Refresh(ctx); err != nil {
			slog.Warn("golden index refresh failed", "error", err)
		}

		id := "once-" + uuid.NewString()[:8]
		w := worker.New(id, store, pipe.extractor, pipe.index, pipe.generator, pipe.registry, metrics.New(), workerConfig(cfg))

		done, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !done {
			printWarning("No claimable jobs in the queue")
			return nil
		}
		printSuccess("Processed one job")
		return nil
	},
}

func init() {
	workerCmd.AddCommand(workerOnceCmd)
}
