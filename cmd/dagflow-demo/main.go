// Command dagflow-demo builds a small workflow — fetch a URL and extract a
// PDF — from config, executes it, records the run to a HistorySink, and
// prints an HTML report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/flowforge/dagflow"
	"github.com/flowforge/dagflow/internal/config"
	"github.com/flowforge/dagflow/observer"
	"github.com/flowforge/dagflow/store/sqlite"
	"github.com/flowforge/dagflow/tasks/fetch"
	"github.com/flowforge/dagflow/tasks/pdf"
	"github.com/flowforge/dagflow/tasks/report"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Load(os.Getenv("DAGFLOW_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var tracer dagflow.Tracer
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("dagflow-demo: observer init: %v", err)
		}
		defer shutdown(ctx)
		_ = inst
		tracer = observer.NewTracer()
	}

	var sink dagflow.HistorySink
	if cfg.Store.Driver == "sqlite" {
		s := sqlite.New(cfg.Store.DSN, sqlite.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			log.Fatalf("dagflow-demo: history store init: %v", err)
		}
		defer s.Close()
		sink = s
	}

	fetchTask := fetch.New("fetch_article")
	pdfTask := pdf.New("extract_pdf")

	builder := dagflow.NewBuilder().
		AddTasks(fetchTask, pdfTask).
		WithConfig(dagflow.Config{
			RetryAttempts:   cfg.Engine.RetryAttempts,
			TimeoutMs:       cfg.Engine.TimeoutMs,
			MaxDynamicSteps: cfg.Engine.MaxDynamicSteps,
			RetryBackoff:    cfg.Engine.RetryBackoff,
		}).
		WithLogger(logger)
	if tracer != nil {
		builder = builder.WithTracer(tracer)
	}

	engine, err := builder.Build()
	if err != nil {
		log.Fatalf("dagflow-demo: build: %v", err)
	}

	input := map[string]any{
		"url":  envOr("DAGFLOW_DEMO_URL", "https://example.com"),
		"path": envOr("DAGFLOW_DEMO_PDF", ""),
	}

	result, err := dagflow.ExecuteWithHistory(ctx, engine, sink, input)
	if err != nil {
		log.Printf("dagflow-demo: run finished with error: %v", err)
	}

	html, err := report.Render(result)
	if err != nil {
		log.Fatalf("dagflow-demo: render report: %v", err)
	}
	fmt.Println(html)

	data, _ := json.MarshalIndent(result.TaskResults, "", "  ")
	logger.Info("run complete", "run_id", result.RunID, "success", result.Success, "task_results", string(data))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
