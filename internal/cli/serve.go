package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orthopilot/claimpilot/internal/api"
	"github.com/orthopilot/claimpilot/internal/cache"
	"github.com/orthopilot/claimpilot/internal/eligibility"
	"github.com/orthopilot/claimpilot/internal/llm"
	"github.com/orthopilot/claimpilot/internal/parse"
	"github.com/orthopilot/claimpilot/internal/pipeline"
	"github.com/orthopilot/claimpilot/internal/retrieval"
	"github.com/orthopilot/claimpilot/internal/store"
	"github.com/orthopilot/claimpilot/internal/worker"
)

// parserTimeout bounds one upload or poll round trip to the OCR
// service, not the whole parse job.
const parserTimeout = 2 * time.Minute

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ClaimPilot API server and background workers",
	Long: `Start the HTTP API together with the background worker pool that runs
claim intake, policy-benefit extraction and payer adjudication jobs.

Example:
  claimpilot serve
  CLAIMPILOT_PORT=9000 claimpilot serve --config ./claimpilot.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	if err := store.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	st := store.NewPostgres(pool)

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		ChatModel:      cfg.OpenAI.ChatModel,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		Timeout:        cfg.OpenAI.Timeout,
		RetryDelay:     cfg.OpenAI.RetryDelay,
	}, log)
	if err != nil {
		return fmt.Errorf("creating AI client: %w", err)
	}

	parser := parse.NewLlamaParse(cfg.Parser.BaseURL, cfg.Parser.APIKey, parserTimeout, cfg.Parser.PollInterval)
	adapter := parse.NewAdapter(parser, st, cfg.Parser.ParseDelay, log)

	embedCache := cache.NewMemoryCache(24*time.Hour, time.Hour)
	engine := retrieval.NewEngine(client, st, embedCache, log)
	elig := eligibility.NewEngine(st, nil)

	p := pipeline.New(st, adapter, client, engine, elig, cfg.Pipeline.ChargeStrategy, log)

	workers := worker.NewPool(cfg.Worker.Count, cfg.Worker.QueueSize, log)
	workers.Start()
	defer workers.Shutdown()
	dispatcher := worker.NewDispatcher(workers, p)

	server := api.NewServer(st, dispatcher, cfg.UploadDir, log)
	log.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Env).
		Int("workers", cfg.Worker.Count).
		Msg("claimpilot serving")
	return server.Start(ctx, ":"+cfg.Port)
}
