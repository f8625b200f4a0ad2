package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/linyh/webrag/db"
	"github.com/linyh/webrag/internal/api"
	"github.com/linyh/webrag/internal/config"
	"github.com/linyh/webrag/internal/database"
	"github.com/linyh/webrag/internal/ingest"
	"github.com/linyh/webrag/internal/knowledge"
	"github.com/linyh/webrag/internal/llm"
	"github.com/linyh/webrag/internal/log"
	"github.com/linyh/webrag/internal/observability"
	"github.com/linyh/webrag/internal/rag"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 3 * time.Minute // generation can take most of the model timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires the whole application together and runs the HTTP server
// until SIGINT/SIGTERM.
func runServe(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determining working directory: %w", err)
	}

	// Bootstrap logger: config decides the real level below.
	bootLogger := log.New(log.Config{})

	cfg, err := config.Load(workDir, bootLogger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.GetString("log_level")),
		JSON:  true,
	})
	logger.Info("starting webrag", "version", Version, "config_sources", cfg.Sources())

	shutdownTracing, err := observability.Setup(ctx,
		cfg.GetString("otel_endpoint"), cfg.GetString("service_name"), logger)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	connURL := cfg.GetString("database_url")
	if err := db.Migrate(connURL); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	pool, err := database.Open(ctx, connURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	model := llm.New(
		cfg.GetString("model_host"),
		cfg.GetInt("model_port"),
		cfg.GetString("model_name"),
		cfg.GetString("embed_model"),
	)

	store := knowledge.New(pool, model, logger.With("component", "knowledge"))

	loader := ingest.NewLoader(ingest.LoaderConfig{
		Delay:   time.Duration(cfg.GetInt("scrape_delay_ms")) * time.Millisecond,
		Timeout: time.Duration(cfg.GetInt("scrape_timeout_ms")) * time.Millisecond,
	}, logger.With("component", "loader"))

	chunker := ingest.NewChunker(cfg.GetInt("chunk_size"), cfg.GetInt("chunk_overlap"))
	pipeline := ingest.NewPipeline(loader, store, chunker, logger.With("component", "ingest"))

	system, err := rag.New(rag.Config{
		Generator: model,
		Retriever: store,
		Ingestor:  pipeline,
		Logger:    logger.With("component", "rag"),
		URLs:      cfg.GetStringSlice("source_urls"),
		TopK:      cfg.GetInt("top_k"),
	})
	if err != nil {
		return fmt.Errorf("creating query service: %w", err)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Chat:        system,
		Config:      cfg,
		Logger:      logger.With("component", "api"),
		CORSOrigins: cfg.GetStringSlice("cors_origins"),
		TrustProxy:  cfg.GetBool("trust_proxy"),
	})

	addr := fmt.Sprintf(":%d", cfg.GetInt("server_port"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready", "addr", addr, "api", "/api/*")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
