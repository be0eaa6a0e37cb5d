// Command mailclass-serve runs the classification HTTP API.
//
// Configuration comes from the environment; a .env file in the working
// directory is honored when present:
//
//	MAILCLASS_ADDR           listen address (default :8080)
//	MAILCLASS_MODEL_PATH     model artifact; without one the classify
//	                         endpoints answer 503
//	MAILCLASS_DATA_DIR       directory for ingested message NDJSON files
//	MAILCLASS_TAXONOMY_PATH  taxonomy document
//	MAILCLASS_RULES_PATH     ruleset document
//	MAILCLASS_RATE_RPS       classify rate limit, 0 disables
//	MAILCLASS_RATE_BURST     classify rate limit burst
//	MAILCLASS_LOG_LEVEL      debug, info, warn or error
//	MAILCLASS_LOG_JSON       log JSON instead of text
//
// SIGHUP reloads the model artifact and swaps it into the running
// server; SIGINT and SIGTERM shut down gracefully.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/hupe1980/mailclass"
	"github.com/hupe1980/mailclass/msgstore"
	"github.com/hupe1980/mailclass/rules"
	"github.com/hupe1980/mailclass/server"
)

// Exit codes to provide meaningful status to the operating system or
// service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 10 * time.Second

type config struct {
	Addr         string  `envconfig:"ADDR" default:":8080"`
	ModelPath    string  `envconfig:"MODEL_PATH"`
	DataDir      string  `envconfig:"DATA_DIR" default:"data"`
	TaxonomyPath string  `envconfig:"TAXONOMY_PATH" default:"taxonomy.json"`
	RulesPath    string  `envconfig:"RULES_PATH" default:"rules.json"`
	RateRPS      float64 `envconfig:"RATE_RPS" default:"0"`
	RateBurst    int     `envconfig:"RATE_BURST" default:"10"`
	LogLevel     string  `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON      bool    `envconfig:"LOG_JSON" default:"false"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mailclass-serve:", err)
	}

	os.Exit(code)
}

func run() (int, error) {
	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process("mailclass", &cfg); err != nil {
		return exitConfig, fmt.Errorf("config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return exitConfig, fmt.Errorf("config: log level %q: %w", cfg.LogLevel, err)
	}

	logger := mailclass.NewTextLogger(level)
	if cfg.LogJSON {
		logger = mailclass.NewJSONLogger(level)
	}

	ctx := context.Background()

	clf, err := loadModel(ctx, cfg, logger)
	if err != nil {
		return exitConfig, err
	}

	messages, err := msgstore.NewNDJSONStore(cfg.DataDir, func(o *msgstore.Options) {
		o.Logger = logger.Logger
	})
	if err != nil {
		return exitConfig, err
	}

	taxonomyDoc := msgstore.NewDocStore(cfg.TaxonomyPath)
	rulesDoc := msgstore.NewDocStore(cfg.RulesPath)

	engine, err := loadRules(rulesDoc, logger)
	if err != nil {
		return exitConfig, err
	}

	api := server.New(server.Config{
		Classifier:  clf,
		Rules:       engine,
		Messages:    messages,
		TaxonomyDoc: taxonomyDoc,
		RulesDoc:    rulesDoc,
		Logger:      logger.Logger,
		RateRPS:     cfg.RateRPS,
		RateBurst:   cfg.RateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ModelPath != "" {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		go func() {
			for range hup {
				loaded, err := mailclass.Load(ctx, cfg.ModelPath, mailclass.WithLogger(logger))
				if err != nil {
					logger.Error("model reload failed", "path", cfg.ModelPath, "error", err)
					continue
				}

				api.SwapClassifier(loaded)
				logger.Info("model reloaded", "path", cfg.ModelPath)
			}
		}()
	}

	// Capture ListenAndServe issues asynchronously so startup failures
	// (port in use) surface instead of blocking on the signal context.
	errChan := make(chan error, 1)

	go func() {
		logger.Info("serving", "addr", cfg.Addr, "model", clf != nil, "rules", engine != nil)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return exitRuntime, fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")

	return exitOK, nil
}

// loadModel reads the configured artifact. A missing file is not fatal:
// the server starts without a model and answers 503 on the classify
// endpoints until a SIGHUP reload finds one.
func loadModel(ctx context.Context, cfg config, logger *mailclass.Logger) (*mailclass.Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, nil
	}

	clf, err := mailclass.Load(ctx, cfg.ModelPath, mailclass.WithLogger(logger))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("model artifact missing, serving without a model", "path", cfg.ModelPath)
			return nil, nil
		}

		return nil, fmt.Errorf("load model: %w", err)
	}

	return clf, nil
}

// loadRules restores the persisted ruleset so rules survive restarts.
func loadRules(doc *msgstore.DocStore, logger *mailclass.Logger) (*rules.Engine, error) {
	if !doc.Exists() {
		return nil, nil
	}

	var rs rules.Ruleset
	if err := doc.Read(&rs); err != nil {
		return nil, fmt.Errorf("read ruleset: %w", err)
	}

	engine, err := rules.New(rs.Rules, func(o *rules.Options) {
		o.Logger = logger.Logger
	})
	if err != nil {
		return nil, fmt.Errorf("build rules engine: %w", err)
	}

	logger.Info("ruleset loaded", "rules", len(engine.Rules()), "path", doc.Path())

	return engine, nil
}
