package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"studycards/internal/api"
	"studycards/internal/config"
	"studycards/internal/db"
	"studycards/internal/extract"
	"studycards/internal/logging"
	"studycards/internal/services"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		msgs := make([]string, 0, len(problems))
		for _, p := range problems {
			msgs = append(msgs, p.Error())
		}
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	backend, err := services.NewChatBackend(cfg.LLM)
	if err != nil {
		return err
	}
	if backend == nil {
		logger.Warn("no llm backend configured; generation endpoints will return 503",
			zap.String("provider", cfg.LLM.Provider))
	}

	documentService := services.NewDocumentService(conn, cfg.UploadDir)
	deckService := services.NewDeckService(conn)
	quizService := services.NewQuizService(conn)
	generationService := services.NewGenerationService(backend, services.GenerationOptions{
		Timeout:           cfg.LLM.Timeout(),
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	}, logger)
	studyService := services.NewStudyService(
		documentService,
		extract.New(),
		generationService,
		deckService,
		quizService,
		cfg.MaxWords,
		logger,
	)

	server := api.NewServer(studyService, documentService, deckService, quizService, generationService, api.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})
	defer server.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout() + 30*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("llm_provider", cfg.LLM.Provider),
			zap.String("llm_model", cfg.LLM.Model),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
