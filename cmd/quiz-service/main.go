package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"chapter-quiz/internal/config"
	"chapter-quiz/internal/httpapi"
	"chapter-quiz/internal/opentdb"
	"chapter-quiz/internal/quiz"
	"chapter-quiz/internal/quiz/sqlite"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	seedFile := flag.String("seed", cfg.SeedFile, "JSON file with quiz definitions to import at startup")
	flag.Parse()

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if err := run(logger, *addr, *dbPath, *seedFile, cfg.HTTPTimeout); err != nil {
		logger.WithError(err).Fatal("quiz-service stopped")
	}
}

func run(logger *logrus.Logger, addr, dbPath, seedFile string, upstreamTimeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := sqlite.NewSQLiteStore(ctx, dbPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	trivia := opentdb.NewClient(&http.Client{Timeout: upstreamTimeout})
	service := quiz.NewService(repo, repo, trivia.FetchQuestions, logger)

	if seedFile != "" {
		if err := importSeed(ctx, service, seedFile); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(service, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("shutdown")
		}
	}()

	logger.WithFields(logrus.Fields{"addr": addr, "db": dbPath}).Info("quiz-service listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func importSeed(ctx context.Context, service *quiz.Service, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	defs, err := quiz.DecodeDefinitions(file)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	if _, err := service.ImportAll(ctx, defs); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	return nil
}
