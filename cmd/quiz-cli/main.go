package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chapter-quiz/internal/cli"
	"chapter-quiz/internal/config"
	"chapter-quiz/internal/quizclient"
	"chapter-quiz/internal/retry"
	"chapter-quiz/internal/session"
	"chapter-quiz/internal/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	chapter := flag.String("chapter", cfg.ChapterID, "chapter whose quiz to take (required)")
	server := flag.String("server", cfg.ServerURL, "quiz service base URL")
	backend := flag.String("store", cfg.StoreBackend, "progress store: memory, sqlite or redis")
	storePath := flag.String("store-path", cfg.StorePath, "SQLite file for the sqlite store")
	redisURL := flag.String("redis-url", cfg.RedisURL, "Redis URL for the redis store")
	maxQuestions := flag.Int("max-questions", cfg.MaxQuestions, "questions per attempt")
	createIfMissing := flag.Bool("create-if-missing", cfg.CreateIfMissing, "ask the service to generate a quiz for chapters without one")
	// The terminal is the UI, so only warnings and errors are logged by default.
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *chapter == "" {
		fmt.Fprintln(os.Stderr, "error: --chapter is required")
		os.Exit(1)
	}

	logger, err := config.NewLogger(*logLevel, cfg.LogFormat, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress, closer, err := store.Open(ctx, store.Options{
		Backend:  *backend,
		Path:     *storePath,
		RedisURL: *redisURL,
		RedisTTL: cfg.RedisTTL,
	}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer closer.Close()

	client := quizclient.NewHTTPClient(*server, &http.Client{Timeout: cfg.HTTPTimeout})
	client.CreateIfMissing = *createIfMissing
	client.QuestionCount = cfg.QuestionCount
	if err := client.Health(ctx); err != nil {
		logger.WithError(err).Warn("quiz service unreachable, only a saved attempt can be resumed")
	}

	finished := make(chan session.Result, 1)
	sess, err := session.New(session.Options{
		ChapterID:    *chapter,
		Store:        progress,
		Source:       client,
		Submitter:    client,
		Retry:        retry.Default(),
		MaxQuestions: *maxQuestions,
		OnFinish: func(result session.Result) {
			select {
			case finished <- result:
			default:
			}
		},
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer sess.Close()

	if err := cli.Run(ctx, os.Stdin, os.Stdout, sess, finished); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
