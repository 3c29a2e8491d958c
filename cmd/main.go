package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"line-relay/handler"
	"line-relay/internal/config"
	"line-relay/internal/integrations/line"
	"line-relay/internal/integrations/openai"
	"line-relay/internal/integrations/paramstore"
	"line-relay/internal/logctx"
	"line-relay/internal/repository"
	"line-relay/internal/session"
	"line-relay/internal/usecase"
)

func main() {
	// ---- Configuration ----
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}

	logger, err := logctx.New(os.Stdout, cfg.LogLevel)
	if err != nil {
		fatal("invalid log level", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadAWS := sync.OnceValues(func() (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})

	// ---- Secrets ----
	if cfg.ParamPrefix != "" && cfg.NeedsSecrets() {
		awsCfg, err := loadAWS()
		if err != nil {
			fatal("failed to load AWS config", err)
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			fatal("failed to create SSM client", err)
		}
		secrets, err := paramstore.NewSecretSource(ssmClient, cfg.ParamPrefix)
		if err != nil {
			fatal("failed to create secret source", err)
		}
		if err := cfg.ResolveSecrets(ctx, secrets); err != nil {
			fatal("failed to resolve secrets", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid configuration", err)
	}

	// ---- History store ----
	store, closeStore, err := newHistoryStore(ctx, cfg, loadAWS)
	if err != nil {
		fatal("failed to create history store", err)
	}
	defer closeStore()

	// ---- Clients ----
	llm, err := openai.NewClient(cfg.GeminiAPIKey, openai.WithBaseURL(cfg.GenerationBaseURL))
	if err != nil {
		fatal("failed to create generation client", err)
	}
	dispatcher, err := line.NewMessagingDispatcher(cfg.LineChannelAccessToken, line.WithRetry(cfg.ReplyAttempts, cfg.ReplyRetryDelay))
	if err != nil {
		fatal("failed to create LINE dispatcher", err)
	}

	// ---- Pipeline ----
	gate, err := session.NewGate(cfg.Trigger, session.DefaultGreeting)
	if err != nil {
		fatal("failed to create mention gate", err)
	}
	replies, err := usecase.NewReplyService(llm, store, usecase.ReplyConfig{
		Persona:           cfg.PersonaPrompt,
		Model:             cfg.ModelName,
		MaxTurns:          cfg.MaxHistoryTurns,
		GenerationTimeout: cfg.GenerationTimeout,
		StoreTimeout:      cfg.StoreTimeout,
	})
	if err != nil {
		fatal("failed to create reply service", err)
	}
	relay, err := usecase.NewRelayService(gate, replies, dispatcher)
	if err != nil {
		fatal("failed to create relay service", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(relay, cfg.LineChannelSecret, handler.WithMaxConcurrentEvents(cfg.MaxConcurrentEvents))
	if err != nil {
		fatal("failed to create handler", err)
	}

	slog.Info("relay configured", "backend", cfg.HistoryBackend, "model", cfg.ModelName, "trigger", cfg.Trigger)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		lambda.Start(h.Handle)
		return
	}

	if err := serve(ctx, ":"+strconv.Itoa(cfg.Port), h.Routes()); err != nil {
		slog.Error("server stopped", "err", err)
		closeStore()
		os.Exit(1)
	}
}

func newHistoryStore(ctx context.Context, cfg *config.Config, loadAWS func() (aws.Config, error)) (usecase.HistoryStore, func(), error) {
	noop := func() {}
	switch cfg.HistoryBackend {
	case config.BackendMemory:
		return repository.NewMemoryStore(), noop, nil

	case config.BackendFirebase:
		s, err := repository.NewFirebaseStore(cfg.FirebaseURL, repository.WithFirebaseAuth(cfg.FirebaseAuth))
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case config.BackendDynamoDB:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, noop, fmt.Errorf("load AWS config: %w", err)
		}
		s, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithTTL(cfg.HistoryTTL))
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case config.BackendPostgres:
		if err := repository.RunMigrations(cfg.DatabaseURL, repository.Migrations()); err != nil {
			return nil, noop, err
		}
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		s, err := repository.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		return s, pool.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
}

func serve(ctx context.Context, addr string, routes http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
