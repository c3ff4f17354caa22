package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/shopguard/internal/apperrors"
	"github.com/nkiryanov/shopguard/internal/db"
	"github.com/nkiryanov/shopguard/internal/handlers"
	"github.com/nkiryanov/shopguard/internal/logger"
	"github.com/nkiryanov/shopguard/internal/repository"
	"github.com/nkiryanov/shopguard/internal/repository/memory"
	"github.com/nkiryanov/shopguard/internal/repository/postgres"
	"github.com/nkiryanov/shopguard/internal/repository/redis"
	"github.com/nkiryanov/shopguard/internal/service/auth"
	"github.com/nkiryanov/shopguard/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/shopguard/internal/service/replay"
	"github.com/nkiryanov/shopguard/internal/service/revocation"
	"github.com/nkiryanov/shopguard/internal/service/signature"
	"github.com/nkiryanov/shopguard/internal/service/sweeper"
)

const (
	shutdownTimeout = 5 * time.Second
	redisKeyPrefix  = "shopguard"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
	Sweeper    *sweeper.Sweeper
	Logger     logger.Logger

	// Release storage connections
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (_ *ServerApp, err error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Secrets are checked before any connection is made
	signer, err := signature.NewSigner(c.SignatureSecret)
	if err != nil {
		return nil, err
	}
	if c.SecretKey == "" {
		return nil, fmt.Errorf("token secret key: %w", apperrors.ErrMissingSecret)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	storage, err := app.openStorage(ctx, c)
	if err != nil {
		return nil, err
	}

	// Initialize services
	ledger, err := revocation.New(storage, revocation.Config{WatermarkTTL: max(c.AccessTTL, c.RefreshTTL)})
	if err != nil {
		return nil, fmt.Errorf("error while creating revocation ledger. Err: %w", err)
	}
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
	}, ledger)
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	authService, err := auth.NewService(auth.Config{
		CodeSender: auth.LogCodeSender{Logger: logger.WithGroup("otp")},
		CodeTTL:    c.OTPTTL,
	}, tokenManager, ledger, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	guard := replay.New(storage.Signature(), replay.WithWindow(c.SignatureWindow))

	app.Handler = handlers.NewRouter(authService, signer, guard, logger)
	app.Sweeper = sweeper.New(c.SweepInterval, logger,
		sweeper.Target{Name: "revocations", Store: ledger},
		sweeper.Target{Name: "signatures", Store: guard},
	)

	return app, nil
}

// Postgres keeps accounts, security records go to redis if configured
func (s *ServerApp) openStorage(ctx context.Context, c *Config) (repository.Storage, error) {
	switch c.Storage {
	case StorageMemory:
		s.Logger.Warn("In-memory storage used, nothing survives restart")
		return memory.NewStorage(), nil
	case StoragePostgres:
	default:
		return nil, fmt.Errorf("unknown storage %q, expected %q or %q", c.Storage, StoragePostgres, StorageMemory)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	s.closers = append(s.closers, pool.Close)

	storage := postgres.NewStorage(pool)
	if c.RedisURL == "" {
		return storage, nil
	}

	opts, err := goredis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url. Err: %w", err)
	}
	client := goredis.NewClient(opts)
	s.closers = append(s.closers, func() { _ = client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
	}
	s.Logger.Info("Security records kept in redis")

	return repository.WithSecurity(storage, redis.NewStorage(client, redisKeyPrefix)), nil
}

func (s *ServerApp) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run starts http server and sweeper, closes both gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.Close()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Listen and serve until context is cancelled; then close gracefully connections
	g.Go(func() error {
		s.Logger.Info("Starting server", "address", s.ListenAddr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.Logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.Logger.Info("HTTP server stopped")
		return nil
	})

	g.Go(func() error {
		<-s.Sweeper.Run(gCtx)
		return nil
	})

	return g.Wait()
}
