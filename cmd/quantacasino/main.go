package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"QuantaCasino/internal/chain"
	"QuantaCasino/internal/deposit"
	"QuantaCasino/internal/events"
	"QuantaCasino/internal/fairness"
	"QuantaCasino/internal/game"
	"QuantaCasino/internal/ledger"
	"QuantaCasino/internal/observability"
	"QuantaCasino/internal/server"
	"QuantaCasino/internal/store"
	"QuantaCasino/internal/wallet"
	"QuantaCasino/internal/withdraw"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	PostgresDSN   string
	RedisURL      string
	NATSURL       string
	HTTPAddr      string
	RPCURL        string
	HouseKey      string
	MigrationsDir string

	DepositPoll time.Duration
	ConfirmPoll time.Duration
	RPCTimeout  time.Duration

	RoundTimeout time.Duration
	MatchTimeout time.Duration

	SeedRotateRounds int64
	BetMinMQC        int64
	BetMaxMQC        int64
	WithdrawMinMQC   int64
}

func DefaultConfig() Config {
	return Config{
		PostgresDSN:      os.Getenv("QC_POSTGRES_DSN"),
		RedisURL:         os.Getenv("QC_REDIS_URL"),
		NATSURL:          os.Getenv("QC_NATS_URL"),
		HTTPAddr:         envOrDefault("QC_HTTP_ADDR", ":8090"),
		RPCURL:           envOrDefault("QC_RPC_URL", "https://api.mainnet-beta.solana.com"),
		HouseKey:         os.Getenv("QC_HOUSE_KEY"),
		MigrationsDir:    envOrDefault("QC_MIGRATIONS_DIR", "migrations"),
		DepositPoll:      time.Duration(envIntOrDefault("QC_DEPOSIT_POLL_MS", 5000)) * time.Millisecond,
		ConfirmPoll:      time.Duration(envIntOrDefault("QC_CONFIRM_POLL_MS", 3000)) * time.Millisecond,
		RPCTimeout:       time.Duration(envIntOrDefault("QC_RPC_TIMEOUT_MS", 15000)) * time.Millisecond,
		RoundTimeout:     time.Duration(envIntOrDefault("QC_ROUND_TIMEOUT_S", 120)) * time.Second,
		MatchTimeout:     time.Duration(envIntOrDefault("QC_MATCH_TIMEOUT_S", 300)) * time.Second,
		SeedRotateRounds: envInt64OrDefault("QC_SEED_ROTATE_ROUNDS", 10_000),
		BetMinMQC:        envInt64OrDefault("QC_BET_MIN_MQC", 1),
		BetMaxMQC:        envInt64OrDefault("QC_BET_MAX_MQC", 100_000_000),
		WithdrawMinMQC:   envInt64OrDefault("QC_WITHDRAW_MIN_MQC", 1_000),
	}
}

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("QuantaCasino starting")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- House wallet ---
	if cfg.HouseKey == "" {
		log.Fatal().Msg("QC_HOUSE_KEY is required")
	}
	keys, err := wallet.Load(cfg.HouseKey)
	if err != nil {
		log.Fatal().Err(err).Msg("load house key")
	}
	log.Info().Str("address", wallet.Redact(keys.Address)).Msg("house wallet loaded")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Store ---
	var st store.Store
	var cleanup []func()

	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		cleanup = append(cleanup, func() { db.Close() })

		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}
		log.Info().Msg("postgres connected")

		migrator := store.NewMigrator(db, cfg.MigrationsDir)
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
		log.Info().Msg("migrations applied")

		st = store.NewPostgresStore(db)

		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				log.Fatal().Err(err).Msg("parse QC_REDIS_URL")
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			log.Info().Msg("redis cache enabled")
		}
	} else {
		log.Warn().Msg("QC_POSTGRES_DSN not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Ledger and house accounts ---
	book := ledger.New(st, metrics)

	// The house account id is derived from the wallet address so every
	// restart lands on the same row.
	houseID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("house:"+keys.Address))
	reserveID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("reserve:"+keys.Address))
	if _, err := book.EnsureAccount(ctx, houseID, ledger.AccountHouse); err != nil {
		log.Fatal().Err(err).Msg("ensure house account")
	}
	if _, err := book.EnsureAccount(ctx, reserveID, ledger.AccountReserve); err != nil {
		log.Fatal().Err(err).Msg("ensure reserve account")
	}

	// --- Fairness and games ---
	fair := fairness.NewEngine(st, cfg.SeedRotateRounds, metrics)
	limits := game.Limits{MinStakeMQC: cfg.BetMinMQC, MaxStakeMQC: cfg.BetMaxMQC}
	games := game.NewEngine(book, fair, st, houseID, limits, metrics)
	matches := game.NewMatches(book, houseID, limits, cfg.MatchTimeout, metrics)

	// --- Chain ---
	rpc := chain.NewClient(cfg.RPCURL, cfg.RPCTimeout, metrics)

	reconciler := deposit.NewReconciler(book, st, rpc, keys.Address, cfg.DepositPoll, metrics)

	processor := withdraw.NewProcessor(book, st, rpc, keys, withdraw.Config{
		MinAmountMQC:   cfg.WithdrawMinMQC,
		SubmitPoll:     cfg.ConfirmPoll,
		ConfirmPoll:    cfg.ConfirmPoll,
		ConfirmTimeout: 2 * time.Minute,
	}, metrics)

	// --- Live feed ---
	feed := server.NewFeed(metrics)
	games.AddSink(feed)
	reconciler.AddNotifier(feed)
	processor.AddNotifier(feed)

	// --- NATS event publisher (optional) ---
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		nc, js, err := events.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		cleanup = append(cleanup, nc.Close)
		if err := events.EnsureStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure nats stream")
		}
		publisher = events.NewPublisher(js, 4096, metrics)
		games.AddSink(publisher)
		reconciler.AddNotifier(publisher)
		processor.AddNotifier(publisher)
		log.Info().Msg("nats connected")
	}

	// --- HTTP server ---
	api := server.New(server.Deps{
		Ledger:      book,
		Fairness:    fair,
		Games:       games,
		Matches:     matches,
		Withdrawals: processor,
		Store:       st,
		HouseAddr:   keys.Address,
		HouseID:     houseID,
		Feed:        feed,
		Health:      healthChecker,
		Metrics:     metrics,
	})
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.Router(),
	}

	// --- Recovery before accepting work ---
	if err := processor.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("withdrawal recovery")
	}

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	go feed.Run()

	go func() {
		errChan <- games.RunJanitor(ctx, cfg.RoundTimeout, cfg.RoundTimeout/4)
	}()
	go func() {
		errChan <- matches.RunJanitor(ctx, cfg.MatchTimeout/4)
	}()
	go func() {
		errChan <- reconciler.Run(ctx)
	}()
	go func() {
		errChan <- processor.Run(ctx)
	}()
	if publisher != nil {
		go func() {
			errChan <- publisher.Run(ctx)
		}()
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	healthChecker.SetReady(true)
	log.Info().Str("http", cfg.HTTPAddr).Str("rpc", cfg.RPCURL).Msg("QuantaCasino ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("goroutine failed, shutting down")
		}
	}

	cancel()
	healthChecker.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	log.Info().Msg("QuantaCasino shutdown complete")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	return int(envInt64OrDefault(key, int64(defaultVal)))
}

func envInt64OrDefault(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}
