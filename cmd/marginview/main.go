package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"MarginView/internal/config"
	"MarginView/internal/gateway"
	"MarginView/internal/observability"
	"MarginView/internal/publisher"
	"MarginView/internal/recorder"
	"MarginView/internal/risk"
	"MarginView/internal/server"
	"MarginView/internal/syncer"
	"MarginView/internal/view"
)

func main() {
	configPath := flag.String("config", os.Getenv("MV_CONFIG"), "path to YAML config file")
	flag.Parse()

	log := observability.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		log.Fatal().Err(err).Str("program_id", cfg.ProgramID).Msg("program_id invalid")
	}
	marketKey, err := solana.PublicKeyFromBase58(cfg.MarketKey)
	if err != nil {
		log.Fatal().Err(err).Str("market_key", cfg.MarketKey).Msg("market_key invalid")
	}

	var signer solana.PrivateKey
	if cfg.KeypairPath != "" {
		signer, err = solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.KeypairPath).Msg("keypair unreadable")
		}
	} else {
		// Ephemeral key: views work, but submitted instructions will be
		// signed by a wallet the ledger has never funded.
		signer = solana.NewWallet().PrivateKey
		log.Warn().Msg("no keypair configured, using an ephemeral wallet")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Ledger gateway ---
	gw, err := gateway.NewSolanaGateway(ctx, cfg.RPCURL, cfg.WSURL, signer, observability.NewLogger("gateway"), metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway init failed")
	}
	defer gw.Close()

	// --- Optional side channels ---
	var rec recorder.Recorder = recorder.Noop{}
	if cfg.PostgresDSN != "" {
		pg, err := recorder.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("recorder init failed")
		}
		defer pg.Close()
		rec = pg
		log.Info().Msg("postgres recorder enabled")
	}

	var notifier view.Notifier
	if cfg.NATSURL != "" {
		pub, err := publisher.Connect(cfg.NATSURL, observability.NewLogger("publisher"), metrics)
		if err != nil {
			log.Fatal().Err(err).Msg("publisher init failed")
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			pub.Close(shutdownCtx)
		}()
		notifier = pub
		log.Info().Msg("nats publisher enabled")
	}

	// --- Projection ---
	engine := risk.NewEngine(cfg.InterestDivisor)
	store := view.NewStore(gw, engine, marketKey, cfg.DepthLevels, observability.NewLogger("view"), metrics, view.Options{
		Notifier: notifier,
		Sink:     rec,
	})
	reg := syncer.NewRegistry(cfg.PollInterval, observability.NewLogger("syncer"), metrics)
	builder := &gateway.InstructionBuilder{ProgramID: programID, Market: marketKey}
	svc := view.NewService(store, reg, gw, builder, gw.Signer(), rec, observability.NewLogger("service"), metrics)
	defer svc.Close()

	// Warm-up: one market fetch proves the ledger answers and the market
	// exists before the process reports ready.
	warmCtx, warmDone := context.WithTimeout(ctx, 10*time.Second)
	market, err := gw.FetchMarket(warmCtx, marketKey)
	warmDone()
	if err != nil {
		log.Fatal().Err(err).Str("market", marketKey.String()).Msg("market warm-up fetch failed")
	}
	log.Info().
		Str("market", marketKey.String()).
		Str("oracle", market.OracleType.String()).
		Uint8("over_collateral_percent", market.OverCollateralPercent).
		Msg("market loaded")

	if err := svc.WatchBook(ctx); err != nil {
		log.Fatal().Err(err).Msg("book watch failed")
	}
	if err := svc.WatchAccount(ctx, gw.Signer()); err != nil {
		log.Fatal().Err(err).Msg("own account watch failed")
	}

	// --- Metrics listener ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	// --- Query API ---
	api := server.New(cfg.HTTPAddr, svc, health, ctx, observability.NewLogger("http"), metrics)
	serveErr := make(chan error, 1)
	go func() { serveErr <- api.Start() }()

	health.SetReady(true)
	log.Info().Msg("marginview started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}
	health.SetReady(false)

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics shutdown incomplete")
	}
	log.Info().Msg("marginview stopped")
}
