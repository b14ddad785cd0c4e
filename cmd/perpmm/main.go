// perpmm runs a perpetual-futures market-making engine: a tick-driven
// reconciliation loop that seeds and maintains a local book from a venue's
// WebSocket feed, calls a pluggable strategy once per tick, and reconciles
// its desired resting state through an order manager against either a live
// or a paper execution backend.
//
//	main.go                    — entry point: load config, wire components, wait for shutdown
//	internal/engine            — tick loop orchestrator
//	internal/gateway           — venue WS feed + REST snapshots, execution backend selection
//	internal/order             — client-id/venue-id order tracking and lifecycle
//	internal/exchange          — live (signed REST) and paper execution backends
//	internal/market            — L2 book store, L4 order-by-order book maintainer
//	internal/strategy          — strategy contract and a reference symmetric quoter
//	internal/risk              — position notional guard
//	internal/recorder          — L2/L4/trade JSONL or CSV recording
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpmm/internal/config"
	"perpmm/internal/engine"
	"perpmm/internal/exchange"
	"perpmm/internal/gateway"
	"perpmm/internal/order"
	"perpmm/internal/recorder"
	"perpmm/internal/risk"
	"perpmm/internal/strategy"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PERP_CONFIG"); p != "" {
		cfgPath = p
	}

	logger := newLogger("info", "console")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfgPath).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger = newLogger(cfg.Logging.Level, cfg.Logging.Format)

	var signer *exchange.Signer
	if !cfg.PaperMode {
		signer, err = exchange.NewSigner(cfg.Wallet)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build signer")
		}
	}

	gw := gateway.New(*cfg, signer, logger)
	orders := order.New(gw.Backend, logger)
	guard := risk.NewGuard(cfg.Trading.MaxPositionUSD, logger)

	var rec *recorder.Recorder
	if cfg.Recording.Enabled {
		rec = recorder.New(cfg.Recording, logger)
	}

	strat := strategy.NewSymmetricQuoter(decimal.NewFromInt(5), decimal.NewFromFloat(0.001), decimal.NewFromInt(1))

	eng := engine.New(cfg, gw, orders, guard, rec, strat, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Strs("coins", cfg.Trading.Coins).
		Bool("paper_mode", cfg.PaperMode).
		Msg("perpmm starting")

	go func() {
		if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("gateway run loop exited")
		}
	}()

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("engine run loop exited")
	}

	logger.Info().Msg("perpmm stopped")
}

func newLogger(level, format string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))
	var w = os.Stdout
	if format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
