// Package engine runs the single cooperative tick loop that ties the
// gateway, order manager, risk guard, recorder and strategy together.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"perpmm/internal/config"
	"perpmm/internal/gateway"
	"perpmm/internal/order"
	"perpmm/internal/recorder"
	"perpmm/internal/risk"
	"perpmm/internal/strategy"
	"perpmm/pkg/types"
)

// Engine is the single-threaded cooperative tick loop. Background network
// goroutines (the venue feed, the L4 client) feed the shared book store and
// channels this loop drains once per tick.
type Engine struct {
	cfg      *config.Config
	gw       *gateway.Gateway
	orders   *order.Manager
	guard    *risk.Guard
	rec      *recorder.Recorder
	strategy strategy.Strategy
	logger   zerolog.Logger

	symbols []types.Symbol
}

// New wires an Engine from its components. rec may be nil when recording is
// disabled.
func New(cfg *config.Config, gw *gateway.Gateway, orders *order.Manager, guard *risk.Guard, rec *recorder.Recorder, strat strategy.Strategy, logger zerolog.Logger) *Engine {
	symbols := make([]types.Symbol, len(cfg.Trading.Coins))
	for i, c := range cfg.Trading.Coins {
		symbols[i] = types.Symbol(c)
	}
	return &Engine{
		cfg: cfg, gw: gw, orders: orders, guard: guard, rec: rec, strategy: strat,
		logger: logger.With().Str("component", "engine").Logger(), symbols: symbols,
	}
}

// Run performs the startup sequence, then the tick loop, then shutdown, all
// driven off ctx: cancelling ctx stops the loop and runs shutdown before
// returning.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startup(ctx); err != nil {
		return err
	}

	go e.drainChannels(ctx)

	e.tickLoop(ctx)
	e.shutdown(ctx)
	return ctx.Err()
}

func (e *Engine) startup(ctx context.Context) error {
	for _, symbol := range e.symbols {
		snap, err := e.gw.GetL2Snapshot(ctx, symbol)
		if err != nil {
			e.logger.Error().Err(err).Str("symbol", string(symbol)).Msg("failed to seed book from REST snapshot")
		} else {
			e.gw.Books.Update(&snap)
		}
		if err := e.gw.SubscribeL2(symbol); err != nil {
			e.logger.Error().Err(err).Str("symbol", string(symbol)).Msg("subscribe l2 failed")
		}
	}

	if e.rec != nil && e.cfg.Recording.RecordTrades {
		for _, symbol := range e.symbols {
			if err := e.gw.SubscribeTrades(symbol); err != nil {
				e.logger.Error().Err(err).Str("symbol", string(symbol)).Msg("subscribe trades failed")
			}
		}
	}

	if e.gw.L4 != nil {
		if e.rec != nil {
			e.gw.L4.RegisterCallback(func(symbol types.Symbol, raw []byte) {
				e.rec.RecordL4(symbol, raw)
			})
		}
		go func() {
			if err := e.gw.L4.Run(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error().Err(err).Msg("l4 maintainer stopped")
			}
		}()
		for _, symbol := range e.symbols {
			if err := e.gw.L4.Subscribe(symbol); err != nil {
				e.logger.Error().Err(err).Str("symbol", string(symbol)).Msg("l4 subscribe failed")
			}
		}
	}

	if !e.cfg.PaperMode {
		account := e.cfg.Wallet.AccountAddress
		if err := e.gw.SubscribeUserFills(account); err != nil {
			e.logger.Error().Err(err).Msg("subscribe user fills failed")
		}
		if err := e.gw.SubscribeOrderUpdates(account); err != nil {
			e.logger.Error().Err(err).Msg("subscribe order updates failed")
		}
	}

	e.strategy.OnStart(e.symbols)
	e.logger.Info().Strs("symbols", symbolStrings(e.symbols)).Bool("paper_mode", e.cfg.PaperMode).Msg("engine started")
	return nil
}

// drainChannels routes venue feed events into the book store, recorder and
// order manager for as long as ctx is live.
func (e *Engine) drainChannels(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-e.gw.L2Updates():
			e.gw.Books.Update(&snap)
			if e.rec != nil {
				e.rec.RecordL2(snap.Symbol, snap)
			}
		case trade := <-e.gw.TradeUpdates():
			if e.rec != nil {
				e.rec.RecordTrade(trade.Symbol, trade)
			}
		case fill := <-e.gw.UserFills():
			e.orders.OnFill(fill)
			e.strategy.OnFill(fill)
		case upd := <-e.gw.OrderUpdates():
			e.orders.OnOrderUpdate([]order.OrderUpdate{{VenueID: upd.OID, Status: upd.Status}})
		}
	}
}

func (e *Engine) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("recovered from panic in tick")
		}
	}()

	if e.gw.IsPaperMode() {
		for _, fill := range e.gw.CheckRestingOrders() {
			e.orders.OnFill(fill)
			e.strategy.OnFill(fill)
		}
	}

	account, err := e.gw.Backend.GetUserState(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to fetch account state, using zero value")
		account = types.ZeroAccountState()
	}

	for _, symbol := range e.symbols {
		book := e.gw.Books.Get(symbol)
		openOrders := e.orders.GetOpenOrders(symbol)

		decision := e.strategy.OnTick(symbol, book, account, openOrders)
		if decision == nil {
			continue
		}
		e.executeDecision(ctx, symbol, book, account, decision)
	}

	e.orders.CleanupTerminal(e.cfg.TerminalRetention().Milliseconds())
}

func (e *Engine) executeDecision(ctx context.Context, symbol types.Symbol, book *types.L2BookSnapshot, account types.AccountState, decision *types.StrategyDecision) {
	if decision.CancelAllFirst {
		if err := e.orders.CancelAll(ctx, symbol); err != nil {
			e.logger.Error().Err(err).Str("symbol", string(symbol)).Msg("cancel_all failed")
		}
	}

	desired := decision.DesiredOrders
	if e.guard != nil && book != nil {
		if mid, ok := book.Mid(); ok {
			desired = e.guard.Allow(symbol, account.Positions[symbol], mid, desired)
		}
	}
	if len(desired) == 0 {
		return
	}
	e.orders.PlaceBulk(ctx, symbol, desired)
}

func (e *Engine) shutdown(ctx context.Context) {
	e.logger.Info().Msg("shutting down engine")
	e.strategy.OnStop()

	for _, symbol := range e.symbols {
		cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.orders.CancelAll(cancelCtx, symbol); err != nil {
			e.logger.Error().Err(err).Str("symbol", string(symbol)).Msg("cancel_all on shutdown failed")
		}
		cancel()
	}

	e.gw.StopL4()

	if e.rec != nil {
		e.rec.Close()
	}

	e.gw.CloseFeed()

	e.logger.Info().Msg("engine stopped")
}

func symbolStrings(symbols []types.Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = string(s)
	}
	return out
}
