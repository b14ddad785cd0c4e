package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpmm/internal/config"
	"perpmm/internal/exchange"
	"perpmm/internal/market"
	"perpmm/pkg/types"
)

// Gateway owns the venue connection: the market-data/user WebSocket feed and
// the REST calls for snapshots and metadata, and hands the engine whichever
// execution Backend the configured mode selects.
type Gateway struct {
	cfg    config.Config
	logger zerolog.Logger

	feed *venueFeed
	rest *resty.Client

	Books *market.Store
	L4    *market.L4Maintainer

	Backend     exchange.Backend
	paper       *exchange.PaperBackend
	isPaperMode bool
}

// New wires a Gateway for cfg: a live execution backend signed by signer when
// paper mode is off, otherwise a PaperBackend matched against Books.
func New(cfg config.Config, signer *exchange.Signer, logger zerolog.Logger) *Gateway {
	books := market.NewStore()
	rest := resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(10 * time.Second)

	g := &Gateway{
		cfg:    cfg,
		logger: logger.With().Str("component", "gateway").Logger(),
		feed:   newVenueFeed(wsURLFromBase(cfg.BaseURL), logger),
		rest:   rest,
		Books:  books,
	}

	if cfg.L4ServerURL != "" {
		g.L4 = market.NewL4Maintainer(cfg.L4ServerURL, logger)
	}

	if cfg.PaperMode {
		paper := exchange.NewPaperBackend(books, cfg.Trading.Leverage, logger)
		g.paper = paper
		g.Backend = paper
		g.isPaperMode = true
	} else {
		g.Backend = exchange.NewLiveBackend(cfg.BaseURL, signer, signer.Address().Hex(), logger)
	}

	return g
}

// IsPaperMode reports whether the gateway's execution backend is simulated.
func (g *Gateway) IsPaperMode() bool {
	return g.isPaperMode
}

// CheckRestingOrders delegates to the paper backend's per-tick matching pass.
// Callers must only invoke this in paper mode.
func (g *Gateway) CheckRestingOrders() []types.Fill {
	if g.paper == nil {
		return nil
	}
	return g.paper.CheckRestingOrders()
}

// Run starts the venue feed's read loop and, if configured, the L4
// maintainer's. Both block until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- g.feed.run(ctx) }()
	if g.L4 != nil {
		go func() { errCh <- g.L4.Run(ctx) }()
	}
	<-ctx.Done()
	return ctx.Err()
}

// StopL4 stops the L4 maintainer, if one is configured. Callers should stop
// it before closing the venue feed, per the documented shutdown order.
func (g *Gateway) StopL4() {
	if g.L4 == nil {
		return
	}
	if err := g.L4.Stop(); err != nil {
		g.logger.Warn().Err(err).Msg("closing l4 maintainer")
	}
}

// CloseFeed closes the venue WebSocket connection.
func (g *Gateway) CloseFeed() {
	if err := g.feed.close(); err != nil {
		g.logger.Warn().Err(err).Msg("closing venue feed")
	}
}

// SubscribeL2 subscribes to L2 book updates for symbol on the venue feed.
func (g *Gateway) SubscribeL2(symbol types.Symbol) error {
	return g.feed.subscribe("l2Book", string(symbol), "")
}

// SubscribeTrades subscribes to the public trade tape for symbol.
func (g *Gateway) SubscribeTrades(symbol types.Symbol) error {
	return g.feed.subscribe("trades", string(symbol), "")
}

// SubscribeUserFills subscribes to the authenticated fill feed for account.
func (g *Gateway) SubscribeUserFills(account string) error {
	return g.feed.subscribe("userFills", "", account)
}

// SubscribeOrderUpdates subscribes to the authenticated order-status feed.
func (g *Gateway) SubscribeOrderUpdates(account string) error {
	return g.feed.subscribe("orderUpdates", "", account)
}

// L2Updates returns the channel of incoming book snapshots.
func (g *Gateway) L2Updates() <-chan types.L2BookSnapshot { return g.feed.l2Ch }

// TradeUpdates returns the channel of incoming public trades.
func (g *Gateway) TradeUpdates() <-chan types.Fill { return g.feed.tradeCh }

// UserFills returns the channel of incoming authenticated fill events.
func (g *Gateway) UserFills() <-chan types.Fill { return g.feed.fillCh }

// OrderUpdates returns the channel of incoming order-status events.
func (g *Gateway) OrderUpdates() <-chan orderUpdateWireData { return g.feed.orderCh }

// GetL2Snapshot fetches the current public book for symbol over REST, for
// seeding the book store at startup before the WS feed's first push arrives.
func (g *Gateway) GetL2Snapshot(ctx context.Context, symbol types.Symbol) (types.L2BookSnapshot, error) {
	var wire l2WireData
	resp, err := g.rest.R().SetContext(ctx).SetQueryParam("coin", string(symbol)).SetResult(&wire).Get("/l2Book")
	if err != nil {
		return types.L2BookSnapshot{}, fmt.Errorf("%w: get l2 snapshot: %v", exchange.ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.L2BookSnapshot{}, fmt.Errorf("%w: get l2 snapshot: status %d", exchange.ErrProtocol, resp.StatusCode())
	}
	return toL2Snapshot(wire), nil
}

// GetAllMids fetches the current mid price for every traded symbol.
func (g *Gateway) GetAllMids(ctx context.Context) (map[types.Symbol]decimal.Decimal, error) {
	var wire map[string]string
	resp, err := g.rest.R().SetContext(ctx).SetResult(&wire).Get("/allMids")
	if err != nil {
		return nil, fmt.Errorf("%w: get all mids: %v", exchange.ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: get all mids: status %d", exchange.ErrProtocol, resp.StatusCode())
	}
	mids := make(map[types.Symbol]decimal.Decimal, len(wire))
	for coin, px := range wire {
		d, err := decimal.NewFromString(px)
		if err != nil {
			continue
		}
		mids[types.Symbol(coin)] = d
	}
	return mids, nil
}

// MetaEntry describes a single traded symbol's contract metadata.
type MetaEntry struct {
	Coin           string `json:"name"`
	SzDecimals     int    `json:"szDecimals"`
	MaxLeverage    int    `json:"maxLeverage"`
}

// GetMeta fetches contract metadata for every traded symbol.
func (g *Gateway) GetMeta(ctx context.Context) ([]MetaEntry, error) {
	var wire struct {
		Universe []MetaEntry `json:"universe"`
	}
	resp, err := g.rest.R().SetContext(ctx).SetResult(&wire).Get("/meta")
	if err != nil {
		return nil, fmt.Errorf("%w: get meta: %v", exchange.ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: get meta: status %d", exchange.ErrProtocol, resp.StatusCode())
	}
	return wire.Universe, nil
}

func wsURLFromBase(baseURL string) string {
	url := baseURL
	switch {
	case len(url) >= 5 && url[:5] == "https":
		url = "wss" + url[5:]
	case len(url) >= 4 && url[:4] == "http":
		url = "ws" + url[4:]
	}
	return url + "/ws"
}

func toL2Snapshot(d l2WireData) types.L2BookSnapshot {
	snap := types.L2BookSnapshot{Symbol: types.Symbol(d.Coin), ExchangeTsMs: d.Time}
	if len(d.Levels) > 0 {
		snap.Bids = toLevels(d.Levels[0])
	}
	if len(d.Levels) > 1 {
		snap.Asks = toLevels(d.Levels[1])
	}
	return snap
}

func toLevels(wire []l2WireLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(wire))
	for _, w := range wire {
		px, err := decimal.NewFromString(w.Px)
		if err != nil {
			continue
		}
		sz, err := decimal.NewFromString(w.Sz)
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: px, Size: sz, OrderCount: w.N})
	}
	return out
}

func toTradeFill(d tradeWireData) types.Fill {
	px, _ := decimal.NewFromString(d.Px)
	sz, _ := decimal.NewFromString(d.Sz)
	side := types.Bid
	if d.Side == "sell" || d.Side == "A" {
		side = types.Ask
	}
	return types.Fill{Symbol: types.Symbol(d.Coin), Side: side, Price: px, Size: sz, TimestampMs: d.Time}
}

func toUserFill(d fillWireData) types.Fill {
	px, _ := decimal.NewFromString(d.Px)
	sz, _ := decimal.NewFromString(d.Sz)
	fee, _ := decimal.NewFromString(d.Fee)
	pnl, _ := decimal.NewFromString(d.ClosedPnl)
	side := types.Bid
	if d.Side == "sell" || d.Side == "A" {
		side = types.Ask
	}
	return types.Fill{
		Symbol: types.Symbol(d.Coin), Side: side, Price: px, Size: sz,
		VenueID: d.OID, Fee: fee, TimestampMs: d.Time, ClosedPnl: pnl,
	}
}
