package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

const defaultStartingCash = 10000

// BookSource is the read side of the book store the paper backend needs to
// match orders against the observed public book.
type BookSource interface {
	Get(symbol types.Symbol) *types.L2BookSnapshot
}

type paperOrder struct {
	venueID    int64
	symbol     types.Symbol
	side       types.Side
	price      decimal.Decimal
	size       decimal.Decimal
	reduceOnly bool
}

// PaperBackend simulates execution against the live public book, honoring
// the same Backend contract the live variant does. State: next venue id
// counter, open-order map by venue id, per-symbol position, cash balance.
// A single mutex guards all of it.
type PaperBackend struct {
	mu sync.Mutex

	books BookSource

	nextVenueID int64
	open        map[int64]*paperOrder
	positions   map[types.Symbol]types.Position
	cash        decimal.Decimal
	leverage    int
	fills       []types.Fill

	logger zerolog.Logger
}

// NewPaperBackend builds a paper backend that matches against books.
func NewPaperBackend(books BookSource, leverage int, logger zerolog.Logger) *PaperBackend {
	return &PaperBackend{
		books:     books,
		open:      make(map[int64]*paperOrder),
		positions: make(map[types.Symbol]types.Position),
		cash:      decimal.NewFromInt(defaultStartingCash),
		leverage:  leverage,
		logger:    logger.With().Str("component", "paper_backend").Logger(),
	}
}

func (b *PaperBackend) nextOID() int64 {
	b.nextVenueID++
	return b.nextVenueID
}

// PlaceOrder places a single order. Ioc attempts an immediate cross against
// the current book; any other time-in-force rests.
func (b *PaperBackend) PlaceOrder(ctx context.Context, symbol types.Symbol, side types.Side, price, size decimal.Decimal, orderType types.OrderTypeBlob, reduceOnly bool) (types.ExecAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if orderType.Tif == types.Ioc {
		return b.placeIOCLocked(symbol, side, price, size)
	}
	return b.placeRestingLocked(symbol, side, price, size, reduceOnly), nil
}

// PlaceBulkOrders places every order in orders, one status per request entry.
func (b *PaperBackend) PlaceBulkOrders(ctx context.Context, symbol types.Symbol, orders []types.DesiredOrder) (types.ExecAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ack := types.ExecAck{Statuses: make([]types.OrderStatusAck, len(orders))}
	for i, o := range orders {
		var status types.OrderStatusAck
		var err error
		if o.OrderType.Tif == types.Ioc {
			var one types.ExecAck
			one, err = b.placeIOCLocked(symbol, o.Side, o.Price, o.Size)
			status = one.Statuses[0]
		} else {
			status = b.placeRestingLocked(symbol, o.Side, o.Price, o.Size, o.ReduceOnly).Statuses[0]
		}
		if err != nil {
			status = types.OrderStatusAck{Error: err.Error()}
		}
		ack.Statuses[i] = status
	}
	return ack, nil
}

func (b *PaperBackend) placeRestingLocked(symbol types.Symbol, side types.Side, price, size decimal.Decimal, reduceOnly bool) types.ExecAck {
	oid := b.nextOID()
	b.open[oid] = &paperOrder{venueID: oid, symbol: symbol, side: side, price: price, size: size, reduceOnly: reduceOnly}
	return types.ExecAck{Statuses: []types.OrderStatusAck{{Resting: &types.RestingAck{OID: oid}}}}
}

func (b *PaperBackend) placeIOCLocked(symbol types.Symbol, side types.Side, price, size decimal.Decimal) (types.ExecAck, error) {
	book := b.books.Get(symbol)
	if book == nil {
		return types.ExecAck{Statuses: []types.OrderStatusAck{{Error: "IOC would not fill"}}}, nil
	}

	crosses, fillPrice := crossesBook(book, side, price)
	if !crosses {
		return types.ExecAck{Statuses: []types.OrderStatusAck{{Error: "IOC would not fill"}}}, nil
	}

	oid := b.nextOID()
	fill := types.Fill{
		Symbol: symbol, Side: side, Price: fillPrice, Size: size, VenueID: oid,
		TimestampMs: time.Now().UnixMilli(), Crossed: true,
	}
	fill.ClosedPnl = b.applyFillLocked(fill)
	return types.ExecAck{Statuses: []types.OrderStatusAck{{Filled: &types.FilledAck{OID: oid}}}}, nil
}

// crossesBook reports whether an order of the given side and price would
// cross the opposite side's best price, and the price it would fill at.
func crossesBook(book *types.L2BookSnapshot, side types.Side, price decimal.Decimal) (bool, decimal.Decimal) {
	if side == types.Bid {
		ask, ok := book.BestAsk()
		if !ok || price.LessThan(ask.Price) {
			return false, decimal.Zero
		}
		return true, ask.Price
	}
	bid, ok := book.BestBid()
	if !ok || price.GreaterThan(bid.Price) {
		return false, decimal.Zero
	}
	return true, bid.Price
}

// CheckRestingOrders simulates fills for every resting order that the
// current books cross, removing matched orders from the open map and
// returning the resulting fills. Called once per engine tick.
func (b *PaperBackend) CheckRestingOrders() []types.Fill {
	b.mu.Lock()
	defer b.mu.Unlock()

	var fills []types.Fill
	for oid, o := range b.open {
		book := b.books.Get(o.symbol)
		if book == nil {
			continue
		}
		crosses, fillPrice := crossesBook(book, o.side, o.price)
		if !crosses {
			continue
		}
		fill := types.Fill{
			Symbol: o.symbol, Side: o.side, Price: fillPrice, Size: o.size, VenueID: oid,
			TimestampMs: time.Now().UnixMilli(), Crossed: true,
		}
		fill.ClosedPnl = b.applyFillLocked(fill)
		fills = append(fills, fill)
		delete(b.open, oid)
	}
	return fills
}

// applyFillLocked updates the position for fill.Symbol per the
// size-weighted-average-entry / realize-on-full-close rule and returns the
// realized PnL (zero unless the fill fully closed the position).
func (b *PaperBackend) applyFillLocked(fill types.Fill) decimal.Decimal {
	realized := b.updatePositionLocked(fill)
	fill.ClosedPnl = realized
	b.fills = append(b.fills, fill)
	return realized
}

func (b *PaperBackend) updatePositionLocked(fill types.Fill) decimal.Decimal {
	delta := fill.Size
	if fill.Side == types.Ask {
		delta = delta.Neg()
	}

	pos, exists := b.positions[fill.Symbol]
	if !exists || pos.SignedSize.IsZero() {
		b.positions[fill.Symbol] = types.Position{
			Symbol: fill.Symbol, SignedSize: delta, EntryPrice: fill.Price, Leverage: b.leverage,
			MarginUsed: fill.Price.Mul(delta.Abs()).Div(decimal.NewFromInt(int64(b.leverage))),
		}
		return decimal.Zero
	}

	sameDirection := (pos.SignedSize.IsPositive() && delta.IsPositive()) || (pos.SignedSize.IsNegative() && delta.IsNegative())
	newSize := pos.SignedSize.Add(delta)

	if sameDirection {
		oldAbs := pos.SignedSize.Abs()
		deltaAbs := delta.Abs()
		newAbs := newSize.Abs()
		newEntry := pos.EntryPrice.Mul(oldAbs).Add(fill.Price.Mul(deltaAbs)).Div(newAbs)
		b.positions[fill.Symbol] = types.Position{
			Symbol: fill.Symbol, SignedSize: newSize, EntryPrice: newEntry, Leverage: b.leverage,
			MarginUsed: fill.Price.Mul(newAbs).Div(decimal.NewFromInt(int64(b.leverage))),
		}
		return decimal.Zero
	}

	if newSize.IsZero() {
		sign := decimal.NewFromInt(1)
		if pos.SignedSize.IsNegative() {
			sign = decimal.NewFromInt(-1)
		}
		realized := fill.Price.Sub(pos.EntryPrice).Mul(delta.Abs()).Mul(sign)
		b.cash = b.cash.Add(realized)
		delete(b.positions, fill.Symbol)
		return realized
	}

	// Partial reduce: entry price unchanged.
	b.positions[fill.Symbol] = types.Position{
		Symbol: fill.Symbol, SignedSize: newSize, EntryPrice: pos.EntryPrice, Leverage: b.leverage,
		MarginUsed: fill.Price.Mul(newSize.Abs()).Div(decimal.NewFromInt(int64(b.leverage))),
	}
	return decimal.Zero
}

// CancelOrder removes venueID from the open map for symbol.
func (b *PaperBackend) CancelOrder(ctx context.Context, symbol types.Symbol, venueID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.open, venueID)
	return nil
}

// CancelBulk removes every id in venueIDs for symbol.
func (b *PaperBackend) CancelBulk(ctx context.Context, symbol types.Symbol, venueIDs []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range venueIDs {
		delete(b.open, id)
	}
	return nil
}

// CancelAll removes every resting order for symbol.
func (b *PaperBackend) CancelAll(ctx context.Context, symbol types.Symbol) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for oid, o := range b.open {
		if o.symbol == symbol {
			delete(b.open, oid)
		}
	}
	return nil
}

// GetOpenOrders returns a snapshot of resting orders for symbol.
func (b *PaperBackend) GetOpenOrders(ctx context.Context, symbol types.Symbol) ([]types.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Order
	for _, o := range b.open {
		if o.symbol != symbol {
			continue
		}
		out = append(out, types.Order{
			Symbol: o.symbol, Side: o.side, Price: o.price, Size: o.size,
			VenueID: o.venueID, HasVenueID: true, Status: types.Open, ReduceOnly: o.reduceOnly,
		})
	}
	return out, nil
}

// GetUserState returns the simulated account value, margin and positions.
func (b *PaperBackend) GetUserState(ctx context.Context) (types.AccountState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make(map[types.Symbol]types.Position, len(b.positions))
	totalMargin := decimal.Zero
	for sym, pos := range b.positions {
		positions[sym] = pos
		totalMargin = totalMargin.Add(pos.MarginUsed)
	}
	return types.AccountState{
		AccountValue: b.cash,
		TotalMargin:  totalMargin,
		Withdrawable: b.cash.Sub(totalMargin),
		Positions:    positions,
	}, nil
}

// GetUserFills returns every simulated fill recorded for symbol, in the
// order they occurred, mirroring LiveBackend's contract.
func (b *PaperBackend) GetUserFills(ctx context.Context, symbol types.Symbol) ([]types.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []types.Fill
	for _, f := range b.fills {
		if f.Symbol == symbol {
			out = append(out, f)
		}
	}
	return out, nil
}
