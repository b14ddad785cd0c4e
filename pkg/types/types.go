// Package types defines the shared data model for the trading engine: the
// order book representations, the order lifecycle, account/position state,
// and the strategy decision contract. It has no dependency on any other
// internal package so every layer can import it.
//
// All prices, sizes, PnL, fees and balances are decimal.Decimal. Floating
// point only appears at the venue-API boundary, where a REST/WS payload
// must be marshalled to or from a float.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ----------------------------------------------------------------------
// Core enums
// ----------------------------------------------------------------------

// Symbol is an opaque venue-recognized ticker, e.g. "BTC" or "ETH".
type Symbol string

// Side is the direction of an order or a book level.
type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// TimeInForce is an order lifetime modifier.
type TimeInForce string

const (
	Ioc TimeInForce = "Ioc" // immediate-or-cancel
	Gtc TimeInForce = "Gtc" // good-til-cancelled
)

// OrderTypeBlob carries the order-type parameters the venue understands.
// Kept as a small struct rather than a bare enum since real venues attach
// extra fields (e.g. trigger price) to some order types; the engine and
// order manager never interpret it, only pass it through.
type OrderTypeBlob struct {
	Kind string // "limit", "market", "stop_limit", ...
	Tif  TimeInForce
}

// OrderStatus is the lifecycle state of a tracked order.
//
//	Pending -> Open | Filled | Rejected
//	Open    -> PartiallyFilled | Filled | Cancelled | Rejected
//	PartiallyFilled -> Filled | Cancelled
//	(terminal: Filled, Cancelled, Rejected)
type OrderStatus string

const (
	Pending         OrderStatus = "Pending"
	Open            OrderStatus = "Open"
	PartiallyFilled OrderStatus = "PartiallyFilled"
	Filled          OrderStatus = "Filled"
	Cancelled       OrderStatus = "Cancelled"
	Rejected        OrderStatus = "Rejected"
)

// Terminal reports whether the status accepts no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case Filled, Cancelled, Rejected:
		return true
	default:
		return false
	}
}

// ----------------------------------------------------------------------
// Book
// ----------------------------------------------------------------------

// PriceLevel is one aggregated level of an L2 book. Immutable once built.
type PriceLevel struct {
	Price      decimal.Decimal
	Size       decimal.Decimal
	OrderCount int
}

// L2BookSnapshot is an immutable, point-in-time aggregated order book for
// one symbol. Bids are sorted descending by price, asks ascending.
type L2BookSnapshot struct {
	Symbol       Symbol
	Bids         []PriceLevel
	Asks         []PriceLevel
	ExchangeTsMs int64
}

// BestBid returns the top bid level and whether one exists.
func (b *L2BookSnapshot) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level and whether one exists.
func (b *L2BookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Mid returns (best_bid + best_ask) / 2, or false if either side is empty.
func (b *L2BookSnapshot) Mid() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	two := decimal.NewFromInt(2)
	return bid.Price.Add(ask.Price).Div(two), true
}

// Spread returns best_ask - best_bid, or false if either side is empty.
func (b *L2BookSnapshot) Spread() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// SpreadBps returns spread / mid * 10000, or false if mid is undefined or zero.
func (b *L2BookSnapshot) SpreadBps() (decimal.Decimal, bool) {
	mid, ok := b.Mid()
	if !ok || mid.IsZero() {
		return decimal.Zero, false
	}
	spread, ok := b.Spread()
	if !ok {
		return decimal.Zero, false
	}
	return spread.Div(mid).Mul(decimal.NewFromInt(10000)), true
}

// L4Order is one individually-identified resting order in the L4 book.
// Immutable once constructed.
type L4Order struct {
	OID   int64
	Owner string
	Price decimal.Decimal
	Size  decimal.Decimal
	Side  Side
}

// L4BookSnapshot is an immutable, point-in-time order-by-order book for one
// symbol: every resting order, grouped by price.
type L4BookSnapshot struct {
	Symbol       Symbol
	Bids         map[string][]L4Order // price string -> orders at that price
	Asks         map[string][]L4Order
	ExchangeTsMs int64
}

// BestBid returns the highest bid price present, or false if bids is empty.
func (b *L4BookSnapshot) BestBid() (decimal.Decimal, bool) {
	return bestPrice(b.Bids, true)
}

// BestAsk returns the lowest ask price present, or false if asks is empty.
func (b *L4BookSnapshot) BestAsk() (decimal.Decimal, bool) {
	return bestPrice(b.Asks, false)
}

func bestPrice(levels map[string][]L4Order, wantMax bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for key := range levels {
		px, err := decimal.NewFromString(key)
		if err != nil {
			continue
		}
		if !found {
			best = px
			found = true
			continue
		}
		if wantMax && px.GreaterThan(best) {
			best = px
		}
		if !wantMax && px.LessThan(best) {
			best = px
		}
	}
	return best, found
}

// ----------------------------------------------------------------------
// Orders
// ----------------------------------------------------------------------

// Order is the engine's internal, mutable record of one order placed by
// this process. Fields past construction are only ever mutated by the
// order manager under its single mutex.
type Order struct {
	Symbol      Symbol
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	OrderType   OrderTypeBlob
	ReduceOnly  bool
	ClientID    int64
	VenueID     int64 // zero until acknowledged
	HasVenueID  bool
	Status      OrderStatus
	FilledSize  decimal.Decimal
	CreatedAtMs int64
	UpdatedAtMs int64
}

// RemainingSize returns Size - FilledSize.
func (o *Order) RemainingSize() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// DesiredOrder is a strategy's request for one order to be resting, not an
// order itself: it carries no identifiers.
type DesiredOrder struct {
	Side       Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	OrderType  OrderTypeBlob
	ReduceOnly bool
}

// StrategyDecision is what a strategy returns from OnTick for one symbol.
type StrategyDecision struct {
	Symbol         Symbol
	DesiredOrders  []DesiredOrder
	CancelAllFirst bool
}

// Fill is an immutable record of an execution against a resting order.
type Fill struct {
	Symbol      Symbol
	Side        Side
	Price       decimal.Decimal
	Size        decimal.Decimal
	VenueID     int64
	Fee         decimal.Decimal
	TimestampMs int64
	ClosedPnl   decimal.Decimal
	Crossed     bool
}

// ----------------------------------------------------------------------
// Account / position
// ----------------------------------------------------------------------

// Position is one symbol's holding. Sign convention: positive = long.
type Position struct {
	Symbol           Symbol
	SignedSize       decimal.Decimal
	EntryPrice       decimal.Decimal
	UnrealizedPnl    decimal.Decimal
	Leverage         int
	LiquidationPrice decimal.Decimal
	HasLiquidation   bool
	MarginUsed       decimal.Decimal
}

// AccountState is a point-in-time, deeply-immutable snapshot of account
// state. Callers may retain it without synchronization.
type AccountState struct {
	AccountValue decimal.Decimal
	TotalMargin  decimal.Decimal
	Withdrawable decimal.Decimal
	Positions    map[Symbol]Position
}

// ZeroAccountState is substituted when the execution backend cannot be
// reached for account state (engine tick step 2, best-effort).
func ZeroAccountState() AccountState {
	return AccountState{Positions: map[Symbol]Position{}}
}

// ----------------------------------------------------------------------
// Execution backend acknowledgement shapes
// ----------------------------------------------------------------------

// OrderStatusAck is one element of an ExecAck's Statuses slice, aligned
// positionally with the request's order(s). Exactly one of Resting, Filled,
// Error is set.
type OrderStatusAck struct {
	Resting *RestingAck
	Filled  *FilledAck
	Error   string // non-empty only when this ack is an error
}

type RestingAck struct {
	OID int64
}

type FilledAck struct {
	OID int64
}

// IsError reports whether this ack represents a venue rejection.
func (a OrderStatusAck) IsError() bool {
	return a.Error != ""
}

// ExecAck is the structured acknowledgement every execution backend
// operation returns. Statuses is ordered and aligned with the request.
type ExecAck struct {
	Statuses []OrderStatusAck
}

func (a OrderStatusAck) String() string {
	switch {
	case a.Resting != nil:
		return fmt.Sprintf("resting(oid=%d)", a.Resting.OID)
	case a.Filled != nil:
		return fmt.Sprintf("filled(oid=%d)", a.Filled.OID)
	default:
		return fmt.Sprintf("error(%s)", a.Error)
	}
}
