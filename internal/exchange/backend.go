// Package exchange implements the execution backend: the interface both the
// live and paper variants satisfy, plus venue order signing and rate
// limiting for the live variant.
package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

// Error taxonomy: transient I/O, protocol, venue rejection, invariant
// violation. Transient I/O and protocol errors are returned wrapped around
// these sentinels so callers can classify with errors.Is. Venue rejections
// never reach this layer as Go errors — they surface as a Rejected order
// status (see OrderStatusAck).
var (
	ErrTransient = errors.New("transient I/O error")
	ErrProtocol  = errors.New("protocol error")
	ErrInvariant = errors.New("invariant violation")
)

// Backend is the execution backend contract. Both the live and paper
// variants honor it identically so strategies are mode-agnostic.
type Backend interface {
	PlaceOrder(ctx context.Context, symbol types.Symbol, side types.Side, price, size decimal.Decimal, orderType types.OrderTypeBlob, reduceOnly bool) (types.ExecAck, error)
	PlaceBulkOrders(ctx context.Context, symbol types.Symbol, orders []types.DesiredOrder) (types.ExecAck, error)
	CancelOrder(ctx context.Context, symbol types.Symbol, venueID int64) error
	CancelBulk(ctx context.Context, symbol types.Symbol, venueIDs []int64) error
	CancelAll(ctx context.Context, symbol types.Symbol) error
	GetOpenOrders(ctx context.Context, symbol types.Symbol) ([]types.Order, error)
	GetUserState(ctx context.Context) (types.AccountState, error)
	GetUserFills(ctx context.Context, symbol types.Symbol) ([]types.Fill, error)
}
