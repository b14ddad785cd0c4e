// Package risk enforces the one account-level constraint the engine carries
// forward: a position notional cap. Kill-switch, daily-loss, and
// price-shock circuit breakers are not part of this engine's scope.
package risk

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

// Guard enforces a maximum per-symbol position notional, expressed in USD.
type Guard struct {
	maxPositionUSD decimal.Decimal
	logger         zerolog.Logger
}

// NewGuard builds a Guard capping any single symbol's position notional at
// maxPositionUSD.
func NewGuard(maxPositionUSD float64, logger zerolog.Logger) *Guard {
	return &Guard{
		maxPositionUSD: decimal.NewFromFloat(maxPositionUSD),
		logger:         logger.With().Str("component", "risk_guard").Logger(),
	}
}

// Allow filters a strategy's desired orders down to those that would not push
// the symbol's position notional (estimated at mid price) past the cap. A
// desired order on the side that reduces exposure is always allowed. Orders
// dropped for exceeding the cap are not silently substituted; each is logged.
func (g *Guard) Allow(symbol types.Symbol, position types.Position, mid decimal.Decimal, desired []types.DesiredOrder) []types.DesiredOrder {
	if mid.IsZero() {
		return desired
	}

	allowed := make([]types.DesiredOrder, 0, len(desired))
	for _, d := range desired {
		projected := g.projectedSignedSize(position, d)
		notional := projected.Abs().Mul(mid)
		if notional.LessThanOrEqual(g.maxPositionUSD) || g.reducesExposure(position, d) {
			allowed = append(allowed, d)
			continue
		}
		g.logger.Warn().
			Str("symbol", string(symbol)).
			Str("side", string(d.Side)).
			Str("size", d.Size.String()).
			Str("projected_notional", notional.String()).
			Str("max_position_usd", g.maxPositionUSD.String()).
			Msg("dropping order: would exceed position notional cap")
	}
	return allowed
}

func (g *Guard) projectedSignedSize(position types.Position, d types.DesiredOrder) decimal.Decimal {
	delta := d.Size
	if d.Side == types.Ask {
		delta = delta.Neg()
	}
	return position.SignedSize.Add(delta)
}

func (g *Guard) reducesExposure(position types.Position, d types.DesiredOrder) bool {
	if position.SignedSize.IsZero() {
		return false
	}
	if position.SignedSize.IsPositive() {
		return d.Side == types.Ask
	}
	return d.Side == types.Bid
}
