package strategy

import (
	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

var bps10000 = decimal.NewFromInt(10000)

// SymmetricQuoter is a minimal symmetric market maker: it posts a bid below
// and an ask above the mid price at a fixed half spread, skewing both quotes
// away from the current position's direction so inventory self-corrects.
type SymmetricQuoter struct {
	BaseStrategy

	HalfSpreadBps decimal.Decimal
	OrderSize     decimal.Decimal
	SkewFactorBps decimal.Decimal
}

// NewSymmetricQuoter builds a SymmetricQuoter quoting orderSize at
// halfSpreadBps around mid, skewed by skewFactorBps per unit of inventory.
func NewSymmetricQuoter(halfSpreadBps, orderSize, skewFactorBps decimal.Decimal) *SymmetricQuoter {
	return &SymmetricQuoter{HalfSpreadBps: halfSpreadBps, OrderSize: orderSize, SkewFactorBps: skewFactorBps}
}

// OnTick quotes a symmetric bid/ask pair around mid, skewed by inventory.
// Returns nil when the book has no usable mid price yet.
func (q *SymmetricQuoter) OnTick(symbol types.Symbol, book *types.L2BookSnapshot, account types.AccountState, openOrders []*types.Order) *types.StrategyDecision {
	if book == nil {
		return nil
	}
	mid, ok := book.Mid()
	if !ok {
		return nil
	}

	halfSpread := mid.Mul(q.HalfSpreadBps).Div(bps10000)

	skew := decimal.Zero
	if pos, exists := account.Positions[symbol]; exists && !pos.SignedSize.IsZero() {
		skew = pos.SignedSize.Mul(mid).Mul(q.SkewFactorBps).Div(bps10000)
	}

	bidPrice := mid.Sub(halfSpread).Sub(skew)
	askPrice := mid.Add(halfSpread).Sub(skew)

	return &types.StrategyDecision{
		Symbol: symbol,
		DesiredOrders: []types.DesiredOrder{
			{Side: types.Bid, Price: bidPrice, Size: q.OrderSize, OrderType: types.OrderTypeBlob{Kind: "limit", Tif: types.Gtc}},
			{Side: types.Ask, Price: askPrice, Size: q.OrderSize, OrderType: types.OrderTypeBlob{Kind: "limit", Tif: types.Gtc}},
		},
		CancelAllFirst: true,
	}
}
