// Package strategy defines the contract the engine drives every tick and a
// reference implementation. A strategy never places orders directly: it
// returns the state it wants resting, and the engine reconciles current
// orders against that desired state.
package strategy

import (
	"perpmm/pkg/types"
)

// Strategy is called once per tick per symbol. OnTick receives the latest
// book (nil if no data has arrived yet), current account state, and the
// symbol's currently-open orders, and returns the desired resting state or
// nil to take no action this tick.
type Strategy interface {
	OnTick(symbol types.Symbol, book *types.L2BookSnapshot, account types.AccountState, openOrders []*types.Order) *types.StrategyDecision
	OnFill(fill types.Fill)
	OnStart(symbols []types.Symbol)
	OnStop()
}

// BaseStrategy provides no-op OnFill/OnStart/OnStop so concrete strategies
// need only embed it and implement OnTick.
type BaseStrategy struct{}

func (BaseStrategy) OnFill(types.Fill)         {}
func (BaseStrategy) OnStart([]types.Symbol)    {}
func (BaseStrategy) OnStop()                   {}
