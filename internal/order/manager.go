// Package order tracks every order placed by this process: the client-id to
// venue-id correlation, the lifecycle state machine, and callback intake
// from fills and order-status updates.
package order

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpmm/internal/exchange"
	"perpmm/pkg/types"
)

// Manager owns every tracked order. A single mutex guards the client-id map,
// the venue-id reverse map, and the client-id counter; network calls to the
// execution backend happen outside the critical section so a fill callback
// arriving mid-call can still be correlated once the response lands.
type Manager struct {
	mu sync.Mutex

	backend exchange.Backend
	logger  zerolog.Logger

	nextClientID int64
	byClientID   map[int64]*types.Order
	byVenueID    map[int64]*types.Order
}

// New builds an order manager driving backend.
func New(backend exchange.Backend, logger zerolog.Logger) *Manager {
	return &Manager{
		backend:    backend,
		logger:     logger.With().Str("component", "order_manager").Logger(),
		byClientID: make(map[int64]*types.Order),
		byVenueID:  make(map[int64]*types.Order),
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

func (m *Manager) allocateClientID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextClientID++
	return m.nextClientID
}

// PlaceOrder generates a fresh client id, inserts a Pending order into the
// tracking map, calls the backend, then applies the response.
func (m *Manager) PlaceOrder(ctx context.Context, symbol types.Symbol, side types.Side, price, size decimal.Decimal, orderType types.OrderTypeBlob, reduceOnly bool) *types.Order {
	clientID := m.allocateClientID()
	order := &types.Order{
		Symbol: symbol, Side: side, Price: price, Size: size,
		OrderType: orderType, ReduceOnly: reduceOnly,
		ClientID: clientID, Status: types.Pending,
		FilledSize: decimal.Zero, CreatedAtMs: nowMs(), UpdatedAtMs: nowMs(),
	}

	m.mu.Lock()
	m.byClientID[clientID] = order
	m.mu.Unlock()

	ack, err := m.backend.PlaceOrder(ctx, symbol, side, price, size, orderType, reduceOnly)
	if err != nil {
		m.mu.Lock()
		order.Status = types.Rejected
		order.UpdatedAtMs = nowMs()
		m.mu.Unlock()
		m.logger.Warn().Err(err).Int64("client_id", clientID).Msg("place order failed")
		return order
	}
	if len(ack.Statuses) == 0 {
		m.mu.Lock()
		order.Status = types.Rejected
		order.UpdatedAtMs = nowMs()
		m.mu.Unlock()
		return order
	}

	m.applyStatusLocked(order, ack.Statuses[0])
	return order
}

// PlaceBulk places every desired order in a single batched backend call.
// Every order is inserted into the tracking map before the call so a
// concurrent fill callback arriving mid-call can still be correlated.
func (m *Manager) PlaceBulk(ctx context.Context, symbol types.Symbol, desired []types.DesiredOrder) []*types.Order {
	if len(desired) == 0 {
		return nil
	}

	orders := make([]*types.Order, len(desired))
	m.mu.Lock()
	for i, d := range desired {
		m.nextClientID++
		order := &types.Order{
			Symbol: symbol, Side: d.Side, Price: d.Price, Size: d.Size,
			OrderType: d.OrderType, ReduceOnly: d.ReduceOnly,
			ClientID: m.nextClientID, Status: types.Pending,
			FilledSize: decimal.Zero, CreatedAtMs: nowMs(), UpdatedAtMs: nowMs(),
		}
		m.byClientID[order.ClientID] = order
		orders[i] = order
	}
	m.mu.Unlock()

	ack, err := m.backend.PlaceBulkOrders(ctx, symbol, desired)
	if err != nil {
		m.mu.Lock()
		for _, o := range orders {
			o.Status = types.Rejected
			o.UpdatedAtMs = nowMs()
		}
		m.mu.Unlock()
		m.logger.Warn().Err(err).Str("symbol", string(symbol)).Msg("place bulk failed")
		return orders
	}

	for i, o := range orders {
		if i >= len(ack.Statuses) {
			m.mu.Lock()
			o.Status = types.Rejected
			o.UpdatedAtMs = nowMs()
			m.mu.Unlock()
			continue
		}
		m.applyStatusLocked(o, ack.Statuses[i])
	}
	return orders
}

// applyStatusLocked applies one placement-response status to order, learning
// its venue id from a resting or filled status.
func (m *Manager) applyStatusLocked(order *types.Order, status types.OrderStatusAck) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case status.Resting != nil:
		order.VenueID = status.Resting.OID
		order.HasVenueID = true
		order.Status = types.Open
		m.byVenueID[order.VenueID] = order
	case status.Filled != nil:
		order.VenueID = status.Filled.OID
		order.HasVenueID = true
		order.Status = types.Filled
		order.FilledSize = order.Size
		m.byVenueID[order.VenueID] = order
	default:
		order.Status = types.Rejected
	}
	order.UpdatedAtMs = nowMs()
}

// CancelAll cancels every resting order for symbol at the venue, then marks
// every non-terminal tracked order for that symbol Cancelled.
func (m *Manager) CancelAll(ctx context.Context, symbol types.Symbol) error {
	if err := m.backend.CancelAll(ctx, symbol); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byClientID {
		if o.Symbol == symbol && !o.Status.Terminal() {
			o.Status = types.Cancelled
			o.UpdatedAtMs = nowMs()
		}
	}
	return nil
}

// GetOpenOrders returns every tracked non-terminal order, optionally
// filtered to one symbol. Pass "" for every symbol.
func (m *Manager) GetOpenOrders(symbol types.Symbol) []*types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Order
	for _, o := range m.byClientID {
		if o.Status.Terminal() {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	return out
}

// CleanupTerminal removes terminal orders whose UpdatedAtMs is older than
// maxAgeMs, dropping their venue-id reverse mapping too.
func (m *Manager) CleanupTerminal(maxAgeMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := nowMs() - maxAgeMs
	for clientID, o := range m.byClientID {
		if !o.Status.Terminal() || o.UpdatedAtMs > cutoff {
			continue
		}
		delete(m.byClientID, clientID)
		if o.HasVenueID {
			delete(m.byVenueID, o.VenueID)
		}
	}
}

// OnFill is the callback intake for an execution fill. A fill whose venue id
// is not yet tracked is dropped: the same fill is reflected in the placement
// response when it resolves after the fill arrives. A fill for an order that
// is already terminal is ignored, and FilledSize never exceeds Size.
func (m *Manager) OnFill(fill types.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.byVenueID[fill.VenueID]
	if !ok {
		m.logger.Debug().Int64("venue_id", fill.VenueID).Msg("dropping fill for untracked venue id")
		return
	}
	if o.Status.Terminal() {
		return
	}
	o.FilledSize = o.FilledSize.Add(fill.Size)
	if o.FilledSize.GreaterThan(o.Size) {
		o.FilledSize = o.Size
	}
	o.UpdatedAtMs = fill.TimestampMs
	if o.FilledSize.GreaterThanOrEqual(o.Size) {
		o.Status = types.Filled
	} else {
		o.Status = types.PartiallyFilled
	}
}

// OrderUpdate is one venue-reported order-status transition.
type OrderUpdate struct {
	VenueID int64
	Status  string // "canceled" | "filled" | "rejected"
}

// OnOrderUpdate is the callback intake for venue order-status events. Tags
// that don't map to a known tracked state are ignored, as are updates for
// orders that are already terminal.
func (m *Manager) OnOrderUpdate(updates []OrderUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range updates {
		o, ok := m.byVenueID[u.VenueID]
		if !ok || o.Status.Terminal() {
			continue
		}
		switch u.Status {
		case "canceled", "cancelled":
			o.Status = types.Cancelled
		case "filled":
			o.Status = types.Filled
			o.FilledSize = o.Size
		case "rejected":
			o.Status = types.Rejected
		default:
			continue
		}
		o.UpdatedAtMs = nowMs()
	}
}
