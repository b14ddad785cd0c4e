package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

const (
	l4PingInterval     = 30 * time.Second // fixed keep-alive cadence
	l4ReconnectDelay   = 5 * time.Second  // fixed delay, no exponential backoff
	l4WriteTimeout     = 10 * time.Second
)

// l4WireEntry is one entry of a bids/asks (snapshot) or bidDiffs/askDiffs
// (diff) array in the venue's l4Book channel payload. sz == "0" denotes
// deletion of oid at px.
type l4WireEntry struct {
	OID     int64  `json:"oid"`
	User    string `json:"user"`
	LimitPx string `json:"limitPx"`
	Sz      string `json:"sz"`
}

// l4WireMessage is the channel:"l4Book" payload, whose shape depends on
// whether this is the first message received for Coin since connecting
// (snapshot: Bids/Asks populated) or a subsequent one (diff: BidDiffs/AskDiffs
// populated).
type l4WireMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Coin     string        `json:"coin"`
		Time     int64         `json:"time"`
		Bids     []l4WireEntry `json:"bids"`
		Asks     []l4WireEntry `json:"asks"`
		BidDiffs []l4WireEntry `json:"bidDiffs"`
		AskDiffs []l4WireEntry `json:"askDiffs"`
	} `json:"data"`
}

type l4SubscribeMsg struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
		Coin string `json:"coin"`
	} `json:"subscription"`
}

type l4PingMsg struct {
	Method string `json:"method"`
}

// RawCallback observes the raw diff/snapshot payload for a symbol before
// the maintainer's internal state is updated, for recording purposes.
// Errors must be caught by the caller; the maintainer never propagates a
// callback panic or error to the socket loop.
type RawCallback func(symbol types.Symbol, raw []byte)

// L4Maintainer folds a venue snapshot-plus-diffs feed into a per-symbol
// order-by-order book and publishes immutable L4BookSnapshot values.
type L4Maintainer struct {
	url    string
	logger zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu      sync.Mutex
	subscribed map[types.Symbol]bool

	stateMu          sync.Mutex
	snapshotReceived map[types.Symbol]bool
	bids             map[types.Symbol]map[string][]types.L4Order
	asks             map[types.Symbol]map[string][]types.L4Order
	published        map[types.Symbol]*types.L4BookSnapshot

	callbackMu sync.RWMutex
	callbacks  []RawCallback
}

// NewL4Maintainer creates a maintainer for the given L4 server URL.
func NewL4Maintainer(url string, logger zerolog.Logger) *L4Maintainer {
	return &L4Maintainer{
		url:              url,
		logger:           logger.With().Str("component", "l4_maintainer").Logger(),
		subscribed:       make(map[types.Symbol]bool),
		snapshotReceived: make(map[types.Symbol]bool),
		bids:             make(map[types.Symbol]map[string][]types.L4Order),
		asks:             make(map[types.Symbol]map[string][]types.L4Order),
		published:        make(map[types.Symbol]*types.L4BookSnapshot),
	}
}

// RegisterCallback adds a raw-payload observer invoked before state update.
func (m *L4Maintainer) RegisterCallback(cb RawCallback) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Snapshot returns the latest published snapshot for symbol, or nil.
func (m *L4Maintainer) Snapshot(symbol types.Symbol) *types.L4BookSnapshot {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.published[symbol]
}

// Subscribe queues a subscription for symbol and sends it immediately if
// the socket is already open. Subscriptions requested before the socket
// opens are replayed after connect.
func (m *L4Maintainer) Subscribe(symbol types.Symbol) error {
	m.subMu.Lock()
	m.subscribed[symbol] = true
	m.subMu.Unlock()

	m.connMu.Lock()
	connected := m.conn != nil
	m.connMu.Unlock()
	if !connected {
		return nil
	}
	return m.sendSubscribe(symbol)
}

func (m *L4Maintainer) sendSubscribe(symbol types.Symbol) error {
	msg := l4SubscribeMsg{Method: "subscribe"}
	msg.Subscription.Type = "l4Book"
	msg.Subscription.Coin = string(symbol)
	return m.writeJSON(msg)
}

// Run connects and maintains the connection with a fixed reconnect delay.
// Blocks until ctx is cancelled.
func (m *L4Maintainer) Run(ctx context.Context) error {
	for {
		err := m.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.logger.Warn().Err(err).Dur("delay", l4ReconnectDelay).Msg("l4 client disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l4ReconnectDelay):
		}
	}
}

// Stop closes the underlying socket, unblocking the read loop.
func (m *L4Maintainer) Stop() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

func (m *L4Maintainer) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial l4 server: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	defer func() {
		m.connMu.Lock()
		conn.Close()
		m.conn = nil
		m.connMu.Unlock()
	}()

	// On (re)connect, the next message for every symbol is a snapshot again.
	m.stateMu.Lock()
	m.snapshotReceived = make(map[types.Symbol]bool)
	m.stateMu.Unlock()

	m.subMu.Lock()
	symbols := make([]types.Symbol, 0, len(m.subscribed))
	for s := range m.subscribed {
		symbols = append(symbols, s)
	}
	m.subMu.Unlock()
	for _, s := range symbols {
		if err := m.sendSubscribe(s); err != nil {
			return fmt.Errorf("resubscribe %s: %w", s, err)
		}
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go m.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		m.handleMessage(raw)
	}
}

func (m *L4Maintainer) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(l4PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.writeJSON(l4PingMsg{Method: "ping"}); err != nil {
				m.logger.Warn().Err(err).Msg("l4 ping failed")
				return
			}
		}
	}
}

func (m *L4Maintainer) writeJSON(v interface{}) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("l4 maintainer: not connected")
	}
	m.conn.SetWriteDeadline(time.Now().Add(l4WriteTimeout))
	return m.conn.WriteJSON(v)
}

func (m *L4Maintainer) handleMessage(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Msg("recovered from panic handling l4 message")
		}
	}()

	var msg l4WireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.logger.Debug().Err(err).Msg("ignoring malformed l4 message")
		return
	}
	if msg.Channel != "l4Book" || msg.Data.Coin == "" {
		return
	}
	symbol := types.Symbol(msg.Data.Coin)

	m.invokeCallbacks(symbol, raw)

	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	isSnapshot := !m.snapshotReceived[symbol]
	if isSnapshot {
		m.applySnapshotLocked(symbol, msg.Data.Bids, msg.Data.Asks)
		m.snapshotReceived[symbol] = true
	} else {
		m.applyDiffLocked(symbol, msg.Data.BidDiffs, types.Bid)
		m.applyDiffLocked(symbol, msg.Data.AskDiffs, types.Ask)
	}
	m.publishLocked(symbol, msg.Data.Time)
}

func (m *L4Maintainer) invokeCallbacks(symbol types.Symbol, raw []byte) {
	m.callbackMu.RLock()
	cbs := make([]RawCallback, len(m.callbacks))
	copy(cbs, m.callbacks)
	m.callbackMu.RUnlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().Interface("panic", r).Msg("l4 callback panicked")
				}
			}()
			cb(symbol, raw)
		}()
	}
}

func (m *L4Maintainer) applySnapshotLocked(symbol types.Symbol, bids, asks []l4WireEntry) {
	bidMap := make(map[string][]types.L4Order)
	askMap := make(map[string][]types.L4Order)
	for _, e := range bids {
		addEntryLocked(bidMap, e, symbol, types.Bid)
	}
	for _, e := range asks {
		addEntryLocked(askMap, e, symbol, types.Ask)
	}
	m.bids[symbol] = bidMap
	m.asks[symbol] = askMap
}

func (m *L4Maintainer) applyDiffLocked(symbol types.Symbol, diffs []l4WireEntry, side types.Side) {
	levels := m.bids[symbol]
	if side == types.Ask {
		levels = m.asks[symbol]
	}
	if levels == nil {
		levels = make(map[string][]types.L4Order)
	}

	for _, e := range diffs {
		applyOneDiff(levels, e, symbol, side)
	}

	if side == types.Bid {
		m.bids[symbol] = levels
	} else {
		m.asks[symbol] = levels
	}
}

// applyOneDiff implements spec.md §4.2's per-entry replace-by-oid-and-price
// rule: sz=0 removes oid from px's list (deleting the price entry if it
// becomes empty); otherwise oid is replaced at px if already present there,
// or inserted.
func applyOneDiff(levels map[string][]types.L4Order, e l4WireEntry, symbol types.Symbol, side types.Side) {
	if e.Sz == "0" {
		orders, ok := levels[e.LimitPx]
		if !ok {
			return
		}
		filtered := orders[:0]
		for _, o := range orders {
			if o.OID != e.OID {
				filtered = append(filtered, o)
			}
		}
		if len(filtered) == 0 {
			delete(levels, e.LimitPx)
		} else {
			levels[e.LimitPx] = filtered
		}
		return
	}
	addEntryLocked(levels, e, symbol, side)
}

func addEntryLocked(levels map[string][]types.L4Order, e l4WireEntry, symbol types.Symbol, side types.Side) {
	price := parseDecimalOrZero(e.LimitPx)
	size := parseDecimalOrZero(e.Sz)
	order := types.L4Order{OID: e.OID, Owner: e.User, Price: price, Size: size, Side: side}

	orders, ok := levels[e.LimitPx]
	if !ok {
		levels[e.LimitPx] = []types.L4Order{order}
		return
	}
	for i, existing := range orders {
		if existing.OID == e.OID {
			orders[i] = order
			levels[e.LimitPx] = orders
			return
		}
	}
	levels[e.LimitPx] = append(orders, order)
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m *L4Maintainer) publishLocked(symbol types.Symbol, exchangeTsMs int64) {
	bidsCopy := make(map[string][]types.L4Order, len(m.bids[symbol]))
	for px, orders := range m.bids[symbol] {
		cp := make([]types.L4Order, len(orders))
		copy(cp, orders)
		bidsCopy[px] = cp
	}
	asksCopy := make(map[string][]types.L4Order, len(m.asks[symbol]))
	for px, orders := range m.asks[symbol] {
		cp := make([]types.L4Order, len(orders))
		copy(cp, orders)
		asksCopy[px] = cp
	}
	m.published[symbol] = &types.L4BookSnapshot{
		Symbol:       symbol,
		Bids:         bidsCopy,
		Asks:         asksCopy,
		ExchangeTsMs: exchangeTsMs,
	}
}
