// Package gateway owns the venue connection: a market-data/user WebSocket
// feed plus REST endpoints for snapshots and metadata, and exposes the
// execution backend the engine drives.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"perpmm/pkg/types"
)

const (
	venuePingInterval     = 50 * time.Second
	venueReadTimeout      = 90 * time.Second
	venueMaxReconnectWait = 30 * time.Second
	venueWriteTimeout     = 10 * time.Second
	venueChanBuffer       = 256
)

type wsSubscribeMsg struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
		Coin string `json:"coin"`
		User string `json:"user,omitempty"`
	} `json:"subscription"`
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type l2WireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type l2WireData struct {
	Coin   string          `json:"coin"`
	Time   int64           `json:"time"`
	Levels [][]l2WireLevel `json:"levels"` // [0]=bids, [1]=asks
}

type tradeWireData struct {
	Coin string `json:"coin"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"`
	Time int64  `json:"time"`
}

type fillWireData struct {
	Coin        string `json:"coin"`
	Side        string `json:"side"`
	Px          string `json:"px"`
	Sz          string `json:"sz"`
	OID         int64  `json:"oid"`
	Fee         string `json:"fee"`
	Time        int64  `json:"time"`
	ClosedPnl   string `json:"closedPnl"`
}

type orderUpdateWireData struct {
	OID    int64  `json:"oid"`
	Status string `json:"status"` // "canceled" | "filled" | "rejected"
}

// venueFeed manages the single venue WebSocket connection. It auto-reconnects
// with exponential backoff (unlike the L4 maintainer's fixed delay, since
// spec.md constrains only the L4 client's reconnect cadence) and re-sends
// every tracked subscription on reconnect.
type venueFeed struct {
	url    string
	logger zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu sync.Mutex
	subs  []wsSubscribeMsg

	l2Ch    chan types.L2BookSnapshot
	tradeCh chan types.Fill
	fillCh  chan types.Fill
	orderCh chan orderUpdateWireData
}

func newVenueFeed(url string, logger zerolog.Logger) *venueFeed {
	return &venueFeed{
		url:     url,
		logger:  logger.With().Str("component", "venue_feed").Logger(),
		l2Ch:    make(chan types.L2BookSnapshot, venueChanBuffer),
		tradeCh: make(chan types.Fill, venueChanBuffer),
		fillCh:  make(chan types.Fill, venueChanBuffer),
		orderCh: make(chan orderUpdateWireData, venueChanBuffer),
	}
}

func (f *venueFeed) subscribe(kind, coin, user string) error {
	msg := wsSubscribeMsg{Method: "subscribe"}
	msg.Subscription.Type = kind
	msg.Subscription.Coin = coin
	msg.Subscription.User = user

	f.subMu.Lock()
	f.subs = append(f.subs, msg)
	f.subMu.Unlock()

	f.connMu.Lock()
	connected := f.conn != nil
	f.connMu.Unlock()
	if !connected {
		return nil
	}
	return f.writeJSON(msg)
}

func (f *venueFeed) run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn().Err(err).Dur("backoff", backoff).Msg("venue feed disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > venueMaxReconnectWait {
			backoff = venueMaxReconnectWait
		}
	}
}

func (f *venueFeed) close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *venueFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial venue ws: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.subMu.Lock()
	subs := make([]wsSubscribeMsg, len(f.subs))
	copy(subs, f.subs)
	f.subMu.Unlock()
	for _, s := range subs {
		if err := f.writeJSON(s); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(venueReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(raw)
	}
}

func (f *venueFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(venuePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(map[string]string{"method": "ping"}); err != nil {
				f.logger.Warn().Err(err).Msg("venue ping failed")
				return
			}
		}
	}
}

func (f *venueFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("venue feed: not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(venueWriteTimeout))
	return f.conn.WriteJSON(v)
}

func (f *venueFeed) dispatch(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Msg("recovered from panic dispatching venue message")
		}
	}()

	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		f.logger.Debug().Err(err).Msg("ignoring malformed venue message")
		return
	}

	switch env.Channel {
	case "l2Book":
		var d l2WireData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			f.logger.Error().Err(err).Msg("unmarshal l2Book")
			return
		}
		snap := toL2Snapshot(d)
		select {
		case f.l2Ch <- snap:
		default:
			f.logger.Warn().Str("coin", d.Coin).Msg("l2 channel full, dropping update")
		}
	case "trades":
		var d tradeWireData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			f.logger.Error().Err(err).Msg("unmarshal trades")
			return
		}
		select {
		case f.tradeCh <- toTradeFill(d):
		default:
			f.logger.Warn().Str("coin", d.Coin).Msg("trade channel full, dropping event")
		}
	case "userFills":
		var d fillWireData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			f.logger.Error().Err(err).Msg("unmarshal userFills")
			return
		}
		select {
		case f.fillCh <- toUserFill(d):
		default:
			f.logger.Warn().Str("coin", d.Coin).Msg("fill channel full, dropping event")
		}
	case "orderUpdates":
		var d orderUpdateWireData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			f.logger.Error().Err(err).Msg("unmarshal orderUpdates")
			return
		}
		select {
		case f.orderCh <- d:
		default:
			f.logger.Warn().Int64("oid", d.OID).Msg("order update channel full, dropping event")
		}
	default:
		f.logger.Debug().Str("channel", env.Channel).Msg("unknown venue channel")
	}
}
