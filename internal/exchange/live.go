package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

// LiveBackend delegates every operation to the venue's REST API. Order
// placement requests are signed with the configured wallet; cancellation
// and query requests are sent unsigned. Every request is rate limited per
// category.
type LiveBackend struct {
	http    *resty.Client
	signer  *Signer
	rl      *RateLimiter
	account string
	nonce   atomic.Int64
	logger  zerolog.Logger
}

// NewLiveBackend builds a live execution backend against baseURL, signing
// every order with signer.
func NewLiveBackend(baseURL string, signer *Signer, account string, logger zerolog.Logger) *LiveBackend {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &LiveBackend{
		http:    httpClient,
		signer:  signer,
		rl:      NewRateLimiter(),
		account: account,
		logger:  logger.With().Str("component", "live_backend").Logger(),
	}
}

type placeOrderWire struct {
	Coin       string `json:"coin"`
	IsBuy      bool   `json:"isBuy"`
	Px         string `json:"px"`
	Sz         string `json:"sz"`
	ReduceOnly bool   `json:"reduceOnly"`
	OrderType  string `json:"orderType"`
	Tif        string `json:"tif"`
}

type placeRequestWire struct {
	Orders    []placeOrderWire `json:"orders"`
	Signature string           `json:"signature"`
	Nonce     int64            `json:"nonce"`
}

type statusWire struct {
	Resting *struct {
		OID int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		OID int64 `json:"oid"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

type execResponseWire struct {
	Statuses []statusWire `json:"statuses"`
}

func toWireOrder(symbol types.Symbol, side types.Side, price, size decimal.Decimal, orderType types.OrderTypeBlob, reduceOnly bool) placeOrderWire {
	return placeOrderWire{
		Coin:       string(symbol),
		IsBuy:      side == types.Bid,
		Px:         price.String(),
		Sz:         size.String(),
		ReduceOnly: reduceOnly,
		OrderType:  orderType.Kind,
		Tif:        string(orderType.Tif),
	}
}

func (b *LiveBackend) sign(orders []placeOrderWire) (string, int64, error) {
	nonce := b.nonce.Add(1)
	body, err := json.Marshal(orders)
	if err != nil {
		return "", 0, fmt.Errorf("marshal order action: %w", err)
	}
	hash := sha256.Sum256(body)
	sig, err := b.signer.SignOrderAction(hash[:], nonce)
	if err != nil {
		return "", 0, fmt.Errorf("sign order action: %w", err)
	}
	return sig, nonce, nil
}

func toExecAck(wire execResponseWire) types.ExecAck {
	ack := types.ExecAck{Statuses: make([]types.OrderStatusAck, len(wire.Statuses))}
	for i, s := range wire.Statuses {
		switch {
		case s.Resting != nil:
			ack.Statuses[i] = types.OrderStatusAck{Resting: &types.RestingAck{OID: s.Resting.OID}}
		case s.Filled != nil:
			ack.Statuses[i] = types.OrderStatusAck{Filled: &types.FilledAck{OID: s.Filled.OID}}
		default:
			ack.Statuses[i] = types.OrderStatusAck{Error: s.Error}
		}
	}
	return ack
}

// PlaceOrder places a single order.
func (b *LiveBackend) PlaceOrder(ctx context.Context, symbol types.Symbol, side types.Side, price, size decimal.Decimal, orderType types.OrderTypeBlob, reduceOnly bool) (types.ExecAck, error) {
	return b.PlaceBulkOrders(ctx, symbol, []types.DesiredOrder{{
		Side: side, Price: price, Size: size, OrderType: orderType, ReduceOnly: reduceOnly,
	}})
}

// PlaceBulkOrders places all of orders in a single batched request.
func (b *LiveBackend) PlaceBulkOrders(ctx context.Context, symbol types.Symbol, orders []types.DesiredOrder) (types.ExecAck, error) {
	if len(orders) == 0 {
		return types.ExecAck{}, nil
	}
	if err := b.rl.waitOrder(ctx); err != nil {
		return types.ExecAck{}, fmt.Errorf("%w: rate limit wait: %v", ErrTransient, err)
	}

	wire := make([]placeOrderWire, len(orders))
	for i, o := range orders {
		wire[i] = toWireOrder(symbol, o.Side, o.Price, o.Size, o.OrderType, o.ReduceOnly)
	}

	sig, nonce, err := b.sign(wire)
	if err != nil {
		return types.ExecAck{}, err
	}

	var result execResponseWire
	resp, err := b.http.R().
		SetContext(ctx).
		SetBody(placeRequestWire{Orders: wire, Signature: sig, Nonce: nonce}).
		SetResult(&result).
		Post("/exchange")
	if err != nil {
		return types.ExecAck{}, fmt.Errorf("%w: place orders: %v", ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.ExecAck{}, fmt.Errorf("%w: place orders: status %d: %s", ErrProtocol, resp.StatusCode(), resp.String())
	}
	return toExecAck(result), nil
}

// CancelOrder cancels a single order by venue id.
func (b *LiveBackend) CancelOrder(ctx context.Context, symbol types.Symbol, venueID int64) error {
	return b.CancelBulk(ctx, symbol, []int64{venueID})
}

// CancelBulk cancels a set of venue ids for symbol.
func (b *LiveBackend) CancelBulk(ctx context.Context, symbol types.Symbol, venueIDs []int64) error {
	if len(venueIDs) == 0 {
		return nil
	}
	if err := b.rl.waitCancel(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", ErrTransient, err)
	}
	payload := struct {
		Coin string  `json:"coin"`
		OIDs []int64 `json:"oids"`
	}{Coin: string(symbol), OIDs: venueIDs}

	resp, err := b.http.R().SetContext(ctx).SetBody(payload).Post("/cancel")
	if err != nil {
		return fmt.Errorf("%w: cancel orders: %v", ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: cancel orders: status %d: %s", ErrProtocol, resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelAll cancels every open order for symbol.
func (b *LiveBackend) CancelAll(ctx context.Context, symbol types.Symbol) error {
	if err := b.rl.waitCancel(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", ErrTransient, err)
	}
	resp, err := b.http.R().SetContext(ctx).SetBody(map[string]string{"coin": string(symbol)}).Post("/cancel-all")
	if err != nil {
		return fmt.Errorf("%w: cancel all: %v", ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: cancel all: status %d: %s", ErrProtocol, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetOpenOrders fetches open orders for symbol.
func (b *LiveBackend) GetOpenOrders(ctx context.Context, symbol types.Symbol) ([]types.Order, error) {
	if err := b.rl.waitQuery(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrTransient, err)
	}
	var result []types.Order
	resp, err := b.http.R().SetContext(ctx).SetQueryParam("coin", string(symbol)).SetQueryParam("user", b.account).SetResult(&result).Get("/openOrders")
	if err != nil {
		return nil, fmt.Errorf("%w: get open orders: %v", ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: get open orders: status %d: %s", ErrProtocol, resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetUserState fetches account value, margin and positions.
func (b *LiveBackend) GetUserState(ctx context.Context) (types.AccountState, error) {
	if err := b.rl.waitQuery(ctx); err != nil {
		return types.AccountState{}, fmt.Errorf("%w: rate limit wait: %v", ErrTransient, err)
	}
	var result types.AccountState
	resp, err := b.http.R().SetContext(ctx).SetQueryParam("user", b.account).SetResult(&result).Get("/userState")
	if err != nil {
		return types.AccountState{}, fmt.Errorf("%w: get user state: %v", ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.AccountState{}, fmt.Errorf("%w: get user state: status %d: %s", ErrProtocol, resp.StatusCode(), resp.String())
	}
	return result, nil
}

// GetUserFills fetches recent fills for symbol.
func (b *LiveBackend) GetUserFills(ctx context.Context, symbol types.Symbol) ([]types.Fill, error) {
	if err := b.rl.waitQuery(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrTransient, err)
	}
	var result []types.Fill
	resp, err := b.http.R().SetContext(ctx).SetQueryParam("coin", string(symbol)).SetQueryParam("user", b.account).SetResult(&result).Get("/userFills")
	if err != nil {
		return nil, fmt.Errorf("%w: get user fills: %v", ErrTransient, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: get user fills: status %d: %s", ErrProtocol, resp.StatusCode(), resp.String())
	}
	return result, nil
}
