package exchange

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeBookSource struct {
	books map[types.Symbol]*types.L2BookSnapshot
}

func (f *fakeBookSource) Get(symbol types.Symbol) *types.L2BookSnapshot {
	return f.books[symbol]
}

func newFakeBooks(asks, bids []types.PriceLevel) *fakeBookSource {
	return &fakeBookSource{books: map[types.Symbol]*types.L2BookSnapshot{
		"BTC": {Symbol: "BTC", Bids: bids, Asks: asks},
	}}
}

func TestPaperBuyCrosses(t *testing.T) {
	t.Parallel()
	books := newFakeBooks(
		[]types.PriceLevel{{Price: mustDec("67510"), Size: mustDec("10")}},
		[]types.PriceLevel{{Price: mustDec("67400"), Size: mustDec("10")}},
	)
	b := NewPaperBackend(books, 20, zerolog.Nop())

	ack, err := b.PlaceOrder(context.Background(), "BTC", types.Bid, mustDec("67510"), mustDec("0.1"), types.OrderTypeBlob{Tif: types.Gtc}, false)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.Statuses[0].Resting == nil {
		t.Fatalf("expected resting ack, got %v", ack.Statuses[0])
	}

	fills := b.CheckRestingOrders()
	if len(fills) != 1 {
		t.Fatalf("len(fills) = %d, want 1", len(fills))
	}
	if !fills[0].Price.Equal(mustDec("67510")) {
		t.Errorf("fill price = %s, want 67510", fills[0].Price)
	}

	open, _ := b.GetOpenOrders(context.Background(), "BTC")
	if len(open) != 0 {
		t.Errorf("open order count = %d, want 0 after fill", len(open))
	}

	state, _ := b.GetUserState(context.Background())
	pos := state.Positions["BTC"]
	if !pos.SignedSize.Equal(mustDec("0.1")) {
		t.Errorf("position szi = %s, want +0.1", pos.SignedSize)
	}
}

func TestPaperBuyDoesNotCross(t *testing.T) {
	t.Parallel()
	books := newFakeBooks(
		[]types.PriceLevel{{Price: mustDec("67510"), Size: mustDec("10")}},
		[]types.PriceLevel{{Price: mustDec("67400"), Size: mustDec("10")}},
	)
	b := NewPaperBackend(books, 20, zerolog.Nop())

	ack, err := b.PlaceOrder(context.Background(), "BTC", types.Bid, mustDec("67400"), mustDec("0.1"), types.OrderTypeBlob{Tif: types.Gtc}, false)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.Statuses[0].Resting == nil {
		t.Fatalf("expected resting ack, got %v", ack.Statuses[0])
	}

	fills := b.CheckRestingOrders()
	if len(fills) != 0 {
		t.Fatalf("len(fills) = %d, want 0 (order should not cross)", len(fills))
	}

	open, _ := b.GetOpenOrders(context.Background(), "BTC")
	if len(open) != 1 {
		t.Errorf("open order count = %d, want 1 (order remains open)", len(open))
	}
}

func TestPaperIOCFillsImmediately(t *testing.T) {
	t.Parallel()
	books := newFakeBooks(
		[]types.PriceLevel{{Price: mustDec("67510"), Size: mustDec("10")}},
		nil,
	)
	b := NewPaperBackend(books, 20, zerolog.Nop())

	ack, err := b.PlaceOrder(context.Background(), "BTC", types.Bid, mustDec("67510"), mustDec("0.1"), types.OrderTypeBlob{Tif: types.Ioc}, false)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.Statuses[0].Filled == nil {
		t.Fatalf("expected filled ack for crossing IOC, got %v", ack.Statuses[0])
	}
}

func TestPaperIOCRejectedWhenNotCrossing(t *testing.T) {
	t.Parallel()
	books := newFakeBooks(
		[]types.PriceLevel{{Price: mustDec("67510"), Size: mustDec("10")}},
		nil,
	)
	b := NewPaperBackend(books, 20, zerolog.Nop())

	ack, err := b.PlaceOrder(context.Background(), "BTC", types.Bid, mustDec("67400"), mustDec("0.1"), types.OrderTypeBlob{Tif: types.Ioc}, false)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !ack.Statuses[0].IsError() {
		t.Fatalf("expected error ack for non-crossing IOC, got %v", ack.Statuses[0])
	}
}

func TestPaperPositionClosesFullyAndRealizesPnl(t *testing.T) {
	t.Parallel()
	books := newFakeBooks(nil, nil)
	b := NewPaperBackend(books, 20, zerolog.Nop())

	startCash, _ := b.GetUserState(context.Background())

	// Open long 1 @ 100.
	b.applyFillLocked(types.Fill{Symbol: "BTC", Side: types.Bid, Price: mustDec("100"), Size: mustDec("1")})
	// Close it at 110: realized pnl = (110 - 100) * 1 * sign(+1) = +10.
	b.applyFillLocked(types.Fill{Symbol: "BTC", Side: types.Ask, Price: mustDec("110"), Size: mustDec("1")})

	state, _ := b.GetUserState(context.Background())
	if _, exists := state.Positions["BTC"]; exists {
		t.Error("position should be absent from the map after a fully-closing fill")
	}
	wantCash := startCash.AccountValue.Add(mustDec("10"))
	if !state.AccountValue.Equal(wantCash) {
		t.Errorf("cash = %s, want %s (starting + realized pnl)", state.AccountValue, wantCash)
	}
}

func TestPaperPositionPartialReduceKeepsEntryPrice(t *testing.T) {
	t.Parallel()
	books := newFakeBooks(nil, nil)
	b := NewPaperBackend(books, 20, zerolog.Nop())

	b.applyFillLocked(types.Fill{Symbol: "BTC", Side: types.Bid, Price: mustDec("100"), Size: mustDec("2")})
	b.applyFillLocked(types.Fill{Symbol: "BTC", Side: types.Ask, Price: mustDec("120"), Size: mustDec("1")})

	state, _ := b.GetUserState(context.Background())
	pos := state.Positions["BTC"]
	if !pos.SignedSize.Equal(mustDec("1")) {
		t.Errorf("signed size = %s, want 1", pos.SignedSize)
	}
	if !pos.EntryPrice.Equal(mustDec("100")) {
		t.Errorf("entry price = %s, want unchanged 100 on partial reduce", pos.EntryPrice)
	}
}

func TestGetUserFillsReturnsRecordedFillsForSymbolOnly(t *testing.T) {
	t.Parallel()
	books := newFakeBooks(nil, nil)
	b := NewPaperBackend(books, 20, zerolog.Nop())

	b.applyFillLocked(types.Fill{Symbol: "BTC", Side: types.Bid, Price: mustDec("100"), Size: mustDec("1")})
	b.applyFillLocked(types.Fill{Symbol: "ETH", Side: types.Bid, Price: mustDec("2000"), Size: mustDec("1")})
	b.applyFillLocked(types.Fill{Symbol: "BTC", Side: types.Ask, Price: mustDec("110"), Size: mustDec("1")})

	fills, err := b.GetUserFills(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("GetUserFills: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("len(fills) = %d, want 2", len(fills))
	}
	if !fills[0].Price.Equal(mustDec("100")) || !fills[1].Price.Equal(mustDec("110")) {
		t.Errorf("fills out of order or wrong prices: %+v", fills)
	}
	if !fills[1].ClosedPnl.Equal(mustDec("10")) {
		t.Errorf("second fill ClosedPnl = %s, want 10", fills[1].ClosedPnl)
	}

	ethFills, err := b.GetUserFills(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("GetUserFills: %v", err)
	}
	if len(ethFills) != 1 {
		t.Fatalf("len(ethFills) = %d, want 1", len(ethFills))
	}
}

func TestPaperPositionSizeWeightedAverageEntry(t *testing.T) {
	t.Parallel()
	books := newFakeBooks(nil, nil)
	b := NewPaperBackend(books, 20, zerolog.Nop())

	b.applyFillLocked(types.Fill{Symbol: "BTC", Side: types.Bid, Price: mustDec("100"), Size: mustDec("1")})
	b.applyFillLocked(types.Fill{Symbol: "BTC", Side: types.Bid, Price: mustDec("200"), Size: mustDec("1")})

	state, _ := b.GetUserState(context.Background())
	pos := state.Positions["BTC"]
	if !pos.EntryPrice.Equal(mustDec("150")) {
		t.Errorf("entry price = %s, want size-weighted average 150", pos.EntryPrice)
	}
	if !pos.SignedSize.Equal(mustDec("2")) {
		t.Errorf("signed size = %s, want 2", pos.SignedSize)
	}
}
