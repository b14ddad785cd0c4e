package gateway

import (
	"testing"

	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

func TestToL2SnapshotSplitsBidsAndAsks(t *testing.T) {
	t.Parallel()
	wire := l2WireData{
		Coin: "BTC",
		Time: 1000,
		Levels: [][]l2WireLevel{
			{{Px: "67500.0", Sz: "1.5", N: 2}},
			{{Px: "67510.0", Sz: "1.2", N: 1}},
		},
	}
	snap := toL2Snapshot(wire)

	if snap.Symbol != types.Symbol("BTC") {
		t.Errorf("symbol = %q, want BTC", snap.Symbol)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("bids/asks = %d/%d, want 1/1", len(snap.Bids), len(snap.Asks))
	}
	if !snap.Bids[0].Price.Equal(mustDecimal("67500.0")) {
		t.Errorf("bid price = %s, want 67500.0", snap.Bids[0].Price)
	}
	if !snap.Asks[0].Price.Equal(mustDecimal("67510.0")) {
		t.Errorf("ask price = %s, want 67510.0", snap.Asks[0].Price)
	}
	if snap.ExchangeTsMs != 1000 {
		t.Errorf("exchange ts = %d, want 1000", snap.ExchangeTsMs)
	}
}

func TestToL2SnapshotHandlesMissingSides(t *testing.T) {
	t.Parallel()
	snap := toL2Snapshot(l2WireData{Coin: "ETH", Levels: nil})
	if snap.Bids != nil || snap.Asks != nil {
		t.Error("expected nil bids/asks when no levels are present")
	}
}

func TestToLevelsSkipsMalformedEntries(t *testing.T) {
	t.Parallel()
	out := toLevels([]l2WireLevel{
		{Px: "not-a-number", Sz: "1"},
		{Px: "100", Sz: "also-bad"},
		{Px: "100", Sz: "2", N: 3},
	})
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1 (only the well-formed entry)", len(out))
	}
	if out[0].OrderCount != 3 {
		t.Errorf("order count = %d, want 3", out[0].OrderCount)
	}
}

func TestToTradeFillMapsSide(t *testing.T) {
	t.Parallel()
	buy := toTradeFill(tradeWireData{Coin: "BTC", Px: "100", Sz: "1", Side: "B", Time: 5})
	if buy.Side != types.Bid {
		t.Errorf("buy side = %v, want Bid", buy.Side)
	}
	sell := toTradeFill(tradeWireData{Coin: "BTC", Px: "100", Sz: "1", Side: "A", Time: 5})
	if sell.Side != types.Ask {
		t.Errorf("sell side = %v, want Ask", sell.Side)
	}
}

func TestToUserFillCarriesFeeAndPnl(t *testing.T) {
	t.Parallel()
	f := toUserFill(fillWireData{
		Coin: "BTC", Side: "B", Px: "100", Sz: "1", OID: 42,
		Fee: "0.05", Time: 9, ClosedPnl: "10.5",
	})
	if !f.Fee.Equal(mustDecimal("0.05")) {
		t.Errorf("fee = %s, want 0.05", f.Fee)
	}
	if !f.ClosedPnl.Equal(mustDecimal("10.5")) {
		t.Errorf("closed pnl = %s, want 10.5", f.ClosedPnl)
	}
	if f.VenueID != 42 {
		t.Errorf("venue id = %d, want 42", f.VenueID)
	}
}

func TestWSURLFromBase(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"https://api.example.com": "wss://api.example.com/ws",
		"http://localhost:8080":   "ws://localhost:8080/ws",
	}
	for in, want := range cases {
		if got := wsURLFromBase(in); got != want {
			t.Errorf("wsURLFromBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func mustDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}
