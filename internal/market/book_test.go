package market

import (
	"testing"

	"github.com/shopspring/decimal"

	"perpmm/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func level(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: dec(price), Size: dec(size), OrderCount: 1}
}

func TestStoreUpdateAndGet(t *testing.T) {
	t.Parallel()
	s := NewStore()

	snap := &types.L2BookSnapshot{
		Symbol: "BTC",
		Bids:   []types.PriceLevel{level("67500", "1.5")},
		Asks:   []types.PriceLevel{level("67510", "1.2")},
	}
	s.Update(snap)

	got := s.Get("BTC")
	if got == nil {
		t.Fatal("Get returned nil after Update")
	}
	mid, ok := got.Mid()
	if !ok || !mid.Equal(dec("67505")) {
		t.Errorf("Mid() = %v, %v, want 67505, true", mid, ok)
	}
}

func TestStoreGetMissingSymbol(t *testing.T) {
	t.Parallel()
	s := NewStore()
	if got := s.Get("ETH"); got != nil {
		t.Errorf("Get on unknown symbol = %v, want nil", got)
	}
}

func TestStoreUpdateIsLastWriterWins(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Update(&types.L2BookSnapshot{Symbol: "BTC", Bids: []types.PriceLevel{level("100", "1")}})
	s.Update(&types.L2BookSnapshot{Symbol: "BTC", Bids: []types.PriceLevel{level("200", "1")}})

	got := s.Get("BTC")
	bid, _ := got.BestBid()
	if !bid.Price.Equal(dec("200")) {
		t.Errorf("BestBid().Price = %s, want 200 (last write should win)", bid.Price)
	}
}

func TestStoreGetAllIsPointInTimeCopy(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Update(&types.L2BookSnapshot{Symbol: "BTC"})
	s.Update(&types.L2BookSnapshot{Symbol: "ETH"})

	all := s.GetAll()
	if len(all) != 2 {
		t.Fatalf("GetAll() returned %d entries, want 2", len(all))
	}

	s.Update(&types.L2BookSnapshot{Symbol: "SOL"})
	if len(all) != 2 {
		t.Error("previously-returned GetAll() map should not observe later updates")
	}
}
