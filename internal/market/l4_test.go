package market

import (
	"testing"

	"github.com/rs/zerolog"

	"perpmm/pkg/types"
)

func newTestMaintainer() *L4Maintainer {
	return NewL4Maintainer("ws://unused.invalid", zerolog.Nop())
}

func TestL4SnapshotThenDiffRemovesLevel(t *testing.T) {
	t.Parallel()
	m := newTestMaintainer()

	m.handleMessage([]byte(`{"channel":"l4Book","data":{"coin":"BTC","time":1,
		"bids":[{"oid":1,"user":"0xabc","limitPx":"67500","sz":"1"}],
		"asks":[]}}`))

	snap := m.Snapshot("BTC")
	if snap == nil {
		t.Fatal("Snapshot returned nil after snapshot message")
	}
	bb, ok := snap.BestBid()
	if !ok || !bb.Equal(dec("67500")) {
		t.Fatalf("BestBid() = %v, %v, want 67500, true", bb, ok)
	}

	m.handleMessage([]byte(`{"channel":"l4Book","data":{"coin":"BTC","time":2,
		"bidDiffs":[{"oid":1,"user":"0xabc","limitPx":"67500","sz":"0"}],
		"askDiffs":[]}}`))

	snap = m.Snapshot("BTC")
	if _, ok := snap.Bids["67500"]; ok {
		t.Error("price 67500 should no longer be present in bids map")
	}
	if _, ok := snap.BestBid(); ok {
		t.Error("BestBid() should be undefined once the only level is removed")
	}
}

func TestL4DiffReplacesExistingOID(t *testing.T) {
	t.Parallel()
	m := newTestMaintainer()

	m.handleMessage([]byte(`{"channel":"l4Book","data":{"coin":"BTC","time":1,
		"bids":[{"oid":1,"user":"0xabc","limitPx":"67500","sz":"1"}],"asks":[]}}`))

	m.handleMessage([]byte(`{"channel":"l4Book","data":{"coin":"BTC","time":2,
		"bidDiffs":[{"oid":1,"user":"0xabc","limitPx":"67500","sz":"2"}],"askDiffs":[]}}`))

	snap := m.Snapshot("BTC")
	orders := snap.Bids["67500"]
	if len(orders) != 1 {
		t.Fatalf("len(orders) at 67500 = %d, want exactly 1", len(orders))
	}
	if !orders[0].Size.Equal(dec("2")) {
		t.Errorf("order size = %s, want 2 (replaced, not appended)", orders[0].Size)
	}
}

func TestL4DiffIsIdempotent(t *testing.T) {
	t.Parallel()
	m := newTestMaintainer()

	m.handleMessage([]byte(`{"channel":"l4Book","data":{"coin":"BTC","time":1,
		"bids":[{"oid":1,"user":"0xabc","limitPx":"67500","sz":"1"}],"asks":[]}}`))

	diff := []byte(`{"channel":"l4Book","data":{"coin":"BTC","time":2,
		"bidDiffs":[{"oid":1,"user":"0xabc","limitPx":"67500","sz":"1.5"}],"askDiffs":[]}}`)
	m.handleMessage(diff)
	first := m.Snapshot("BTC").Bids["67500"]
	m.handleMessage(diff)
	second := m.Snapshot("BTC").Bids["67500"]

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("len(first)=%d len(second)=%d, want 1 and 1", len(first), len(second))
	}
	if !first[0].Size.Equal(second[0].Size) {
		t.Error("applying the same diff twice should yield the same book state")
	}
}

func TestL4DisconnectResetsSnapshotMarker(t *testing.T) {
	t.Parallel()
	m := newTestMaintainer()

	m.handleMessage([]byte(`{"channel":"l4Book","data":{"coin":"BTC","time":1,
		"bids":[{"oid":1,"user":"0xabc","limitPx":"67500","sz":"1"}],"asks":[]}}`))

	m.stateMu.Lock()
	m.snapshotReceived = make(map[types.Symbol]bool)
	m.stateMu.Unlock()

	// After a reconnect, the next message for BTC must be treated as a
	// snapshot: this payload carries no oid=1 entry, so if it were
	// (wrongly) treated as a diff, the original level would survive.
	m.handleMessage([]byte(`{"channel":"l4Book","data":{"coin":"BTC","time":2,
		"bids":[{"oid":2,"user":"0xdef","limitPx":"67400","sz":"1"}],"asks":[]}}`))

	snap := m.Snapshot("BTC")
	if _, ok := snap.Bids["67500"]; ok {
		t.Error("stale level from before reconnect should be gone after a fresh snapshot")
	}
	if _, ok := snap.Bids["67400"]; !ok {
		t.Error("new snapshot level should be present")
	}
}

func TestL4UnknownChannelIgnored(t *testing.T) {
	t.Parallel()
	m := newTestMaintainer()
	m.handleMessage([]byte(`{"channel":"somethingElse","data":{"coin":"BTC"}}`))
	if m.Snapshot("BTC") != nil {
		t.Error("unrelated channel payload should not publish a snapshot")
	}
}
