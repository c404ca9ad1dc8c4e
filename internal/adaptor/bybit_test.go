package adaptor

import (
	"testing"

	"github.com/k4md/engine/internal/marketdata"
)

func TestBuildBybitOnlySelectsLinearFutures(t *testing.T) {
	cfg := ConnectionConfig{Exchange: "bybit", Symbols: []string{"BTCUSDT"}, Spot: true, Futures: true, InverseFuture: true, Redundancy: 1, CPUAffinity: -1}
	defs, err := BuildBybit(cfg)
	if err != nil {
		t.Fatalf("BuildBybit: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("defs = %d, want 1 (linear only)", len(defs))
	}
	if defs[0].ProductType != marketdata.LinearFutures {
		t.Fatalf("product type = %v, want LinearFutures", defs[0].ProductType)
	}
}

func TestParseBybitTradesHashesUUIDTradeID(t *testing.T) {
	books := newBybitBookSet()
	parse := parseBybit(marketdata.LinearFutures, books)
	frame := []byte(`{"topic":"publicTrade.BTCUSDT","type":"snapshot","data":[
		{"T":1700000000000,"s":"BTCUSDT","S":"Sell","v":"0.01","p":"42000.5","i":"550e8400-e29b-41d4-a716-446655440000"}
	]}`)
	recs, err := parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 1 || recs[0].Trade == nil {
		t.Fatalf("expected one trade record, got %+v", recs)
	}
	if recs[0].Trade.TradeID == 0 {
		t.Fatal("expected a non-zero hashed trade id")
	}
	if !recs[0].Trade.IsBuyerMaker {
		t.Fatal("Sell side should map to IsBuyerMaker true")
	}
}

func TestApplyBybitOrderbookSnapshotAlwaysEmits(t *testing.T) {
	books := newBybitBookSet()
	parse := parseBybit(marketdata.LinearFutures, books)
	frame := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","data":{"s":"BTCUSDT","b":[["100","1"],["99","2"]],"a":[["101","1"],["102","2"]],"u":5}}`)
	recs, err := parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 1 || recs[0].Depth5 == nil {
		t.Fatalf("expected one depth5 record on snapshot, got %+v", recs)
	}
	if recs[0].Depth5.Bids[0].Px != 10000000000 {
		t.Fatalf("top bid px = %d, want 10000000000 (100.0 scaled)", recs[0].Depth5.Bids[0].Px)
	}
}

func TestApplyBybitOrderbookDeltaOutsideTopFiveIsSuppressed(t *testing.T) {
	books := newBybitBookSet()
	parse := parseBybit(marketdata.LinearFutures, books)

	// Seed a snapshot with 6 levels so level 6 sits outside the top 5.
	snapshot := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","data":{"s":"BTCUSDT","b":[["106","1"],["105","1"],["104","1"],["103","1"],["102","1"],["101","1"]],"a":[["107","1"]],"u":1}}`)
	if _, err := parse(snapshot); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}

	delta := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","data":{"s":"BTCUSDT","b":[["101","5"]],"a":[],"u":2}}`)
	recs, err := parse(delta)
	if err != nil {
		t.Fatalf("parse delta: %v", err)
	}
	if recs != nil {
		t.Fatalf("expected no emission for a delta outside the top 5, got %+v", recs)
	}
}

func TestApplyBybitOrderbookDeltaDeletesLevelOnZeroQty(t *testing.T) {
	books := newBybitBookSet()
	parse := parseBybit(marketdata.LinearFutures, books)

	snapshot := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","data":{"s":"BTCUSDT","b":[["100","1"]],"a":[["101","1"]],"u":1}}`)
	if _, err := parse(snapshot); err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}

	delta := []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","data":{"s":"BTCUSDT","b":[["100","0"]],"a":[],"u":2}}`)
	recs, err := parse(delta)
	if err != nil {
		t.Fatalf("parse delta: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected an emission since the deleted level was in the top 5, got %+v", recs)
	}
	if recs[0].Depth5.Bids[0].Px != 0 {
		t.Fatalf("expected bid book to be empty after deleting its only level, got %+v", recs[0].Depth5.Bids)
	}
}
