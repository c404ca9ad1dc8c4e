package adaptor

import (
	"testing"

	"github.com/k4md/engine/internal/marketdata"
)

func TestParseBitgetTradesReverseArrayOrder(t *testing.T) {
	parse := parseBitget(marketdata.SpotLike)
	// Bitget delivers newest-first; trade ids 3,2,1 in payload order should
	// emit as 1,2,3 (oldest first) to preserve tail-monotonicity.
	frame := []byte(`{"arg":{"instType":"SPOT","channel":"trade","instId":"BTCUSDT"},"data":[
		{"ts":"3","price":"3","size":"1","side":"buy","tradeId":"3"},
		{"ts":"2","price":"2","size":"1","side":"buy","tradeId":"2"},
		{"ts":"1","price":"1","size":"1","side":"buy","tradeId":"1"}
	]}`)
	recs, err := parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	for i, rec := range recs {
		want := uint64(i + 1)
		if rec.Trade.TradeID != want {
			t.Fatalf("record %d trade id = %d, want %d (oldest-first order)", i, rec.Trade.TradeID, want)
		}
	}
}

func TestParseBitgetTickerParsesBidAskLevels(t *testing.T) {
	parse := parseBitget(marketdata.LinearFutures)
	frame := []byte(`{"arg":{"instType":"USDT-FUTURES","channel":"ticker","instId":"BTCUSDT"},"data":[
		{"bidPr":"100.5","bidSz":"1","askPr":"101.5","askSz":"2","ts":"1700000000000","seq":9}
	]}`)
	recs, err := parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 1 || recs[0].Bookticker == nil {
		t.Fatalf("expected one bookticker record, got %+v", recs)
	}
	if recs[0].Route.ProductType != marketdata.LinearFutures {
		t.Fatalf("product type not propagated: %v", recs[0].Route.ProductType)
	}
}

func TestBitgetInstTypeMapping(t *testing.T) {
	if got, ok := bitgetInstType(marketdata.SpotLike); !ok || got != "SPOT" {
		t.Fatalf("spot inst type = %q, %v", got, ok)
	}
	if got, ok := bitgetInstType(marketdata.LinearFutures); !ok || got != "USDT-FUTURES" {
		t.Fatalf("linear inst type = %q, %v", got, ok)
	}
	if _, ok := bitgetInstType(marketdata.InverseFutures); ok {
		t.Fatal("expected inverse futures unsupported for Bitget")
	}
}
