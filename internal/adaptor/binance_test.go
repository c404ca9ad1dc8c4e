package adaptor

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/k4md/engine/internal/marketdata"
)

func TestBuildBinanceProducesAggTradeAndSBEStreamsPerProduct(t *testing.T) {
	cfg := ConnectionConfig{Exchange: "binance", Symbols: []string{"BTCUSDT"}, Spot: true, Futures: true, Redundancy: 2, CPUAffinity: -1}
	defs, err := BuildBinance(cfg)
	if err != nil {
		t.Fatalf("BuildBinance: %v", err)
	}
	if len(defs) != 4 {
		t.Fatalf("defs = %d, want 4 (aggtrade+sbe x spot+futures)", len(defs))
	}
	for _, d := range defs {
		if d.Redundancy != 2 {
			t.Fatalf("stream %s redundancy = %d, want 2", d.Name, d.Redundancy)
		}
	}
}

func TestParseBinanceAggTradeTagsConfiguredProductType(t *testing.T) {
	parse := parseBinanceAggTrade(marketdata.LinearFutures)
	frame := []byte(`{"stream":"btcusdt@aggTrade","data":{"s":"BTCUSDT","p":"42000.50","q":"1.5","a":100,"f":1,"l":2,"T":1700000000000,"m":true}}`)

	recs, err := parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Route.ProductType != marketdata.LinearFutures {
		t.Fatalf("product type = %v, want LinearFutures", rec.Route.ProductType)
	}
	if rec.AggTrade.Price != 4200050000000 {
		t.Fatalf("price = %d, want 4200050000000", rec.AggTrade.Price)
	}
	if !rec.AggTrade.IsBuyerMaker {
		t.Fatal("expected IsBuyerMaker true")
	}
}

func TestParseBinanceAggTradeIgnoresControlFrame(t *testing.T) {
	parse := parseBinanceAggTrade(marketdata.SpotLike)
	recs, err := parse([]byte(`{"result":null,"id":1}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if recs != nil {
		t.Fatalf("expected nil records for a control frame, got %v", recs)
	}
}

func TestSBEDecimalToFixedMatchesDocumentedRule(t *testing.T) {
	// exponent -8 -> power = -8+8 = 0: a mantissa already expressed at the
	// process's 1e8 FixedScale passes through unchanged.
	if got, err := sbeDecimalToFixed(4250000000000, -8); err != nil || got != 4250000000000 {
		t.Fatalf("sbeDecimalToFixed(4250000000000, -8) = (%d, %v), want (4250000000000, nil)", got, err)
	}
	// exponent -7 -> power 1: mantissa scales by 10.
	if got, err := sbeDecimalToFixed(425000000000, -7); err != nil || got != 4250000000000 {
		t.Fatalf("sbeDecimalToFixed(425000000000, -7) = (%d, %v), want (4250000000000, nil)", got, err)
	}
	// exponent -9 -> power -1: mantissa divides by 10.
	if got, err := sbeDecimalToFixed(42500000000000, -9); err != nil || got != 4250000000000 {
		t.Fatalf("sbeDecimalToFixed(42500000000000, -9) = (%d, %v), want (4250000000000, nil)", got, err)
	}
}

// TestSBEDecimalToFixedSpecExample locks in spec.md's documented worked
// example: mantissa=4250000000, exponent=-8 decodes to 4250000000 at the
// process's 1e8 FixedScale.
func TestSBEDecimalToFixedSpecExample(t *testing.T) {
	got, err := sbeDecimalToFixed(4250000000, -8)
	if err != nil {
		t.Fatalf("sbeDecimalToFixed: %v", err)
	}
	if got != 4250000000 {
		t.Fatalf("sbeDecimalToFixed(4250000000, -8) = %d, want 4250000000", got)
	}
}

// TestSBEDecimalToFixedRejectsInt64Overflow covers a mantissa/exponent pair
// whose rescaled value cannot be represented in an int64 (the corpus case
// that used to silently wrap via big.Int.Int64() on an out-of-range value).
func TestSBEDecimalToFixedRejectsInt64Overflow(t *testing.T) {
	if _, err := sbeDecimalToFixed(math.MaxInt64, 100); err == nil {
		t.Fatal("expected an error for an out-of-int64-range result, got nil")
	}
}

func TestDecodeBinanceSBEBestBidAskRoundTrips(t *testing.T) {
	idToName := map[uint16]string{1: "BTCUSDT"}

	body := make([]byte, sbeBestBidAskBodySize)
	off := 0
	binary.LittleEndian.PutUint16(body[off:], 1) // symbolId
	off += 2
	off = writeSBEDecimal(body, off, 4250000000000, -8) // bidPx
	off = writeSBEDecimal(body, off, 100000000, -8)     // bidQty
	off = writeSBEDecimal(body, off, 4250100000000, -8) // askPx
	off = writeSBEDecimal(body, off, 200000000, -8)     // askQty
	binary.LittleEndian.PutUint64(body[off:], 42)        // updateId
	off += 8
	binary.LittleEndian.PutUint64(body[off:], 1700000000000000) // eventTimeUs

	frame := make([]byte, sbeHeaderSize+len(body))
	binary.LittleEndian.PutUint16(frame[2:4], sbeTemplateBestBidAsk)
	copy(frame[sbeHeaderSize:], body)

	recs, err := decodeBinanceSBE(frame, idToName, marketdata.SpotLike)
	if err != nil {
		t.Fatalf("decodeBinanceSBE: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	b := recs[0].Bookticker
	if b.BidPx != 4250000000000 || b.AskPx != 4250100000000 {
		t.Fatalf("unexpected bid/ask px: %d/%d", b.BidPx, b.AskPx)
	}
	if b.UpdateID != 42 {
		t.Fatalf("update id = %d, want 42", b.UpdateID)
	}
}

func writeSBEDecimal(body []byte, off int, mantissa int64, exponent int8) int {
	binary.LittleEndian.PutUint64(body[off:], uint64(mantissa))
	off += 8
	body[off] = byte(exponent)
	return off + 1
}
