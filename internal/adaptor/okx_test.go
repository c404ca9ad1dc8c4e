package adaptor

import (
	"testing"

	"github.com/k4md/engine/internal/marketdata"
)

func TestOKXInstIDTranslation(t *testing.T) {
	spot, ok := okxInstID("BTCUSDT", marketdata.SpotLike)
	if !ok || spot != "BTC-USDT" {
		t.Fatalf("spot inst = %q, %v", spot, ok)
	}
	swap, ok := okxInstID("BTCUSDT", marketdata.LinearFutures)
	if !ok || swap != "BTC-USDT-SWAP" {
		t.Fatalf("swap inst = %q, %v", swap, ok)
	}
	if _, ok := okxInstID("BTCUSDT", marketdata.InverseFutures); ok {
		t.Fatal("expected inverse futures to be unsupported for OKX")
	}
}

func TestParseOKXRoutesOnChannel(t *testing.T) {
	parse := parseOKX(map[string]string{"BTC-USDT": "BTCUSDT"}, marketdata.SpotLike)

	bboFrame := []byte(`{"arg":{"channel":"bbo-tbt","instId":"BTC-USDT"},"data":[{"bids":[["42000.1","1.2"]],"asks":[["42000.5","0.8"]],"ts":"1700000000000","seqId":55}]}`)
	recs, err := parse(bboFrame)
	if err != nil {
		t.Fatalf("parse bbo: %v", err)
	}
	if len(recs) != 1 || recs[0].Bookticker == nil {
		t.Fatalf("expected one bookticker record, got %+v", recs)
	}
	if recs[0].Bookticker.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %q, want BTCUSDT", recs[0].Bookticker.Symbol)
	}

	tradeFrame := []byte(`{"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[{"px":"42000.1","sz":"0.5","side":"sell","ts":"1700000000000","tradeId":"999"}]}`)
	recs, err = parse(tradeFrame)
	if err != nil {
		t.Fatalf("parse trades: %v", err)
	}
	if len(recs) != 1 || !recs[0].Trade.IsBuyerMaker {
		t.Fatalf("expected sell-side trade tagged as buyer-maker, got %+v", recs)
	}
}

func TestParseOKXUnknownInstrumentYieldsNoRecords(t *testing.T) {
	parse := parseOKX(map[string]string{"BTC-USDT": "BTCUSDT"}, marketdata.SpotLike)
	recs, err := parse([]byte(`{"arg":{"channel":"trades","instId":"ETH-USDT"},"data":[]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if recs != nil {
		t.Fatalf("expected nil for unsubscribed instrument, got %v", recs)
	}
}

func TestParseOKXBooks5FillsUpToFiveLevels(t *testing.T) {
	parse := parseOKX(map[string]string{"BTC-USDT": "BTCUSDT"}, marketdata.SpotLike)
	frame := []byte(`{"arg":{"channel":"books5","instId":"BTC-USDT"},"data":[{"bids":[["100","1"],["99","2"]],"asks":[["101","1"]],"ts":"1700000000000","seqId":7}]}`)
	recs, err := parse(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 1 || recs[0].Depth5 == nil {
		t.Fatalf("expected one depth5 record, got %+v", recs)
	}
	if recs[0].Depth5.Bids[0].Px == 0 || recs[0].Depth5.Bids[2].Px != 0 {
		t.Fatalf("expected first two bid levels filled and the rest zero, got %+v", recs[0].Depth5.Bids)
	}
}
