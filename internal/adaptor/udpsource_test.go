package adaptor

import (
	"testing"

	"github.com/k4md/engine/internal/marketdata"
	"github.com/k4md/engine/internal/udppub"
)

func TestParseUDPSourceDecodesHeaderAndPassesPayloadThrough(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	symbol := "BTCUSDT"
	datagram := make([]byte, udppub.HeaderSize+len(symbol)+len(payload))
	datagram[0] = udppub.Version
	datagram[1] = byte(marketdata.Trade)
	datagram[2] = byte(marketdata.LinearFutures)
	datagram[3] = byte(len(symbol))
	datagram[4] = 0
	datagram[5] = byte(len(payload))
	copy(datagram[udppub.HeaderSize:], symbol)
	copy(datagram[udppub.HeaderSize+len(symbol):], payload)

	recs, err := parseUDPSource(datagram)
	if err != nil {
		t.Fatalf("parseUDPSource: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Route.Symbol != symbol {
		t.Fatalf("route.Symbol = %q, want %q", rec.Route.Symbol, symbol)
	}
	if rec.Route.MessageType != marketdata.Trade || rec.Route.ProductType != marketdata.LinearFutures {
		t.Fatalf("route = %+v, want Trade/LinearFutures", rec.Route)
	}
	if string(rec.RawPayload) != string(payload) {
		t.Fatalf("raw payload = %v, want %v", rec.RawPayload, payload)
	}
}

func TestParseUDPSourceRejectsTruncatedDatagram(t *testing.T) {
	if _, err := parseUDPSource([]byte{1, 2}); err == nil {
		t.Fatal("expected an error for a datagram shorter than the header")
	}
}

func TestParseUDPSourceRejectsMissingSymbol(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	datagram := make([]byte, udppub.HeaderSize+len(payload))
	datagram[0] = udppub.Version
	datagram[1] = byte(marketdata.Trade)
	datagram[2] = byte(marketdata.LinearFutures)
	datagram[3] = 0 // symbol_len
	datagram[4] = 0
	datagram[5] = byte(len(payload))
	copy(datagram[udppub.HeaderSize:], payload)

	if _, err := parseUDPSource(datagram); err == nil {
		t.Fatal("expected an error for a datagram with no symbol")
	}
}
