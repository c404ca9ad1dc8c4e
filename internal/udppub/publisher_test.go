package udppub

import (
	"net"
	"testing"
	"time"

	"github.com/k4md/engine/internal/marketdata"
)

func TestSendEncodesHeaderAndDecodesBackIdentically(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	pub, err := Dial(listener.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer pub.Close()

	slot := marketdata.TradeToSlot(&marketdata.TradeRecord{
		Symbol:       "BTCUSDT",
		Price:        4250000000000,
		Qty:          100000000,
		IsBuyerMaker: true,
		TradeID:      42,
		ExchangeTsUs: 1000,
		RecvTsUs:     1005,
	}, 7, marketdata.SpotLike)
	payload := marketdata.AsBytes(&slot)

	if err := pub.Send(marketdata.Trade, marketdata.SpotLike, "BTCUSDT", payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := listener.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	datagram := buf[:n]

	version, msgType, prodType, symbol, decodedPayload, ok := DecodeHeader(datagram)
	if !ok {
		t.Fatal("DecodeHeader: ok=false")
	}
	if version != Version {
		t.Fatalf("version = %d, want %d", version, Version)
	}
	if marketdata.MessageType(msgType) != marketdata.Trade {
		t.Fatalf("message_type = %d, want Trade", msgType)
	}
	if marketdata.ProductType(prodType) != marketdata.SpotLike {
		t.Fatalf("product_type = %d, want SpotLike", prodType)
	}
	if symbol != "BTCUSDT" {
		t.Fatalf("symbol = %q, want BTCUSDT", symbol)
	}
	if len(decodedPayload) != len(payload) {
		t.Fatalf("payload length = %d, want %d", len(decodedPayload), len(payload))
	}
	for i := range payload {
		if decodedPayload[i] != payload[i] {
			t.Fatalf("payload byte %d mismatch: got %x want %x", i, decodedPayload[i], payload[i])
		}
	}
}

func TestDecodeHeaderRejectsTruncatedDatagram(t *testing.T) {
	if _, _, _, _, _, ok := DecodeHeader([]byte{1, 2}); ok {
		t.Fatal("expected DecodeHeader to reject a datagram shorter than the header")
	}
}

func TestDecodeHeaderRejectsTruncatedPayload(t *testing.T) {
	datagram := []byte{1, 2, 3, 0, 0, 10} // symbol_len=0, payload_len=10 but no payload bytes follow
	if _, _, _, _, _, ok := DecodeHeader(datagram); ok {
		t.Fatal("expected DecodeHeader to reject a datagram shorter than its declared payload_len")
	}
}
