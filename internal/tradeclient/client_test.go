package tradeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return &Signer{key: priv, addr: crypto.PubkeyToAddress(priv.PublicKey)}
}

func TestHTTPClientPlaceOrderSignsAndPosts(t *testing.T) {
	var gotPath string
	var gotBody orderWire

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(orderAckWire{OrderID: "o-1", Accepted: true})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, testSigner(t))
	ack, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: Buy, Price: 4250000000, Qty: 100000000, ClientID: "c-1",
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if gotPath != "/orders" {
		t.Fatalf("path = %s, want /orders", gotPath)
	}
	if gotBody.Signature == "" {
		t.Fatal("expected a non-empty signature on the submitted order")
	}
	if !ack.Accepted || ack.OrderID != "o-1" {
		t.Fatalf("ack = %+v, want accepted o-1", ack)
	}
}

func TestHTTPClientPlaceOrderSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(orderAckWire{Accepted: false, Reason: "insufficient margin"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, testSigner(t))
	_, err := client.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: Sell, Price: 1, Qty: 1})
	if err == nil {
		t.Fatal("expected an error for a rejected order")
	}
}

func TestDisabledClientRefusesEverything(t *testing.T) {
	var c Client = Disabled{}
	if _, err := c.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT"}); err == nil {
		t.Fatal("expected Disabled.PlaceOrder to return an error")
	}
	if err := c.CancelOrder(context.Background(), "o-1"); err == nil {
		t.Fatal("expected Disabled.CancelOrder to return an error")
	}
}
