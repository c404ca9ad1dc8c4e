// Package tradeclient is the boundary the pipeline's control surface talks
// to when a rotation event or a fatal SHM error warrants notifying the
// adjacent order-management system. It is not the focus of this engine —
// only a typed contract, a request signer and a thin REST client
// (HTTPClient) live here, grounded the same
// way the rest of the engine grounds its ambient stack: on the libraries
// already present in the module's dependency surface.
package tradeclient

import (
	"context"
	"fmt"
)

// Side is the direction of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// OrderRequest is the minimal shape PlaceOrder needs: enough to sign and
// submit a single order, independent of which venue ultimately receives
// it.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Price    int64 // fixed-point, same 1e8 scale as the market-data mantissas
	Qty      int64
	ClientID string
}

// OrderAck is the venue's acknowledgement of a successfully placed order.
type OrderAck struct {
	OrderID  string
	Symbol   string
	Accepted bool
}

// Client is the boundary contract: place and cancel orders, plus tell the
// adjacent order-management system a symbol's market-data feed just
// rotated or hit a fatal SHM error, so it can pull resting orders for that
// symbol rather than quote against a feed the engine no longer trusts. The
// pipeline depends only on this interface, never on a concrete venue
// client.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	NotifyFeedDegraded(ctx context.Context, symbol, reason string) error
}

// Disabled is a Client that refuses every call — the default when
// trading.enabled is false in configuration, so the pipeline always has a
// concrete Client to hold even when trading is off.
type Disabled struct{}

func (Disabled) PlaceOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	return OrderAck{}, fmt.Errorf("tradeclient: trading disabled, refusing order for %s", req.Symbol)
}

func (Disabled) CancelOrder(_ context.Context, orderID string) error {
	return fmt.Errorf("tradeclient: trading disabled, refusing cancel of %s", orderID)
}

func (Disabled) NotifyFeedDegraded(_ context.Context, symbol, _ string) error {
	return fmt.Errorf("tradeclient: trading disabled, dropping feed-degraded notice for %s", symbol)
}
