package tradeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is a Client that submits signed orders to a venue's REST
// order-entry endpoint. None of the venues this engine feeds from expose a
// trading API over the same WebSocket used for market data, so order entry
// goes over plain HTTP rather than nhooyr.io/websocket.
type HTTPClient struct {
	baseURL string
	signer  *Signer
	http    *http.Client
	nonce   nonce
}

// NewHTTPClient builds a Client bound to baseURL, signing every request
// body with signer before it is sent.
func NewHTTPClient(baseURL string, signer *Signer) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		signer:  signer,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type orderWire struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	ClientID  string `json:"client_id"`
	Nonce     string `json:"nonce"`
	Account   string `json:"account"`
	Signature string `json:"signature"`
}

type orderAckWire struct {
	OrderID  string `json:"order_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

func (c *HTTPClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	wire := orderWire{
		Symbol:   req.Symbol,
		Side:     req.Side.String(),
		Price:    req.Price,
		Qty:      req.Qty,
		ClientID: req.ClientID,
		Nonce:    c.nonce.Next(),
		Account:  c.signer.Address().Hex(),
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return OrderAck{}, fmt.Errorf("tradeclient: marshal order: %w", err)
	}
	sig, err := c.signer.SignHex(body)
	if err != nil {
		return OrderAck{}, fmt.Errorf("tradeclient: sign order: %w", err)
	}
	wire.Signature = sig

	body, err = json.Marshal(wire)
	if err != nil {
		return OrderAck{}, fmt.Errorf("tradeclient: marshal signed order: %w", err)
	}

	var ack orderAckWire
	if err := c.post(ctx, "/orders", body, &ack); err != nil {
		return OrderAck{}, err
	}
	if !ack.Accepted {
		return OrderAck{OrderID: ack.OrderID, Symbol: req.Symbol}, fmt.Errorf("tradeclient: order rejected: %s", ack.Reason)
	}
	return OrderAck{OrderID: ack.OrderID, Symbol: req.Symbol, Accepted: true}, nil
}

func (c *HTTPClient) CancelOrder(ctx context.Context, orderID string) error {
	payload := fmt.Sprintf(`{"order_id":%q,"nonce":%q}`, orderID, c.nonce.Next())
	sig, err := c.signer.SignHex([]byte(payload))
	if err != nil {
		return fmt.Errorf("tradeclient: sign cancel: %w", err)
	}
	body := fmt.Sprintf(`{"order_id":%q,"signature":%q}`, orderID, sig)

	var ack orderAckWire
	return c.post(ctx, "/orders/cancel", []byte(body), &ack)
}

// NotifyFeedDegraded tells the venue's risk endpoint that symbol's market
// data can no longer be trusted (a rotation cull or a fatal SHM write
// failure), so it can pull resting orders rather than quote against a
// stale or missing feed.
func (c *HTTPClient) NotifyFeedDegraded(ctx context.Context, symbol, reason string) error {
	body, err := json.Marshal(struct {
		Symbol string `json:"symbol"`
		Reason string `json:"reason"`
	}{Symbol: symbol, Reason: reason})
	if err != nil {
		return fmt.Errorf("tradeclient: marshal feed-degraded notice: %w", err)
	}
	return c.post(ctx, "/risk/feed-degraded", body, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tradeclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("tradeclient: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tradeclient: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("tradeclient: %s returned %d: %s", path, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("tradeclient: decode response: %w", err)
		}
	}
	return nil
}
