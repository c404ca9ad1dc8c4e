package adaptor

import (
	"encoding/json"
	"fmt"

	"github.com/k4md/engine/internal/marketdata"
)

const bitgetWSURL = "wss://ws.bitget.com/v2/ws/public"

// BuildBitget constructs one StreamDef per product type (spot or USDT-M
// futures), subscribing to the ticker (BBO) and trade channels for every
// configured symbol.
func BuildBitget(cfg ConnectionConfig) ([]StreamDef, error) {
	var defs []StreamDef
	for _, product := range selectedProducts(cfg) {
		instType, ok := bitgetInstType(product)
		if !ok {
			continue
		}
		args := make([]bitgetSubArg, 0, len(cfg.Symbols)*2)
		for _, sym := range cfg.Symbols {
			args = append(args,
				bitgetSubArg{InstType: instType, Channel: "ticker", InstID: sym},
				bitgetSubArg{InstType: instType, Channel: "trade", InstID: sym},
			)
		}
		payload, err := json.Marshal(bitgetSubRequest{Op: "subscribe", Args: args})
		if err != nil {
			return nil, fmt.Errorf("bitget: marshal subscribe: %w", err)
		}

		defs = append(defs, StreamDef{
			Name:             "bitget-" + product.String(),
			URL:              bitgetWSURL,
			SubscribePayload: payload,
			ProductType:      product,
			Redundancy:       cfg.Redundancy,
			CPUAffinity:      cfg.CPUAffinity,
			UDPEnabled:       cfg.UDPSender,
			Parse:            parseBitget(product),
		})
	}
	return defs, nil
}

func bitgetInstType(product marketdata.ProductType) (string, bool) {
	switch product {
	case marketdata.SpotLike:
		return "SPOT", true
	case marketdata.LinearFutures:
		return "USDT-FUTURES", true
	default:
		return "", false
	}
}

type bitgetSubArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type bitgetSubRequest struct {
	Op   string         `json:"op"`
	Args []bitgetSubArg `json:"args"`
}

type bitgetEnvelope struct {
	Arg struct {
		InstType string `json:"instType"`
		Channel  string `json:"channel"`
		InstID   string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

type bitgetTickerData struct {
	BidPr string `json:"bidPr"`
	BidSz string `json:"bidSz"`
	AskPr string `json:"askPr"`
	AskSz string `json:"askSz"`
	Ts    string `json:"ts"`
	Seq   int64  `json:"seq"`
}

type bitgetTradeData struct {
	Ts      string `json:"ts"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	TradeID string `json:"tradeId"`
}

func parseBitget(product marketdata.ProductType) func([]byte) ([]marketdata.ParsedRecord, error) {
	return func(frame []byte) ([]marketdata.ParsedRecord, error) {
		var env bitgetEnvelope
		if err := json.Unmarshal(frame, &env); err != nil {
			return nil, fmt.Errorf("bitget: decode envelope: %w", err)
		}
		if env.Arg.InstID == "" {
			return nil, nil // ack/pong/error frame
		}

		switch env.Arg.Channel {
		case "ticker":
			return parseBitgetTicker(env.Arg.InstID, product, env.Data)
		case "trade":
			return parseBitgetTrades(env.Arg.InstID, product, env.Data)
		default:
			return nil, nil
		}
	}
}

func parseBitgetTicker(symbol string, product marketdata.ProductType, raw json.RawMessage) ([]marketdata.ParsedRecord, error) {
	var rows []bitgetTickerData
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("bitget: decode ticker: %w", err)
	}
	out := make([]marketdata.ParsedRecord, 0, len(rows))
	for _, row := range rows {
		bidPx, err := ParsePrice(row.BidPr)
		if err != nil {
			return nil, fmt.Errorf("bitget: bid px: %w", err)
		}
		bidQty, err := ParsePrice(row.BidSz)
		if err != nil {
			return nil, fmt.Errorf("bitget: bid qty: %w", err)
		}
		askPx, err := ParsePrice(row.AskPr)
		if err != nil {
			return nil, fmt.Errorf("bitget: ask px: %w", err)
		}
		askQty, err := ParsePrice(row.AskSz)
		if err != nil {
			return nil, fmt.Errorf("bitget: ask qty: %w", err)
		}
		rec := marketdata.Bookticker{
			Symbol:       symbol,
			BidPx:        bidPx,
			BidQty:       bidQty,
			AskPx:        askPx,
			AskQty:       askQty,
			UpdateID:     uint64(row.Seq),
			ExchangeTsUs: ParseI64(row.Ts) * 1000,
		}
		out = append(out, marketdata.ParsedRecord{
			Route:      marketdata.RouteKey{Symbol: symbol, MessageType: marketdata.BBO, ProductType: product},
			Bookticker: &rec,
		})
	}
	return out, nil
}

// parseBitgetTrades emits records in reverse array order: Bitget's trade
// channel delivers its batch newest-first, but downstream tail-monotonicity
// (later SHM writes are later executions) requires oldest-first emission.
func parseBitgetTrades(symbol string, product marketdata.ProductType, raw json.RawMessage) ([]marketdata.ParsedRecord, error) {
	var rows []bitgetTradeData
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("bitget: decode trade: %w", err)
	}
	out := make([]marketdata.ParsedRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		px, err := ParsePrice(row.Price)
		if err != nil {
			return nil, fmt.Errorf("bitget: trade px: %w", err)
		}
		qty, err := ParsePrice(row.Size)
		if err != nil {
			return nil, fmt.Errorf("bitget: trade qty: %w", err)
		}
		rec := marketdata.TradeRecord{
			Symbol:       symbol,
			Price:        px,
			Qty:          qty,
			IsBuyerMaker: row.Side == "sell",
			TradeID:      ParseU64(row.TradeID),
			ExchangeTsUs: ParseI64(row.Ts) * 1000,
		}
		out = append(out, marketdata.ParsedRecord{
			Route: marketdata.RouteKey{Symbol: symbol, MessageType: marketdata.Trade, ProductType: product},
			Trade: &rec,
		})
	}
	return out, nil
}
