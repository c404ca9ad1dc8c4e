package adaptor

import (
	"encoding/json"
	"fmt"

	"github.com/k4md/engine/internal/marketdata"
)

const okxWSURL = "wss://ws.okx.com:8443/ws/v5/public"

// BuildOKX constructs one StreamDef per product type, each subscribing to
// bbo-tbt, trades, and books5 channels for every configured symbol. OKX
// multiplexes all channels over one connection and tags frames with
// arg.channel, so Parse routes on that field rather than on a
// per-StreamDef message type.
func BuildOKX(cfg ConnectionConfig) ([]StreamDef, error) {
	var defs []StreamDef
	for _, product := range selectedProducts(cfg) {
		args := make([]okxSubArg, 0, len(cfg.Symbols)*3)
		instByName := make(map[string]string, len(cfg.Symbols))
		for _, sym := range cfg.Symbols {
			inst, ok := okxInstID(sym, product)
			if !ok {
				continue
			}
			instByName[inst] = sym
			args = append(args,
				okxSubArg{Channel: "bbo-tbt", InstID: inst},
				okxSubArg{Channel: "trades", InstID: inst},
				okxSubArg{Channel: "books5", InstID: inst},
			)
		}
		payload, err := json.Marshal(okxSubRequest{Op: "subscribe", Args: args})
		if err != nil {
			return nil, fmt.Errorf("okx: marshal subscribe: %w", err)
		}

		defs = append(defs, StreamDef{
			Name:             "okx-" + product.String(),
			URL:              okxWSURL,
			SubscribePayload: payload,
			ProductType:      product,
			Redundancy:       cfg.Redundancy,
			CPUAffinity:      cfg.CPUAffinity,
			UDPEnabled:       cfg.UDPSender,
			Parse:            parseOKX(instByName, product),
		})
	}
	return defs, nil
}

func okxInstID(symbol string, product marketdata.ProductType) (string, bool) {
	switch product {
	case marketdata.SpotLike:
		return OKXSpotSymbol(symbol)
	case marketdata.LinearFutures:
		return OKXSwapSymbol(symbol)
	default:
		return "", false
	}
}

type okxSubArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type okxSubRequest struct {
	Op   string      `json:"op"`
	Args []okxSubArg `json:"args"`
}

type okxEnvelope struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data json.RawMessage `json:"data"`
}

type okxBBOLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

// UnmarshalJSON decodes OKX's positional level array ["px", "sz", ...].
func (l *okxBBOLevel) UnmarshalJSON(b []byte) error {
	var row []string
	if err := json.Unmarshal(b, &row); err != nil {
		return err
	}
	if len(row) < 2 {
		return fmt.Errorf("okx: level has %d fields, want at least 2", len(row))
	}
	l.Px, l.Sz = row[0], row[1]
	return nil
}

type okxBBOData struct {
	Bids []okxBBOLevel `json:"bids"`
	Asks []okxBBOLevel `json:"asks"`
	TS   string        `json:"ts"`
	SeqID int64        `json:"seqId"`
}

type okxTradeData struct {
	Px    string `json:"px"`
	Sz    string `json:"sz"`
	Side  string `json:"side"`
	TS    string `json:"ts"`
	TradeID string `json:"tradeId"`
}

type okxBooks5Data struct {
	Bids []okxBBOLevel `json:"bids"`
	Asks []okxBBOLevel `json:"asks"`
	TS   string        `json:"ts"`
	SeqID int64        `json:"seqId"`
}

func parseOKX(instByName map[string]string, product marketdata.ProductType) func([]byte) ([]marketdata.ParsedRecord, error) {
	return func(frame []byte) ([]marketdata.ParsedRecord, error) {
		var env okxEnvelope
		if err := json.Unmarshal(frame, &env); err != nil {
			return nil, fmt.Errorf("okx: decode envelope: %w", err)
		}
		symbol, ok := instByName[env.Arg.InstID]
		if !ok {
			return nil, nil // event/login/error frame, or an instrument we didn't subscribe
		}

		switch env.Arg.Channel {
		case "bbo-tbt":
			return parseOKXBBO(symbol, product, env.Data)
		case "trades":
			return parseOKXTrades(symbol, product, env.Data)
		case "books5":
			return parseOKXBooks5(symbol, product, env.Data)
		default:
			return nil, nil
		}
	}
}

func parseOKXBBO(symbol string, product marketdata.ProductType, raw json.RawMessage) ([]marketdata.ParsedRecord, error) {
	var rows []okxBBOData
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("okx: decode bbo-tbt: %w", err)
	}
	out := make([]marketdata.ParsedRecord, 0, len(rows))
	for _, row := range rows {
		if len(row.Bids) == 0 || len(row.Asks) == 0 {
			continue
		}
		bidPx, err := ParsePrice(row.Bids[0].Px)
		if err != nil {
			return nil, fmt.Errorf("okx: bid px: %w", err)
		}
		bidQty, err := ParsePrice(row.Bids[0].Sz)
		if err != nil {
			return nil, fmt.Errorf("okx: bid qty: %w", err)
		}
		askPx, err := ParsePrice(row.Asks[0].Px)
		if err != nil {
			return nil, fmt.Errorf("okx: ask px: %w", err)
		}
		askQty, err := ParsePrice(row.Asks[0].Sz)
		if err != nil {
			return nil, fmt.Errorf("okx: ask qty: %w", err)
		}
		rec := marketdata.Bookticker{
			Symbol:       symbol,
			BidPx:        bidPx,
			BidQty:       bidQty,
			AskPx:        askPx,
			AskQty:       askQty,
			UpdateID:     uint64(row.SeqID),
			ExchangeTsUs: ParseI64(row.TS) * 1000,
		}
		out = append(out, marketdata.ParsedRecord{
			Route:      marketdata.RouteKey{Symbol: symbol, MessageType: marketdata.BBO, ProductType: product},
			Bookticker: &rec,
		})
	}
	return out, nil
}

func parseOKXTrades(symbol string, product marketdata.ProductType, raw json.RawMessage) ([]marketdata.ParsedRecord, error) {
	var rows []okxTradeData
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("okx: decode trades: %w", err)
	}
	out := make([]marketdata.ParsedRecord, 0, len(rows))
	for _, row := range rows {
		px, err := ParsePrice(row.Px)
		if err != nil {
			return nil, fmt.Errorf("okx: trade px: %w", err)
		}
		qty, err := ParsePrice(row.Sz)
		if err != nil {
			return nil, fmt.Errorf("okx: trade qty: %w", err)
		}
		rec := marketdata.TradeRecord{
			Symbol:       symbol,
			Price:        px,
			Qty:          qty,
			IsBuyerMaker: row.Side == "sell",
			TradeID:      ParseU64(row.TradeID),
			ExchangeTsUs: ParseI64(row.TS) * 1000,
		}
		out = append(out, marketdata.ParsedRecord{
			Route: marketdata.RouteKey{Symbol: symbol, MessageType: marketdata.Trade, ProductType: product},
			Trade: &rec,
		})
	}
	return out, nil
}

func parseOKXBooks5(symbol string, product marketdata.ProductType, raw json.RawMessage) ([]marketdata.ParsedRecord, error) {
	var rows []okxBooks5Data
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("okx: decode books5: %w", err)
	}
	out := make([]marketdata.ParsedRecord, 0, len(rows))
	for _, row := range rows {
		var rec marketdata.Depth5Record
		rec.Symbol = symbol
		rec.UpdateID = uint64(row.SeqID)
		rec.ExchangeTsUs = ParseI64(row.TS) * 1000
		if err := fillLevels(&rec.Bids, row.Bids); err != nil {
			return nil, fmt.Errorf("okx: bid levels: %w", err)
		}
		if err := fillLevels(&rec.Asks, row.Asks); err != nil {
			return nil, fmt.Errorf("okx: ask levels: %w", err)
		}
		out = append(out, marketdata.ParsedRecord{
			Route:  marketdata.RouteKey{Symbol: symbol, MessageType: marketdata.Depth5, ProductType: product},
			Depth5: &rec,
		})
	}
	return out, nil
}

func fillLevels(dst *[5]marketdata.PriceLevel, levels []okxBBOLevel) error {
	for i := 0; i < 5 && i < len(levels); i++ {
		px, err := ParsePrice(levels[i].Px)
		if err != nil {
			return err
		}
		qty, err := ParsePrice(levels[i].Sz)
		if err != nil {
			return err
		}
		dst[i] = marketdata.PriceLevel{Px: px, Qty: qty}
	}
	return nil
}
