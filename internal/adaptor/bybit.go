package adaptor

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/k4md/engine/internal/dedup"
	"github.com/k4md/engine/internal/marketdata"
)

const bybitWSURL = "wss://stream.bybit.com/v5/public/linear"

// BuildBybit constructs one StreamDef per product type, subscribing to
// publicTrade and orderbook.50 for every configured symbol. Depth5 is not
// published directly by Bybit; it is derived by maintaining a local
// 50-level book and re-emitting the top 5 whenever a delta touches them.
func BuildBybit(cfg ConnectionConfig) ([]StreamDef, error) {
	var defs []StreamDef
	for _, product := range selectedProducts(cfg) {
		if product != marketdata.LinearFutures {
			continue // this engine only wires Bybit's linear perpetual venue
		}
		args := make([]string, 0, len(cfg.Symbols)*2)
		for _, sym := range cfg.Symbols {
			args = append(args, "publicTrade."+sym, "orderbook.50."+sym)
		}
		payload, err := json.Marshal(bybitSubRequest{Op: "subscribe", Args: args})
		if err != nil {
			return nil, fmt.Errorf("bybit: marshal subscribe: %w", err)
		}

		books := newBybitBookSet()
		defs = append(defs, StreamDef{
			Name:             "bybit-" + product.String(),
			URL:              bybitWSURL,
			SubscribePayload: payload,
			ProductType:      product,
			Redundancy:       cfg.Redundancy,
			CPUAffinity:      cfg.CPUAffinity,
			UDPEnabled:       cfg.UDPSender,
			Parse:            parseBybit(product, books),
		})
	}
	return defs, nil
}

type bybitSubRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type bybitEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

type bybitTrade struct {
	Timestamp int64  `json:"T"`
	Symbol    string `json:"s"`
	Side      string `json:"S"`
	Qty       string `json:"v"`
	Price     string `json:"p"`
	TradeID   string `json:"i"`
}

type bybitOrderbookData struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"` // [price, qty]; qty "0" deletes the level
	Asks     [][]string `json:"a"`
	UpdateID uint64     `json:"u"`
}

func parseBybit(product marketdata.ProductType, books *bybitBookSet) func([]byte) ([]marketdata.ParsedRecord, error) {
	return func(frame []byte) ([]marketdata.ParsedRecord, error) {
		var env bybitEnvelope
		if err := json.Unmarshal(frame, &env); err != nil {
			return nil, fmt.Errorf("bybit: decode envelope: %w", err)
		}
		switch {
		case strings.HasPrefix(env.Topic, "publicTrade."):
			return parseBybitTrades(env.Data, product)
		case strings.HasPrefix(env.Topic, "orderbook.50."):
			return applyBybitOrderbook(env.Type, env.Data, product, books)
		default:
			return nil, nil // subscription ack, pong, or unrelated topic
		}
	}
}

// parseBybitTrades hashes each UUID trade id with the same non-cryptographic
// hash the pipeline's id-hash dedup gate uses, so TradeRecord.TradeID is
// already the value the worker will gate on (spec's "trade_id (u64 or
// hashed)"). Deduplication itself happens once, in the pipeline worker.
func parseBybitTrades(raw json.RawMessage, product marketdata.ProductType) ([]marketdata.ParsedRecord, error) {
	var rows []bybitTrade
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("bybit: decode publicTrade: %w", err)
	}
	out := make([]marketdata.ParsedRecord, 0, len(rows))
	for _, row := range rows {
		px, err := ParsePrice(row.Price)
		if err != nil {
			return nil, fmt.Errorf("bybit: trade px: %w", err)
		}
		qty, err := ParsePrice(row.Qty)
		if err != nil {
			return nil, fmt.Errorf("bybit: trade qty: %w", err)
		}
		rec := marketdata.TradeRecord{
			Symbol:       row.Symbol,
			Price:        px,
			Qty:          qty,
			IsBuyerMaker: row.Side == "Sell",
			TradeID:      dedup.Hash64([]byte(row.TradeID)),
			ExchangeTsUs: row.Timestamp * 1000,
		}
		out = append(out, marketdata.ParsedRecord{
			Route: marketdata.RouteKey{Symbol: row.Symbol, MessageType: marketdata.Trade, ProductType: product},
			Trade: &rec,
		})
	}
	return out, nil
}

// bybitLevel is one resting price level in the locally maintained book.
type bybitLevel struct {
	px  int64
	qty int64
}

// bybitBook is one symbol's locally maintained 50-level book,
// reconstructed from a snapshot and kept current by deltas.
type bybitBook struct {
	bids map[int64]int64 // price -> qty
	asks map[int64]int64
}

func newBybitBook() *bybitBook {
	return &bybitBook{bids: make(map[int64]int64), asks: make(map[int64]int64)}
}

// bybitBookSet holds one book per symbol, owned exclusively by the dedup
// worker that calls Parse for this StreamDef.
type bybitBookSet struct {
	books map[string]*bybitBook
}

func newBybitBookSet() *bybitBookSet {
	return &bybitBookSet{books: make(map[string]*bybitBook)}
}

func (s *bybitBookSet) get(symbol string) *bybitBook {
	b, ok := s.books[symbol]
	if !ok {
		b = newBybitBook()
		s.books[symbol] = b
	}
	return b
}

// applyBybitOrderbook applies a snapshot or delta to the symbol's local
// book and emits a Depth5 record only when the update touched a level
// within the prior top 5 on either side, or changed the top 5 (for
// example by adding a new best level). A snapshot always emits.
func applyBybitOrderbook(msgType string, raw json.RawMessage, product marketdata.ProductType, books *bybitBookSet) ([]marketdata.ParsedRecord, error) {
	var data bybitOrderbookData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("bybit: decode orderbook: %w", err)
	}
	book := books.get(data.Symbol)

	if msgType == "snapshot" {
		book.bids = make(map[int64]int64)
		book.asks = make(map[int64]int64)
	}

	top5Before := topLevels(book.bids, true, 5)
	top5BeforeAsk := topLevels(book.asks, false, 5)

	touchedTop, err := applyLevels(book.bids, data.Bids, top5Before)
	if err != nil {
		return nil, fmt.Errorf("bybit: apply bid levels: %w", err)
	}
	touchedTopAsk, err := applyLevels(book.asks, data.Asks, top5BeforeAsk)
	if err != nil {
		return nil, fmt.Errorf("bybit: apply ask levels: %w", err)
	}

	topBids := topLevels(book.bids, true, 5)
	topAsks := topLevels(book.asks, false, 5)
	topChanged := !slices.Equal(top5Before, topBids) || !slices.Equal(top5BeforeAsk, topAsks)
	if msgType != "snapshot" && !touchedTop && !touchedTopAsk && !topChanged {
		return nil, nil
	}

	rec := marketdata.Depth5Record{
		Symbol:   data.Symbol,
		UpdateID: data.UpdateID,
	}
	for i, lvl := range topBids {
		rec.Bids[i] = marketdata.PriceLevel{Px: lvl.px, Qty: lvl.qty}
	}
	for i, lvl := range topAsks {
		rec.Asks[i] = marketdata.PriceLevel{Px: lvl.px, Qty: lvl.qty}
	}

	return []marketdata.ParsedRecord{{
		Route:  marketdata.RouteKey{Symbol: data.Symbol, MessageType: marketdata.Depth5, ProductType: product},
		Depth5: &rec,
	}}, nil
}

// applyLevels mutates side with each [price, qty] pair (qty "0" deletes
// the level) and reports whether any touched price was within
// priorTop5.
func applyLevels(side map[int64]int64, rows [][]string, priorTop5 []bybitLevel) (bool, error) {
	touchedTop := false
	for _, row := range rows {
		if len(row) != 2 {
			continue
		}
		px, err := ParsePrice(row[0])
		if err != nil {
			return false, err
		}
		qty, err := ParsePrice(row[1])
		if err != nil {
			return false, err
		}
		if qty == 0 {
			delete(side, px)
		} else {
			side[px] = qty
		}
		for _, lvl := range priorTop5 {
			if lvl.px == px {
				touchedTop = true
			}
		}
	}
	return touchedTop, nil
}

// topLevels returns up to n price levels from side, best price first
// (descending for bids, ascending for asks).
func topLevels(side map[int64]int64, bidSide bool, n int) []bybitLevel {
	out := make([]bybitLevel, 0, len(side))
	for px, qty := range side {
		out = append(out, bybitLevel{px: px, qty: qty})
	}
	if bidSide {
		sort.Slice(out, func(i, j int) bool { return out[i].px > out[j].px })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].px < out[j].px })
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}
