// Binance exposes two independent transports for the streams this engine
// needs: a JSON transport for aggTrade, and Simple Binary Encoding (SBE)
// for bookTicker, trade, and depth5. Spot, linear futures (USD-M), and
// inverse futures (COIN-M) select different base URLs but share the same
// wire formats.
package adaptor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/k4md/engine/internal/marketdata"
)

const (
	binanceSpotWSURL    = "wss://stream.binance.com:9443/stream"
	binanceLinearWSURL  = "wss://fstream.binance.com/stream"
	binanceInverseWSURL = "wss://dstream.binance.com/stream"

	binanceSBESpotURL    = "wss://stream-sbe.binance.com:9443/stream"
	binanceSBELinearURL  = "wss://fstream-sbe.binance.com/stream"
	binanceSBEInverseURL = "wss://dstream-sbe.binance.com/stream"
)

// SBE template ids identifying which fixed-layout struct follows the
// frame header.
const (
	sbeTemplateBestBidAsk  uint16 = 1
	sbeTemplateTrade       uint16 = 2
	sbeTemplateDepthDiff   uint16 = 3
)

// sbeHeaderSize is Binance's standard SBE message header: blockLength(u16
// LE), templateId(u16 LE), schemaId(u16 LE), version(u16 LE).
const sbeHeaderSize = 8

// BuildBinance constructs Binance StreamDefs for the configured symbols:
// one SBE stream for bookTicker+trade+depth5 and one JSON stream for
// aggTrade, per product type requested.
func BuildBinance(cfg ConnectionConfig) ([]StreamDef, error) {
	var defs []StreamDef
	products := selectedProducts(cfg)

	for _, product := range products {
		symMap := make(map[uint16]string, len(cfg.Symbols))
		lowerStreams := make([]string, 0, len(cfg.Symbols))
		sbeStreams := make([]string, 0, len(cfg.Symbols))
		for i, sym := range cfg.Symbols {
			id := uint16(i + 1)
			symMap[id] = sym
			lowerStreams = append(lowerStreams, strings.ToLower(sym)+"@aggTrade")
			sbeStreams = append(sbeStreams, strings.ToLower(sym)+"@bestBidAsk", strings.ToLower(sym)+"@trade", strings.ToLower(sym)+"@depth5")
		}

		symbolIDs := buildNameToID(symMap)

		defs = append(defs, StreamDef{
			Name:        "binance-aggtrade-" + product.String(),
			URL:         jsonURL(product) + "?streams=" + strings.Join(lowerStreams, "/"),
			MessageType: marketdata.AggTrade,
			ProductType: product,
			Redundancy:  cfg.Redundancy,
			CPUAffinity: cfg.CPUAffinity,
			UDPEnabled:  cfg.UDPSender,
			Parse:       parseBinanceAggTrade(product),
		})

		defs = append(defs, StreamDef{
			Name:        "binance-sbe-" + product.String(),
			URL:         sbeURL(product) + "?streams=" + strings.Join(sbeStreams, "/"),
			MessageType: marketdata.BBO, // mixed-content stream; Parse re-tags per frame
			ProductType: product,
			Redundancy:  cfg.Redundancy,
			CPUAffinity: cfg.CPUAffinity,
			UDPEnabled:  cfg.UDPSender,
			Parse:       parseBinanceSBE(symbolIDs, product),
		})
	}
	return defs, nil
}

func selectedProducts(cfg ConnectionConfig) []marketdata.ProductType {
	var out []marketdata.ProductType
	if cfg.Spot {
		out = append(out, marketdata.SpotLike)
	}
	if cfg.Futures {
		out = append(out, marketdata.LinearFutures)
	}
	if cfg.InverseFuture {
		out = append(out, marketdata.InverseFutures)
	}
	return out
}

func jsonURL(p marketdata.ProductType) string {
	switch p {
	case marketdata.LinearFutures:
		return binanceLinearWSURL
	case marketdata.InverseFutures:
		return binanceInverseWSURL
	default:
		return binanceSpotWSURL
	}
}

func sbeURL(p marketdata.ProductType) string {
	switch p {
	case marketdata.LinearFutures:
		return binanceSBELinearURL
	case marketdata.InverseFutures:
		return binanceSBEInverseURL
	default:
		return binanceSBESpotURL
	}
}

func buildNameToID(idToName map[uint16]string) map[string]uint16 {
	out := make(map[string]uint16, len(idToName))
	for id, name := range idToName {
		out[strings.ToUpper(name)] = id
	}
	return out
}

type binanceAggTradeEnvelope struct {
	Stream string              `json:"stream"`
	Data   binanceAggTradeData `json:"data"`
}

type binanceAggTradeData struct {
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	AggID        int64  `json:"a"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// parseBinanceAggTrade returns a Parse closure bound to the product type
// the stream was built for, since the aggTrade JSON payload itself carries
// no product-type discriminator.
func parseBinanceAggTrade(product marketdata.ProductType) func([]byte) ([]marketdata.ParsedRecord, error) {
	return func(frame []byte) ([]marketdata.ParsedRecord, error) {
		var env binanceAggTradeEnvelope
		if err := json.Unmarshal(frame, &env); err != nil {
			return nil, fmt.Errorf("binance: decode aggTrade: %w", err)
		}
		if env.Data.Symbol == "" {
			return nil, nil // subscription ack or unrelated control frame
		}

		price, err := ParsePrice(env.Data.Price)
		if err != nil {
			return nil, fmt.Errorf("binance: parse price: %w", err)
		}
		qty, err := ParsePrice(env.Data.Qty)
		if err != nil {
			return nil, fmt.Errorf("binance: parse qty: %w", err)
		}

		rec := marketdata.AggTradeRecord{
			TradeRecord: marketdata.TradeRecord{
				Symbol:       env.Data.Symbol,
				Price:        price,
				Qty:          qty,
				IsBuyerMaker: env.Data.IsBuyerMaker,
				TradeID:      uint64(env.Data.LastTradeID),
				ExchangeTsUs: env.Data.TradeTime * 1000,
			},
			AggID: uint64(env.Data.AggID),
		}
		return []marketdata.ParsedRecord{{
			Route:    marketdata.RouteKey{Symbol: rec.Symbol, MessageType: marketdata.AggTrade, ProductType: product},
			AggTrade: &rec,
		}}, nil
	}
}

// parseBinanceSBE returns a Parse closure bound to the symbol-id table and
// product type negotiated when the stream was built, since the raw SBE
// frame carries only a numeric symbol id.
func parseBinanceSBE(symbolIDs map[string]uint16, product marketdata.ProductType) func([]byte) ([]marketdata.ParsedRecord, error) {
	idToName := make(map[uint16]string, len(symbolIDs))
	for name, id := range symbolIDs {
		idToName[id] = name
	}
	return func(frame []byte) ([]marketdata.ParsedRecord, error) {
		return decodeBinanceSBE(frame, idToName, product)
	}
}

func decodeBinanceSBE(frame []byte, idToName map[uint16]string, product marketdata.ProductType) ([]marketdata.ParsedRecord, error) {
	if len(frame) < sbeHeaderSize {
		return nil, fmt.Errorf("binance: sbe frame shorter than header (%d bytes)", len(frame))
	}
	templateID := binary.LittleEndian.Uint16(frame[2:4])
	body := frame[sbeHeaderSize:]

	switch templateID {
	case sbeTemplateBestBidAsk:
		return decodeSBEBestBidAsk(body, idToName, product)
	case sbeTemplateTrade:
		return decodeSBETrade(body, idToName, product)
	case sbeTemplateDepthDiff:
		return decodeSBEDepth5(body, idToName, product)
	default:
		return nil, nil // unknown/uninteresting template, drop silently
	}
}

// sbeBestBidAskBody: symbolId(u16) bidPxMantissa(i64) bidPxExp(i8)
// bidQtyMantissa(i64) bidQtyExp(i8) askPxMantissa(i64) askPxExp(i8)
// askQtyMantissa(i64) askQtyExp(i8) updateId(u64) eventTimeUs(u64).
const sbeBestBidAskBodySize = 2 + (8+1)*4 + 8 + 8

func decodeSBEBestBidAsk(body []byte, idToName map[uint16]string, product marketdata.ProductType) ([]marketdata.ParsedRecord, error) {
	if len(body) < sbeBestBidAskBodySize {
		return nil, fmt.Errorf("binance: sbe bestBidAsk body too short (%d bytes)", len(body))
	}
	off := 0
	symbolID := binary.LittleEndian.Uint16(body[off:])
	off += 2
	bidPx, off, err := readSBEDecimal(body, off)
	if err != nil {
		return nil, err
	}
	bidQty, off, err := readSBEDecimal(body, off)
	if err != nil {
		return nil, err
	}
	askPx, off, err := readSBEDecimal(body, off)
	if err != nil {
		return nil, err
	}
	askQty, off, err := readSBEDecimal(body, off)
	if err != nil {
		return nil, err
	}
	updateID := binary.LittleEndian.Uint64(body[off:])
	off += 8
	eventTimeUs := binary.LittleEndian.Uint64(body[off:])

	name, ok := idToName[symbolID]
	if !ok {
		return nil, nil
	}

	rec := marketdata.Bookticker{
		Symbol:       name,
		BidPx:        bidPx,
		BidQty:       bidQty,
		AskPx:        askPx,
		AskQty:       askQty,
		UpdateID:     updateID,
		ExchangeTsUs: int64(eventTimeUs),
	}
	return []marketdata.ParsedRecord{{
		Route:      marketdata.RouteKey{Symbol: name, MessageType: marketdata.BBO, ProductType: product},
		Bookticker: &rec,
	}}, nil
}

// sbeTradeBody: symbolId(u16) tradeId(u64) priceMantissa(i64) priceExp(i8)
// qtyMantissa(i64) qtyExp(i8) isBuyerMaker(u8) eventTimeUs(u64).
const sbeTradeBodySize = 2 + 8 + (8+1)*2 + 1 + 8

func decodeSBETrade(body []byte, idToName map[uint16]string, product marketdata.ProductType) ([]marketdata.ParsedRecord, error) {
	if len(body) < sbeTradeBodySize {
		return nil, fmt.Errorf("binance: sbe trade body too short (%d bytes)", len(body))
	}
	off := 0
	symbolID := binary.LittleEndian.Uint16(body[off:])
	off += 2
	tradeID := binary.LittleEndian.Uint64(body[off:])
	off += 8
	price, off, err := readSBEDecimal(body, off)
	if err != nil {
		return nil, err
	}
	qty, off, err := readSBEDecimal(body, off)
	if err != nil {
		return nil, err
	}
	isBuyerMaker := body[off] != 0
	off++
	eventTimeUs := binary.LittleEndian.Uint64(body[off:])

	name, ok := idToName[symbolID]
	if !ok {
		return nil, nil
	}

	rec := marketdata.TradeRecord{
		Symbol:       name,
		Price:        price,
		Qty:          qty,
		IsBuyerMaker: isBuyerMaker,
		TradeID:      tradeID,
		ExchangeTsUs: int64(eventTimeUs),
	}
	return []marketdata.ParsedRecord{{
		Route: marketdata.RouteKey{Symbol: name, MessageType: marketdata.Trade, ProductType: product},
		Trade: &rec,
	}}, nil
}

// sbeDepthDiffBody: symbolId(u16) updateId(u64) 5×(bidPxMantissa(i64)
// bidPxExp(i8) bidQtyMantissa(i64) bidQtyExp(i8)) 5×(ask equivalent)
// eventTimeUs(u64).
const sbeDepthLevelSize = (8 + 1) * 2
const sbeDepthDiffBodySize = 2 + 8 + sbeDepthLevelSize*10 + 8

func decodeSBEDepth5(body []byte, idToName map[uint16]string, product marketdata.ProductType) ([]marketdata.ParsedRecord, error) {
	if len(body) < sbeDepthDiffBodySize {
		return nil, fmt.Errorf("binance: sbe depth5 body too short (%d bytes)", len(body))
	}
	off := 0
	symbolID := binary.LittleEndian.Uint16(body[off:])
	off += 2
	updateID := binary.LittleEndian.Uint64(body[off:])
	off += 8

	var rec marketdata.Depth5Record
	for i := 0; i < 5; i++ {
		var px, qty int64
		var err error
		px, off, err = readSBEDecimal(body, off)
		if err != nil {
			return nil, err
		}
		qty, off, err = readSBEDecimal(body, off)
		if err != nil {
			return nil, err
		}
		rec.Bids[i] = marketdata.PriceLevel{Px: px, Qty: qty}
	}
	for i := 0; i < 5; i++ {
		var px, qty int64
		var err error
		px, off, err = readSBEDecimal(body, off)
		if err != nil {
			return nil, err
		}
		qty, off, err = readSBEDecimal(body, off)
		if err != nil {
			return nil, err
		}
		rec.Asks[i] = marketdata.PriceLevel{Px: px, Qty: qty}
	}
	eventTimeUs := binary.LittleEndian.Uint64(body[off:])

	name, ok := idToName[symbolID]
	if !ok {
		return nil, nil
	}
	rec.Symbol = name
	rec.UpdateID = updateID
	rec.ExchangeTsUs = int64(eventTimeUs)

	return []marketdata.ParsedRecord{{
		Route:  marketdata.RouteKey{Symbol: name, MessageType: marketdata.Depth5, ProductType: product},
		Depth5: &rec,
	}}, nil
}

// readSBEDecimal reads an {mantissa: i64, exponent: i8} pair at off and
// returns the value scaled into the process's fixed-point representation,
// plus the offset past the field.
func readSBEDecimal(body []byte, off int) (int64, int, error) {
	mantissa := int64(binary.LittleEndian.Uint64(body[off:]))
	off += 8
	exponent := int8(body[off])
	off++
	v, err := sbeDecimalToFixed(mantissa, exponent)
	return v, off, err
}

// tenPowCache memoizes 10^n for the small set of exponents SBE decimals
// actually use. Every product type's SBE stream runs on its own dedup
// worker goroutine, so access is mutex-guarded rather than relying on the
// single-writer-per-symbol invariant that holds elsewhere in the pipeline.
var (
	tenPowMu    sync.Mutex
	tenPowCache = map[int]*big.Int{}
)

func tenPow(n int) *big.Int {
	tenPowMu.Lock()
	defer tenPowMu.Unlock()
	if v, ok := tenPowCache[n]; ok {
		return v
	}
	v := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	tenPowCache[n] = v
	return v
}

// sbeDecimalToFixed applies the venue's documented rule: decoded value =
// mantissa * 10^exponent, rescaled directly into the process's
// marketdata.FixedScale (1e8) fixed-point units, i.e. multiplied by
// 10^(exponent+8). math/big avoids overflow for the large intermediate
// magnitudes this can produce before the final range check back to int64.
func sbeDecimalToFixed(mantissa int64, exponent int8) (int64, error) {
	const fixedScaleExponent = 8 // marketdata.FixedScale == 1e8
	power := int(exponent) + fixedScaleExponent
	m := big.NewInt(mantissa)
	var scaled *big.Int
	if power >= 0 {
		scaled = new(big.Int).Mul(m, tenPow(power))
	} else {
		scaled = new(big.Int).Quo(m, tenPow(-power))
	}
	if !scaled.IsInt64() {
		return 0, fmt.Errorf("binance: sbe decimal mantissa=%d exponent=%d overflows int64 at 1e8 scale", mantissa, exponent)
	}
	return scaled.Int64(), nil
}
