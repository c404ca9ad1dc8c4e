package adaptor

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/k4md/engine/internal/marketdata"
)

// ParsePrice parses a venue's JSON string price/qty field into the
// process's fixed-point representation, using shopspring/decimal as a
// precision-safe intermediate so large mantissas never round-trip
// through a float64.
func ParsePrice(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Mul(decimal.NewFromInt(marketdata.FixedScale)).Round(0).IntPart(), nil
}

// OKXSpotSymbol translates a Binance-style concatenated symbol
// ("BTCUSDT") into OKX's hyphenated spot instrument id ("BTC-USDT").
// Only the quote currencies in knownQuotes (USDT, USDC, BUSD, BTC, ETH)
// are recognized; an
// unrecognized quote currency returns ok=false rather than guessing a
// split point.
func OKXSpotSymbol(symbol string) (string, bool) {
	base, quote, ok := splitQuote(symbol)
	if !ok {
		return "", false
	}
	return base + "-" + quote, true
}

// OKXSwapSymbol translates a concatenated symbol into OKX's perpetual
// swap instrument id ("BTC-USDT-SWAP").
func OKXSwapSymbol(symbol string) (string, bool) {
	spot, ok := OKXSpotSymbol(symbol)
	if !ok {
		return "", false
	}
	return spot + "-SWAP", true
}

var knownQuotes = []string{"USDT", "USDC", "BUSD", "BTC", "ETH"}

func splitQuote(symbol string) (base, quote string, ok bool) {
	upper := strings.ToUpper(symbol)
	for _, q := range knownQuotes {
		if strings.HasSuffix(upper, q) && len(upper) > len(q) {
			return upper[:len(upper)-len(q)], q, true
		}
	}
	return "", "", false
}

// ParseI64 parses a decimal integer string, returning 0 on a malformed
// input rather than erroring — used for venue timestamp fields that are
// defensively treated as best-effort.
func ParseI64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseU64 is ParseI64's unsigned counterpart, used for venue trade id
// fields.
func ParseU64(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
