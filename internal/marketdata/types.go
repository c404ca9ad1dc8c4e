// Package marketdata defines the venue-agnostic normalized record types
// that flow from exchange adaptors through dedup into the shared-memory
// ring store.
package marketdata

// FixedScale is the implicit decimal scale shared by every price/qty
// mantissa in the process: a mantissa of 4250000000 represents 42.5.
const FixedScale = 1e8

// ProductType selects which book a subscription targets.
type ProductType uint8

const (
	SpotLike ProductType = iota
	LinearFutures
	InverseFutures
)

func (p ProductType) String() string {
	switch p {
	case SpotLike:
		return "spot"
	case LinearFutures:
		return "linear"
	case InverseFutures:
		return "inverse"
	default:
		return "unknown"
	}
}

// MessageType identifies the shape of a normalized record.
type MessageType uint8

const (
	BBO MessageType = iota
	Trade
	AggTrade
	Depth5
)

func (m MessageType) String() string {
	switch m {
	case BBO:
		return "bbo"
	case Trade:
		return "trade"
	case AggTrade:
		return "agg_trade"
	case Depth5:
		return "depth5"
	default:
		return "unknown"
	}
}

// RouteKey identifies the SHM ring / dedup gate a record belongs to.
type RouteKey struct {
	Symbol      string
	MessageType MessageType
	ProductType ProductType
}

// Bookticker is the normalized BBO record.
type Bookticker struct {
	Symbol       string
	BidPx        int64
	BidQty       int64
	AskPx        int64
	AskQty       int64
	UpdateID     uint64
	ExchangeTsUs int64
	RecvTsUs     int64
}

// TradeRecord is the normalized trade record. TradeID is either a venue
// sequence number or, for venues that emit UUID ids (Bybit futures), the
// xxhash of the UUID bytes computed by dedup.Hash64 in the adaptor.
type TradeRecord struct {
	Symbol       string
	Price        int64
	Qty          int64
	IsBuyerMaker bool
	TradeID      uint64
	ExchangeTsUs int64
	RecvTsUs     int64
}

// AggTradeRecord extends TradeRecord with the venue's aggregation id.
type AggTradeRecord struct {
	TradeRecord
	AggID uint64
}

// PriceLevel is one side of one depth level.
type PriceLevel struct {
	Px  int64
	Qty int64
}

// Depth5Record is the normalized top-5 order book snapshot.
type Depth5Record struct {
	Symbol       string
	Bids         [5]PriceLevel
	Asks         [5]PriceLevel
	UpdateID     uint64
	ExchangeTsUs int64
	RecvTsUs     int64
}

// ParsedRecord is a tagged union over the four normalized record types,
// carrying its routing key so the pipeline can pick the dedup gate and
// SHM ring to publish into without re-deriving it from the payload.
//
// RawPayload is set instead of any of the typed fields by the UDP source
// adaptor, whose upstream process has already normalized and serialized
// the record: the pipeline writes it to SHM verbatim, skipping both parse
// and dedup.
type ParsedRecord struct {
	Route RouteKey

	Bookticker *Bookticker
	Trade      *TradeRecord
	AggTrade   *AggTradeRecord
	Depth5     *Depth5Record
	RawPayload []byte
}

// DedupKey returns the value the pipeline gates this record on: the
// update_id for sequence-gated streams, or the (already-hashed) trade id
// for hash-gated ones. ok is false for record types that carry neither
// (callers should not reach this case for a well-formed StreamDef).
func (r *ParsedRecord) DedupKey() (uint64, bool) {
	switch {
	case r.Bookticker != nil:
		return r.Bookticker.UpdateID, true
	case r.Depth5 != nil:
		return r.Depth5.UpdateID, true
	case r.AggTrade != nil:
		return r.AggTrade.AggID, true
	case r.Trade != nil:
		return r.Trade.TradeID, true
	default:
		return 0, false
	}
}

// RecvTsUs returns the receive timestamp common to every record variant.
func (r *ParsedRecord) RecvTsUs() int64 {
	switch {
	case r.Bookticker != nil:
		return r.Bookticker.RecvTsUs
	case r.Depth5 != nil:
		return r.Depth5.RecvTsUs
	case r.AggTrade != nil:
		return r.AggTrade.RecvTsUs
	case r.Trade != nil:
		return r.Trade.RecvTsUs
	default:
		return 0
	}
}

// ExchangeTsUs returns the exchange timestamp common to every record variant.
func (r *ParsedRecord) ExchangeTsUs() int64 {
	switch {
	case r.Bookticker != nil:
		return r.Bookticker.ExchangeTsUs
	case r.Depth5 != nil:
		return r.Depth5.ExchangeTsUs
	case r.AggTrade != nil:
		return r.AggTrade.ExchangeTsUs
	case r.Trade != nil:
		return r.Trade.ExchangeTsUs
	default:
		return 0
	}
}
