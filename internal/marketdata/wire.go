package marketdata

import "unsafe"

// The four slot types below are the fixed-layout, cache-line-sized records
// that cross process boundaries: they are written verbatim into SHM ring
// buffers and sent whole, after the UDP datagram header, as the payload
// of UDP datagrams. Field order is deliberate —
// largest-alignment fields first, explicit reserved padding at the end —
// so the Go struct's in-memory layout already matches the documented wire
// layout and no separate marshal step is needed on the hot path.

// BBOSlot is the 64-byte wire layout for a BBO record.
type BBOSlot struct {
	UpdateID     uint64
	ExchangeTsUs uint64
	RecvTsUs     uint64
	BidPx        int64
	BidQty       int64
	AskPx        int64
	AskQty       int64
	SymbolID     uint16
	MessageType  uint8
	ProductType  uint8
	_            [4]byte
}

// TradeSlot is the 64-byte wire layout for a Trade record.
type TradeSlot struct {
	TradeID      uint64
	ExchangeTsUs uint64
	RecvTsUs     uint64
	Price        int64
	Qty          int64
	SymbolID     uint16
	MessageType  uint8
	ProductType  uint8
	IsBuyerMaker uint8
	_            [19]byte
}

// AggTradeSlot is the 64-byte wire layout for an AggTrade record.
type AggTradeSlot struct {
	TradeID      uint64
	AggID        uint64
	ExchangeTsUs uint64
	RecvTsUs     uint64
	Price        int64
	Qty          int64
	SymbolID     uint16
	MessageType  uint8
	ProductType  uint8
	IsBuyerMaker uint8
	_            [11]byte
}

// PriceLevelWire is one side of one depth level, 16 bytes.
type PriceLevelWire struct {
	Px  int64
	Qty int64
}

// Depth5Slot is the 192-byte (3 cache lines) wire layout for a Depth5 record.
type Depth5Slot struct {
	UpdateID     uint64
	ExchangeTsUs uint64
	RecvTsUs     uint64
	Bids         [5]PriceLevelWire
	Asks         [5]PriceLevelWire
	SymbolID     uint16
	MessageType  uint8
	ProductType  uint8
	_            [4]byte
}

const (
	BBOSlotSize      = int(unsafe.Sizeof(BBOSlot{}))
	TradeSlotSize    = int(unsafe.Sizeof(TradeSlot{}))
	AggTradeSlotSize = int(unsafe.Sizeof(AggTradeSlot{}))
	Depth5SlotSize   = int(unsafe.Sizeof(Depth5Slot{}))
)

func init() {
	mustBeCacheLineMultiple("BBOSlot", BBOSlotSize)
	mustBeCacheLineMultiple("TradeSlot", TradeSlotSize)
	mustBeCacheLineMultiple("AggTradeSlot", AggTradeSlotSize)
	mustBeCacheLineMultiple("Depth5Slot", Depth5SlotSize)
}

func mustBeCacheLineMultiple(name string, size int) {
	if size%64 != 0 {
		panic(name + " is not a multiple of the 64-byte cache line: " + itoa(size))
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// AsBytes reinterprets a pointer to any of the slot types above as its raw
// wire bytes, with no copy. The pointer must outlive the returned slice.
func AsBytes[T any](slot *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(slot)), unsafe.Sizeof(*slot))
}

// BookTickerToSlot converts a normalized Bookticker into its wire slot.
func BookTickerToSlot(b *Bookticker, symbolID uint16, product ProductType) BBOSlot {
	return BBOSlot{
		UpdateID:     b.UpdateID,
		ExchangeTsUs: uint64(b.ExchangeTsUs),
		RecvTsUs:     uint64(b.RecvTsUs),
		BidPx:        b.BidPx,
		BidQty:       b.BidQty,
		AskPx:        b.AskPx,
		AskQty:       b.AskQty,
		SymbolID:     symbolID,
		MessageType:  uint8(BBO),
		ProductType:  uint8(product),
	}
}

// TradeToSlot converts a normalized TradeRecord into its wire slot.
func TradeToSlot(t *TradeRecord, symbolID uint16, product ProductType) TradeSlot {
	var buyerMaker uint8
	if t.IsBuyerMaker {
		buyerMaker = 1
	}
	return TradeSlot{
		TradeID:      t.TradeID,
		ExchangeTsUs: uint64(t.ExchangeTsUs),
		RecvTsUs:     uint64(t.RecvTsUs),
		Price:        t.Price,
		Qty:          t.Qty,
		SymbolID:     symbolID,
		MessageType:  uint8(Trade),
		ProductType:  uint8(product),
		IsBuyerMaker: buyerMaker,
	}
}

// AggTradeToSlot converts a normalized AggTradeRecord into its wire slot.
func AggTradeToSlot(t *AggTradeRecord, symbolID uint16, product ProductType) AggTradeSlot {
	var buyerMaker uint8
	if t.IsBuyerMaker {
		buyerMaker = 1
	}
	return AggTradeSlot{
		TradeID:      t.TradeID,
		AggID:        t.AggID,
		ExchangeTsUs: uint64(t.ExchangeTsUs),
		RecvTsUs:     uint64(t.RecvTsUs),
		Price:        t.Price,
		Qty:          t.Qty,
		SymbolID:     symbolID,
		MessageType:  uint8(AggTrade),
		ProductType:  uint8(product),
		IsBuyerMaker: buyerMaker,
	}
}

// Depth5ToSlot converts a normalized Depth5Record into its wire slot.
func Depth5ToSlot(d *Depth5Record, symbolID uint16, product ProductType) Depth5Slot {
	var slot Depth5Slot
	slot.UpdateID = d.UpdateID
	slot.ExchangeTsUs = uint64(d.ExchangeTsUs)
	slot.RecvTsUs = uint64(d.RecvTsUs)
	for i := 0; i < 5; i++ {
		slot.Bids[i] = PriceLevelWire{Px: d.Bids[i].Px, Qty: d.Bids[i].Qty}
		slot.Asks[i] = PriceLevelWire{Px: d.Asks[i].Px, Qty: d.Asks[i].Qty}
	}
	slot.SymbolID = symbolID
	slot.MessageType = uint8(Depth5)
	slot.ProductType = uint8(product)
	return slot
}
