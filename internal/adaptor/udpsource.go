package adaptor

import (
	"fmt"
	"net"

	"github.com/k4md/engine/internal/marketdata"
	"github.com/k4md/engine/internal/udppub"
)

// UDPSourceName is the exchange identifier (config `"exchange":"udp"`)
// selecting this adaptor. Unlike the WebSocket venues, a UDP source has
// no redundancy and no dedup: it trusts the upstream process (typically
// another instance of this engine, forwarding via udppub.Publisher) to
// have already deduplicated, and copies each datagram's payload straight
// into the target SHM ring.
const UDPSourceName = "udp"

// BuildUDPSource describes the UDP source for the configured local
// address; it opens no socket itself (the pipeline does, via ListenUDP).
// It returns a single StreamDef whose Parse decodes datagrams using the
// same fixed header udppub.Publisher writes and expects raw
// datagram bytes rather than WebSocket frames — the pipeline recognizes
// exchange=="udp" and routes it through a UDP listener instead of
// wsconn/redundantws.
func BuildUDPSource(cfg ConnectionConfig, listenAddr string) ([]StreamDef, error) {
	return []StreamDef{{
		Name:        "udpsource",
		URL:         listenAddr,
		ProductType: marketdata.SpotLike, // overridden per-datagram from the decoded header
		Redundancy:  1,
		CPUAffinity: cfg.CPUAffinity,
		Parse:       parseUDPSource,
	}}, nil
}

// parseUDPSource decodes the fixed header and wraps the remaining bytes
// as an opaque record the pipeline writes verbatim to SHM — there is
// nothing to normalize, since the upstream process already normalized it.
func parseUDPSource(datagram []byte) ([]marketdata.ParsedRecord, error) {
	_, msgType, prodType, symbol, payload, ok := udppub.DecodeHeader(datagram)
	if !ok {
		return nil, fmt.Errorf("udpsource: malformed datagram (%d bytes)", len(datagram))
	}
	if symbol == "" {
		return nil, fmt.Errorf("udpsource: datagram carries no symbol")
	}
	return []marketdata.ParsedRecord{{
		Route: marketdata.RouteKey{
			Symbol:      symbol,
			MessageType: marketdata.MessageType(msgType),
			ProductType: marketdata.ProductType(prodType),
		},
		RawPayload: payload,
	}}, nil
}

// ListenUDP opens a UDP listener on addr for the UDP source adaptor; the
// pipeline calls it when it starts a UDP source stream.
func ListenUDP(addr string) (*net.UDPConn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udpsource: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("udpsource: listen %s: %w", addr, err)
	}
	return conn, nil
}
