// Package adaptor defines the data-driven contract every exchange
// integration satisfies to plug into the pipeline: a Build function that
// turns connection config into a set of StreamDefs, each carrying its own
// URL, subscribe payload, and parse function. The pipeline never imports
// an adaptor's internals; it calls the Build functions, StreamDef.Parse,
// and, for the UDP source, ListenUDP.
package adaptor

import "github.com/k4md/engine/internal/marketdata"

// StreamDef describes one WebSocket (or UDP) stream an exchange exposes:
// where to connect, what to send on connect, how to decode frames, and
// which dedup/SHM routing a parsed record belongs to by default.
//
// StreamDef is immutable once built; Parse must not retain or mutate its
// input slice across calls other than by copying out the fields it needs.
type StreamDef struct {
	Name             string
	URL              string
	SubscribePayload []byte
	MessageType      marketdata.MessageType
	ProductType      marketdata.ProductType

	// Redundancy is the number of independent WebSocket connections to
	// open against URL for this stream.
	Redundancy int

	// CPUAffinity, if non-negative, pins this stream's dedup worker to
	// the given OS CPU core.
	CPUAffinity int

	// UDPEnabled mirrors the connection's udp_sender configuration for
	// this stream.
	UDPEnabled bool

	// Parse decodes one raw frame into zero or more normalized records.
	// A frame that doesn't carry market data for this stream (e.g. a
	// venue heartbeat or ack) yields zero records, not an error.
	Parse func(frame []byte) ([]marketdata.ParsedRecord, error)
}

// Build constructs the StreamDefs an exchange adaptor contributes for a
// given connection configuration. It is the only surface the pipeline
// depends on; everything else about an exchange is adaptor-internal.
type Build func(cfg ConnectionConfig) ([]StreamDef, error)

// ConnectionConfig is the subset of the engine's configuration an adaptor
// needs to build its StreamDefs: which symbols and product types to
// subscribe, and transport-level knobs. It mirrors one entry of the
// config file's connections array.
type ConnectionConfig struct {
	Exchange      string
	Symbols       []string
	Spot          bool
	Futures       bool
	InverseFuture bool
	MDSize        int
	Redundancy    int
	CPUAffinity   int
	UDPSender     bool
}
