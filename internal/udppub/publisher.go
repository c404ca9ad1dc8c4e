// Package udppub sends normalized records as fixed-header UDP datagrams to
// a preconfigured collector address, generalizing the teacher's Unix
// socket publisher in ipc/publisher.go into a fire-and-forget, no-retry
// transport matching the engine design's latency budget.
package udppub

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/k4md/engine/internal/marketdata"
)

// HeaderSize is the fixed-size datagram header: version, message_type,
// product_type, symbol_len (1 byte each) and payload_len (2 bytes,
// big-endian). The symbol itself follows the header as symbol_len bytes,
// then the payload.
const HeaderSize = 6

// Version is the current wire header version.
const Version = uint8(1)

// MaxSymbolLen is the largest symbol name the 1-byte symbol_len field can
// carry.
const MaxSymbolLen = 0xFF

// Publisher sends one UDP datagram per record to a fixed destination. It
// has no reliability: a send that would block (EAGAIN) is silently
// dropped rather than retried, matching the engine's "never stall the
// dedup worker" latency budget.
type Publisher struct {
	conn *net.UDPConn
}

// Dial opens a UDP socket connected to addr ("host:port"). The socket is
// non-blocking at the OS level; Send never blocks the caller.
func Dial(addr string) (*Publisher, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udppub: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("udppub: dial %s: %w", addr, err)
	}
	return &Publisher{conn: conn}, nil
}

// Send encodes one datagram (fixed header plus the slot's raw wire bytes)
// and writes it. A write that would block the kernel's send buffer
// (EAGAIN/EWOULDBLOCK) is dropped silently: the caller is a dedup worker
// that must never stall on network backpressure.
func (p *Publisher) Send(messageType marketdata.MessageType, productType marketdata.ProductType, symbol string, payload []byte) error {
	if len(symbol) > MaxSymbolLen {
		return fmt.Errorf("udppub: symbol %q of %d bytes exceeds u8 length field", symbol, len(symbol))
	}
	if len(payload) > 0xFFFF {
		return fmt.Errorf("udppub: payload of %d bytes exceeds u16 length field", len(payload))
	}

	datagram := make([]byte, HeaderSize+len(symbol)+len(payload))
	datagram[0] = Version
	datagram[1] = uint8(messageType)
	datagram[2] = uint8(productType)
	datagram[3] = uint8(len(symbol))
	putU16BE(datagram[4:6], uint16(len(payload)))
	copy(datagram[HeaderSize:], symbol)
	copy(datagram[HeaderSize+len(symbol):], payload)

	_, err := p.conn.Write(datagram)
	if err == nil {
		return nil
	}
	if isWouldBlock(err) {
		return nil
	}
	return fmt.Errorf("udppub: write: %w", err)
}

// Close releases the underlying socket.
func (p *Publisher) Close() error {
	return p.conn.Close()
}

func isWouldBlock(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return errno == syscall.EAGAIN || errno == syscall.EWOULDBLOCK
}

func putU16BE(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// DecodeHeader parses the fixed header and symbol from the front of a
// datagram, returning the header fields and the remaining payload slice.
// Used by the UDP source adaptor, which receives these datagrams from an
// upstream process rather than an exchange WebSocket.
func DecodeHeader(datagram []byte) (version, messageType, productType uint8, symbol string, payload []byte, ok bool) {
	if len(datagram) < HeaderSize {
		return 0, 0, 0, "", nil, false
	}
	symbolLen := int(datagram[3])
	payloadLen := int(datagram[4])<<8 | int(datagram[5])
	total := HeaderSize + symbolLen + payloadLen
	if len(datagram) < total {
		return 0, 0, 0, "", nil, false
	}
	symbol = string(datagram[HeaderSize : HeaderSize+symbolLen])
	payload = datagram[HeaderSize+symbolLen : total]
	return datagram[0], datagram[1], datagram[2], symbol, payload, true
}
