// Package wsconn implements a single auto-reconnecting WebSocket connection:
// dial, read loop, and exponential backoff on disconnect, generalizing the
// teacher's bare connect-and-retry loop in binance/feeder.go into a
// reusable primitive shared by every exchange adaptor.
package wsconn

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/k4md/engine/internal/k4err"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Message is one inbound WebSocket frame, tagged with the receive-time
// wall clock reading taken immediately after the read call returns.
type Message struct {
	Data     []byte
	RecvTsUs int64
}

// Conn maintains a single WebSocket connection to url, resubscribing with
// subscribePayload after every (re)connect, and delivering frames on Recv
// until ctx is cancelled. It reconnects on any read or dial error,
// doubling its backoff from 500ms up to a 30s ceiling and resetting to the
// floor after a connection survives long enough to deliver a message.
type Conn struct {
	name             string
	url              string
	subscribePayload []byte
	log              zerolog.Logger

	out     chan Message
	dropped atomic.Int64
}

// New returns a Conn that is not yet running; call Run to start the
// connect/read/reconnect loop.
func New(name, url string, subscribePayload []byte, log zerolog.Logger, bufSize int) *Conn {
	return &Conn{
		name:             name,
		url:              url,
		subscribePayload: subscribePayload,
		log:              log.With().Str("stream", name).Logger(),
		out:              make(chan Message, bufSize),
	}
}

// Recv returns the channel frames are delivered on. It is closed when Run
// returns.
func (c *Conn) Recv() <-chan Message {
	return c.out
}

// Dropped reports the number of frames discarded so far under backpressure
// (the bounded out channel's drop-oldest policy).
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

// Run dials, subscribes, and reads until ctx is cancelled, reconnecting
// with exponential backoff on any error. It returns only once ctx is
// cancelled, always with a *k4err.CancelledError; dial, subscribe and read
// errors are handled internally by reconnecting.
func (c *Conn) Run(ctx context.Context) error {
	defer close(c.out)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return &k4err.CancelledError{Op: "wsconn.Run:" + c.name}
		}

		connected, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return &k4err.CancelledError{Op: "wsconn.Run:" + c.name}
		}
		if connected {
			backoff = initialBackoff
		} else {
			backoff = nextBackoff(backoff)
		}
		if err != nil {
			c.log.Warn().Err(err).Dur("backoff", backoff).Msg("wsconn disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return &k4err.CancelledError{Op: "wsconn.Run:" + c.name}
		case <-time.After(backoff):
		}
	}
}

// runOnce performs one dial-subscribe-read cycle. connected reports
// whether at least one message was successfully delivered, which the
// caller uses to decide whether to reset the backoff.
func (c *Conn) runOnce(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return false, &k4err.NetworkError{Op: "dial:" + c.name, Err: err}
	}
	defer conn.CloseNow()

	if len(c.subscribePayload) > 0 {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		werr := conn.Write(writeCtx, websocket.MessageText, c.subscribePayload)
		cancel()
		if werr != nil {
			return false, &k4err.NetworkError{Op: "subscribe:" + c.name, Err: werr}
		}
	}

	for {
		_, data, rerr := conn.Read(ctx)
		if rerr != nil {
			return connected, &k4err.NetworkError{Op: "read:" + c.name, Err: rerr}
		}
		msg := Message{Data: data, RecvTsUs: time.Now().UnixMicro()}

		select {
		case c.out <- msg:
			connected = true
		case <-ctx.Done():
			return connected, nil
		default:
			// Backpressure: the dedup worker tier is falling behind. Drop
			// the oldest queued frame rather than block the read loop and
			// let the kernel socket buffer back up.
			c.dropOldestAndEnqueue(msg)
			connected = true
		}
	}
}

// dropOldestAndEnqueue implements the bounded out channel's drop-oldest
// backpressure policy: discard the oldest queued frame to free a slot, then
// enqueue msg. If the consumer races ahead and drains the channel itself
// before the re-send lands, msg is dropped instead rather than blocking.
func (c *Conn) dropOldestAndEnqueue(msg Message) {
	select {
	case <-c.out:
		c.dropped.Add(1)
	default:
	}
	select {
	case c.out <- msg:
	default:
		c.dropped.Add(1)
	}
	c.log.Warn().Err(&k4err.CapacityError{StreamName: c.name, Dropped: c.dropped.Load()}).Msg("wsconn: output channel full, dropped oldest frame")
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
