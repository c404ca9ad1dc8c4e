// Package redundantws fans a single logical subscription out across N
// independent WebSocket connections, merging their frames into one bounded
// channel tagged with the connection that produced each frame. It is the
// redundancy layer the engine design builds on top of wsconn.Conn.
package redundantws

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/k4md/engine/internal/wsconn"
)

// ChannelCapacity is the MPSC channel's capacity, shared by all N
// connections of a StreamDef and drained by exactly one dedup worker.
const ChannelCapacity = 8192

// Frame is one inbound message tagged with the index of the connection
// that delivered it, so per-connection accept counts can be attributed
// for rotation.
type Frame struct {
	ConnIndex int
	Data      []byte
	RecvTsUs  int64
}

// Client opens N redundant connections against the same url/subscribe
// payload and merges their output into a single bounded channel.
type Client struct {
	name             string
	url              string
	subscribePayload []byte
	log              zerolog.Logger

	mu    sync.Mutex
	conns map[int]*wsconn.Conn
	next  int

	out chan Frame
}

// New returns a Client ready to Start n connections.
func New(name, url string, subscribePayload []byte, log zerolog.Logger) *Client {
	return &Client{
		name:             name,
		url:              url,
		subscribePayload: subscribePayload,
		log:              log.With().Str("stream", name).Logger(),
		conns:            make(map[int]*wsconn.Conn),
		out:              make(chan Frame, ChannelCapacity),
	}
}

// Recv returns the merged, connection-tagged frame channel.
func (c *Client) Recv() <-chan Frame {
	return c.out
}

// Start launches n redundant connections and begins merging their output.
// It returns once all n have been spawned; they continue running in the
// background until ctx is cancelled.
func (c *Client) Start(ctx context.Context, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.spawnLocked(ctx, c.next)
	}
}

// spawnLocked creates and runs a new connection at the given index. The
// caller must hold c.mu.
func (c *Client) spawnLocked(ctx context.Context, idx int) {
	conn := wsconn.New(c.name, c.url, c.subscribePayload, c.log, ChannelCapacity)
	c.conns[idx] = conn
	c.next = idx + 1

	go func() {
		for msg := range conn.Recv() {
			select {
			case c.out <- Frame{ConnIndex: idx, Data: msg.Data, RecvTsUs: msg.RecvTsUs}:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		if err := conn.Run(ctx); err != nil && ctx.Err() == nil {
			c.log.Error().Err(err).Int("conn_index", idx).Msg("redundantws: connection exited unexpectedly")
		}
	}()
}

// Rotate closes the connection at connIdx and opens a replacement against
// the same URL at a new index, per the rotation monitor's cull decision.
func (c *Client) Rotate(ctx context.Context, connIdx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, connIdx)
	c.spawnLocked(ctx, c.next)
	c.log.Info().Int("culled_index", connIdx).Msg("redundantws: rotated connection")
}

// ConnIndices returns the currently live connection indices, for the
// rotation monitor to attribute accept counts against.
func (c *Client) ConnIndices() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.conns))
	for idx := range c.conns {
		out = append(out, idx)
	}
	return out
}
