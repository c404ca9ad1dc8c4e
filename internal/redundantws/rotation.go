package redundantws

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RotationWindow is the sampling interval the monitor uses to attribute
// accepted (post-dedup) record counts to each connection.
const RotationWindow = 60 * time.Second

// RotationFloor is the fraction of the window's median accept count below
// which a connection is considered underperforming and a rotation
// candidate.
const RotationFloor = 0.05

// RotationMonitor tracks how many post-dedup records each connection of a
// redundant client has contributed over the current window, and culls the
// worst performer at each window boundary if it falls below the floor.
type RotationMonitor struct {
	client *Client
	log    zerolog.Logger
	onCull func(connIdx int) // optional; notified before the culled connection redials

	mu     sync.Mutex
	counts map[int]int64
}

// NewRotationMonitor returns a monitor for client, initially tracking no
// connections (they accrue counts as AttributeAccept is called). onCull
// may be nil; if set, it is called with the culled connection's index
// before RotationMonitor redials it.
func NewRotationMonitor(client *Client, onCull func(connIdx int), log zerolog.Logger) *RotationMonitor {
	return &RotationMonitor{
		client: client,
		log:    log,
		onCull: onCull,
		counts: make(map[int]int64),
	}
}

// AttributeAccept records one accepted record for connIdx. Called by the
// dedup worker after a successful gate.Accept, on the hot path, so it must
// stay cheap: a single mutex-guarded map increment.
func (m *RotationMonitor) AttributeAccept(connIdx int) {
	m.mu.Lock()
	m.counts[connIdx]++
	m.mu.Unlock()
}

// Run samples every RotationWindow until ctx is cancelled, culling at most
// one connection per window.
func (m *RotationMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(RotationWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluateWindow(ctx)
		}
	}
}

// evaluateWindow computes the median accept count across live connections,
// culls the connection with the lowest share if it falls below
// RotationFloor of the median, and resets counts for the next window.
func (m *RotationMonitor) evaluateWindow(ctx context.Context) {
	live := m.client.ConnIndices()
	if len(live) < 2 {
		m.resetCounts(live)
		return
	}

	m.mu.Lock()
	snapshot := make(map[int]int64, len(live))
	for _, idx := range live {
		snapshot[idx] = m.counts[idx]
	}
	m.mu.Unlock()

	median := medianOf(snapshot)
	floor := median * RotationFloor

	cullIdx, cullFound := -1, false
	var cullCount int64
	for idx, count := range snapshot {
		if float64(count) >= floor {
			continue
		}
		if !cullFound || count < cullCount || (count == cullCount && idx > cullIdx) {
			cullIdx, cullCount, cullFound = idx, count, true
		}
	}

	if cullFound {
		m.log.Info().Int("conn_index", cullIdx).Int64("count", cullCount).Float64("median", median).
			Msg("redundantws: rotating underperforming connection")
		if m.onCull != nil {
			m.onCull(cullIdx)
		}
		m.client.Rotate(ctx, cullIdx)
	}

	m.resetCounts(live)
}

func (m *RotationMonitor) resetCounts(live []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts = make(map[int]int64, len(live))
}

func medianOf(counts map[int]int64) float64 {
	vals := make([]int64, 0, len(counts))
	for _, v := range counts {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	n := len(vals)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(vals[n/2])
	}
	return float64(vals[n/2-1]+vals[n/2]) / 2
}
