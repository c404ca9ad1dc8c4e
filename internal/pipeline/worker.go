package pipeline

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/k4md/engine/internal/adaptor"
	"github.com/k4md/engine/internal/dedup"
	"github.com/k4md/engine/internal/k4err"
	"github.com/k4md/engine/internal/marketdata"
	"github.com/k4md/engine/internal/redundantws"
	"github.com/k4md/engine/internal/timeutil"
	"github.com/k4md/engine/internal/tradeclient"
	"github.com/k4md/engine/internal/udppub"
)

// worker owns one StreamDef's dedup gate, SHM write side, and latency
// histogram. It runs on a dedicated goroutine (optionally pinned to an OS
// core) and is the only writer for every symbol it touches — spec.md
// §5's "single-writer per symbol" invariant is enforced structurally by
// one worker per StreamDef rather than by a lock.
type worker struct {
	def     adaptor.StreamDef
	log     zerolog.Logger
	shms    *shmRegistry
	udp     *udppub.Publisher // nil if this connection has UDP forwarding disabled
	mon     *redundantws.RotationMonitor
	trading tradeclient.Client

	updateIDGate *dedup.UpdateIDGate
	idHashGate   *dedup.IDHashGate
	hist         *timeutil.Histogram

	stop chan struct{}
	done chan struct{}
}

func newWorker(def adaptor.StreamDef, shms *shmRegistry, udp *udppub.Publisher, mon *redundantws.RotationMonitor, trading tradeclient.Client, log zerolog.Logger) *worker {
	return &worker{
		def:          def,
		log:          log.With().Str("stream", def.Name).Logger(),
		shms:         shms,
		udp:          udp,
		mon:          mon,
		trading:      trading,
		updateIDGate: dedup.NewUpdateIDGate(),
		idHashGate:   dedup.NewIDHashGate(),
		hist:         timeutil.NewHistogram(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// run pins the calling goroutine to def.CPUAffinity (if configured) and
// processes frames until in is closed or stop is signalled. It must be
// launched with `go`; the caller owns in's lifetime.
func (w *worker) run(in <-chan redundantws.Frame) {
	defer close(w.done)

	if w.def.CPUAffinity >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := pinToCore(w.def.CPUAffinity); err != nil {
			w.log.Warn().Err(err).Int("core", w.def.CPUAffinity).Msg("pipeline: failed to pin worker to core")
		}
	}

	for {
		select {
		case <-w.stop:
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			if w.handleFrame(frame) {
				close(w.stop)
				return
			}
		}
	}
}

func pinToCore(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(0, &set)
}

// handleFrame parses and dispatches every record in frame, reporting
// whether a fatal SHM write failure occurred. A fatal record stops the
// caller's run loop: the single-writer-per-symbol invariant is broken the
// moment a write fails, so this worker must not keep consuming frames for
// it, while every other stream's worker keeps running.
func (w *worker) handleFrame(frame redundantws.Frame) (fatal bool) {
	records, err := w.def.Parse(frame.Data)
	if err != nil {
		w.log.Warn().Err(err).Msg("pipeline: parse error, dropping frame")
		return false
	}
	for i := range records {
		if w.handleRecord(&records[i], frame.RecvTsUs, frame.ConnIndex) {
			return true
		}
	}
	return false
}

func (w *worker) handleRecord(rec *marketdata.ParsedRecord, recvTsUs int64, connIndex int) (fatal bool) {
	if rec.RawPayload != nil {
		return w.writeRaw(rec, recvTsUs, connIndex)
	}

	stampRecvTs(rec, recvTsUs)

	key, hasKey := rec.DedupKey()
	if !hasKey {
		w.log.Warn().Msg("pipeline: record carries no dedup key, dropping")
		return false
	}

	// Trade and AggTrade records gate on identifier-hash membership (trade
	// ids are not reliably monotonic across every venue); BBO and Depth5
	// gate on the strictly-increasing update_id sequence.
	var accepted bool
	switch rec.Route.MessageType {
	case marketdata.Trade, marketdata.AggTrade:
		accepted = w.idHashGate.AcceptHash(rec.Route.Symbol, key)
	default:
		accepted = w.updateIDGate.Accept(rec.Route.Symbol, key)
	}
	if !accepted {
		return false
	}

	if w.mon != nil {
		w.mon.AttributeAccept(connIndex)
	}
	w.hist.Observe(recvTsUs - rec.ExchangeTsUs())

	payload := w.encodeSlot(rec)
	if payload == nil {
		return false
	}
	if err := w.shms.write(rec.Route, payload); err != nil {
		w.log.Error().Err(err).Str("symbol", rec.Route.Symbol).Msg("pipeline: shm write failed, terminating worker")
		w.notifyFeedDegraded(rec.Route.Symbol, "shm write failed")
		return true
	}
	if w.udp != nil {
		if err := w.udp.Send(rec.Route.MessageType, rec.Route.ProductType, rec.Route.Symbol, payload); err != nil {
			w.log.Warn().Err(err).Msg("pipeline: udp send failed")
		}
	}
	return false
}

func (w *worker) writeRaw(rec *marketdata.ParsedRecord, recvTsUs int64, _ int) (fatal bool) {
	if err := w.shms.write(rec.Route, rec.RawPayload); err != nil {
		w.log.Error().Err(&k4err.ShmError{Symbol: rec.Route.Symbol, Err: err}).Msg("pipeline: shm write failed for raw UDP-source record, terminating worker")
		w.notifyFeedDegraded(rec.Route.Symbol, "shm write failed")
		return true
	}
	return false
}

// notifyFeedDegraded tells the boundary trading client this symbol's feed
// just hit a fatal SHM error, best-effort: a failure here is logged, never
// propagated, since it must never block or crash the dedup worker that
// reports it.
func (w *worker) notifyFeedDegraded(symbol, reason string) {
	if err := w.trading.NotifyFeedDegraded(context.Background(), symbol, reason); err != nil {
		w.log.Warn().Err(err).Str("symbol", symbol).Msg("pipeline: feed-degraded notice failed")
	}
}

func stampRecvTs(rec *marketdata.ParsedRecord, recvTsUs int64) {
	switch {
	case rec.Bookticker != nil:
		rec.Bookticker.RecvTsUs = recvTsUs
	case rec.Depth5 != nil:
		rec.Depth5.RecvTsUs = recvTsUs
	case rec.AggTrade != nil:
		rec.AggTrade.RecvTsUs = recvTsUs
	case rec.Trade != nil:
		rec.Trade.RecvTsUs = recvTsUs
	}
}

// encodeSlot converts a normalized record into its fixed-layout wire
// bytes, looking up the symbol's interned id from the SHM registry.
func (w *worker) encodeSlot(rec *marketdata.ParsedRecord) []byte {
	symbolID := w.shms.symbolID(rec.Route.Symbol)
	switch {
	case rec.Bookticker != nil:
		slot := marketdata.BookTickerToSlot(rec.Bookticker, symbolID, rec.Route.ProductType)
		return append([]byte(nil), marketdata.AsBytes(&slot)...)
	case rec.Trade != nil:
		slot := marketdata.TradeToSlot(rec.Trade, symbolID, rec.Route.ProductType)
		return append([]byte(nil), marketdata.AsBytes(&slot)...)
	case rec.AggTrade != nil:
		slot := marketdata.AggTradeToSlot(rec.AggTrade, symbolID, rec.Route.ProductType)
		return append([]byte(nil), marketdata.AsBytes(&slot)...)
	case rec.Depth5 != nil:
		slot := marketdata.Depth5ToSlot(rec.Depth5, symbolID, rec.Route.ProductType)
		return append([]byte(nil), marketdata.AsBytes(&slot)...)
	default:
		return nil
	}
}
