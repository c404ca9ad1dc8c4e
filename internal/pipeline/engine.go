package pipeline

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/k4md/engine/internal/adaptor"
	"github.com/k4md/engine/internal/config"
	"github.com/k4md/engine/internal/k4err"
	"github.com/k4md/engine/internal/marketdata"
	"github.com/k4md/engine/internal/redundantws"
	"github.com/k4md/engine/internal/shm"
	"github.com/k4md/engine/internal/tradeclient"
	"github.com/k4md/engine/internal/udppub"
)

// shutdownBound is the maximum time Stop waits for connections and
// workers to exit cleanly before forcing an abort.
const shutdownBound = 2 * time.Second

// routeGroup identifies one SHM ring store: every symbol of a given
// product type and message type shares one store, per the region layout's
// symbol directory.
type routeGroup struct {
	Product marketdata.ProductType
	Message marketdata.MessageType
}

// shmRegistry owns every SHM store the engine has created plus the
// process-wide symbol->id table the wire slots' SymbolID field needs,
// since a packed SHM slot carries only a numeric id, never the symbol name.
type shmRegistry struct {
	mu        sync.RWMutex
	stores    map[routeGroup]*shm.Store
	symbolIDs map[string]uint16
}

func newShmRegistry() *shmRegistry {
	return &shmRegistry{
		stores:    make(map[routeGroup]*shm.Store),
		symbolIDs: make(map[string]uint16),
	}
}

// internSymbols assigns stable ids to every symbol across the whole
// configuration, in sorted order, so two processes that load the same
// config arrive at the same symbol->id mapping independently.
func (r *shmRegistry) internSymbols(symbols []string) {
	unique := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		unique[s] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for s := range unique {
		sorted = append(sorted, s)
	}
	sort.Strings(sorted)

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range sorted {
		if _, ok := r.symbolIDs[s]; !ok {
			r.symbolIDs[s] = uint16(i + 1) // 0 is reserved for "unknown"
		}
	}
}

func (r *shmRegistry) symbolID(symbol string) uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.symbolIDs[symbol]
}

func (r *shmRegistry) registerStore(group routeGroup, store *shm.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stores[group]; exists {
		return // already created for this (product, message) pair
	}
	r.stores[group] = store
}

func (r *shmRegistry) write(route marketdata.RouteKey, payload []byte) error {
	r.mu.RLock()
	store, ok := r.stores[routeGroup{Product: route.ProductType, Message: route.MessageType}]
	r.mu.RUnlock()
	if !ok {
		return &k4err.ShmError{Symbol: route.Symbol, Err: fmt.Errorf("no store for product=%s message=%s", route.ProductType, route.MessageType)}
	}
	if err := store.Write(route.Symbol, payload); err != nil {
		return &k4err.ShmError{Symbol: route.Symbol, Err: err}
	}
	return nil
}

func (r *shmRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, store := range r.stores {
		_ = store.Close()
	}
}

// connStream pairs one configured connection with the StreamDefs its
// adaptor produced, so Start can wire rotation monitors and UDP senders
// per connection.
type connStream struct {
	conn  config.Connection
	defs  []adaptor.StreamDef
}

// Engine is the generic pipeline runtime: it turns a validated
// configuration into live redundant WebSocket clients, one dedup worker
// per StreamDef, and the SHM stores they publish into, per the
// init_shm/start/stop contract.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	mu          sync.Mutex
	initialized bool
	registry    *shmRegistry
	streams     []connStream

	clients  []*redundantws.Client
	monitors []*redundantws.RotationMonitor
	workers  []*worker
	udpPubs  map[int]*udppub.Publisher // by connection index

	trading tradeclient.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an Engine for cfg. InitSHM must be called before Start.
//
// The boundary trading client is constructed here, not lazily: if
// trading.enabled is true but the signing key can't be loaded, that is a
// configuration problem the operator should see at startup rather than on
// the first rotation event that needs it.
func New(cfg *config.Config, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		log:     log,
		udpPubs: make(map[int]*udppub.Publisher),
		trading: newTradingClient(cfg.Trading, log),
	}
}

// newTradingClient builds the boundary trading client per cfg, falling back
// to tradeclient.Disabled (which refuses every call) whenever trading is
// off or its credentials can't be loaded. A broken signing key should not
// take down market-data ingestion, which has no dependency on it.
func newTradingClient(cfg config.Trading, log zerolog.Logger) tradeclient.Client {
	if !cfg.Enabled {
		return tradeclient.Disabled{}
	}
	signer, err := tradeclient.LoadSigner(cfg.EnvFile)
	if err != nil {
		log.Error().Err(err).Msg("pipeline: trading enabled but signer could not be loaded, disabling")
		return tradeclient.Disabled{}
	}
	log.Info().Str("address", signer.Address().Hex()).Msg("pipeline: trading client ready")
	return tradeclient.NewHTTPClient(cfg.BaseURL, signer)
}

// InitSHM builds every StreamDef the configuration implies and creates one
// SHM store per (product_type, message_type) pair they reference, sized
// from the owning connection's md_size. Calling it twice is a no-op.
func (e *Engine) InitSHM() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	registry := newShmRegistry()
	var allSymbols []string
	streams := make([]connStream, 0, len(e.cfg.Connections))

	for _, conn := range e.cfg.Connections {
		defs, err := buildStreamDefs(conn)
		if err != nil {
			return &k4err.ConfigError{Field: conn.Exchange, Err: err}
		}
		streams = append(streams, connStream{conn: conn, defs: defs})
		allSymbols = append(allSymbols, connectionSymbols(conn)...)

		if err := createStoresForConnection(registry, conn); err != nil {
			return err
		}
	}

	registry.internSymbols(allSymbols)

	e.registry = registry
	e.streams = streams
	e.initialized = true
	return nil
}

// createStoresForConnection creates the SHM stores named by one
// connection's product blocks, skipping message types whose shm name is
// empty (not subscribed).
func createStoresForConnection(registry *shmRegistry, conn config.Connection) error {
	if conn.Exchange == "udp" {
		return nil // the UDP source writes into stores created by another connection entry
	}
	products := []struct {
		typ marketdata.ProductType
		cfg *config.ProductConfig
	}{
		{marketdata.SpotLike, conn.Spot},
		{marketdata.LinearFutures, conn.Futures},
		{marketdata.InverseFutures, conn.InverseFutures},
	}
	for _, p := range products {
		if p.cfg == nil {
			continue
		}
		entries := []struct {
			msg  marketdata.MessageType
			name string
			size int
		}{
			{marketdata.BBO, p.cfg.BBOShmName, marketdata.BBOSlotSize},
			{marketdata.Trade, p.cfg.TradeShmName, marketdata.TradeSlotSize},
			{marketdata.AggTrade, p.cfg.AggTradeShmName, marketdata.AggTradeSlotSize},
			{marketdata.Depth5, p.cfg.Depth5ShmName, marketdata.Depth5SlotSize},
		}
		for _, e2 := range entries {
			if e2.name == "" {
				continue
			}
			group := routeGroup{Product: p.typ, Message: e2.msg}
			store, err := shm.Create(e2.name, p.cfg.Symbols, e2.size, conn.MDSize)
			if err != nil {
				return &k4err.ShmError{Symbol: e2.name, Err: err}
			}
			registry.registerStore(group, store)
		}
	}
	return nil
}

func connectionSymbols(conn config.Connection) []string {
	var out []string
	for _, p := range []*config.ProductConfig{conn.Spot, conn.Futures, conn.InverseFutures} {
		if p != nil {
			out = append(out, p.Symbols...)
		}
	}
	return out
}

// buildStreamDefs dispatches to the exchange adaptor named by the
// connection's exchange field. The adaptor contract takes one flat
// symbol list; where a connection configures different symbols per
// product block, the union is passed and each adaptor's own per-product
// loop filters by product type (a known simplification — see DESIGN.md).
func buildStreamDefs(conn config.Connection) ([]adaptor.StreamDef, error) {
	cc := adaptor.ConnectionConfig{
		Exchange:      conn.Exchange,
		Symbols:       connectionSymbols(conn),
		Spot:          conn.Spot != nil,
		Futures:       conn.Futures != nil,
		InverseFuture: conn.InverseFutures != nil,
		MDSize:        conn.MDSize,
		Redundancy:    conn.Redundancy,
		CPUAffinity:   conn.CPUAffinityOrDefault(-1),
		UDPSender:     conn.UDPSender.Enabled,
	}

	switch conn.Exchange {
	case "binance":
		return adaptor.BuildBinance(cc)
	case "okx":
		return adaptor.BuildOKX(cc)
	case "bitget":
		return adaptor.BuildBitget(cc)
	case "bybit":
		return adaptor.BuildBybit(cc)
	case "udp":
		return adaptor.BuildUDPSource(cc, conn.ListenAddr)
	default:
		return nil, fmt.Errorf("unknown exchange %q", conn.Exchange)
	}
}

// Start opens N redundant connections per StreamDef, spawns one dedup
// worker per StreamDef, and starts each connection's rotation monitor.
// InitSHM must have been called first.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return &k4err.ConfigError{Field: "engine", Err: fmt.Errorf("InitSHM must be called before Start")}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for connIdx, cs := range e.streams {
		if cs.conn.Exchange == "udp" {
			for _, def := range cs.defs {
				if err := e.startUDPSourceStream(runCtx, def); err != nil {
					cancel()
					return err
				}
			}
			continue
		}

		var pub *udppub.Publisher
		if cs.conn.UDPSender.Enabled {
			addr := fmt.Sprintf("%s:%d", cs.conn.UDPSender.IP, cs.conn.UDPSender.Port)
			p, err := udppub.Dial(addr)
			if err != nil {
				cancel()
				return &k4err.NetworkError{Op: "udppub.Dial " + addr, Err: err}
			}
			pub = p
			e.udpPubs[connIdx] = pub
		}

		for _, def := range cs.defs {
			if err := e.startStream(runCtx, def, pub); err != nil {
				cancel()
				return err
			}
		}
	}

	return nil
}

func (e *Engine) startStream(ctx context.Context, def adaptor.StreamDef, pub *udppub.Publisher) error {
	client := redundantws.New(def.Name, def.URL, def.SubscribePayload, e.log)
	redundancy := def.Redundancy
	if redundancy < 1 {
		redundancy = 1
	}
	client.Start(ctx, redundancy)
	e.clients = append(e.clients, client)

	var mon *redundantws.RotationMonitor
	if redundancy > 1 {
		onCull := func(connIdx int) {
			// A StreamDef multiplexes every symbol of one (exchange, product,
			// message) combination over a single URL, so a cull degrades all
			// of them at once; def.Name is stable across the stream's life
			// and stands in for "every symbol this stream carries."
			if err := e.trading.NotifyFeedDegraded(ctx, def.Name, "connection rotated"); err != nil {
				e.log.Warn().Err(err).Str("stream", def.Name).Msg("pipeline: feed-degraded notice failed")
			}
		}
		mon = redundantws.NewRotationMonitor(client, onCull, e.log)
		e.monitors = append(e.monitors, mon)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			mon.Run(ctx)
		}()
	}

	streamUDP := pub
	if !def.UDPEnabled {
		streamUDP = nil
	}

	w := newWorker(def, e.registry, streamUDP, mon, e.trading, e.log)
	e.workers = append(e.workers, w)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		w.run(client.Recv())
	}()
	return nil
}

// startUDPSourceStream runs the UDP source adaptor's own listen loop: it
// has no redundant connections or dedup gate, so it is driven directly
// rather than through redundantws.
func (e *Engine) startUDPSourceStream(ctx context.Context, def adaptor.StreamDef) error {
	conn, err := adaptor.ListenUDP(def.URL)
	if err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer conn.Close()
		buf := make([]byte, 65536)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				e.log.Warn().Err(err).Msg("pipeline: udp source read failed")
				continue
			}
			records, err := def.Parse(buf[:n])
			if err != nil {
				e.log.Warn().Err(err).Msg("pipeline: udp source parse failed")
				continue
			}
			for i := range records {
				if err := e.registry.write(records[i].Route, records[i].RawPayload); err != nil {
					e.log.Error().Err(err).Msg("pipeline: udp source shm write failed")
					if nerr := e.trading.NotifyFeedDegraded(ctx, records[i].Route.Symbol, "shm write failed"); nerr != nil {
						e.log.Warn().Err(nerr).Str("symbol", records[i].Route.Symbol).Msg("pipeline: feed-degraded notice failed")
					}
				}
			}
		}
	}()
	return nil
}

// Stop cancels every connection task and dedup worker, waits up to
// shutdownBound for them to exit, then unmaps (without unlinking) every
// SHM store regardless of whether the wait converged.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel := e.cancel
	registry := e.registry
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownBound):
		e.log.Warn().Msg("pipeline: shutdown bound exceeded, force-aborting")
	}

	for _, pub := range e.udpPubs {
		_ = pub.Close()
	}
	if registry != nil {
		registry.closeAll()
	}
	return nil
}
