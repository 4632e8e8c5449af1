// Package app wires the bus, the per-match truth engines, the per-market
// trading engines and the execution collaborator into a running process.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/esports-arb/internal/bus"
	"github.com/mselser95/esports-arb/internal/executor"
	"github.com/mselser95/esports-arb/internal/feed"
	"github.com/mselser95/esports-arb/internal/markets"
	"github.com/mselser95/esports-arb/internal/storage"
	"github.com/mselser95/esports-arb/internal/trading"
	"github.com/mselser95/esports-arb/internal/truth"
	"github.com/mselser95/esports-arb/pkg/cache"
	"github.com/mselser95/esports-arb/pkg/clock"
	"github.com/mselser95/esports-arb/pkg/config"
	"github.com/mselser95/esports-arb/pkg/httpserver"
	"github.com/mselser95/esports-arb/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options tweak app construction.
type Options struct {
	DisableHTTP bool
	DisableFeed bool
}

// App is the application orchestrator.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clk    clock.Clock
	runID  string

	bus      *bus.Bus
	registry *markets.Registry
	store    storage.Storage
	exec     *executor.Paper
	feed     *feed.Client
	http     *httpserver.Server

	// Engines are owned by their partition consumers; the per-market /
	// per-match locks serialize the cross-partition paths (truth-final
	// bridge, clock ticks, system halt).
	mu             sync.Mutex
	truthEngines   map[string]*truth.Engine
	tradingEngines map[string]*trading.Engine
	matchLocks     map[string]*sync.Mutex
	marketLocks    map[string]*sync.Mutex

	ready bool
}

// New builds the application graph.
func New(cfg *config.Config, logger *zap.Logger, clk clock.Clock, opts *Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if opts == nil {
		opts = &Options{}
	}

	runID := uuid.NewString()[:8]
	logger = logger.With(zap.String("run_id", runID))

	store, err := buildStorage(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build storage: %w", err)
	}

	metaCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      config.ComponentLogger(logger, "cache"),
	})
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}

	registry, err := markets.New(&markets.Config{
		Cache:  metaCache,
		Logger: config.ComponentLogger(logger, "markets"),
	})
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	eventBus, err := bus.New(&bus.Config{
		Bus:    cfg.Bus,
		Logger: config.ComponentLogger(logger, "event_bus"),
		Clock:  clk,
	})
	if err != nil {
		return nil, fmt.Errorf("build bus: %w", err)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		clk:            clk,
		runID:          runID,
		bus:            eventBus,
		registry:       registry,
		store:          store,
		truthEngines:   make(map[string]*truth.Engine),
		tradingEngines: make(map[string]*trading.Engine),
		matchLocks:     make(map[string]*sync.Mutex),
		marketLocks:    make(map[string]*sync.Mutex),
	}

	a.exec, err = executor.NewPaper(&executor.Config{
		Bus:     eventBus,
		Storage: store,
		Clock:   clk,
		Logger:  config.ComponentLogger(logger, "executor"),
		Tracker: a,
	})
	if err != nil {
		return nil, fmt.Errorf("build executor: %w", err)
	}

	if !opts.DisableFeed && cfg.Feed.URL != "" {
		a.feed, err = feed.New(&feed.Config{
			Feed:   cfg.Feed,
			Truth:  cfg.Truth,
			Bus:    eventBus,
			Logger: config.ComponentLogger(logger, "feed"),
		})
		if err != nil {
			return nil, fmt.Errorf("build feed: %w", err)
		}
	}

	if !opts.DisableHTTP {
		a.http = httpserver.New(&httpserver.Config{
			Port:     cfg.HTTPPort,
			Logger:   config.ComponentLogger(logger, "http"),
			Bus:      eventBus,
			Statuses: a.Statuses,
			Ready:    func() bool { return a.isReady() },
		})
	}

	a.wire()
	return a, nil
}

func buildStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.Storage.Mode == "postgres" {
		return storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.Storage.PostgresHost,
			Port:     cfg.Storage.PostgresPort,
			User:     cfg.Storage.PostgresUser,
			Password: cfg.Storage.PostgresPass,
			Database: cfg.Storage.PostgresDB,
			SSLMode:  cfg.Storage.PostgresSSL,
			Logger:   config.ComponentLogger(logger, "storage"),
		})
	}
	return storage.NewConsoleStorage(config.ComponentLogger(logger, "storage")), nil
}

// wire registers all bus subscriptions. The executor subscribes to the
// intent supertype so one handler covers order and cancel intents.
func (a *App) wire() {
	a.bus.Subscribe(types.KindMatchEvent, bus.NewSubscription("truth-engine", a.handleMatchEvent), 10)
	a.bus.Subscribe(types.KindTruthFinal, bus.NewSubscription("truth-final-bridge", a.handleTruthFinal), 5)
	a.bus.Subscribe(types.KindOrderBookTick, bus.NewSubscription("trading-books", a.handleBookTick), 10)
	a.bus.Subscribe(types.KindFill, bus.NewSubscription("trading-fills", a.handleFill), 10)
	a.bus.Subscribe(types.KindOrderUpdate, bus.NewSubscription("trading-order-updates", a.handleOrderUpdate), 10)
	a.bus.Subscribe(types.KindIntent, bus.NewSubscription("executor", a.exec.HandleIntent), 0)
	a.bus.Subscribe(types.KindClockTick, bus.NewSubscription("engine-ticks", a.handleClockTick), 0)
	a.bus.Subscribe(types.KindSystemHalt, bus.NewSubscription("system-halt", a.handleSystemHalt), 100)
}

// Run starts everything and blocks until ctx is cancelled, then shuts
// down in order: feed, tick producer, bus, HTTP, storage.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting",
		zap.String("execution_mode", a.cfg.ExecutionMode),
		zap.String("storage_mode", a.cfg.Storage.Mode))

	a.bus.Start()

	if a.feed != nil {
		a.feed.Start(ctx)
	}

	httpErr := make(chan error, 1)
	if a.http != nil {
		go func() {
			httpErr <- a.http.Start()
		}()
	}

	tickCtx, stopTicks := context.WithCancel(ctx)
	var tickWG sync.WaitGroup
	tickWG.Add(1)
	go a.tickLoop(tickCtx, &tickWG)

	a.setReady(true)
	a.logger.Info("startup-complete")

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			a.logger.Error("http-server-failed", zap.Error(err))
		}
	}

	a.setReady(false)
	a.logger.Info("shutdown-initiated")

	if a.feed != nil {
		a.feed.Wait()
	}
	stopTicks()
	tickWG.Wait()
	a.bus.Stop()

	if a.http != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http-shutdown-failed", zap.Error(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage-close-failed", zap.Error(err))
	}

	a.logger.Info("shutdown-complete")
	return nil
}

// tickLoop publishes a ClockTick onto the global partition about once per
// second.
func (a *App) tickLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := a.clk.NowMS()
			_, err := a.bus.Publish(ctx, &types.ClockTick{
				BaseEvent: types.NewBaseEvent(now, ""),
				NowMS:     now,
			})
			if err != nil {
				a.logger.Error("clock-tick-publish-failed", zap.Error(err))
			}
		}
	}
}

// Bus exposes the event bus (tests and CLI wiring).
func (a *App) Bus() *bus.Bus { return a.bus }

// Registry exposes the market registry.
func (a *App) Registry() *markets.Registry { return a.registry }

func (a *App) setReady(v bool) {
	a.mu.Lock()
	a.ready = v
	a.mu.Unlock()
}

func (a *App) isReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// Statuses reports each market engine's state for the HTTP surface.
func (a *App) Statuses() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]string, len(a.tradingEngines))
	for id, eng := range a.tradingEngines {
		out[id] = string(eng.Status())
	}
	return out
}

// TradingSnapshot returns a consistent copy of one market engine's state.
func (a *App) TradingSnapshot(marketID string) (trading.State, bool) {
	a.mu.Lock()
	eng, ok := a.tradingEngines[marketID]
	a.mu.Unlock()
	if !ok {
		return trading.State{}, false
	}

	lock := a.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()
	return eng.Snapshot(), true
}

// TruthSnapshot returns a consistent copy of one match engine's state.
func (a *App) TruthSnapshot(matchID string) (truth.State, bool) {
	a.mu.Lock()
	eng, ok := a.truthEngines[matchID]
	a.mu.Unlock()
	if !ok {
		return truth.State{}, false
	}

	lock := a.matchLock(matchID)
	lock.Lock()
	defer lock.Unlock()
	return eng.State(), true
}

// RegisterMarket indexes a market and eagerly creates its trading engine.
func (a *App) RegisterMarket(info *markets.MarketInfo) error {
	a.registry.Register(info)
	_, err := a.tradingEngineFor(info.MarketID)
	return err
}

// TrackOrder hands a placed order to the owning engine (executor callback).
func (a *App) TrackOrder(marketID string, order *types.Order) {
	eng, err := a.tradingEngineFor(marketID)
	if err != nil {
		a.logger.Error("track-order-failed", zap.String("market_id", marketID), zap.Error(err))
		return
	}

	lock := a.marketLock(marketID)
	lock.Lock()
	eng.TrackOrder(order)
	lock.Unlock()
}

// -----------------------------------------------------------------------------
// Engine lookup
// -----------------------------------------------------------------------------

func (a *App) truthEngineFor(matchID string) (*truth.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if eng, ok := a.truthEngines[matchID]; ok {
		return eng, nil
	}

	teamA, teamB := a.teamsForMatch(matchID)
	eng, err := truth.New(matchID, teamA, teamB, &truth.Config{
		Truth:  a.cfg.Truth,
		Logger: config.ComponentLogger(a.logger, "truth_engine"),
	})
	if err != nil {
		return nil, err
	}
	a.truthEngines[matchID] = eng
	return eng, nil
}

// teamsForMatch resolves team ids from any registered market of the match.
func (a *App) teamsForMatch(matchID string) (string, string) {
	for _, marketID := range a.registry.MarketsForMatch(matchID) {
		info, err := a.registry.GetByMarket(context.Background(), marketID)
		if err == nil {
			return info.TeamAID, info.TeamBID
		}
	}
	return "", ""
}

func (a *App) tradingEngineFor(marketID string) (*trading.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if eng, ok := a.tradingEngines[marketID]; ok {
		return eng, nil
	}

	eng, err := trading.New(marketID, &trading.Config{
		Trading: a.cfg.Trading,
		Logger:  config.ComponentLogger(a.logger, "trading_engine"),
		Clock:   a.clk,
	})
	if err != nil {
		return nil, err
	}
	a.tradingEngines[marketID] = eng
	return eng, nil
}

func (a *App) marketLock(marketID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.marketLocks[marketID]
	if !ok {
		lock = &sync.Mutex{}
		a.marketLocks[marketID] = lock
	}
	return lock
}

func (a *App) matchLock(matchID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.matchLocks[matchID]
	if !ok {
		lock = &sync.Mutex{}
		a.matchLocks[matchID] = lock
	}
	return lock
}

// -----------------------------------------------------------------------------
// Bus handlers
// -----------------------------------------------------------------------------

func (a *App) handleMatchEvent(ctx context.Context, ev types.Event) error {
	me, ok := ev.(*types.MatchEvent)
	if !ok {
		return nil
	}

	eng, err := a.truthEngineFor(me.MatchID)
	if err != nil {
		return fmt.Errorf("truth engine for %s: %w", me.MatchID, err)
	}

	lock := a.matchLock(me.MatchID)
	lock.Lock()
	out := eng.OnEvent(me)
	lock.Unlock()

	if out == nil {
		return nil
	}
	_, err = a.bus.Publish(ctx, out)
	return err
}

func (a *App) handleTruthFinal(ctx context.Context, ev types.Event) error {
	fin, ok := ev.(*types.TruthFinal)
	if !ok {
		return nil
	}

	if err := a.store.RecordTruthFinal(ctx, fin); err != nil {
		a.logger.Error("truth-final-store-failed",
			zap.String("match_id", fin.MatchID),
			zap.Error(err))
	}

	for _, marketID := range a.registry.MarketsForMatch(fin.MatchID) {
		eng, err := a.tradingEngineFor(marketID)
		if err != nil {
			return err
		}

		lock := a.marketLock(marketID)
		lock.Lock()
		intents := eng.Finalize()
		lock.Unlock()

		if err := a.publishCancels(ctx, intents); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) handleBookTick(ctx context.Context, ev types.Event) error {
	tick, ok := ev.(*types.OrderBookTick)
	if !ok {
		return nil
	}

	eng, err := a.tradingEngineFor(tick.MarketID)
	if err != nil {
		return err
	}

	lock := a.marketLock(tick.MarketID)
	lock.Lock()
	intent := eng.OnOrderbookUpdate(tick.BookYes, tick.BookNo)
	lock.Unlock()

	if intent == nil {
		return nil
	}
	_, err = a.bus.Publish(ctx, intent)
	return err
}

func (a *App) handleFill(ctx context.Context, ev types.Event) error {
	fill, ok := ev.(*types.FillEvent)
	if !ok {
		return nil
	}

	eng, err := a.tradingEngineFor(fill.MarketID)
	if err != nil {
		return err
	}

	lock := a.marketLock(fill.MarketID)
	lock.Lock()
	_, err = eng.OnFill(fill.Side, fill.Qty, fill.Price, fill.OrderID)
	lock.Unlock()
	if err != nil {
		return fmt.Errorf("fill %s: %w", fill.OrderID, err)
	}
	return nil
}

func (a *App) handleOrderUpdate(ctx context.Context, ev types.Event) error {
	upd, ok := ev.(*types.OrderUpdateEvent)
	if !ok {
		return nil
	}

	eng, err := a.tradingEngineFor(upd.MarketID)
	if err != nil {
		return err
	}

	lock := a.marketLock(upd.MarketID)
	lock.Lock()
	var intents []*types.CancelIntent
	switch upd.Update {
	case types.OrderUpdatePlaced:
		eng.OnOrderSuccess(upd.OrderID)
	case types.OrderUpdateRejected:
		intents = eng.OnOrderRejected(upd.OrderID, upd.Reason)
	case types.OrderUpdateCancelled:
		eng.OnCancelSuccess(upd.OrderID)
	case types.OrderUpdateCancelFailed:
		intents = eng.OnCancelFailure(upd.OrderID)
	}
	lock.Unlock()

	return a.publishCancels(ctx, intents)
}

func (a *App) handleClockTick(ctx context.Context, ev types.Event) error {
	tick, ok := ev.(*types.ClockTick)
	if !ok {
		return nil
	}

	a.mu.Lock()
	truthEngines := make(map[string]*truth.Engine, len(a.truthEngines))
	for id, eng := range a.truthEngines {
		truthEngines[id] = eng
	}
	tradingEngines := make(map[string]*trading.Engine, len(a.tradingEngines))
	for id, eng := range a.tradingEngines {
		tradingEngines[id] = eng
	}
	a.mu.Unlock()

	for matchID, eng := range truthEngines {
		lock := a.matchLock(matchID)
		lock.Lock()
		fin := eng.Tick(tick.NowMS)
		lock.Unlock()

		if fin != nil {
			if _, err := a.bus.Publish(ctx, fin); err != nil {
				return err
			}
		}
	}

	for marketID, eng := range tradingEngines {
		lock := a.marketLock(marketID)
		lock.Lock()
		intents := eng.OnTick(tick.NowMS)
		lock.Unlock()

		if err := a.publishCancels(ctx, intents); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) handleSystemHalt(ctx context.Context, ev types.Event) error {
	halt, ok := ev.(*types.SystemHalt)
	if !ok {
		return nil
	}

	a.logger.Warn("system-halt", zap.String("reason", halt.Reason))

	a.mu.Lock()
	engines := make(map[string]*trading.Engine, len(a.tradingEngines))
	for id, eng := range a.tradingEngines {
		engines[id] = eng
	}
	a.mu.Unlock()

	for marketID, eng := range engines {
		lock := a.marketLock(marketID)
		lock.Lock()
		intents := eng.Halt(halt.Reason)
		lock.Unlock()

		if err := a.publishCancels(ctx, intents); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) publishCancels(ctx context.Context, intents []*types.CancelIntent) error {
	for _, intent := range intents {
		if _, err := a.bus.Publish(ctx, intent); err != nil {
			return err
		}
	}
	return nil
}
