// Package app wires configuration, storage, sessions and the trader into a
// running process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cross_arb/internal/domain"
	"cross_arb/internal/engine"
	"cross_arb/internal/execution"
	"cross_arb/internal/infra"
	"cross_arb/internal/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	EventStore *storage.EventStore
	Snapshots  *storage.SnapshotManager

	Trader *engine.Trader
	Exec   execution.ExecSession
	Feed   *infra.DepthFeed

	instruments []domain.Instrument
	unlock      func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the configuration found by infra.ResolveConfigPath and
// opens storage.
func (b *Bootstrap) Initialize() error {
	return b.InitializeFrom(infra.ResolveConfigPath())
}

// InitializeFrom loads the configuration at path, installs the logger, takes
// the instance lock and opens the event store.
func (b *Bootstrap) InitializeFrom(path string) error {
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	b.Config = cfg
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("BOOTSTRAP", slog.String("app", cfg.App.Name), slog.String("version", cfg.App.Version), slog.String("config", path))

	insts, err := cfg.ParsedInstruments()
	if err != nil {
		return err
	}
	b.instruments = insts

	paths := infra.ResolvePaths(cfg)
	if err := paths.Ensure(); err != nil {
		return err
	}
	unlock, err := paths.Lock()
	if err != nil {
		return err
	}
	b.unlock = unlock

	store, err := storage.NewEventStore(paths.DB)
	if err != nil {
		b.Close()
		return err
	}
	b.EventStore = store
	slog.Info("EVENT_STORE_READY", slog.String("path", paths.DB))

	b.Snapshots = storage.NewSnapshotManager(paths.Snapshots)
	return nil
}

// EngineConfig translates the file configuration for the trader.
func EngineConfig(cfg *infra.Config, insts []domain.Instrument, snaps *storage.SnapshotManager) engine.Config {
	ec := engine.DefaultConfig(insts...)
	ec.Constraints = cfg.ConstraintsFor
	ec.Fees = domain.NewFees(cfg.Trading.FeeRate)
	ec.Limits = cfg.Risk.Clone()
	ec.FlatTolerance = cfg.Trading.FlatTolerance
	ec.MarketDataCap = cfg.Queues.MarketData
	ec.ExecCap = cfg.Queues.Exec
	ec.ManualCap = cfg.Queues.Manual
	if cfg.Trading.DryRunExpiry > 0 {
		ec.DryRunExpiry = cfg.Trading.DryRunExpiry
	}
	if cfg.Trading.RiskLogInterval > 0 {
		ec.RiskLogInterval = cfg.Trading.RiskLogInterval
	}
	ec.Snapshots = snaps
	ec.KeepSnapshots = cfg.Storage.KeepSnapshots
	return ec
}

// Wire builds the trader and its sessions. Sequences continue from the
// journal so replays and resends line up across restarts.
func (b *Bootstrap) Wire(ctx context.Context) error {
	if b.Config == nil || b.EventStore == nil {
		return fmt.Errorf("wire before initialize")
	}
	cfg := b.Config

	tr, err := engine.NewTrader(EngineConfig(cfg, b.instruments, b.Snapshots))
	if err != nil {
		return err
	}
	b.Trader = tr

	venue, err := execution.ParseVenue(cfg.Trading.Venue)
	if err != nil {
		return err
	}
	exec, err := execution.NewExecSession(venue, tr.ExecSink(), b.EventStore)
	if err != nil {
		return err
	}
	b.Exec = exec

	feed := infra.NewDepthFeed(cfg.Feed.URL, tr.MarketDataSink())
	if cfg.Feed.ReadTimeout > 0 {
		feed.Worker().ReadTimeout = cfg.Feed.ReadTimeout
	}
	if cfg.Feed.PingInterval > 0 {
		feed.Worker().PingInterval = cfg.Feed.PingInterval
	}
	if cfg.Feed.Record {
		feed.Record(b.EventStore)
		last, err := b.EventStore.GetLastSeq(ctx, storage.StreamMarketData)
		if err != nil {
			return err
		}
		feed.Resume(last)
	}

	if paper, ok := exec.(*execution.PaperVenue); ok {
		last, err := b.EventStore.GetLastSeq(ctx, storage.StreamExec)
		if err != nil {
			return err
		}
		paper.Resume(last)
		feed.OnSnapshot(paper.OnMarketData)
	}
	b.Feed = feed

	tr.UseSessions(exec, feed)
	slog.Info("ENGINE_WIRED",
		slog.String("venue", string(venue)),
		slog.String("feed", cfg.Feed.URL),
		slog.Bool("record", cfg.Feed.Record))
	return nil
}

// Run starts the sessions and the trader loop, applies the startup commands
// and blocks until ctx is done. The final state is dumped on the way out.
func (b *Bootstrap) Run(ctx context.Context) error {
	if b.Trader == nil {
		return fmt.Errorf("run before wire")
	}
	cfg := b.Config

	mode, err := domain.ParseTradingMode(cfg.Trading.Mode)
	if err != nil {
		return err
	}
	prev, err := b.EventStore.LoadRunState(ctx)
	if err != nil {
		return err
	}
	if prev.Unclean() {
		slog.Error("UNCLEAN_SHUTDOWN",
			slog.Time("since", prev.UpdatedAt),
			slog.String("configured_mode", mode.String()),
			slog.String("mode", domain.Halted.String()))
		mode = domain.Halted
	}

	if err := b.Exec.Start(ctx); err != nil {
		return fmt.Errorf("start exec session: %w", err)
	}
	defer b.Exec.Stop()
	if err := b.Feed.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	defer b.Feed.Stop()

	if err := b.EventStore.MarkRunning(ctx, time.Now()); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Trader.Run(loopCtx) }()

	if err := b.startup(ctx, mode); err != nil {
		slog.Error("STARTUP_FAILED", slog.String("err", err.Error()))
	}

	err = <-done
	b.Trader.DumpState("shutdown")
	b.markStopped()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// markStopped records the final mode and sequence. Call after the loop exits.
func (b *Bootstrap) markStopped() {
	state := b.Trader.State()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.EventStore.MarkStopped(ctx, time.Now(), state.Gate.Mode.String(), state.LastSeq); err != nil {
		slog.Error("RUN_STATE_SAVE_FAILED", slog.String("err", err.Error()))
	}
}

func (b *Bootstrap) startup(ctx context.Context, mode domain.TradingMode) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var cmds []engine.Command
	if b.Config.Trading.ActivateOnStart {
		cmds = append(cmds,
			engine.SubscribeMarketData{Instruments: b.instruments},
			engine.ActivatePairs{Instruments: b.instruments})
	}
	if n := b.Config.Trading.InitialRounds; n > 0 {
		cmds = append(cmds, engine.LoadMag{Rounds: n})
	}
	if mode != domain.Halted {
		cmds = append(cmds, engine.SetTradingMode{Mode: mode})
	}
	for _, cmd := range cmds {
		if _, err := b.Trader.Exec(opCtx, cmd); err != nil {
			return fmt.Errorf("%T: %w", cmd, err)
		}
	}
	return nil
}

// Close releases storage and the instance lock.
func (b *Bootstrap) Close() {
	if b.EventStore != nil {
		if err := b.EventStore.Close(); err != nil {
			slog.Warn("EVENT_STORE_CLOSE_FAILED", slog.String("err", err.Error()))
		}
		b.EventStore = nil
	}
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
}
