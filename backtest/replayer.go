// Package backtest replays recorded market data through the trader in
// dry-run mode.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cross_arb/internal/domain"
	"cross_arb/internal/engine"
	"cross_arb/internal/event"
	"cross_arb/internal/execution"
	"cross_arb/internal/risk"
	"cross_arb/internal/storage"
	"cross_arb/internal/strategy"
)

// ErrNoEvents is returned when the journal holds no market data in range.
var ErrNoEvents = errors.New("no market data to replay")

// Source is the part of the event journal a replay reads.
type Source interface {
	LoadEvents(ctx context.Context, stream string, fromSeq, toSeq uint64) ([]event.Event, error)
}

// Result summarizes a replay.
type Result struct {
	Events   int                 `json:"events"`
	First    time.Time           `json:"first"`
	Last     time.Time           `json:"last"`
	Entries  int                 `json:"entries"`
	TheoPnl  strategy.TheoPnl    `json:"theo_pnl"`
	Rounds   int                 `json:"rounds_left"`
	Breakers []domain.Instrument `json:"breakers"`
}

// Replayer feeds journaled snapshots to a fresh trader one at a time and
// steps the loop until it is idle after each, so a replay is deterministic.
type Replayer struct {
	src     Source
	cfg     engine.Config
	rounds  int
	fromSeq uint64
	toSeq   uint64
}

// NewReplayer creates a replayer over src. cfg's Start is replaced by the
// time of the first replayed snapshot.
func NewReplayer(src Source, cfg engine.Config) *Replayer {
	return &Replayer{src: src, cfg: cfg, rounds: 1_000_000, fromSeq: 1}
}

// Range limits the replay to seq in from..to. A to of 0 means no bound.
func (r *Replayer) Range(from, to uint64) *Replayer {
	r.fromSeq, r.toSeq = from, to
	return r
}

// Rounds sets the magazine loaded before the replay starts.
func (r *Replayer) Rounds(n int) *Replayer {
	r.rounds = n
	return r
}

// Run replays the market data stream and returns the summary.
func (r *Replayer) Run(ctx context.Context) (Result, error) {
	events, err := r.src.LoadEvents(ctx, storage.StreamMarketData, r.fromSeq, r.toSeq)
	if err != nil {
		return Result{}, fmt.Errorf("load market data: %w", err)
	}
	if len(events) == 0 {
		return Result{}, ErrNoEvents
	}

	cfg := r.cfg
	cfg.Start = events[0].GetRecvTime()
	cfg.Snapshots = nil
	tr, err := engine.NewTrader(cfg)
	if err != nil {
		return Result{}, err
	}
	sessions := execution.NewMockSession()
	tr.UseSessions(sessions, sessions)

	setup := []engine.Command{
		engine.SubscribeMarketData{Instruments: cfg.Instruments},
		engine.ActivatePairs{Instruments: cfg.Instruments},
		engine.LoadMag{Rounds: r.rounds},
		engine.SetTradingMode{Mode: domain.DryRun},
	}
	for _, cmd := range setup {
		if _, err := tr.Apply(ctx, cmd); err != nil {
			return Result{}, fmt.Errorf("replay setup %T: %w", cmd, err)
		}
	}

	res := Result{First: cfg.Start}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !tr.OfferMarketData(ev) {
			return res, fmt.Errorf("market data queue rejected seq %d", ev.GetSeq())
		}
		for tr.Step(ctx) {
		}
		res.Events++
		res.Last = ev.GetRecvTime()
	}

	v, err := tr.Apply(ctx, engine.GetLimits{})
	if err != nil {
		return res, err
	}
	snap := v.(risk.Snapshot)
	res.Rounds = snap.Rounds
	res.Breakers = snap.Breakers
	res.Entries = (r.rounds - snap.Rounds) / 2
	res.TheoPnl = tr.TheoPnl()

	slog.Info("REPLAY_DONE",
		slog.Int("events", res.Events),
		slog.Time("first", res.First),
		slog.Time("last", res.Last),
		slog.Int("entries", res.Entries),
		slog.Float64("theo_net", res.TheoPnl.Net),
		slog.Float64("theo_gross", res.TheoPnl.Gross))
	return res, nil
}
