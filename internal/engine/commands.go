package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"cross_arb/internal/book"
	"cross_arb/internal/domain"
	"cross_arb/internal/event"
	"cross_arb/internal/execution"
	"cross_arb/internal/orderid"
)

// Command is an operator action applied by the dispatch loop between
// iterations.
type Command interface {
	apply(ctx context.Context, t *Trader) (any, error)
}

type request struct {
	cmd   Command
	reply chan reply
}

type reply struct {
	val any
	err error
}

// Exec posts cmd to the loop and waits for its result. It must not be called
// from the loop goroutine.
func (t *Trader) Exec(ctx context.Context, cmd Command) (any, error) {
	req := request{cmd: cmd, reply: make(chan reply, 1)}
	select {
	case t.cmds <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	t.wake.Notify()

	select {
	case r := <-req.reply:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Query is Exec with the result asserted to T.
func Query[T any](ctx context.Context, t *Trader, cmd Command) (T, error) {
	var zero T
	v, err := t.Exec(ctx, cmd)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("command %T returned %T", cmd, v)
	}
	return out, nil
}

func (t *Trader) runCommands(ctx context.Context) bool {
	worked := false
	for {
		select {
		case req := <-t.cmds:
			worked = true
			t.runCommand(ctx, req)
		default:
			return worked
		}
	}
}

func (t *Trader) runCommand(ctx context.Context, req request) {
	var r reply
	defer func() {
		if p := recover(); p != nil {
			r = reply{err: fmt.Errorf("command %T panicked: %v", req.cmd, p)}
			req.reply <- r
			panic(p)
		}
		req.reply <- r
	}()
	r.val, r.err = req.cmd.apply(ctx, t)
}

// SetTradingMode switches the mode. Returns the previous domain.TradingMode.
type SetTradingMode struct{ Mode domain.TradingMode }

func (c SetTradingMode) apply(ctx context.Context, t *Trader) (any, error) {
	if c.Mode == domain.Live && (t.execSession == nil || !t.execSession.LoggedOn()) {
		return t.gate.Mode(), fmt.Errorf("go live: %w", execution.ErrNoSession)
	}
	return t.gate.SetTradingMode(c.Mode), nil
}

// Halt stops trading and deactivates every pair. Returns the previous mode.
type Halt struct{}

func (Halt) apply(ctx context.Context, t *Trader) (any, error) {
	return t.haltAndDeactivate(), nil
}

// ResetBreaker closes one circuit breaker. Returns the instruments that were
// tripped before the reset.
type ResetBreaker struct{ Instrument domain.Instrument }

func (c ResetBreaker) apply(ctx context.Context, t *Trader) (any, error) {
	return t.gate.ResetBreaker(c.Instrument), nil
}

// ResetAllBreakers closes every circuit breaker.
type ResetAllBreakers struct{}

func (ResetAllBreakers) apply(ctx context.Context, t *Trader) (any, error) {
	return t.gate.ResetAllBreakers(), nil
}

// LoadMag adds rounds to the magazine. Returns the new count.
type LoadMag struct{ Rounds int }

func (c LoadMag) apply(ctx context.Context, t *Trader) (any, error) {
	if c.Rounds <= 0 {
		return t.gate.Rounds(), fmt.Errorf("rounds must be positive: %d", c.Rounds)
	}
	return t.gate.LoadMag(c.Rounds), nil
}

// EmptyMag empties the magazine. Returns the rounds that were left.
type EmptyMag struct{}

func (EmptyMag) apply(ctx context.Context, t *Trader) (any, error) {
	return t.gate.EmptyMag(), nil
}

// SetLimit changes a named risk limit, see risk.LimitNames. Returns the
// previous value.
type SetLimit struct {
	Name  string
	Value float64
}

func (c SetLimit) apply(ctx context.Context, t *Trader) (any, error) {
	return t.gate.SetLimit(c.Name, c.Value)
}

// SubscribeMarketData requests snapshots for the given instruments. Returns
// the instruments newly subscribed.
type SubscribeMarketData struct{ Instruments []domain.Instrument }

func (c SubscribeMarketData) apply(ctx context.Context, t *Trader) (any, error) {
	if t.mdSession == nil {
		return nil, execution.ErrNoSession
	}
	var added []domain.Instrument
	for _, inst := range c.Instruments {
		if t.books.Get(inst) == nil {
			return added, fmt.Errorf("subscribe %s: %w", inst, ErrUnknownInstrument)
		}
		if _, ok := t.subscribed[inst]; ok {
			continue
		}
		if err := t.mdSession.Subscribe(inst); err != nil {
			return added, fmt.Errorf("subscribe %s: %w", inst, err)
		}
		t.subscribed[inst] = struct{}{}
		added = append(added, inst)
	}
	slog.Info("MD_SUBSCRIBED", slog.Any("instruments", instrumentNames(sortedKeys(t.subscribed))))
	return added, nil
}

// UnsubscribeMarketData drops every subscription. Active pairs halt trading.
type UnsubscribeMarketData struct{}

func (UnsubscribeMarketData) apply(ctx context.Context, t *Trader) (any, error) {
	t.unsubscribeAll()
	return sortedKeys(t.subscribed), nil
}

// ActivatePairs enables entries on subscribed instruments. Returns the
// instruments newly activated.
type ActivatePairs struct{ Instruments []domain.Instrument }

func (c ActivatePairs) apply(ctx context.Context, t *Trader) (any, error) {
	var added []domain.Instrument
	for _, inst := range c.Instruments {
		if _, ok := t.subscribed[inst]; !ok {
			slog.Error("ACTIVATE_UNSUBSCRIBED", slog.String("instrument", inst.String()))
			continue
		}
		if _, ok := t.active[inst]; ok {
			continue
		}
		t.active[inst] = struct{}{}
		added = append(added, inst)
	}
	if len(added) > 0 {
		slog.Info("PAIRS_ACTIVATED", slog.Any("instruments", instrumentNames(added)))
	}
	return added, nil
}

// DeactivatePairs disables entries. An empty list deactivates every pair.
// Returns the instruments that were active.
type DeactivatePairs struct{ Instruments []domain.Instrument }

func (c DeactivatePairs) apply(ctx context.Context, t *Trader) (any, error) {
	if len(c.Instruments) == 0 {
		return t.deactivateAll(), nil
	}
	var removed []domain.Instrument
	for _, inst := range c.Instruments {
		if _, ok := t.active[inst]; !ok {
			slog.Warn("DEACTIVATE_INACTIVE", slog.String("instrument", inst.String()))
			continue
		}
		delete(t.active, inst)
		removed = append(removed, inst)
	}
	slog.Info("PAIRS_DEACTIVATED", slog.Any("instruments", instrumentNames(removed)))
	return removed, nil
}

// SetQueuesHealthy restores every queue after an overflow.
type SetQueuesHealthy struct{}

func (SetQueuesHealthy) apply(ctx context.Context, t *Trader) (any, error) {
	t.mdQ.SetHealthy(true)
	t.execQ.SetHealthy(true)
	t.manualQ.SetHealthy(true)
	return t.queueStats(), nil
}

// StartReplay resets the replay PnL and asks the venue to resend every
// report. Resent reports arrive as duplicates and never touch live PnL.
type StartReplay struct{}

func (StartReplay) apply(ctx context.Context, t *Trader) (any, error) {
	t.ledgers.StartNewReplay()
	if t.execSession == nil {
		return nil, execution.ErrNoSession
	}
	if err := t.execSession.SendResendRequest(ctx, 1, 0); err != nil {
		return nil, fmt.Errorf("resend request: %w", err)
	}
	slog.Info("REPLAY_STARTED")
	return nil, nil
}

// CancelOrder requests cancellation of a working order.
type CancelOrder struct {
	Instrument domain.Instrument
	ID         orderid.ClOrdID
}

func (c CancelOrder) apply(ctx context.Context, t *Trader) (any, error) {
	l, ok := t.ledgers.Get(c.Instrument)
	if !ok {
		return nil, fmt.Errorf("cancel on %s: %w", c.Instrument, ErrUnknownInstrument)
	}
	state, err := l.Cancelable(c.ID)
	if err != nil {
		return nil, err
	}
	if t.execSession == nil {
		return nil, execution.ErrNoSession
	}
	if err := t.execSession.SendCancel(ctx, state.Order); err != nil {
		return nil, err
	}
	return nil, l.HandleCancelRequest(state.Order)
}

// GetLimits returns the gate's risk.Snapshot.
type GetLimits struct{}

func (GetLimits) apply(ctx context.Context, t *Trader) (any, error) {
	return t.gate.Snapshot(), nil
}

// GetBook returns a copy of one instrument's *book.Book.
type GetBook struct{ Instrument domain.Instrument }

func (c GetBook) apply(ctx context.Context, t *Trader) (any, error) {
	b := t.books.Get(c.Instrument)
	if b == nil {
		return (*book.Book)(nil), fmt.Errorf("book %s: %w", c.Instrument, ErrUnknownInstrument)
	}
	return b.Snapshot(), nil
}

// PairSets is the result of GetActivePairs.
type PairSets struct {
	Subscribed []domain.Instrument `json:"subscribed"`
	Active     []domain.Instrument `json:"active"`
}

// GetActivePairs returns the subscribed and active instruments.
type GetActivePairs struct{}

func (GetActivePairs) apply(ctx context.Context, t *Trader) (any, error) {
	return PairSets{Subscribed: sortedKeys(t.subscribed), Active: sortedKeys(t.active)}, nil
}

// GetQueueStats returns []event.QueueStats in priority order.
type GetQueueStats struct{}

func (GetQueueStats) apply(ctx context.Context, t *Trader) (any, error) {
	return t.queueStats(), nil
}

func (t *Trader) queueStats() []event.QueueStats {
	return []event.QueueStats{t.execQ.Stats(), t.mdQ.Stats(), t.manualQ.Stats()}
}

func sortedKeys(set map[domain.Instrument]struct{}) []domain.Instrument {
	out := make([]domain.Instrument, 0, len(set))
	for inst := range set {
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b domain.Instrument) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

func instrumentNames(insts []domain.Instrument) []string {
	out := make([]string, len(insts))
	for i, inst := range insts {
		out[i] = inst.String()
	}
	return out
}
