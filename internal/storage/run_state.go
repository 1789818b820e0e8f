package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	metaRunStatus = "run_status"
	metaMode      = "last_mode"
	metaLastSeq   = "last_exec_seq"

	statusRunning = "running"
	statusStopped = "stopped"
)

// RunState is what the previous process left in the metadata table.
type RunState struct {
	// Running is true while a process is trading, so a crash leaves it set.
	Running   bool      `json:"running"`
	Mode      string    `json:"mode,omitempty"`
	LastSeq   uint64    `json:"last_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Unclean reports whether the previous process stopped without MarkStopped.
func (r RunState) Unclean() bool { return r.Running }

// MarkRunning records that a process has started trading on this store.
func (s *EventStore) MarkRunning(ctx context.Context, now time.Time) error {
	return s.putMeta(ctx, now, map[string]string{metaRunStatus: statusRunning})
}

// MarkStopped records a clean shutdown with the final trading mode and the
// last exec sequence the trader applied.
func (s *EventStore) MarkStopped(ctx context.Context, now time.Time, mode string, lastSeq uint64) error {
	return s.putMeta(ctx, now, map[string]string{
		metaRunStatus: statusStopped,
		metaMode:      mode,
		metaLastSeq:   strconv.FormatUint(lastSeq, 10),
	})
}

// LoadRunState reads the state left by the previous process. A fresh store
// returns the zero RunState.
func (s *EventStore) LoadRunState(ctx context.Context) (RunState, error) {
	var rs RunState
	status, at, err := s.getMeta(ctx, metaRunStatus)
	if err != nil {
		return rs, err
	}
	rs.Running = status == statusRunning
	rs.UpdatedAt = at

	if rs.Mode, _, err = s.getMeta(ctx, metaMode); err != nil {
		return rs, err
	}
	seq, _, err := s.getMeta(ctx, metaLastSeq)
	if err != nil {
		return rs, err
	}
	if seq != "" {
		if rs.LastSeq, err = strconv.ParseUint(seq, 10, 64); err != nil {
			return rs, fmt.Errorf("metadata %s=%q: %w", metaLastSeq, seq, err)
		}
	}
	return rs, nil
}

func (s *EventStore) putMeta(ctx context.Context, now time.Time, kv map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin metadata tx: %w", err)
	}
	defer tx.Rollback()

	for k, v := range kv {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
			k, v, now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to save metadata %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *EventStore) getMeta(ctx context.Context, key string) (string, time.Time, error) {
	var (
		value string
		ts    int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT value, updated_at FROM metadata WHERE key = ?", key).Scan(&value, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to load metadata %s: %w", key, err)
	}
	return value, time.UnixMilli(ts), nil
}
