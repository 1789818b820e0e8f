package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cross_arb/backtest"
	"cross_arb/internal/app"
	"cross_arb/internal/infra"
	"cross_arb/internal/storage"
)

func main() {
	configPath := flag.String("config", infra.ResolveConfigPath(), "config file")
	dbPath := flag.String("db", "", "event store to replay (default: the engine's journal)")
	from := flag.Uint64("from", 1, "first market data seq")
	to := flag.Uint64("to", 0, "last market data seq, 0 for all")
	rounds := flag.Int("rounds", 1_000_000, "magazine loaded before the replay")
	flag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		slog.Error("CONFIG_FAILED", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(infra.NewLogger(cfg))

	path := *dbPath
	if path == "" {
		path = infra.ResolvePaths(cfg).DB
	}
	if _, err := os.Stat(path); err != nil {
		slog.Error("NO_EVENT_STORE", slog.String("path", path), slog.String("hint", "pass -db or set storage.db_path"))
		os.Exit(2)
	}
	store, err := storage.NewEventStore(path)
	if err != nil {
		slog.Error("EVENT_STORE_FAILED", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	insts, err := cfg.ParsedInstruments()
	if err != nil {
		slog.Error("CONFIG_FAILED", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := backtest.NewReplayer(store, app.EngineConfig(cfg, insts, nil)).
		Range(*from, *to).
		Rounds(*rounds).
		Run(ctx)
	if err != nil {
		slog.Error("REPLAY_FAILED", slog.Any("error", err))
		store.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(res)
}
