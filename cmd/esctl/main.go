// Command esctl inspects an evsrc SQLite event log.
//
//	esctl events <aggregate-id>   print the events of one aggregate
//	esctl tail                    print the log from the checkpoint onwards
//
// Configuration is read from the environment, see config.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/codewandler/evsrc/adapters/sqlite"
	"github.com/codewandler/evsrc/core/es"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "esctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: esctl events <aggregate-id> | esctl tail")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.level()}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.DBPath, Log: log})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := json.NewEncoder(os.Stdout)

	switch args[0] {
	case "events":
		if len(args) < 2 {
			return errors.New("usage: esctl events <aggregate-id>")
		}
		envs, err := store.Query(ctx, es.Filter{AggregateID: args[1]})
		if err != nil {
			return err
		}
		for _, env := range envs {
			if err := out.Encode(env); err != nil {
				return err
			}
		}
		log.Info("events", slog.String("aggregate_id", args[1]), slog.Int("count", len(envs)))
		return nil
	case "tail":
		return tail(ctx, log, cfg, store, out)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// tail writes every envelope after the checkpoint and advances it per batch.
func tail(ctx context.Context, log *slog.Logger, cfg config, store *sqlite.Store, out *json.Encoder) error {
	var cp es.CpStore = es.NewInMemCpStore()
	if cfg.Checkpoint != "" {
		kvcp, err := es.NewKVCpStore(store.KV(), cfg.Checkpoint)
		if err != nil {
			return err
		}
		cp = kvcp
	}

	lastSeq, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	start, total := lastSeq, 0
	for {
		envs, err := store.Scan(ctx, es.Filter{}, lastSeq, cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(envs) == 0 {
			break
		}
		for _, env := range envs {
			if err := out.Encode(env); err != nil {
				return err
			}
		}
		lastSeq = envs[len(envs)-1].Seq
		total += len(envs)
		if err := cp.Set(ctx, lastSeq); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}
	log.Info("tail done", slog.Uint64("from_seq", start), slog.Uint64("last_seq", lastSeq), slog.Int("count", total))
	return nil
}
