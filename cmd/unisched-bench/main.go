// Command unisched-bench drives the unified scheduler with a synthetic
// workload and reports per-slot and whole-run throughput.
//
// Usage:
//
//	unisched-bench [flags]
//
// Flags:
//
//	--config        Config file overlaying the defaults (yaml/toml/json)
//	--slots         Number of scheduling sessions to run (default: 10)
//	--txs           Transactions admitted per slot (default: 5000)
//	--producers     Concurrent admission goroutines (default: 4)
//	--workers       Execution workers per scheduler (default: 8)
//	--mode          Session mode: produce or replay (default: produce)
//	--accounts      Distinct account keys in the workload (default: 4096)
//	--hot           Accounts forming the contention hot spot (default: 16)
//	--hot.fraction  Probability an access lands in the hot spot (default: 0.3)
//	--spin          Hash rounds of busy work per execution (default: 32)
//	--seed          Workload generator seed (default: 42)
//	--metrics.addr  Listen address for /metrics, empty disables
//	--log.level     Log level: debug, info, warn, error (default: info)
//	--log.format    Log encoder: console, color or json (default: console)
//	--log.file      Path for rotated file logging, empty disables
//	--version       Print version and exit
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/unisched/log"
	"github.com/eth2030/unisched/metrics"
	"github.com/eth2030/unisched/sched"
	"github.com/eth2030/unisched/schedpool"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.3.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	logger, err := log.NewWithConfig(log.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.SetDefault(logger)
	l := logger.Module("bench")

	l.Info("unisched-bench starting", "version", version,
		"slots", cfg.Slots, "txs_per_slot", cfg.TxPerSlot, "producers", cfg.Producers,
		"workers", cfg.Workers, "mode", cfg.Mode,
		"accounts", cfg.Accounts, "hot", cfg.HotAccounts, "hot_fraction", cfg.HotFraction)
	if cfg.ConfigFile != "" {
		l.Info("config file applied", "path", cfg.ConfigFile)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig()))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				l.Warn("metrics server stopped", "err", err)
			}
		}()
		l.Info("metrics exposed", "addr", cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := sched.ModeProduce
	if cfg.Mode == "replay" {
		mode = sched.ModeReplay
	}
	poolCfg := schedpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers
	pool := schedpool.NewSchedulerPool(poolCfg)
	defer pool.Close()

	var totals sched.SessionStats
	start := time.Now()
	for slot := uint64(1); slot <= uint64(cfg.Slots); slot++ {
		if ctx.Err() != nil {
			l.Warn("interrupted", "completed_slots", slot-1)
			break
		}
		stats, err := runSlot(ctx, l, pool, mode, cfg, slot)
		if err != nil {
			l.Error("slot failed", "slot", slot, "err", err)
			return 1
		}
		totals.Merge(stats)
		l.Info("slot sealed", "slot", slot,
			"executed", stats.Executed, "failed", stats.Failed, "flushed", stats.Flushed,
			"cu", stats.ComputeUnits, "exec_wall", stats.ExecWall)
	}
	elapsed := time.Since(start)

	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(totals.Executed) / elapsed.Seconds()
	}
	l.Info("bench complete",
		"executed", totals.Executed, "failed", totals.Failed, "flushed", totals.Flushed,
		"cu", totals.ComputeUnits, "elapsed", elapsed,
		"tasks_per_sec", fmt.Sprintf("%.0f", throughput),
		"lock_conflicts", metrics.LockConflicts.Value(),
		"provisional_grants", metrics.ProvisionalGrants.Value(),
		"provisional_fulfilled", metrics.ProvisionalFulfilled.Value())
	return 0
}

// runSlot runs one scheduling session: take a scheduler against a fresh
// bank, admit the slot's workload from the producer goroutines, end the
// session, and hand the scheduler back.
func runSlot(ctx context.Context, l *log.Logger, pool *schedpool.SchedulerPool,
	mode sched.Mode, cfg benchConfig, slot uint64) (sched.SessionStats, error) {

	bank := newBenchBank(slot, cfg.SpinWork)
	rec := newLedgerRecorder()
	s, err := pool.Take(schedpool.NewSchedulingContext(mode, bank, rec))
	if err != nil {
		return sched.SessionStats{}, err
	}

	var next atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	per := cfg.TxPerSlot / cfg.Producers
	for p := 0; p < cfg.Producers; p++ {
		n := per
		if p == cfg.Producers-1 {
			n = cfg.TxPerSlot - per*(cfg.Producers-1)
		}
		seed := int64(slot)<<16 | int64(p)
		g.Go(func() error {
			w := newWorkload(cfg, seed)
			for i := 0; i < n; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := s.ScheduleExecution(w.next(), next.Inc()-1); err != nil {
					return err
				}
			}
			return nil
		})
	}
	admitErr := g.Wait()

	reason := schedpool.WaitSessionEnded
	if admitErr != nil {
		reason = schedpool.WaitSessionFlushed
	}
	stats, err := s.EndSession(reason)
	if err != nil {
		return stats, err
	}
	pool.Return(s)

	l.Debug("slot recorded", "slot", slot, "committed", rec.committedCount())
	if admitErr != nil && admitErr != context.Canceled {
		return stats, admitErr
	}
	return stats, nil
}
