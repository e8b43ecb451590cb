package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// benchConfig aggregates all configuration sources (config file, CLI
// flags) for a bench run. Flags override the file; the file overrides
// defaults.
type benchConfig struct {
	// Slots is how many scheduling sessions to run back to back.
	Slots int
	// TxPerSlot is how many transactions each session admits.
	TxPerSlot int
	// Producers is how many goroutines admit transactions concurrently.
	Producers int
	// Workers is the execution worker count per scheduler.
	Workers int
	// Mode selects the session mode: "produce" or "replay".
	Mode string

	// Accounts is the size of the account key space.
	Accounts int
	// HotAccounts is how many accounts form the contention hot spot.
	HotAccounts int
	// HotFraction is the probability an account pick lands in the hot
	// spot.
	HotFraction float64
	// SpinWork is the number of hash rounds of busy work per execution.
	SpinWork int
	// Seed seeds the workload generator.
	Seed int64

	// MetricsAddr is the listen address for the /metrics endpoint. Empty
	// disables the HTTP server.
	MetricsAddr string

	LogLevel  string
	LogFormat string
	LogFile   string

	// ConfigFile is the path of the loaded config file, if any.
	ConfigFile string
}

func defaultBenchConfig() benchConfig {
	return benchConfig{
		Slots:       10,
		TxPerSlot:   5000,
		Producers:   4,
		Workers:     8,
		Mode:        "produce",
		Accounts:    4096,
		HotAccounts: 16,
		HotFraction: 0.3,
		SpinWork:    32,
		Seed:        42,
		LogLevel:    "info",
		LogFormat:   "console",
	}
}

// Validate rejects configurations the bench cannot run with.
func (c benchConfig) Validate() error {
	switch {
	case c.Slots <= 0:
		return errors.New("bench: slots must be positive")
	case c.TxPerSlot <= 0:
		return errors.New("bench: txs per slot must be positive")
	case c.Producers <= 0:
		return errors.New("bench: producers must be positive")
	case c.Workers <= 0:
		return errors.New("bench: workers must be positive")
	case c.Mode != "produce" && c.Mode != "replay":
		return errors.Errorf("bench: unknown mode %q", c.Mode)
	case c.Accounts < 8:
		return errors.New("bench: need at least 8 accounts")
	case c.HotAccounts < 0 || c.HotAccounts >= c.Accounts:
		return errors.New("bench: hot accounts must be fewer than accounts")
	case c.HotFraction < 0 || c.HotFraction > 1:
		return errors.New("bench: hot fraction must be within [0,1]")
	case c.SpinWork < 1:
		return errors.New("bench: spin work must be at least 1")
	}
	return nil
}

// applyFile overlays values from a config file (any format viper reads:
// YAML, TOML, JSON) onto cfg. Only keys present in the file are applied.
func applyFile(cfg *benchConfig, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrap(err, "bench: read config file")
	}

	if v.IsSet("slots") {
		cfg.Slots = v.GetInt("slots")
	}
	if v.IsSet("tx_per_slot") {
		cfg.TxPerSlot = v.GetInt("tx_per_slot")
	}
	if v.IsSet("producers") {
		cfg.Producers = v.GetInt("producers")
	}
	if v.IsSet("workers") {
		cfg.Workers = v.GetInt("workers")
	}
	if v.IsSet("mode") {
		cfg.Mode = v.GetString("mode")
	}
	if v.IsSet("accounts") {
		cfg.Accounts = v.GetInt("accounts")
	}
	if v.IsSet("hot_accounts") {
		cfg.HotAccounts = v.GetInt("hot_accounts")
	}
	if v.IsSet("hot_fraction") {
		cfg.HotFraction = v.GetFloat64("hot_fraction")
	}
	if v.IsSet("spin_work") {
		cfg.SpinWork = v.GetInt("spin_work")
	}
	if v.IsSet("seed") {
		cfg.Seed = v.GetInt64("seed")
	}
	if v.IsSet("metrics_addr") {
		cfg.MetricsAddr = v.GetString("metrics_addr")
	}
	if v.IsSet("log.level") {
		cfg.LogLevel = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		cfg.LogFormat = v.GetString("log.format")
	}
	if v.IsSet("log.file") {
		cfg.LogFile = v.GetString("log.file")
	}
	return nil
}

// parseFlags parses CLI arguments into a benchConfig. Returns the config,
// whether the caller should exit immediately, and the exit code.
func parseFlags(args []string) (benchConfig, bool, int) {
	cfg := defaultBenchConfig()
	over := defaultBenchConfig()

	fs := flag.NewFlagSet("unisched-bench", flag.ContinueOnError)
	fs.StringVar(&over.ConfigFile, "config", "", "path to a config file (yaml/toml/json)")
	fs.IntVar(&over.Slots, "slots", over.Slots, "number of scheduling sessions to run")
	fs.IntVar(&over.TxPerSlot, "txs", over.TxPerSlot, "transactions admitted per slot")
	fs.IntVar(&over.Producers, "producers", over.Producers, "concurrent admission goroutines")
	fs.IntVar(&over.Workers, "workers", over.Workers, "execution workers per scheduler")
	fs.StringVar(&over.Mode, "mode", over.Mode, "session mode: produce or replay")
	fs.IntVar(&over.Accounts, "accounts", over.Accounts, "distinct account keys in the workload")
	fs.IntVar(&over.HotAccounts, "hot", over.HotAccounts, "accounts forming the contention hot spot")
	fs.Float64Var(&over.HotFraction, "hot.fraction", over.HotFraction, "probability an access lands in the hot spot")
	fs.IntVar(&over.SpinWork, "spin", over.SpinWork, "hash rounds of busy work per execution")
	fs.Int64Var(&over.Seed, "seed", over.Seed, "workload generator seed")
	fs.StringVar(&over.MetricsAddr, "metrics.addr", over.MetricsAddr, "listen address for /metrics (empty disables)")
	fs.StringVar(&over.LogLevel, "log.level", over.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&over.LogFormat, "log.format", over.LogFormat, "log format: console, color, json")
	fs.StringVar(&over.LogFile, "log.file", over.LogFile, "optional rotated log file path")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, true, 2
	}
	if *showVersion {
		fmt.Printf("unisched-bench %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}

	if over.ConfigFile != "" {
		if err := applyFile(&cfg, over.ConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return cfg, true, 2
		}
		cfg.ConfigFile = over.ConfigFile
	}

	// Explicitly set flags win over the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "slots":
			cfg.Slots = over.Slots
		case "txs":
			cfg.TxPerSlot = over.TxPerSlot
		case "producers":
			cfg.Producers = over.Producers
		case "workers":
			cfg.Workers = over.Workers
		case "mode":
			cfg.Mode = over.Mode
		case "accounts":
			cfg.Accounts = over.Accounts
		case "hot":
			cfg.HotAccounts = over.HotAccounts
		case "hot.fraction":
			cfg.HotFraction = over.HotFraction
		case "spin":
			cfg.SpinWork = over.SpinWork
		case "seed":
			cfg.Seed = over.Seed
		case "metrics.addr":
			cfg.MetricsAddr = over.MetricsAddr
		case "log.level":
			cfg.LogLevel = over.LogLevel
		case "log.format":
			cfg.LogFormat = over.LogFormat
		case "log.file":
			cfg.LogFile = over.LogFile
		}
	})
	return cfg, false, 0
}
