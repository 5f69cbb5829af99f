// versectl is the exchange core's process entrypoint: it loads runtime
// config and the genesis leverage-tier table, wires an engine.Engine, and
// blocks until shutdown — the host process a transport (RPC, CLI
// operator commands, or a test harness) attaches to. The startup sequence
// is config load -> validate -> logger setup -> construct -> wait on
// SIGINT/SIGTERM; there is no outbound exchange connection to dial in
// this domain.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/0x-verse/verse-core/internal/config"
	"github.com/0x-verse/verse-core/internal/engine"
	"github.com/0x-verse/verse-core/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to runtime config YAML")
	genesisPath := flag.String("genesis", "configs/genesis.yaml", "path to genesis leverage-tier YAML")
	bootstrapTarget := flag.Uint64("bootstrap-target", 1_000_000_000, "total deposits (micros) that complete the bootstrap phase")
	mmtAllocation := flag.Uint64("mmt-allocation", 500_000_000, "total MMT allocation (micros) distributed pro rata on bootstrap completion")
	flag.Parse()

	if p := os.Getenv("VERSE_CONFIG"); p != "" {
		*cfgPath = p
	}
	if p := os.Getenv("VERSE_GENESIS"); p != "" {
		*genesisPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	genesis, err := config.LoadGenesisConfig(*genesisPath)
	if err != nil {
		slog.Error("failed to load genesis config", "error", err, "path", *genesisPath)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng := engine.New(*cfg, genesis, types.Micros(*bootstrapTarget), types.Micros(*mmtAllocation), logger)

	logger.Info("verse-core engine initialized",
		"leverage_tiers", len(genesis.Tiers),
		"bootstrap_target", *bootstrapTarget,
		"markets", len(eng.Markets().All()),
		"postgres_dsn_set", cfg.Storage.PostgresDSN != "",
		"redis_addr_set", cfg.Storage.RedisAddr != "",
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
