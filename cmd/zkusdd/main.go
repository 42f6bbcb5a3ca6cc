package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"zkusd/config"
	"zkusd/crypto"
	"zkusd/native/engine"
	"zkusd/native/oracle"
	"zkusd/observability/logging"
	"zkusd/rpc"
	"zkusd/state"
	"zkusd/storage"
)

const enginePassEnv = "ZKUSD_ENGINE_PASS"

// blockClock derives logical block heights from wall-clock time, so the
// oracle's parity staging works without a consensus layer underneath.
type blockClock struct {
	genesis  time.Time
	interval time.Duration
}

func newBlockClock(interval time.Duration) *blockClock {
	return &blockClock{genesis: time.Now().Truncate(interval), interval: interval}
}

func (c *blockClock) Current() uint64 {
	return uint64(time.Since(c.genesis) / c.interval)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ZKUSD_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	logger := logging.Setup("zkusd", env, cfg.LogFile)
	if err := config.ValidateConfig(cfg); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	engineKey, err := crypto.LoadFromKeystore(cfg.EngineKeystorePath, os.Getenv(enginePassEnv))
	if err != nil {
		logger.Error("Failed to load engine keystore", slog.Any("error", err))
		os.Exit(1)
	}
	engineAddr := engineKey.PubKey().ArrayAddress()

	store := state.NewStore(db)
	if err := initGenesis(store, engineAddr, cfg, logger); err != nil {
		logger.Error("Failed to initialise genesis state", slog.Any("error", err))
		os.Exit(1)
	}

	clock := newBlockClock(time.Duration(cfg.Blocks.IntervalSeconds) * time.Second)
	server := rpc.NewServer(store, engineAddr, clock, logger, cfg.RateLimit)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("rpc listening", "address", cfg.RPCAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", slog.Any("error", err))
	}
}

// initGenesis seeds the protocol record and oracle state on first boot. An
// already-initialised database is left untouched.
func initGenesis(store *state.Store, engineAddr [20]byte, cfg *config.Config, logger *slog.Logger) error {
	return store.Update(func(txn *state.Txn) error {
		record, err := txn.GetProtocol()
		if err != nil {
			return err
		}
		if record != nil {
			return nil
		}

		adminAddr := engineAddr
		if cfg.Genesis.Admin != "" {
			decoded, err := crypto.DecodeAddress(cfg.Genesis.Admin)
			if err != nil {
				return err
			}
			adminAddr = decoded.Array()
		}

		members := make([][20]byte, 0, len(cfg.Genesis.Whitelist))
		for _, entry := range cfg.Genesis.Whitelist {
			decoded, err := crypto.DecodeAddress(entry)
			if err != nil {
				return err
			}
			members = append(members, decoded.Array())
		}
		wl, err := oracle.NewWhitelist(members...)
		if err != nil {
			return err
		}

		eng := engine.NewEngine(engineAddr)
		eng.SetState(txn)
		if err := eng.InitializeProtocol(adminAddr, cfg.Genesis.OracleFlatFee); err != nil {
			return err
		}

		feed := oracle.NewOracle()
		feed.SetState(txn)
		if err := feed.Initialize(cfg.Genesis.FallbackPrice, wl); err != nil {
			return err
		}

		logger.Info("genesis state initialised",
			"admin", crypto.NewAddress(crypto.ZKPrefix, adminAddr[:]).String(),
			"fallbackPrice", cfg.Genesis.FallbackPrice,
			"whitelistSize", len(members),
		)
		return nil
	})
}
