// Command auditcored runs the tamper-evident audit core as a standalone
// daemon: it owns the Postgres connection, the anchor worker, and the
// periodic batch-building loop, and exposes /healthz and /metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	auditledger "github.com/auditledger/core"
	"github.com/auditledger/core/internal/config"
	"github.com/auditledger/core/internal/ledger"
	"github.com/auditledger/core/internal/storage"
	"github.com/auditledger/core/internal/telemetry"
	"github.com/auditledger/core/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("AUDITCORE_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("auditcored starting", "version", version, "blockchain_enabled", cfg.BlockchainEnabled)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	chain, simulated, err := newLedger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	var hashKey []byte
	if cfg.SecretKey != "" {
		hashKey = []byte(cfg.SecretKey)
	}

	core, err := auditledger.New(
		auditledger.WithLogger(logger),
		auditledger.WithStore(db),
		auditledger.WithLedger(chain),
		auditledger.WithSimulatedLedger(simulated),
		auditledger.WithHashKey(hashKey),
		auditledger.WithMerkleTreeDepth(cfg.MerkleTreeDepth),
		auditledger.WithAnchorInterval(time.Duration(cfg.AnchorIntervalMinutes)*time.Minute),
		auditledger.WithGDPRRetentionDays(cfg.GDPRDeletionRetentionDays),
		auditledger.WithAnchorPolling(
			time.Duration(cfg.AnchorPollIntervalSecs)*time.Second,
			time.Duration(cfg.AnchorPollBudgetSecs)*time.Second,
		),
	)
	if err != nil {
		return fmt.Errorf("auditledger: %w", err)
	}

	orgIDs, err := db.ListActiveOrgIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active orgs: %w", err)
	}
	slog.Info("batch loop starting", "organizations", len(orgIDs), "interval", cfg.AnchorIntervalMinutes)

	registry := prometheus.DefaultRegisterer
	_ = ledger.NewMetrics(registry)

	healthSrv := newHealthServer(cfg.HealthPort, db)
	errCh := make(chan error, 1)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	coreErrCh := make(chan error, 1)
	go func() {
		if err := core.Run(ctx, orgIDs); err != nil {
			coreErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	case err := <-coreErrCh:
		return err
	}

	slog.Info("auditcored shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownHTTPTimeout)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}

	slog.Info("auditcored stopped")
	return nil
}

// newLedger builds the Ledger collaborator from config: a real Ethereum
// client when blockchain anchoring is enabled, or an in-memory Simulator
// otherwise. The bool return marks whether the result is a simulation, for
// WithSimulatedLedger.
func newLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (auditledger.Ledger, bool, error) {
	if !cfg.BlockchainEnabled {
		logger.Info("ledger: simulated (AUDITCORE_BLOCKCHAIN_ENABLED=false)")
		return ledger.NewSimulator(cfg.ChainID, cfg.NetworkName), true, nil
	}

	logger.Info("ledger: ethereum", "rpc_url", cfg.EthereumRPCURL, "chain_id", cfg.ChainID, "contract", cfg.AnchorContractAddress)
	eth, err := ledger.NewEthereum(ctx, ledger.EthereumConfig{
		RPCURL:          cfg.EthereumRPCURL,
		ChainID:         cfg.ChainID,
		NetworkName:     cfg.NetworkName,
		ContractAddress: cfg.AnchorContractAddress,
		PrivateKeyHex:   cfg.AnchorPrivateKey,
	})
	if err != nil {
		return nil, false, err
	}
	return eth, false, nil
}

// newHealthServer exposes liveness and Prometheus metrics. It is
// deliberately minimal: the audit core has no public HTTP API of its own,
// unlike the teacher's internal/server.
func newHealthServer(port int, db *storage.DB) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
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
