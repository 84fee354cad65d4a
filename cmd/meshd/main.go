// Command meshd is the MESH agent process entrypoint: it wires Config into
// a Store, a Reputation Client, a Coordinator, a Scheduler, a Transport
// Facade, and an Engine, then runs until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshprotocol/agent/pkg/audit"
	"github.com/meshprotocol/agent/pkg/coordinator"
	"github.com/meshprotocol/agent/pkg/config"
	"github.com/meshprotocol/agent/pkg/engine"
	"github.com/meshprotocol/agent/pkg/httpapi"
	"github.com/meshprotocol/agent/pkg/rank"
	"github.com/meshprotocol/agent/pkg/reputation"
	"github.com/meshprotocol/agent/pkg/reputation/evmadapter"
	"github.com/meshprotocol/agent/pkg/reputation/tonadapter"
	"github.com/meshprotocol/agent/pkg/store"
	"github.com/meshprotocol/agent/pkg/store/kvstore"
	"github.com/meshprotocol/agent/pkg/store/memstore"
	"github.com/meshprotocol/agent/pkg/store/reststore"
	"github.com/meshprotocol/agent/pkg/store/sqlstore"
	"github.com/meshprotocol/agent/pkg/transport"

	dbm "github.com/cometbft/cometbft-db"
)

// logSender is the default Sender: it logs every outbound message instead
// of delivering it anywhere. A real deployment swaps this for a concrete
// chat-platform client that satisfies transport.Sender; the rest of the
// wiring below is unaware of the difference.
type logSender struct {
	logger *log.Logger
}

func (s logSender) Send(ctx context.Context, channelID, text string) error {
	s.logger.Printf("-> [%s] %s", channelID, text)
	return nil
}

func main() {
	var (
		configFile = flag.String("config", "", "path to a YAML config file (overrides MESH_CONFIG_FILE)")
		devMode    = flag.Bool("dev", false, "relax configuration validation for local runs")
		showHelp   = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)
	logger.Printf("[meshd] starting")

	if *configFile != "" {
		os.Setenv("MESH_CONFIG_FILE", *configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("[meshd] load configuration: %v", err)
	}

	if *devMode {
		err = cfg.ValidateForDevelopment()
	} else {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Fatalf("[meshd] invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("[meshd] build store: %v", err)
	}

	rep := buildReputation(cfg, logger)

	metrics := httpapi.NewMetrics()

	var mirror *audit.Mirror
	if cfg.AuditEnabled {
		auditClient, err := audit.NewClient(ctx, audit.Config{
			ProjectID: cfg.AuditFirebaseProjectID,
			Enabled:   true,
			Logger:    log.New(os.Stdout, "[audit] ", log.LstdFlags),
		})
		if err != nil {
			logger.Printf("[meshd] audit mirror disabled: %v", err)
		} else {
			mirror = audit.NewMirror(auditClient, cfg.MeshGroupID)
			logger.Printf("[meshd] audit mirror enabled for project %s", cfg.AuditFirebaseProjectID)
		}
	}

	facade := transport.New(logSender{logger: log.New(os.Stdout, "[transport] ", log.LstdFlags)}, nil, transport.Config{
		SendRetryBaseMs: cfg.SendRetryBaseMs,
		SendRetries:     cfg.SendRetries,
	})

	coordOpts := []coordinator.Option{
		coordinator.WithSkills(cfg.Skills...),
		coordinator.WithMetrics(metrics),
	}
	if mirror != nil {
		coordOpts = append(coordOpts, coordinator.WithAudit(mirror))
	}

	coord := coordinator.New(coordinator.Config{
		OwnAddress:               cfg.Address,
		MeshGroupID:              cfg.MeshGroupID,
		MinFee:                   cfg.MinFee,
		MaxIntentDeadlineSeconds: cfg.MaxIntentDeadlineSeconds,
		MaxPayloadBytes:          cfg.MaxPayloadBytes,
		WaitForDeadline:          cfg.WaitForDeadline,
		Weights:                  rank.DefaultWeights(),
		TieWindow:                rank.DefaultTieWindow,
	}, st, rep, facade, coordOpts...)

	eng := engine.New(engine.Config{
		AutoRegisterOnStart: cfg.AutoRegisterOnStart,
		Register: engine.RegisterArgs{
			Skills:       cfg.Skills,
			MinFee:       cfg.MinFee,
			Stake:        cfg.Stake,
			ResponseTime: cfg.ResponseTime,
			ReplyChat:    cfg.ReplyChat,
		},
		EnableScheduler:     cfg.EnableScheduler,
		SchedulerIntervalMs: cfg.SchedulerIntervalMs,
	}, engine.Handle{
		Store:       st,
		Coordinator: coord,
		Transport:   facade,
		Metrics:     metrics,
	}, log.New(os.Stdout, "[engine] ", log.LstdFlags))

	if err := eng.Start(ctx); err != nil {
		logger.Fatalf("[meshd] start lifecycle: %v", err)
	}
	logger.Printf("[meshd] agent %s registered for mesh group %s", cfg.Address, cfg.MeshGroupID)

	httpServer := buildHTTPServer(cfg, metrics, st)
	go func() {
		logger.Printf("[meshd] http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("[meshd] http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Printf("[meshd] shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("[meshd] http shutdown error: %v", err)
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Printf("[meshd] lifecycle stop error: %v", err)
	}
	logger.Printf("[meshd] stopped")
}

// buildStore selects the Store backend per spec.md section 6's precedence:
// databaseUrl (sqlstore) first, then supabaseUrl+supabaseServiceRoleKey
// (reststore), then a local goleveldb-backed kvstore if kvStorePath is set,
// falling back to the in-memory store for local runs.
func buildStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (store.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		logger.Printf("[meshd] store backend: sqlstore")
		return sqlstore.New(ctx, sqlstore.Config{DSN: cfg.DatabaseURL})
	case cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "":
		logger.Printf("[meshd] store backend: reststore (supabase)")
		return reststore.New(reststore.Config{
			BaseURL: cfg.SupabaseURL,
			APIKey:  cfg.SupabaseServiceRoleKey,
			Logger:  log.New(os.Stdout, "[reststore] ", log.LstdFlags),
		})
	case cfg.KVStorePath != "":
		logger.Printf("[meshd] store backend: kvstore at %s", cfg.KVStorePath)
		db, err := dbm.NewGoLevelDB("mesh", cfg.KVStorePath)
		if err != nil {
			return nil, fmt.Errorf("open kvstore: %w", err)
		}
		return kvstore.New(db), nil
	default:
		logger.Printf("[meshd] store backend: in-memory (no databaseUrl/supabaseUrl/kvStorePath set)")
		return memstore.New(), nil
	}
}

// buildReputation wires the Reputation Client's HostAdapter per
// reputationBackend/mode: "evm" and "ton" dial a live chain adapter, "local"
// (the default) runs the local fallback exclusively.
func buildReputation(cfg *config.Config, logger *log.Logger) *reputation.Client {
	opts := reputation.Options{
		Mode:                         cfg.Mode,
		AllowLocalReputationFallback: cfg.AllowLocalReputationFallback,
		AllowDemoPaymentVerification: cfg.AllowDemoPaymentVerification,
		Logger:                       log.New(os.Stdout, "[reputation] ", log.LstdFlags),
	}
	if cfg.StrictChainSet {
		strict := cfg.StrictChain
		opts.StrictChainOverride = &strict
	}

	switch cfg.ReputationBackend {
	case "evm":
		adapter, err := evmadapter.New(evmadapter.Config{
			RPCURL:          cfg.EVMRPCURL,
			ChainID:         cfg.EVMChainID,
			ContractAddress: cfg.ContractAddress,
			PrivateKeyHex:   cfg.EVMPrivateKey,
		})
		if err != nil {
			logger.Printf("[meshd] evm reputation adapter unavailable, falling back to local: %v", err)
			break
		}
		opts.Host = adapter
		logger.Printf("[meshd] reputation backend: evm (%s)", cfg.ContractAddress)
	case "ton":
		opts.Host = tonadapter.New(tonadapter.Config{
			BaseURL:         cfg.TONBaseURL,
			APIKey:          cfg.TONAPIKey,
			ContractAddress: cfg.ContractAddress,
		})
		logger.Printf("[meshd] reputation backend: ton (%s)", cfg.ContractAddress)
	default:
		logger.Printf("[meshd] reputation backend: local")
	}

	return reputation.New(opts)
}

// healthChecker is the Migrator-shaped subset buildHTTPServer needs to probe
// Store connectivity for /health; memstore/kvstore/reststore don't implement
// it and are treated as always-healthy, matching engine.Migrator's contract.
type healthChecker interface {
	Ping(ctx context.Context) error
}

func buildHTTPServer(cfg *config.Config, metrics *httpapi.Metrics, st store.Store) *http.Server {
	srv := httpapi.NewServer(metrics)
	if hc, ok := st.(healthChecker); ok {
		srv.AddCheck("store", hc.Ping)
	}
	return &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Handler()}
}

func printHelp() {
	fmt.Println(`meshd - MESH protocol agent

Usage:
  meshd [flags]

Flags:
  -config string   path to a YAML config file (overrides MESH_CONFIG_FILE)
  -dev             relax configuration validation for local runs
  -help            show this message

Configuration is otherwise read entirely from environment variables; see
pkg/config for the full list.`)
}
