// Package node wires the custody engine together so it can be embedded in
// any binary (daemon, tests).
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-custody/config"
	"github.com/Klingon-tech/klingnet-custody/internal/accrual"
	"github.com/Klingon-tech/klingnet-custody/internal/chain"
	"github.com/Klingon-tech/klingnet-custody/internal/keys"
	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/rpc"
	"github.com/Klingon-tech/klingnet-custody/internal/settlement"
	"github.com/Klingon-tech/klingnet-custody/internal/storage"
	"github.com/Klingon-tech/klingnet-custody/internal/subscription"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// Node is a fully-initialized custody engine.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	keys     *keys.Service
	db       storage.DB
	ledger   *ledger.Ledger
	gateway  chain.Gateway
	dir      subscription.Directory
	registry *prometheus.Registry
	engine   *settlement.Engine

	// Background
	accrual   *accrual.Simulator
	rpcServer *rpc.Server

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates and initializes a Node. It performs all setup steps (logger,
// keys, storage, chain, directory, engine, RPC) but starts nothing. Call
// Start() for that. Any key failure aborts: the engine never runs without
// its master key.
func New(cfg *config.Config) (_ *Node, err error) {
	// ── 1. Set address HRP ──────────────────────────────────────────
	types.SetAddressHRP(cfg.Params().AddressHRP)

	// ── 2. Init logger ──────────────────────────────────────────────
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0700); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "custodyd.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("datadir", cfg.DataDir).
		Bool("simnet", cfg.Chain.Simnet).
		Msg("Starting Klingnet Custody")

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	defer func() {
		if err != nil {
			n.close()
		}
	}()

	// ── 3. Master key ───────────────────────────────────────────────
	n.keys = keys.New(keys.Config{Account: cfg.Keys.Account, AllowReveal: cfg.Keys.AllowReveal})
	mnemonic, expectHouse, err := loadMnemonic(cfg)
	if err != nil {
		return nil, fmt.Errorf("load master mnemonic: %w", err)
	}
	if err := n.keys.Init(mnemonic, cfg.Secrets.MnemonicPassphrase); err != nil {
		return nil, fmt.Errorf("init key service: %w", err)
	}
	house, err := n.keys.HouseWallet()
	if err != nil {
		return nil, fmt.Errorf("house wallet: %w", err)
	}
	if expectHouse != "" && expectHouse != house.Address.String() {
		return nil, fmt.Errorf("%w: vault was created for house wallet %s, derived %s (wrong passphrase?)",
			keys.ErrDerivationFailure, expectHouse, house.Address)
	}
	logger.Info().
		Str("house", house.Address.String()).
		Str("pubkey", house.PublicKey[:16]+"...").
		Str("path", house.Path).
		Msg("Master key ready")

	// ── 4. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.LedgerDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.LedgerDir(), err)
	}
	n.db = db
	logger.Info().Str("path", cfg.LedgerDir()).Msg("Database opened")

	// ── 5. Ledger ───────────────────────────────────────────────────
	n.ledger = ledger.New(db, n.keys, ledger.WithDefaultTier(cfg.Subscription.DefaultTier))

	// ── 6. Chain gateway ────────────────────────────────────────────
	n.gateway = newGateway(cfg)

	// ── 7. Subscription directory ───────────────────────────────────
	n.dir, err = openDirectory(cfg)
	if err != nil {
		return nil, err
	}

	// ── 8. Metrics ──────────────────────────────────────────────────
	n.registry = prometheus.NewRegistry()
	n.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := settlement.NewMetrics(n.registry)

	// ── 9. Settlement engine ────────────────────────────────────────
	n.engine = settlement.New(settlement.Config{
		ChainTimeout:   cfg.Chain.Timeout,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout,
	}, n.keys, n.ledger, n.gateway, n.dir, metrics)

	// ── 10. Accrual ─────────────────────────────────────────────────
	if cfg.Accrual.Enabled {
		acfg := accrual.DefaultConfig()
		acfg.Interval = cfg.Accrual.Interval
		n.accrual = accrual.New(acfg, n.ledger, n.engine)
	}

	// ── 11. RPC server ──────────────────────────────────────────────
	if cfg.RPC.Enabled {
		rcfg := rpc.Config{
			Addr:        cfg.RPCListenAddr(),
			AllowedIPs:  cfg.RPC.AllowedIPs,
			CORSOrigins: cfg.RPC.CORSOrigins,
			JWTSecret:   []byte(cfg.Secrets.JWTSecret),
			RateLimit:   cfg.RPC.RateLimit,
			RateBurst:   cfg.RPC.RateBurst,
		}
		if cfg.Metrics.Enabled {
			rcfg.Metrics = n.registry
		}
		n.rpcServer = rpc.New(rcfg, n.engine, n.keys)
	}

	return n, nil
}

// Start recovers interrupted settlements and starts the RPC server and the
// accrual job.
func (n *Node) Start() error {
	recovered, err := n.engine.RecoverPending(n.ctx)
	if err != nil {
		n.logger.Error().Err(err).Msg("Pending settlement recovery failed")
	} else if recovered > 0 {
		n.logger.Warn().Int("count", recovered).Msg("Recovered interrupted settlements")
	}

	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start rpc: %w", err)
		}
	}
	if n.accrual != nil {
		if err := n.accrual.Start(n.ctx); err != nil {
			return fmt.Errorf("start accrual: %w", err)
		}
	}
	n.logger.Info().Msg("Custody engine running")
	return nil
}

// Stop shuts everything down and wipes the master key. Safe to call twice.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.close()
		n.logger.Info().Msg("Goodbye!")
	})
}

func (n *Node) close() {
	n.cancel()
	if n.accrual != nil {
		if err := n.accrual.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("Accrual scheduler shutdown")
		}
	}
	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("RPC server shutdown")
		}
	}
	if n.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), n.engine.DrainTimeout())
		if err := n.engine.Drain(ctx); err != nil {
			n.logger.Warn().Err(err).Msg("Settlements still running at shutdown, left for recovery")
		}
		cancel()
	}
	if c, ok := n.dir.(interface{ Close() error }); ok {
		c.Close()
	}
	if n.db != nil {
		n.db.Close()
	}
	if n.keys != nil {
		n.keys.Shutdown()
	}
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Engine returns the settlement engine.
func (n *Node) Engine() *settlement.Engine {
	return n.engine
}

// Gateway returns the chain gateway.
func (n *Node) Gateway() chain.Gateway {
	return n.gateway
}
