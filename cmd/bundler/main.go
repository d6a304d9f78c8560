// Command bundler runs the ERC-4337 bundler service: JSON-RPC dispatcher,
// mempool, bundler loop, and health/metrics server, wired from a single
// composition root.
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethbundler/bundler/bundler"
	"github.com/ethbundler/bundler/entrypoint"
	"github.com/ethbundler/bundler/health"
	"github.com/ethbundler/bundler/mempool"
	"github.com/ethbundler/bundler/rpcserver"
	"github.com/ethbundler/bundler/store/kvstore"
	"github.com/ethbundler/bundler/store/relstore"
)

func main() {
	app := &cli.App{
		Name:  "bundler",
		Usage: "ERC-4337 UserOperation bundler",
		Flags: BundlerFlags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("bundler exited with error", "err", err)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := configFromContext(cliCtx)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Dependency order (leaves first): KV store & relational store →
	// EntryPoint adapter → mempool → bundler loop → RPC dispatcher → health.
	kv, err := kvstore.Open(cfg.redisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer kv.Close()

	rel, err := relstore.Open(cfg.databaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer rel.Close()

	client, err := ethclient.DialContext(ctx, cfg.ethRPCURL)
	if err != nil {
		return fmt.Errorf("dial eth rpc: %w", err)
	}
	defer client.Close()

	signerKey, err := crypto.HexToECDSA(cfg.bundlerPrivateKey)
	if err != nil {
		return fmt.Errorf("parse bundler private key: %w", err)
	}

	chainID := big.NewInt(cfg.chainID)
	entryPointAddr := common.HexToAddress(cfg.entryPointAddress)
	beneficiary := resolveBeneficiary(cfg.bundlerBeneficiary, signerKey)

	ep := entrypoint.New(client, entryPointAddr, chainID, signerKey, beneficiary)

	minBalance, ok := new(big.Int).SetString(cfg.minSignerBalance, 10)
	if !ok {
		return fmt.Errorf("invalid bundler-min-signer-balance: %q", cfg.minSignerBalance)
	}

	pool := mempool.New(rel, kv, entryPointAddr, chainID)

	loop := bundler.New(pool, rel, kv, ep).
		WithInterval(cfg.bundleInterval).
		WithMaxOps(cfg.maxOpsPerBundle).
		WithTxTimeout(cfg.txTimeout)

	running := true

	rpcMethods := rpcserver.BuildMethods(&rpcserver.Services{
		Pool:       pool,
		EntryPoint: ep,
		ChainID:    chainID,
	})
	rateLimit := rpcserver.RateLimitEvery(cfg.rateLimitWindow, cfg.rateLimitMaxRequests)
	rpc := rpcserver.New(rpcMethods, rateLimit, cfg.rateLimitMaxRequests, []string{"*"})

	healthSrv := health.New(rel, kv, ep, pool, ep, minBalance, func() bool { return running })

	healthMux := healthSrv.Handler()
	mux := http.NewServeMux()
	mux.Handle("/", rpc.Handler())
	mux.Handle("/live", healthMux)
	mux.Handle("/ready", healthMux)
	mux.Handle("/health", healthMux)
	mux.Handle("/metrics", healthMux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.port),
		Handler: mux,
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	go loop.Run(loopCtx)

	go func() {
		log.Info("bundler listening", "addr", httpServer.Addr, "entryPoint", entryPointAddr, "chainId", chainID)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	running = false
	stopLoop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.txTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "err", err)
	}

	// Give any in-flight bundle tick a moment to finish before the store
	// handles close underneath it.
	time.Sleep(200 * time.Millisecond)

	return nil
}

func resolveBeneficiary(configured string, signerKey *ecdsa.PrivateKey) common.Address {
	if configured != "" {
		return common.HexToAddress(configured)
	}
	return crypto.PubkeyToAddress(signerKey.PublicKey)
}
