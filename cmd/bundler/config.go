package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

var (
	portFlag = &cli.IntFlag{
		Name:    "port",
		Usage:   "HTTP listen port for the RPC and health servers",
		EnvVars: []string{"PORT"},
		Value:   8545,
	}
	databaseURLFlag = &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Durable store DSN (Postgres)",
		EnvVars:  []string{"DATABASE_URL"},
		Required: true,
	}
	redisURLFlag = &cli.StringFlag{
		Name:     "redis-url",
		Usage:    "KV store DSN (Redis)",
		EnvVars:  []string{"REDIS_URL"},
		Required: true,
	}
	ethRPCURLFlag = &cli.StringFlag{
		Name:     "eth-rpc-url",
		Usage:    "EVM RPC endpoint the EntryPoint adapter dials",
		EnvVars:  []string{"ETH_RPC_URL"},
		Required: true,
	}
	chainIDFlag = &cli.Int64Flag{
		Name:     "chain-id",
		Usage:    "Expected chain id",
		EnvVars:  []string{"CHAIN_ID"},
		Required: true,
	}
	entryPointAddressFlag = &cli.StringFlag{
		Name:     "entry-point-address",
		Usage:    "The sole supported EntryPoint contract address",
		EnvVars:  []string{"ENTRY_POINT_ADDRESS"},
		Required: true,
	}
	bundlerPrivateKeyFlag = &cli.StringFlag{
		Name:     "bundler-private-key",
		Usage:    "Signing key (hex, no 0x) used for handleOps submission",
		EnvVars:  []string{"BUNDLER_PRIVATE_KEY"},
		Required: true,
	}
	bundlerBeneficiaryFlag = &cli.StringFlag{
		Name:    "bundler-beneficiary",
		Usage:   "Fee recipient address passed to handleOps; defaults to the signer address",
		EnvVars: []string{"BUNDLER_BENEFICIARY"},
	}
	minSignerBalanceFlag = &cli.StringFlag{
		Name:    "bundler-min-signer-balance",
		Usage:   "Wei floor below which the health check reports the signer as degraded",
		EnvVars: []string{"BUNDLER_MIN_SIGNER_BALANCE"},
		Value:   "100000000000000000",
	}
	maxOpsPerBundleFlag = &cli.IntFlag{
		Name:    "max-ops-per-bundle",
		Usage:   "Maximum UserOperations packed into a single handleOps call",
		EnvVars: []string{"MAX_OPS_PER_BUNDLE"},
		Value:   10,
	}
	bundleIntervalMsFlag = &cli.IntFlag{
		Name:    "bundle-interval-ms",
		Usage:   "Bundler tick period, in milliseconds",
		EnvVars: []string{"BUNDLE_INTERVAL_MS"},
		Value:   5000,
	}
	txTimeoutMsFlag = &cli.IntFlag{
		Name:    "tx-timeout-ms",
		Usage:   "How long the bundler loop waits for a submitted bundle's receipt",
		EnvVars: []string{"TX_TIMEOUT_MS"},
		Value:   120000,
	}
	rateLimitWindowMsFlag = &cli.IntFlag{
		Name:    "rate-limit-window-ms",
		Usage:   "Ingress rate limit window, in milliseconds",
		EnvVars: []string{"RATE_LIMIT_WINDOW_MS"},
		Value:   1000,
	}
	rateLimitMaxRequestsFlag = &cli.IntFlag{
		Name:    "rate-limit-max-requests",
		Usage:   "Maximum requests admitted per rate limit window (0 disables limiting)",
		EnvVars: []string{"RATE_LIMIT_MAX_REQUESTS"},
		Value:   50,
	}
)

// BundlerFlags is the full command-line/env-var surface, mirroring the
// teacher's RollupFlags grouping idiom.
var BundlerFlags = []cli.Flag{
	portFlag,
	databaseURLFlag,
	redisURLFlag,
	ethRPCURLFlag,
	chainIDFlag,
	entryPointAddressFlag,
	bundlerPrivateKeyFlag,
	bundlerBeneficiaryFlag,
	minSignerBalanceFlag,
	maxOpsPerBundleFlag,
	bundleIntervalMsFlag,
	txTimeoutMsFlag,
	rateLimitWindowMsFlag,
	rateLimitMaxRequestsFlag,
}

// config is the resolved, typed configuration the composition root wires
// services from.
type config struct {
	port                 int
	databaseURL           string
	redisURL              string
	ethRPCURL             string
	chainID               int64
	entryPointAddress     string
	bundlerPrivateKey     string
	bundlerBeneficiary    string
	minSignerBalance      string
	maxOpsPerBundle       int
	bundleInterval        time.Duration
	txTimeout             time.Duration
	rateLimitWindow       time.Duration
	rateLimitMaxRequests  int
}

func configFromContext(ctx *cli.Context) (*config, error) {
	if ctx.Int(maxOpsPerBundleFlag.Name) <= 0 {
		return nil, fmt.Errorf("%s must be positive", maxOpsPerBundleFlag.Name)
	}

	return &config{
		port:                 ctx.Int(portFlag.Name),
		databaseURL:          ctx.String(databaseURLFlag.Name),
		redisURL:             ctx.String(redisURLFlag.Name),
		ethRPCURL:            ctx.String(ethRPCURLFlag.Name),
		chainID:              ctx.Int64(chainIDFlag.Name),
		entryPointAddress:    ctx.String(entryPointAddressFlag.Name),
		bundlerPrivateKey:    ctx.String(bundlerPrivateKeyFlag.Name),
		bundlerBeneficiary:   ctx.String(bundlerBeneficiaryFlag.Name),
		minSignerBalance:     ctx.String(minSignerBalanceFlag.Name),
		maxOpsPerBundle:      ctx.Int(maxOpsPerBundleFlag.Name),
		bundleInterval:       time.Duration(ctx.Int(bundleIntervalMsFlag.Name)) * time.Millisecond,
		txTimeout:            time.Duration(ctx.Int(txTimeoutMsFlag.Name)) * time.Millisecond,
		rateLimitWindow:      time.Duration(ctx.Int(rateLimitWindowMsFlag.Name)) * time.Millisecond,
		rateLimitMaxRequests: ctx.Int(rateLimitMaxRequestsFlag.Name),
	}, nil
}
