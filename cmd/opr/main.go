package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/origins-protocol/opr/internal/config"
	"github.com/origins-protocol/opr/internal/datafetcher"
	"github.com/origins-protocol/opr/internal/logger"
	"github.com/origins-protocol/opr/internal/positions"
	"github.com/origins-protocol/opr/internal/scheduler"
	"github.com/origins-protocol/opr/internal/state"
	"github.com/origins-protocol/opr/internal/web"
)

// main is the entry point for the Origins position recommender.
func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	verbose := flag.Bool("verbose", false, "force debug logging regardless of configured level")
	listTopPools := flag.Int("list-top-pools", 0, "list the N largest pools by locked value and exit")
	positionID := flag.String("position-id", "", "resolve one position id to its pool and exit")
	flag.Parse()

	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel := cfg.LogLevel
	if *verbose {
		logLevel = "debug"
	}
	logger.Initialize(logLevel)
	log.Info().Msg("Origins Position Recommender starting...")

	provider, err := datafetcher.NewGraphProvider(cfg.Subgraph.URL, cfg.Subgraph.APIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build subgraph provider")
	}

	// One-shot commands skip the scheduler and the database entirely.
	if *listTopPools > 0 {
		runListTopPools(provider, *listTopPools)
		return
	}
	if *positionID != "" {
		runShowPosition(provider, *positionID)
		return
	}

	// --- 2. Persistence ---
	dbCfg := state.DBConfig{
		Host: cfg.Database.Host, Port: cfg.Database.Port,
		User: cfg.Database.User, Password: cfg.Database.Password,
		DBName: cfg.Database.DBName, SSLMode: cfg.Database.SSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 3. Core Wiring ---
	store, err := positions.NewContractStore(cfg.RPCURL, cfg.OriginsContractAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build position store")
	}

	sched, err := scheduler.New(scheduler.Config{
		Provider:              provider,
		Store:                 store,
		Sink:                  scheduler.SinkFunc(state.SaveCycleResult),
		Params:                cfg.Params,
		StageTimeout:          cfg.StageTimeout(),
		AllowPartialSnapshots: cfg.Scheduler.AllowPartialSnapshots,
		NextCycleNumber:       state.IncrementCycleNumber,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build scheduler")
	}

	// --- 4. Web Server ---
	webServer := web.NewWebServer(cfg.Web.Port, sched, cfg.Params)
	go func() {
		log.Info().Str("port", cfg.Web.Port).Msg("Starting recommendation API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed")
		}
	}()

	// --- 5. Main Loop with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		received := <-sig
		log.Info().Str("signal", received.String()).Msg("Shutdown signal received")
		cancel()
	}()

	sched.RunLoop(ctx, cfg.Interval)
	log.Info().Msg("Recommender stopped")
}

// runListTopPools prints the N largest pools and exits.
func runListTopPools(provider *datafetcher.GraphProvider, n int) {
	pools, err := provider.TopPools(context.Background(), n)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list top pools")
	}

	fmt.Printf("%-4s %-44s %-14s %-8s %s\n", "#", "POOL", "PAIR", "FEE", "TVL (USD)")
	for i, pool := range pools {
		fmt.Printf("%-4d %-44s %-14s %-8s %s\n",
			i+1, pool.ID,
			pool.Token0.Symbol+"/"+pool.Token1.Symbol,
			pool.FeeTier, pool.TotalValueLockedUSD)
	}
}

// runShowPosition resolves a position NFT id to its pool and prints it.
func runShowPosition(provider *datafetcher.GraphProvider, positionID string) {
	pool, err := provider.PoolByPositionID(context.Background(), positionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve position")
	}
	if pool == nil {
		log.Fatal().Str("positionID", positionID).Msg("Position not found")
	}

	fmt.Printf("Position %s\n", positionID)
	fmt.Printf("  Pool:      %s\n", pool.ID)
	fmt.Printf("  Pair:      %s/%s\n", pool.Token0.Symbol, pool.Token1.Symbol)
	fmt.Printf("  Fee tier:  %s\n", pool.FeeTier)
	fmt.Printf("  Liquidity: %s\n", pool.Liquidity)
	fmt.Printf("  TVL (USD): %s\n", pool.TotalValueLockedUSD)
}
