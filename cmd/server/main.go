package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stellar/go/strkey"
	"go.uber.org/zap"

	"ramp/internal/anchor"
	"ramp/internal/api"
	"ramp/internal/backend"
	"ramp/internal/blockchain/evm"
	"ramp/internal/blockchain/stellar"
	"ramp/internal/blockchain/substrate"
	"ramp/internal/bridge"
	"ramp/internal/config"
	"ramp/internal/database"
	"ramp/internal/ephemeral"
	"ramp/internal/nabla"
	"ramp/internal/netx"
	"ramp/internal/saga"
	"ramp/internal/service"
	"ramp/internal/vault"
	"ramp/internal/worker"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Ramp Orchestration Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_host", cfg.Database.Host),
		zap.String("anchor", cfg.Anchor.HomeDomain))

	// Database
	db, err := database.Connect(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrationPath := "internal/database/migrations/001_schema.sql"
	if err := database.RunMigrations(db, migrationPath); err != nil {
		logger.Warn("Failed to run migrations (may already be applied)", zap.Error(err))
	} else {
		logger.Info("Database migrations applied successfully")
	}

	// Outbound HTTP, shared by anchor/bridge/backend clients.
	httpClient := netxClient()

	// Backend and anchor protocol clients.
	backendClient := backend.NewClient(cfg.Backend.BaseURL, httpClient, logger)
	resolver := anchor.NewTOMLResolver(httpClient)
	authenticator := anchor.NewAuthenticator(resolver, httpClient, backendClient,
		cfg.Stellar.ClientDomain, cfg.Stellar.NetworkPassphrase, logger)
	interactive := anchor.NewInteractiveFlow(resolver, httpClient,
		cfg.Timeouts.Sep24PollInterval, logger)

	// Source chain: bridge approve/swap.
	evmClient, err := evm.NewClient(cfg.Evm.RPCEndpoint, cfg.Evm.OperatorPrivateKey, logger)
	if err != nil {
		logger.Fatal("Failed to create EVM client", zap.Error(err))
	}
	defer evmClient.Close()
	erc20, err := evm.NewERC20(evmClient)
	if err != nil {
		logger.Fatal("Failed to create ERC20 helper", zap.Error(err))
	}
	routing := bridge.NewRoutingClient(cfg.Evm.RoutingServiceURL, httpClient)
	bridgeDriver := bridge.New(evmClient, erc20, routing, bridge.Config{
		TokenAddress:     common.HexToAddress(cfg.Evm.USDCAddress),
		RouterSpender:    common.HexToAddress(cfg.Evm.RouterSpender),
		GasMultiplierPct: cfg.Evm.GasLimitMultiplier,
		WaitTimeout:      cfg.Timeouts.BridgeWaitTimeout,
		StatusInterval:   cfg.Timeouts.FundingPollInterval,
		StatusTimeout:    cfg.Timeouts.BridgeWaitTimeout,
	}, logger)

	// Parachain EVM side: Nabla AMM.
	pendulumEvm, err := evm.NewClient(cfg.Pendulum.EvmRPCEndpoint, cfg.Evm.OperatorPrivateKey, logger)
	if err != nil {
		logger.Fatal("Failed to create parachain EVM client", zap.Error(err))
	}
	defer pendulumEvm.Close()
	pendulumERC20, err := evm.NewERC20(pendulumEvm)
	if err != nil {
		logger.Fatal("Failed to create parachain ERC20 helper", zap.Error(err))
	}
	swapper, err := nabla.NewSwapper(pendulumEvm, pendulumERC20, nabla.Config{
		Router:           common.HexToAddress(cfg.Pendulum.NablaRouter),
		Deadline:         cfg.Timeouts.SwapDeadline,
		WaitTimeout:      cfg.Timeouts.BridgeWaitTimeout,
		GasMultiplierPct: cfg.Evm.GasLimitMultiplier,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create swapper", zap.Error(err))
	}

	// Parachain Substrate side: balances and Spacewalk redeems.
	conn, err := substrate.NewConn(cfg.Pendulum.WSEndpoint, cfg.Pendulum.SS58Prefix, logger)
	if err != nil {
		logger.Fatal("Failed to connect to parachain", zap.Error(err))
	}

	wrapped, err := wrappedCurrency(cfg.Anchor.AssetCode, cfg.Anchor.AssetIssuer)
	if err != nil {
		logger.Fatal("Invalid anchor asset", zap.Error(err))
	}
	bridgedCurrency := substrate.XCMCurrency(uint8(cfg.Pendulum.BridgeTokenXCM))
	redeemer := vault.NewRedeemer(conn, vault.Config{
		Wrapped:        wrapped,
		PollInterval:   cfg.Timeouts.FundingPollInterval,
		RedeemTimeout:  cfg.Timeouts.RedeemTimeout,
		BalanceTimeout: cfg.Timeouts.FundingTimeout,
	}, logger)

	// Stellar side: ephemeral accounts and the settlement payment.
	stellarClient := stellar.NewClient(cfg.Stellar.HorizonURL,
		cfg.Stellar.NetworkPassphrase, cfg.Stellar.BaseFee, logger)
	settlementAsset := stellar.Asset{
		Code:   cfg.Anchor.AssetCode,
		Issuer: cfg.Anchor.AssetIssuer,
	}
	accounts := ephemeral.NewManager(stellarClient, conn, backendClient, ephemeral.Config{
		FundingMinimum:  math.NewInt(cfg.Pendulum.FundingMinimum),
		FundingAccount:  cfg.Stellar.FundingAccount,
		FundingSeed:     cfg.Pendulum.FundingSeed,
		PollInterval:    cfg.Timeouts.FundingPollInterval,
		FundingTimeout:  cfg.Timeouts.FundingTimeout,
		SettlementAsset: settlementAsset,
		SweepCurrencies: []substrate.CurrencyID{bridgedCurrency, wrapped},
	}, logger)

	// The coordinator ties every leg together.
	coordinator := saga.NewCoordinator(saga.Deps{
		Store:       db,
		Accounts:    accounts,
		Auth:        authenticator,
		Interactive: interactive,
		Bridge:      bridgeDriver,
		Swapper:     swapper,
		Redeemer:    redeemer,
		Subsidy:     backendClient,
		Settler:     stellarClient,
		Stellar:     stellarClient,
		Parachain:   conn,
		Notify:      backendClient,
	}, saga.Config{
		AnchorAssetCode:   cfg.Anchor.AssetCode,
		AnchorUsesMemo:    cfg.Anchor.UsesMemo,
		OmnibusAccount:    cfg.Stellar.FundingAccount,
		FromChain:         cfg.Evm.ChainID,
		ToChain:           cfg.Pendulum.ChainID,
		FromToken:         cfg.Evm.USDCAddress,
		ToToken:           cfg.Pendulum.BridgeToken,
		ParachainReceiver: cfg.Pendulum.ReceiverAddress,
		SwapTokenIn:       common.HexToAddress(cfg.Pendulum.TokenInAddress),
		SwapTokenOut:      common.HexToAddress(cfg.Pendulum.TokenOutAddress),
		SwapInCurrency:    bridgedCurrency,
		SwapOutCurrency:   wrapped,
		SettlementAsset:   settlementAsset,
		Sep24Timeout:      cfg.Timeouts.FundingTimeout,
		PollInterval:      cfg.Timeouts.FundingPollInterval,
		RedeemTimeout:     cfg.Timeouts.RedeemTimeout,
		FundingTimeout:    cfg.Timeouts.FundingTimeout,
	}, logger)

	rampService := service.NewRampService(db, accounts, logger)

	logger.Info("Services initialized")

	// HTTP API
	apiHandler := api.NewHandler(rampService, backendClient, logger)
	router := api.SetupRouter(apiHandler, logger)

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Worker loop driving active sagas.
	workerManager := worker.NewManager(db, coordinator, cfg.Timeouts.WorkerPollInterval, logger)
	workerManager.Start()

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	workerManager.Shutdown(cfg.Timeouts.ShutdownGracePeriod)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	logger.Info("Service stopped successfully")
}

// netxClient is the shared outbound HTTP client. Thirty seconds covers the
// slowest anchor endpoints; per-call contexts tighten it where needed.
func netxClient() *netx.Client {
	return netx.NewClient(netx.WithTimeout(30 * time.Second))
}

// wrappedCurrency builds the Spacewalk currency id for the anchor asset.
func wrappedCurrency(code, issuer string) (substrate.CurrencyID, error) {
	raw, err := strkey.Decode(strkey.VersionByteAccountID, issuer)
	if err != nil {
		return substrate.CurrencyID{}, fmt.Errorf("invalid asset issuer %q: %w", issuer, err)
	}
	var issuerKey [32]byte
	copy(issuerKey[:], raw)

	var assetCode [4]byte
	if len(code) > 4 {
		return substrate.CurrencyID{}, fmt.Errorf("asset code %q exceeds 4 characters", code)
	}
	copy(assetCode[:], code)

	return substrate.StellarCurrency(assetCode, issuerKey), nil
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
