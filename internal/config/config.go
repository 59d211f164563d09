package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Evm      EvmConfig
	Pendulum PendulumConfig
	Stellar  StellarConfig
	Anchor   AnchorConfig
	Backend  BackendConfig
	Timeouts TimeoutConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// EvmConfig holds the source EVM chain and bridge routing configuration
type EvmConfig struct {
	ChainID            string
	Name               string
	RPCEndpoint        string
	USDCAddress        string // input token ERC20 contract
	RouterSpender      string // bridge router contract granted the approval
	RoutingServiceURL  string // route computation service
	OperatorPrivateKey string // signs approve/swap on behalf of the ramp
	GasLimitMultiplier int    // percent, e.g. 200 = 2x the route's estimate
}

// PendulumConfig holds the destination parachain configuration
type PendulumConfig struct {
	ChainID         string // chain identifier the routing service knows
	WSEndpoint      string // Substrate RPC (balances, extrinsics, events)
	EvmRPCEndpoint  string // parachain EVM RPC (Nabla contracts)
	NablaRouter     string // AMM router contract address
	ReceiverAddress string // EVM address receiving bridged funds on the parachain
	TokenInAddress  string // swap input token (bridged USDC representation)
	TokenOutAddress string // swap output token (wrapped anchor asset)
	BridgeToken     string // token identifier the routing service delivers
	BridgeTokenXCM  int    // Tokens-pallet XCM index of the bridged token
	FundingSeed     string // backend-controlled funding account seed (hex)
	SS58Prefix      uint16
	FundingMinimum  int64 // raw units the funding transfer targets
}

// StellarConfig holds Stellar network and funding configuration
type StellarConfig struct {
	HorizonURL        string
	NetworkPassphrase string
	FundingAccount    string // omnibus account that funds and receives sweeps
	BaseFee           int64
	ClientDomain      string // our domain, co-signed by the backend for SEP-10
}

// AnchorConfig holds per-anchor protocol capabilities
type AnchorConfig struct {
	HomeDomain  string
	UsesMemo    bool // authenticate with omnibus account + memo instead of the ephemeral
	AssetCode   string
	AssetIssuer string // stellar account that issues the anchor asset
}

// BackendConfig holds the funding/signing backend endpoint
type BackendConfig struct {
	BaseURL string
}

// TimeoutConfig makes every polling bound an explicit parameter. The saga
// never hard-codes a wait; tests inject short values here.
type TimeoutConfig struct {
	FundingPollInterval time.Duration // balance convergence polls
	FundingTimeout      time.Duration // cap on funding/subsidy convergence
	Sep24PollInterval   time.Duration // anchor status polls
	RedeemTimeout       time.Duration // redeem execution event wait
	BridgeWaitTimeout   time.Duration // EVM receipt waits
	SwapDeadline        time.Duration // AMM swap deadline (minutes, not hours)
	ShutdownGracePeriod time.Duration
	WorkerPollInterval  time.Duration // store scan for runnable ramps
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ramp_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Evm: EvmConfig{
			ChainID:            getEnv("EVM_CHAIN_ID", "137"),
			Name:               getEnv("EVM_CHAIN_NAME", "Polygon"),
			RPCEndpoint:        getEnv("EVM_RPC_ENDPOINT", ""),
			USDCAddress:        getEnv("EVM_USDC_ADDRESS", "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
			RouterSpender:      getEnv("BRIDGE_ROUTER_SPENDER", ""),
			RoutingServiceURL:  getEnv("BRIDGE_ROUTING_URL", ""),
			OperatorPrivateKey: getEnv("EVM_OPERATOR_PRIVATE_KEY", ""),
			GasLimitMultiplier: getEnvInt("BRIDGE_GAS_MULTIPLIER_PCT", 200),
		},
		Pendulum: PendulumConfig{
			ChainID:         getEnv("PENDULUM_CHAIN_ID", "pendulum"),
			WSEndpoint:      getEnv("PENDULUM_WS_ENDPOINT", ""),
			EvmRPCEndpoint:  getEnv("PENDULUM_EVM_RPC_ENDPOINT", ""),
			NablaRouter:     getEnv("NABLA_ROUTER_ADDRESS", ""),
			ReceiverAddress: getEnv("PENDULUM_RECEIVER_ADDRESS", ""),
			TokenInAddress:  getEnv("NABLA_TOKEN_IN_ADDRESS", ""),
			TokenOutAddress: getEnv("NABLA_TOKEN_OUT_ADDRESS", ""),
			BridgeToken:     getEnv("PENDULUM_BRIDGE_TOKEN", ""),
			BridgeTokenXCM:  getEnvInt("PENDULUM_BRIDGE_TOKEN_XCM", 1),
			FundingSeed:     getEnv("PENDULUM_FUNDING_SEED", ""),
			SS58Prefix:      uint16(getEnvInt("PENDULUM_SS58_PREFIX", 56)),
			FundingMinimum:  int64(getEnvInt("PENDULUM_FUNDING_MINIMUM", 100_000_000_000)),
		},
		Stellar: StellarConfig{
			HorizonURL:        getEnv("STELLAR_HORIZON_URL", "https://horizon.stellar.org"),
			NetworkPassphrase: getEnv("STELLAR_NETWORK_PASSPHRASE", "Public Global Stellar Network ; September 2015"),
			FundingAccount:    getEnv("STELLAR_FUNDING_ACCOUNT", ""),
			BaseFee:           int64(getEnvInt("STELLAR_BASE_FEE", 100)),
			ClientDomain:      getEnv("STELLAR_CLIENT_DOMAIN", ""),
		},
		Anchor: AnchorConfig{
			HomeDomain:  getEnv("ANCHOR_HOME_DOMAIN", ""),
			UsesMemo:    getEnvBool("ANCHOR_USES_MEMO", false),
			AssetCode:   getEnv("ANCHOR_ASSET_CODE", "EURC"),
			AssetIssuer: getEnv("ANCHOR_ASSET_ISSUER", ""),
		},
		Backend: BackendConfig{
			BaseURL: getEnv("BACKEND_BASE_URL", ""),
		},
		Timeouts: TimeoutConfig{
			FundingPollInterval: getEnvDuration("FUNDING_POLL_INTERVAL", 2*time.Second),
			FundingTimeout:      getEnvDuration("FUNDING_TIMEOUT", 10*time.Minute),
			Sep24PollInterval:   getEnvDuration("SEP24_POLL_INTERVAL", time.Second),
			RedeemTimeout:       getEnvDuration("REDEEM_TIMEOUT", 5*time.Minute),
			BridgeWaitTimeout:   getEnvDuration("BRIDGE_WAIT_TIMEOUT", 5*time.Minute),
			SwapDeadline:        getEnvDuration("SWAP_DEADLINE", 10*time.Minute),
			ShutdownGracePeriod: getEnvDuration("SHUTDOWN_GRACE_PERIOD", 15*time.Second),
			WorkerPollInterval:  getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Evm.RPCEndpoint == "" {
		return fmt.Errorf("EVM_RPC_ENDPOINT is required")
	}
	if c.Evm.OperatorPrivateKey == "" {
		return fmt.Errorf("EVM_OPERATOR_PRIVATE_KEY is required")
	}
	if c.Pendulum.WSEndpoint == "" {
		return fmt.Errorf("PENDULUM_WS_ENDPOINT is required")
	}
	if c.Stellar.FundingAccount == "" {
		return fmt.Errorf("STELLAR_FUNDING_ACCOUNT is required")
	}
	if c.Anchor.HomeDomain == "" {
		return fmt.Errorf("ANCHOR_HOME_DOMAIN is required")
	}
	if c.Anchor.AssetIssuer == "" {
		return fmt.Errorf("ANCHOR_ASSET_ISSUER is required")
	}
	if c.Pendulum.ReceiverAddress == "" {
		return fmt.Errorf("PENDULUM_RECEIVER_ADDRESS is required")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if c.Evm.GasLimitMultiplier < 100 {
		return fmt.Errorf("bridge gas multiplier must be at least 100 percent")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
