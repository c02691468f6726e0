package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects the exchange environment.
type Mode string

const (
	Mainnet Mode = "mainnet"
	Testnet Mode = "testnet"
)

// Endpoints holds the gateway URLs and signing domain parameters for a mode.
type Endpoints struct {
	GatewayURL string
	StreamURL  string
	ChainID    *big.Int
	// Verifier is the order-verifying contract address used in the EIP-712
	// domain separator. Hex string, 0x-prefixed.
	Verifier string
}

// Dispatch tunables for the rate-limited submission path.
type Dispatch struct {
	// RatePerMinute is the exchange-advertised request budget.
	// 600/min applies when spot-leverage is enabled on the account,
	// 30/min otherwise.
	RatePerMinute int
	Burst         int
	// Blocking selects the token acquisition policy: wait for a token
	// (true) or fail fast with a rate-limit error (false).
	Blocking    bool
	MaxAttempts int
	MaxInFlight int
	// SubmitTimeout bounds a single order submission end to end,
	// retries included.
	SubmitTimeout time.Duration
}

// Tracker tunables for lifecycle reconciliation.
type Tracker struct {
	// EventGracePeriod bounds how long an event for an unknown digest is
	// buffered before being dropped.
	EventGracePeriod time.Duration
	// Retention keeps terminal records queryable before archival.
	Retention time.Duration
	// ReconcileInterval paces the background poll that resolves orders
	// stuck in Pending after a submission timeout.
	ReconcileInterval time.Duration
}

type Config struct {
	Mode           Mode
	PrivateKeyHex  string
	SubaccountName string
	Endpoints      Endpoints
	Dispatch       Dispatch
	Tracker        Tracker
	// DataDir holds the pebble database (nonce counters, archived orders).
	// Empty disables persistence.
	DataDir string
	// StatusAddr enables the local read-only status server when non-empty.
	StatusAddr string
	LogFile    string
}

func mainnetEndpoints() Endpoints {
	return Endpoints{
		GatewayURL: "https://gateway.nado.xyz/v1",
		StreamURL:  "wss://gateway.nado.xyz/v1/subscribe",
		ChainID:    big.NewInt(57073), // Ink
		Verifier:   "0x0000000000000000000000000000000000000000",
	}
}

func testnetEndpoints() Endpoints {
	return Endpoints{
		GatewayURL: "https://gateway.test.nado.xyz/v1",
		StreamURL:  "wss://gateway.test.nado.xyz/v1/subscribe",
		ChainID:    big.NewInt(763373), // Ink Sepolia
		Verifier:   "0x0000000000000000000000000000000000000000",
	}
}

func Default() Config {
	return Config{
		Mode:           Mainnet,
		SubaccountName: "default",
		Endpoints:      mainnetEndpoints(),
		Dispatch: Dispatch{
			RatePerMinute: 30, // conservative default: no spot leverage
			Burst:         5,
			Blocking:      true,
			MaxAttempts:   4,
			MaxInFlight:   16,
			SubmitTimeout: 15 * time.Second,
		},
		Tracker: Tracker{
			EventGracePeriod:  30 * time.Second,
			Retention:         time.Hour,
			ReconcileInterval: 5 * time.Second,
		},
		DataDir: "data/nadotrader",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if mode := os.Getenv("NADO_MODE"); mode != "" {
		switch Mode(mode) {
		case Mainnet:
			cfg.Mode = Mainnet
			cfg.Endpoints = mainnetEndpoints()
		case Testnet:
			cfg.Mode = Testnet
			cfg.Endpoints = testnetEndpoints()
		default:
			return cfg, fmt.Errorf("invalid NADO_MODE %q (want mainnet or testnet)", mode)
		}
	}

	cfg.PrivateKeyHex = os.Getenv("NADO_PRIVATE_KEY")

	if name := os.Getenv("NADO_SUBACCOUNT_NAME"); name != "" {
		cfg.SubaccountName = name
	}
	if url := os.Getenv("NADO_GATEWAY_URL"); url != "" {
		cfg.Endpoints.GatewayURL = url
	}
	if url := os.Getenv("NADO_STREAM_URL"); url != "" {
		cfg.Endpoints.StreamURL = url
	}
	if v := os.Getenv("NADO_RATE_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.RatePerMinute = n
		}
	}
	if v := os.Getenv("NADO_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.MaxAttempts = n
		}
	}
	if v := os.Getenv("NADO_SUBMIT_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Dispatch.SubmitTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("NADO_RATE_BLOCKING"); v != "" {
		cfg.Dispatch.Blocking = v == "true"
	}
	if dir := os.Getenv("NADO_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if addr := os.Getenv("NADO_STATUS_ADDR"); addr != "" {
		cfg.StatusAddr = addr
	}
	if f := os.Getenv("NADO_LOG_FILE"); f != "" {
		cfg.LogFile = f
	}

	return cfg, nil
}
