// Package config provides configuration management for marketctl.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// PrivateKeyEnv overrides the wallet key file when set.
const PrivateKeyEnv = "MARKETSPACE_PRIVATE_KEY"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config represents the marketctl configuration.
type Config struct {
	Ledger  LedgerConfig  `yaml:"ledger"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Storage StorageConfig `yaml:"storage"`
	Gateway GatewayConfig `yaml:"gateway"`
	Catalog CatalogConfig `yaml:"catalog"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LedgerConfig contains marketplace contract settings.
type LedgerConfig struct {
	PublicRPC      string        `yaml:"public_rpc"`
	WalletRPC      string        `yaml:"wallet_rpc"` // empty uses public_rpc
	Contract       string        `yaml:"contract"`
	ChainID        uint64        `yaml:"chain_id"`
	UnitExponent   int           `yaml:"unit_exponent"`
	UnitSymbol     string        `yaml:"unit_symbol"`
	Confirmations  uint64        `yaml:"confirmations"`
	ReceiptPollMax time.Duration `yaml:"receipt_poll_max"`
}

// WalletConfig locates the signing key.
type WalletConfig struct {
	PrivateKeyFile string `yaml:"private_key_file"`
}

// StorageConfig contains the IPFS upload settings.
type StorageConfig struct {
	APIEndpoint string `yaml:"api_endpoint"`
	APIToken    string `yaml:"api_token"`
	VerifyCIDs  bool   `yaml:"verify_cids"`
}

// GatewayConfig contains metadata fetch settings.
type GatewayConfig struct {
	Canonical         string        `yaml:"canonical"`
	Extra             []string      `yaml:"extra"`
	SOCKSProxy        string        `yaml:"socks_proxy"`
	ProxyMode         string        `yaml:"proxy_mode"` // "direct", "socks" or "socks-preferred"
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxMetadataBytes  int64         `yaml:"max_metadata_bytes"`
}

// CatalogConfig contains sync settings.
type CatalogConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MetricsConfig contains the Prometheus endpoint used by watch.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

// Default returns a default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Ledger: LedgerConfig{
			PublicRPC:      "https://eth-sepolia.public.blastapi.io",
			ChainID:        11155111,
			UnitExponent:   18,
			UnitSymbol:     "ETH",
			Confirmations:  1,
			ReceiptPollMax: 5 * time.Minute,
		},
		Wallet: WalletConfig{
			PrivateKeyFile: filepath.Join(homeDir, ".marketspace", "wallet.key"),
		},
		Storage: StorageConfig{
			APIEndpoint: "http://localhost:5001",
			VerifyCIDs:  true,
		},
		Gateway: GatewayConfig{
			Canonical:         "https://nftstorage.link/ipfs/",
			Extra:             []string{},
			ProxyMode:         "direct",
			RequestsPerSecond: 10,
			Burst:             8,
			Timeout:           30 * time.Second,
			MaxMetadataBytes:  1 << 20,
		},
		Catalog: CatalogConfig{
			Workers:      8,
			PollInterval: 4 * time.Second,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".marketspace", "config.yaml")
}

// Load loads the configuration from a file. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Save saves the configuration to a file.
func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// The file may carry a pinning service token.
	return os.WriteFile(path, data, 0600)
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	var errs []error
	if err := checkURL("ledger.public_rpc", c.Ledger.PublicRPC); err != nil {
		errs = append(errs, err)
	}
	if c.Ledger.WalletRPC != "" {
		if err := checkURL("ledger.wallet_rpc", c.Ledger.WalletRPC); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Ledger.Contract != "" && !common.IsHexAddress(c.Ledger.Contract) {
		errs = append(errs, fmt.Errorf("ledger.contract: %q is not a 20-byte hex address", c.Ledger.Contract))
	}
	if c.Ledger.UnitExponent < 0 || c.Ledger.UnitExponent > 77 {
		errs = append(errs, fmt.Errorf("ledger.unit_exponent: %d out of range", c.Ledger.UnitExponent))
	}
	if c.Storage.APIEndpoint != "" {
		if err := checkURL("storage.api_endpoint", c.Storage.APIEndpoint); err != nil {
			errs = append(errs, err)
		}
	}
	if err := checkURL("gateway.canonical", c.Gateway.Canonical); err != nil {
		errs = append(errs, err)
	}
	switch c.Gateway.ProxyMode {
	case "", "direct", "socks", "socks-preferred":
	default:
		errs = append(errs, fmt.Errorf("gateway.proxy_mode: unknown mode %q", c.Gateway.ProxyMode))
	}
	if c.Gateway.ProxyMode == "socks" && c.Gateway.SOCKSProxy == "" {
		errs = append(errs, errors.New("gateway.socks_proxy: required when proxy_mode is socks"))
	}
	if c.Catalog.Workers < 0 {
		errs = append(errs, fmt.Errorf("catalog.workers: %d is negative", c.Catalog.Workers))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// RequireContract returns an error when no contract address is configured.
func (c *Config) RequireContract() error {
	if c.Ledger.Contract == "" {
		return fmt.Errorf("%w: ledger.contract is not set", ErrInvalidConfig)
	}
	return nil
}

// WalletEndpoint returns the endpoint used for authenticated calls.
func (c *Config) WalletEndpoint() string {
	if c.Ledger.WalletRPC != "" {
		return c.Ledger.WalletRPC
	}
	return c.Ledger.PublicRPC
}

// PrivateKey returns the hex signing key from the environment or the key
// file. An empty string with a nil error means no wallet is configured.
func (w WalletConfig) PrivateKey() (string, error) {
	if key := strings.TrimSpace(os.Getenv(PrivateKeyEnv)); key != "" {
		return key, nil
	}
	if w.PrivateKeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(w.PrivateKeyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: %q is not an absolute URL", field, raw)
	}
	return nil
}
