package limitorder

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ChainID represents a blockchain chain ID
type ChainID int64

const (
	ChainIDEthereumMainnet ChainID = 1     // Ethereum mainnet
	ChainIDBNBMainnet      ChainID = 56    // BNB Chain (BSC) mainnet
	ChainIDPolygonMainnet  ChainID = 137   // Polygon PoS mainnet
	ChainIDLocal           ChainID = 31337 // local development chain
)

// SupportedChainIDs lists the chains with a default deployment
var SupportedChainIDs = []ChainID{ChainIDEthereumMainnet, ChainIDBNBMainnet, ChainIDPolygonMainnet, ChainIDLocal}

// Deployment holds the addresses the protocol runs against on a chain
type Deployment struct {
	VerifyingContract string
	WrappedNative     string
}

// DefaultDeployments maps chain IDs to their protocol deployment
var DefaultDeployments = map[ChainID]Deployment{
	ChainIDEthereumMainnet: {
		VerifyingContract: "0x1111111254EEB25477B68fb85Ed929f73A960582",
		WrappedNative:     "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	},
	ChainIDBNBMainnet: {
		VerifyingContract: "0x1111111254EEB25477B68fb85Ed929f73A960582",
		WrappedNative:     "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
	},
	ChainIDPolygonMainnet: {
		VerifyingContract: "0x1111111254EEB25477B68fb85Ed929f73A960582",
		WrappedNative:     "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
	},
	ChainIDLocal: {
		VerifyingContract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		WrappedNative:     "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
	},
}

// StoreConfig selects the invalidation store backend
type StoreConfig struct {
	// Path of the badger directory. Empty with InMemory unset selects the map store.
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Production bool   `mapstructure:"production"`
	Level      string `mapstructure:"level"`
}

// MetricsConfig configures prometheus collectors
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// Config holds the settings of a protocol deployment
type Config struct {
	ChainID           ChainID       `mapstructure:"chain_id"`
	VerifyingContract string        `mapstructure:"verifying_contract"`
	WrappedNative     string        `mapstructure:"wrapped_native"`
	Store             StoreConfig   `mapstructure:"store"`
	Log               LogConfig     `mapstructure:"log"`
	Metrics           MetricsConfig `mapstructure:"metrics"`
}

// LoadConfig reads an optional YAML file at path, then environment variables
// prefixed with LOP_ (for example LOP_CHAIN_ID, LOP_STORE_PATH). Unset contract
// addresses fall back to DefaultDeployments.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("chain_id", int64(ChainIDLocal))
	v.SetDefault("verifying_contract", "")
	v.SetDefault("wrapped_native", "")
	v.SetDefault("store.path", "")
	v.SetDefault("store.in_memory", false)
	v.SetDefault("log.production", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.namespace", "limit_order")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.ChainID <= 0 {
		return &InvalidParamError{Message: fmt.Sprintf("chain_id must be positive, got %d", c.ChainID)}
	}

	deployment, known := DefaultDeployments[c.ChainID]
	if c.VerifyingContract == "" {
		if !known {
			return &InvalidParamError{Message: fmt.Sprintf("verifying_contract is required for chain %d", c.ChainID)}
		}
		c.VerifyingContract = deployment.VerifyingContract
	}
	if c.WrappedNative == "" {
		if !known {
			return &InvalidParamError{Message: fmt.Sprintf("wrapped_native is required for chain %d", c.ChainID)}
		}
		c.WrappedNative = deployment.WrappedNative
	}
	for name, addr := range map[string]string{
		"verifying_contract": c.VerifyingContract,
		"wrapped_native":     c.WrappedNative,
	} {
		if !common.IsHexAddress(addr) {
			return &InvalidParamError{Message: fmt.Sprintf("%s is not an address: %q", name, addr)}
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}

// NewLogger creates a zap logger: JSON output in production, colored console
// output otherwise.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, &InvalidParamError{Message: fmt.Sprintf("invalid log level %q", cfg.Level)}
	}

	var zc zap.Config
	if cfg.Production {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "time"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
