package blockchain

import (
	"fmt"
	"path/filepath"

	"agritrace/blockchain/client/chainmaker"
	"agritrace/config"
	"agritrace/internal/logger"
)

// BlockchainType represents the type of blockchain backing the ledger.
type BlockchainType string

const (
	ChainMaker BlockchainType = "chainmaker"
	// Future blockchain types can be added here:
	// Ethereum BlockchainType = "ethereum"
)

// LoadChainSpecificConfig loads chain-specific configuration based on blockchain type
func LoadChainSpecificConfig(blockchainType string, configDir string) (any, error) {
	switch BlockchainType(blockchainType) {
	case ChainMaker, "":
		// Default to ChainMaker if not specified
		chainmakerConfigPath := filepath.Join(configDir, "clients", "chainmaker.yml")
		return chainmaker.LoadChainMakerConfig(chainmakerConfigPath)
	default:
		return nil, fmt.Errorf("unsupported blockchain type: %s", blockchainType)
	}
}

// NewLedgerSource creates a ledger event source based on the configuration.
func NewLedgerSource(cfg *config.BlockchainConfig, log *logger.Logger) (LedgerSource, error) {
	switch BlockchainType(cfg.BlockchainType) {
	case ChainMaker, "":
		return chainmaker.NewChainMakerSource(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported blockchain type: %s", cfg.BlockchainType)
	}
}

// NewLedgerSourceFromFile creates a ledger event source from configuration files.
func NewLedgerSourceFromFile(configPath string, log *logger.Logger) (LedgerSource, error) {
	cfg, err := config.LoadBlockchainConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load common config from file '%s': %w", configPath, err)
	}

	configDir := filepath.Dir(configPath)
	chainSpecificCfg, err := LoadChainSpecificConfig(cfg.BlockchainType, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain-specific config: %w", err)
	}

	cfg.ChainSpecific = chainSpecificCfg
	return NewLedgerSource(cfg, log)
}
