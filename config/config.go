// Package config handles client configuration.
//
// Settings come from three layers, later layers winning:
//   - built-in defaults per network
//   - <datadir>/statechain.conf
//   - command-line flags
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType identifies the Bitcoin network the wallet operates on.
type NetworkType string

const (
	Mainnet NetworkType = "bitcoin"
	Testnet NetworkType = "testnet"
	Signet  NetworkType = "signet"
	Regtest NetworkType = "regtest"
)

// Config holds the client's runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Statechain entity
	StatechainEntity string        `conf:"statechain.entity"`
	TorProxy         string        `conf:"tor.proxy"`
	HTTPTimeout      time.Duration `conf:"http.timeout"`

	// Electrum server
	ElectrumServer string `conf:"electrum.server"`

	// Transfer verification and claim policy
	Transfer TransferConfig

	// Logging
	Log LogConfig
}

// TransferConfig holds the knobs the transfer engine is constructed with.
type TransferConfig struct {
	// FeeRateTolerance is the allowed distance, in sat/vB, between a
	// backup transaction's fee rate and the current estimate.
	FeeRateTolerance float64 `conf:"fee.tolerance"`
	// ConfirmationTarget is the number of confirmations after which a
	// received coin is CONFIRMED rather than UNCONFIRMED.
	ConfirmationTarget uint32 `conf:"confirmation.target"`
	// BatchRetryDelay is the wait between claim attempts while the
	// statecoin is locked in a batch.
	BatchRetryDelay time.Duration `conf:"batch.retrydelay"`
	// BatchMaxAttempts bounds claim attempts; 0 retries until the batch
	// resolves.
	BatchMaxAttempts int `conf:"batch.maxattempts"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-statechain
//	macOS:   ~/Library/Application Support/KlingnetStatechain
//	Windows: %APPDATA%\KlingnetStatechain
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-statechain"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetStatechain")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetStatechain")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetStatechain")
	default:
		return filepath.Join(home, ".klingnet-statechain")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DatabaseDir returns the wallet database directory. The database is shared
// by all networks; wallets are namespaced by network inside it.
func (c *Config) DatabaseDir() string {
	return filepath.Join(c.DataDir, "db")
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.NetworkDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "statechain.conf")
}
