package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key. The camelCase aliases match the
// settings names used by other statechain clients.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "datadir":
		cfg.DataDir = value

	// Statechain entity
	case "statechain.entity", "statechainEntity":
		cfg.StatechainEntity = value
	case "tor.proxy", "torProxy":
		cfg.TorProxy = value
	case "http.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.HTTPTimeout = d

	// Electrum
	case "electrum.server", "electrumServer":
		cfg.ElectrumServer = value

	// Transfer
	case "fee.tolerance", "feeRateTolerance":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.Transfer.FeeRateTolerance = f
	case "confirmation.target", "confirmationTarget":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cfg.Transfer.ConfirmationTarget = uint32(n)
	case "batch.retrydelay":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Transfer.BatchRetryDelay = d
	case "batch.maxattempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Transfer.BatchMaxAttempts = n

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// WriteDefaultConfig writes a commented default configuration file.
func WriteDefaultConfig(path string, cfg *Config) error {
	content := `# Klingnet Statechain Client Configuration

# Network: bitcoin, testnet, signet or regtest
network = ` + string(cfg.Network) + `

# Data directory (default: ~/.klingnet-statechain)
# datadir = ~/.klingnet-statechain

# ============================================================================
# Statechain entity
# ============================================================================

statechain.entity = ` + cfg.StatechainEntity + `

# SOCKS5 proxy for reaching the entity over Tor
# tor.proxy = socks5h://127.0.0.1:9050

# http.timeout = ` + cfg.HTTPTimeout.String() + `

# ============================================================================
# Electrum server (tcp://host:port or ssl://host:port)
# ============================================================================

electrum.server = ` + cfg.ElectrumServer + `

# ============================================================================
# Transfers
# ============================================================================

# Allowed fee rate deviation of received backup transactions, in sat/vB
fee.tolerance = ` + strconv.FormatFloat(cfg.Transfer.FeeRateTolerance, 'f', -1, 64) + `

# Confirmations before a received coin counts as CONFIRMED
confirmation.target = ` + strconv.FormatUint(uint64(cfg.Transfer.ConfirmationTarget), 10) + `

# Wait between claim attempts while a coin is locked in a batch
batch.retrydelay = ` + cfg.Transfer.BatchRetryDelay.String() + `

# Give up after this many claim attempts (0 = keep trying)
# batch.maxattempts = 0

# ============================================================================
# Logging
# ============================================================================

log.level = ` + cfg.Log.Level + `
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
