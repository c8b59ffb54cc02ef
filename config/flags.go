package config

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// Flags holds parsed global command-line flags.
type Flags struct {
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// Endpoints
	Entity   string
	TorProxy string
	Electrum string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args: the command and its own arguments.
	Args []string

	SetLogJSON bool
}

// ParseFlags parses global flags from args. Parsing stops at the first
// non-flag argument, which is the command name.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("statechain-cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	fs.StringVar(&f.Network, "network", "", "Network (bitcoin, testnet, signet, regtest)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	fs.StringVar(&f.Entity, "entity", "", "Statechain entity URL")
	fs.StringVar(&f.TorProxy, "tor-proxy", "", "SOCKS5 proxy URL for the statechain entity")
	fs.StringVar(&f.Electrum, "electrum", "", "Electrum server URL")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	if f.Entity != "" {
		cfg.StatechainEntity = f.Entity
	}
	if f.TorProxy != "" {
		cfg.TorProxy = f.TorProxy
	}
	if f.Electrum != "" {
		cfg.ElectrumServer = f.Electrum
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// Load builds the configuration with the following precedence:
// 1. Default values for the selected network
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load(flags *Flags) (*Config, error) {
	network := Mainnet
	if flags.Network != "" {
		network = NetworkType(flags.Network)
	}

	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// The file may have switched networks; make sure its dirs exist too.
	if err := os.MkdirAll(cfg.KeystoreDir(), 0700); err != nil {
		return nil, fmt.Errorf("creating keystore dir: %w", err)
	}
	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every start.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.DatabaseDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
