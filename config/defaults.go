package config

import "time"

// DefaultMainnet returns the default configuration for Bitcoin mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network:          Mainnet,
		DataDir:          DefaultDataDir(),
		StatechainEntity: "http://127.0.0.1:8000",
		HTTPTimeout:      30 * time.Second,
		ElectrumServer:   "tcp://127.0.0.1:50001",
		Transfer: TransferConfig{
			FeeRateTolerance:   5,
			ConfirmationTarget: 2,
			BatchRetryDelay:    5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	cfg := DefaultMainnet()
	switch network {
	case Testnet:
		cfg.Network = Testnet
		cfg.ElectrumServer = "tcp://127.0.0.1:60001"
	case Signet:
		cfg.Network = Signet
		cfg.ElectrumServer = "tcp://127.0.0.1:60601"
	case Regtest:
		cfg.Network = Regtest
		cfg.ElectrumServer = "tcp://127.0.0.1:50001"
		cfg.Transfer.ConfirmationTarget = 1
	}
	return cfg
}
