package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Klingon-tech/klingnet-statechain/internal/log"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case Mainnet, Testnet, Signet, Regtest:
	default:
		return fmt.Errorf("network must be one of %q, %q, %q, %q", Mainnet, Testnet, Signet, Regtest)
	}

	if err := validateURL(cfg.StatechainEntity, "statechain.entity", "http", "https"); err != nil {
		return err
	}
	if cfg.TorProxy != "" {
		if err := validateURL(cfg.TorProxy, "tor.proxy", "socks5", "socks5h"); err != nil {
			return err
		}
	}
	if err := validateURL(cfg.ElectrumServer, "electrum.server", "tcp", "ssl"); err != nil {
		return err
	}
	if cfg.HTTPTimeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}

	if cfg.Transfer.FeeRateTolerance < 0 {
		return fmt.Errorf("fee.tolerance must not be negative")
	}
	if cfg.Transfer.ConfirmationTarget == 0 {
		return fmt.Errorf("confirmation.target must be at least 1")
	}
	if cfg.Transfer.BatchRetryDelay <= 0 {
		return fmt.Errorf("batch.retrydelay must be positive")
	}
	if cfg.Transfer.BatchMaxAttempts < 0 {
		return fmt.Errorf("batch.maxattempts must not be negative")
	}

	if !log.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	return nil
}

func validateURL(raw, field string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %s", field, strings.Join(schemes, ", "))
}
