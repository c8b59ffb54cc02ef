package transfer

// Config holds the transfer settings injected at construction.
type Config struct {
	// FeeRateTolerance is the allowed deviation, in sat/vB, between a backup
	// transaction's fee rate and the current estimate.
	FeeRateTolerance float64
	// ConfirmationTarget is the number of confirmations for CONFIRMED.
	ConfirmationTarget uint32
	Retry              RetryPolicy
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		FeeRateTolerance:   5,
		ConfirmationTarget: 2,
		Retry:              RetryPolicy{Delay: DefaultRetryDelay},
	}
}
