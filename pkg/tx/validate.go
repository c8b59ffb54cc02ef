package tx

import "errors"

// Transaction errors.
var (
	ErrNoInputs         = errors.New("transaction has no inputs")
	ErrNoOutputs        = errors.New("transaction has no outputs")
	ErrOutputNotFound   = errors.New("output not found")
	ErrNotTaproot       = errors.New("output is not pay-to-taproot")
	ErrMissingWitness   = errors.New("input has no key-path witness")
	ErrFeeExceedsAmount = errors.New("fee exceeds input amount")
	ErrDustOutput       = errors.New("output below dust limit")
	ErrLocktimeUnderrun = errors.New("locktime would drop below zero")
)
