package tx

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
)

// BackupTxVSize is the virtual size of a signed backup transaction:
// one key-path taproot input, one P2TR output.
//
//	stripped: version(4) + vin(1) + input(41) + vout(1) + output(43) + locktime(4) = 94
//	witness:  marker/flag(2) + items(1) + len(1) + sig(64) = 68
//	weight = 94*3 + (94+68) = 444  ->  vsize 111
const BackupTxVSize = 111

// DustLimit is the smallest P2TR output value relayed by default policy.
const DustLimit = 330

// FeeTargetBlocks is the confirmation target, in blocks, of every fee
// estimate taken when building or judging a backup transaction.
const FeeTargetBlocks = 3

// minFeeRate is used when the fee estimator has no answer (sat/vB).
const minFeeRate = 1.0

// VSize returns the virtual size of a transaction in vbytes.
func VSize(msg *wire.MsgTx) int64 {
	weight := int64(msg.SerializeSizeStripped())*(blockchain.WitnessScaleFactor-1) + int64(msg.SerializeSize())
	return (weight + blockchain.WitnessScaleFactor - 1) / blockchain.WitnessScaleFactor
}

// Fee returns inputValue minus the sum of outputs.
func Fee(msg *wire.MsgTx, inputValue int64) (int64, error) {
	var out int64
	for _, o := range msg.TxOut {
		out += o.Value
	}
	if out > inputValue {
		return 0, fmt.Errorf("%w: outputs %d, input %d", ErrFeeExceedsAmount, out, inputValue)
	}
	return inputValue - out, nil
}

// FeeRate returns the fee rate in sat/vB of a transaction spending inputValue.
func FeeRate(msg *wire.MsgTx, inputValue int64) (float64, error) {
	fee, err := Fee(msg, inputValue)
	if err != nil {
		return 0, err
	}
	return float64(fee) / float64(VSize(msg)), nil
}

// BackupFee returns the fee to attach to a backup transaction at feeRate.
func BackupFee(feeRate float64) int64 {
	return int64(math.Ceil(feeRate * BackupTxVSize))
}

// FeeRateFromEstimate converts an Electrum estimatefee answer (BTC/kB) into
// sat/vB. Non-positive answers mean "no estimate" and yield the floor rate.
func FeeRateFromEstimate(btcPerKB float64) float64 {
	if btcPerKB <= 0 {
		return minFeeRate
	}
	rate := btcPerKB * 100_000
	if rate < minFeeRate {
		return minFeeRate
	}
	return rate
}
