package wallet

import (
	"time"

	"github.com/Klingon-tech/klingnet-statechain/pkg/types"
)

// Activity actions recorded in the wallet history.
const (
	ActionTransfer = "Transfer"
	ActionReceive  = "Receive"
)

// Wallet is a named collection of statecoins and their history. It is
// loaded and saved as a unit.
type Wallet struct {
	Name       string     `json:"name"`
	Network    string     `json:"network"`
	NextIndex  uint32     `json:"next_index"`
	Coins      []Coin     `json:"coins"`
	Activities []Activity `json:"activities"`
}

// Coin is one statecoin owned, or about to be owned, by the wallet.
// Keys are hex-encoded; public keys are compressed.
type Coin struct {
	Index              uint32     `json:"index"`
	UserPrivkey        string     `json:"user_privkey"`
	UserPubkey         string     `json:"user_pubkey"`
	AuthPrivkey        string     `json:"auth_privkey"`
	AuthPubkey         string     `json:"auth_pubkey"`
	Address            string     `json:"address"`
	BackupAddress      string     `json:"backup_address"`
	ServerPubkey       string     `json:"server_pubkey,omitempty"`
	AggregatedPubkey   string     `json:"aggregated_pubkey,omitempty"`
	AggregatedAddress  string     `json:"aggregated_address,omitempty"`
	StatechainID       string     `json:"statechain_id,omitempty"`
	SignedStatechainID string     `json:"signed_statechain_id,omitempty"`
	Amount             uint64     `json:"amount,omitempty"`
	Locktime           *uint32    `json:"locktime,omitempty"`
	UTXOTxid           string     `json:"utxo_txid,omitempty"`
	UTXOVout           uint32     `json:"utxo_vout"`
	BlindingFactor     string     `json:"blinding_factor,omitempty"`
	ClientPubNonce     string     `json:"client_pubnonce,omitempty"`
	ServerPubNonce     string     `json:"server_pubnonce,omitempty"`
	Status             CoinStatus `json:"status"`
}

// BackupTx is one co-signed, timelocked transaction in a statecoin's
// backup chain.
type BackupTx struct {
	TxN               uint32 `json:"tx_n"`
	Tx                string `json:"tx"`
	ClientPublicNonce string `json:"client_public_nonce"`
	ServerPublicNonce string `json:"server_public_nonce"`
	ClientPublicKey   string `json:"client_public_key"`
	ServerPublicKey   string `json:"server_public_key"`
	BlindingFactor    string `json:"blinding_factor"`
}

// Activity is an append-only history entry.
type Activity struct {
	UTXO   string    `json:"utxo"`
	Amount uint64    `json:"amount"`
	Action string    `json:"action"`
	Date   time.Time `json:"date"`
}

// HasUTXO reports whether the coin's funding outpoint is known.
func (c *Coin) HasUTXO() bool {
	return c.UTXOTxid != ""
}

// Outpoint returns the coin's funding outpoint.
func (c *Coin) Outpoint() (types.Outpoint, error) {
	return types.NewOutpoint(c.UTXOTxid, c.UTXOVout)
}

// UTXOString returns "txid:vout" for the activity log.
func (c *Coin) UTXOString() string {
	if !c.HasUTXO() {
		return ""
	}
	op, err := c.Outpoint()
	if err != nil {
		return c.UTXOTxid
	}
	return op.String()
}

// Clone returns a deep copy. Operations mutate a clone and persist it only
// when they succeed, so a failed operation leaves the stored wallet intact.
func (w *Wallet) Clone() *Wallet {
	c := *w
	c.Coins = make([]Coin, len(w.Coins))
	for i, coin := range w.Coins {
		if coin.Locktime != nil {
			lt := *coin.Locktime
			coin.Locktime = &lt
		}
		c.Coins[i] = coin
	}
	c.Activities = append([]Activity(nil), w.Activities...)
	return &c
}

// CoinsWithStatechainID returns the indices of coins carrying id.
func (w *Wallet) CoinsWithStatechainID(id string) []int {
	var idx []int
	for i := range w.Coins {
		if w.Coins[i].StatechainID == id {
			idx = append(idx, i)
		}
	}
	return idx
}

// AddActivity appends a history entry.
func (w *Wallet) AddActivity(utxo string, amount uint64, action string, at time.Time) {
	w.Activities = append(w.Activities, Activity{
		UTXO:   utxo,
		Amount: amount,
		Action: action,
		Date:   at.UTC(),
	})
}

// Uint32Ptr returns a pointer to v.
func Uint32Ptr(v uint32) *uint32 {
	return &v
}
