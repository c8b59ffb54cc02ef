// statechain-cli is a command-line statecoin wallet: it creates wallets,
// hands out transfer addresses and sends and receives statecoins through
// a statechain entity.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-statechain/config"
	"github.com/Klingon-tech/klingnet-statechain/internal/coinstatus"
	"github.com/Klingon-tech/klingnet-statechain/internal/electrum"
	"github.com/Klingon-tech/klingnet-statechain/internal/engine"
	"github.com/Klingon-tech/klingnet-statechain/internal/log"
	"github.com/Klingon-tech/klingnet-statechain/internal/server"
	"github.com/Klingon-tech/klingnet-statechain/internal/storage"
	"github.com/Klingon-tech/klingnet-statechain/internal/transfer"
	"github.com/Klingon-tech/klingnet-statechain/internal/txbuilder"
	"github.com/Klingon-tech/klingnet-statechain/internal/wallet"
	"github.com/google/uuid"
	"golang.org/x/term"
)

const version = "0.1.0"

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		usage()
		os.Exit(1)
	}
	if flags.Version {
		fmt.Printf("statechain-cli %s\n", version)
		return
	}
	if flags.Help || len(flags.Args) == 0 {
		usage()
		if len(flags.Args) == 0 && !flags.Help {
			os.Exit(1)
		}
		return
	}

	cmd := flags.Args[0]
	cmdArgs := flags.Args[1:]
	if cmd == "help" {
		usage()
		return
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fatal("%v", err)
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fatal("init logging: %v", err)
	}

	e, err := openEnv(cfg)
	if err != nil {
		fatal("%v", err)
	}
	defer e.close()

	log.CLI.Debug().
		Str("command", cmd).
		Str("network", string(cfg.Network)).
		Str("datadir", cfg.DataDir).
		Msg("Running command")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "create-wallet":
		cmdCreateWallet(e, cmdArgs)
	case "list-wallets":
		cmdListWallets(e)
	case "new-transfer-address":
		cmdNewTransferAddress(e, cmdArgs)
	case "transfer-send":
		cmdTransferSend(ctx, e, cmdArgs)
	case "transfer-receive":
		cmdTransferReceive(ctx, e, cmdArgs)
	case "list-statecoins":
		cmdListStatecoins(ctx, e, cmdArgs)
	case "list-activities":
		cmdListActivities(e, cmdArgs)
	default:
		e.close()
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: statechain-cli [global flags] <command> [flags]

Global flags:
  --network <net>       bitcoin (default), testnet, signet or regtest
  --datadir <path>      Data directory (default: %s)
  --config <file>       Config file (default: <datadir>/statechain.conf)
  --entity <url>        Statechain entity URL
  --tor-proxy <url>     SOCKS5 proxy for the entity, e.g. socks5h://127.0.0.1:9050
  --electrum <url>      Electrum server, tcp://host:port or ssl://host:port
  --log-level <lvl>     debug, info, warn, error
  --log-file <path>     Also write logs to a file
  --log-json            Log as JSON
  --version             Show version

Commands:
  create-wallet --name <n>        Create a wallet and its encrypted seed
  list-wallets                    List wallets on this network
  new-transfer-address --wallet <w> [--generate-batch-id]
                                  Derive a new address to receive a statecoin
  transfer-send --wallet <w> --statechain-id <id> --to <addr> [--batch-id <id>]
                                  Send a statecoin
  transfer-receive --wallet <w>   Claim statecoins sent to this wallet
  list-statecoins --wallet <w>    Show the wallet's statecoins
  list-activities --wallet <w>    Show the wallet's history
`, config.DefaultDataDir())
}

// ── Environment ─────────────────────────────────────────────────────────

type env struct {
	cfg   *config.Config
	db    *storage.BadgerDB
	store *wallet.Store
	ks    *wallet.Keystore

	electrum *electrum.Client
}

func openEnv(cfg *config.Config) (*env, error) {
	db, err := storage.NewBadger(cfg.DatabaseDir())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	return &env{
		cfg:   cfg,
		db:    db,
		store: wallet.NewStore(storage.NewPrefixDB(db, []byte(string(cfg.Network)+"/"))),
		ks:    ks,
	}, nil
}

func (e *env) close() {
	if e.electrum != nil {
		e.electrum.Close()
		e.electrum = nil
	}
	if e.db != nil {
		e.db.Close()
		e.db = nil
	}
}

func (e *env) network() string {
	return string(e.cfg.Network)
}

func (e *env) chain() *electrum.Client {
	if e.electrum == nil {
		c, err := electrum.New(e.cfg.ElectrumServer, e.cfg.TorProxy, e.cfg.HTTPTimeout)
		if err != nil {
			fatal("electrum: %v", err)
		}
		e.electrum = c
	}
	return e.electrum
}

func (e *env) entity() *server.Client {
	c, err := server.New(e.cfg.StatechainEntity, e.cfg.TorProxy, e.cfg.HTTPTimeout)
	if err != nil {
		fatal("statechain entity: %v", err)
	}
	return c
}

func (e *env) deps() transfer.Deps {
	se := e.entity()
	chain := e.chain()
	return transfer.Deps{
		Store:   e.store,
		Server:  se,
		Chain:   chain,
		Crypto:  engine.New(),
		Builder: txbuilder.New(se, chain),
	}
}

func (e *env) transferConfig() transfer.Config {
	t := e.cfg.Transfer
	return transfer.Config{
		FeeRateTolerance:   t.FeeRateTolerance,
		ConfirmationTarget: t.ConfirmationTarget,
		Retry: transfer.RetryPolicy{
			Delay:       t.BatchRetryDelay,
			MaxAttempts: t.BatchMaxAttempts,
		},
	}
}

// refresh brings coin statuses up to date before a wallet is used.
func (e *env) refresh(ctx context.Context, walletName string) *wallet.Wallet {
	r := coinstatus.New(e.store, e.chain(), e.cfg.Transfer.ConfirmationTarget)
	w, err := r.Refresh(ctx, walletName)
	if err != nil {
		fatal("refresh coins: %v", err)
	}
	return w
}

// ── Wallets ─────────────────────────────────────────────────────────────

func cmdCreateWallet(e *env, args []string) {
	fs := flag.NewFlagSet("create-wallet", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: statechain-cli create-wallet --name <name>")
	}
	if e.ks.Exists(*name) {
		fatal("wallet %q already exists", *name)
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}
	err = e.ks.Create(*name, e.network(), seed, password, wallet.DefaultParams())
	for i := range seed {
		seed[i] = 0
	}
	if err != nil {
		fatal("create keystore: %v", err)
	}

	if _, err := e.store.CreateWallet(*name, e.network()); err != nil {
		e.ks.Delete(*name)
		fatal("create wallet: %v", err)
	}

	fmt.Printf("Wallet created: %s (%s)\n", *name, e.network())
}

func cmdListWallets(e *env) {
	names, err := e.store.ListWallets()
	if err != nil {
		fatal("list wallets: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No wallets found.")
		return
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func cmdNewTransferAddress(e *env, args []string) {
	fs := flag.NewFlagSet("new-transfer-address", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	batch := fs.Bool("generate-batch-id", false, "Also print a fresh batch id")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: statechain-cli new-transfer-address --wallet <name> [--generate-batch-id]")
	}

	w, err := e.store.LoadWallet(*walletName)
	if err != nil {
		fatal("load wallet: %v", err)
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	seed, err := e.ks.Load(*walletName, password)
	if err != nil {
		fatal("unlock wallet: %v", err)
	}
	master, err := wallet.NewMasterKey(seed)
	for i := range seed {
		seed[i] = 0
	}
	if err != nil {
		fatal("derive master key: %v", err)
	}

	coin, err := wallet.NewCoin(master, w.Network, w.NextIndex)
	if err != nil {
		fatal("derive coin keys: %v", err)
	}
	w.Coins = append(w.Coins, *coin)
	w.NextIndex++
	if err := e.store.SaveWallet(w); err != nil {
		fatal("save wallet: %v", err)
	}

	out := struct {
		TransferReceive string `json:"transfer_receive"`
		BatchID         string `json:"batch_id,omitempty"`
	}{TransferReceive: coin.Address}
	if *batch {
		out.BatchID = uuid.NewString()
	}
	printJSON(out)
}

// ── Transfers ───────────────────────────────────────────────────────────

func cmdTransferSend(ctx context.Context, e *env, args []string) {
	fs := flag.NewFlagSet("transfer-send", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	statechainID := fs.String("statechain-id", "", "Statechain id of the coin to send")
	to := fs.String("to", "", "Recipient transfer address")
	batchID := fs.String("batch-id", "", "Batch id for an atomic batch transfer")
	fs.Parse(args)

	if *walletName == "" || *statechainID == "" || *to == "" {
		fatal("Usage: statechain-cli transfer-send --wallet <w> --statechain-id <id> --to <addr> [--batch-id <id>]")
	}

	e.refresh(ctx, *walletName)

	coin, err := transfer.NewSender(e.deps()).Send(ctx, *walletName, *statechainID, *to, *batchID)
	if err != nil {
		fatal("transfer: %v", err)
	}
	printJSON(coinView(coin))
}

func cmdTransferReceive(ctx context.Context, e *env, args []string) {
	fs := flag.NewFlagSet("transfer-receive", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: statechain-cli transfer-receive --wallet <w>")
	}

	e.refresh(ctx, *walletName)

	ids, err := transfer.NewReceiver(e.transferConfig(), e.deps()).Receive(ctx, *walletName)
	if ids == nil {
		ids = []string{}
	}
	printJSON(struct {
		Received []string `json:"received"`
	}{ids})
	if err != nil {
		if errors.Is(err, transfer.ErrProtocolFatal) {
			fatal("statechain entity refused the claim: %v", err)
		}
		fatal("receive: %v", err)
	}
}

// ── Listing ─────────────────────────────────────────────────────────────

type statecoin struct {
	StatechainID      string  `json:"statechain_id"`
	Amount            uint64  `json:"amount"`
	Status            string  `json:"status"`
	Address           string  `json:"address"`
	AggregatedAddress string  `json:"aggregated_address,omitempty"`
	UTXO              string  `json:"utxo,omitempty"`
	Locktime          *uint32 `json:"locktime,omitempty"`
}

func coinView(c *wallet.Coin) statecoin {
	return statecoin{
		StatechainID:      c.StatechainID,
		Amount:            c.Amount,
		Status:            c.Status.String(),
		Address:           c.Address,
		AggregatedAddress: c.AggregatedAddress,
		UTXO:              c.UTXOString(),
		Locktime:          c.Locktime,
	}
}

func cmdListStatecoins(ctx context.Context, e *env, args []string) {
	fs := flag.NewFlagSet("list-statecoins", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: statechain-cli list-statecoins --wallet <w>")
	}

	w := e.refresh(ctx, *walletName)
	coins := make([]statecoin, 0, len(w.Coins))
	for i := range w.Coins {
		coins = append(coins, coinView(&w.Coins[i]))
	}
	printJSON(struct {
		Coins []statecoin `json:"coins"`
	}{coins})
}

func cmdListActivities(e *env, args []string) {
	fs := flag.NewFlagSet("list-activities", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: statechain-cli list-activities --wallet <w>")
	}

	w, err := e.store.LoadWallet(*walletName)
	if err != nil {
		fatal("load wallet: %v", err)
	}
	activities := w.Activities
	if activities == nil {
		activities = []wallet.Activity{}
	}
	printJSON(struct {
		Activities []wallet.Activity `json:"activities"`
	}{activities})
}

// ── Helpers ─────────────────────────────────────────────────────────────

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode output: %v", err)
	}
	fmt.Println(string(data))
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
