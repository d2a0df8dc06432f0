// beam-wallet is a command-line client for the beam wallet core.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kaplanlior/beam/config"
	"github.com/kaplanlior/beam/internal/bridge"
	"github.com/kaplanlior/beam/internal/keychain"
	"github.com/kaplanlior/beam/internal/log"
	"github.com/kaplanlior/beam/internal/network"
	"github.com/kaplanlior/beam/internal/wallet"
	"github.com/kaplanlior/beam/pkg/types"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := config.Default()

	// Scan for global flags before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--datadir" && len(args) > 1:
			cfg.DataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			cfg.DataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--log-level" && len(args) > 1:
			cfg.Log.Level = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--log-level="):
			cfg.Log.Level = args[0][len("--log-level="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fatal("init logging: %v", err)
	}

	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "init":
		cmdInit(cfg)
	case "restore":
		cmdRestore(cfg, args)
	case "info":
		cmdInfo(cfg)
	case "utxos":
		cmdUtxos(cfg)
	case "addresses":
		cmdAddresses(cfg)
	case "change-password":
		cmdChangePassword(cfg)
	case "listen":
		cmdListen(cfg, args)
	case "send":
		cmdSend(cfg, args)
	default:
		usage()
		os.Exit(1)
	}
}

func cmdInit(cfg *config.Config) {
	if bridge.IsWalletInitialized(cfg.DataDir) {
		fatal("wallet already exists in %s", cfg.DataDir)
	}
	phrase, err := bridge.GenerateSeedPhrase()
	if err != nil {
		fatal("generate seed phrase: %v", err)
	}
	password := mustReadNewPassword()
	h, err := bridge.CreateWallet(cfg.DataDir, password, phrase)
	if err != nil {
		fatal("create wallet: %v", err)
	}
	defer h.Close()

	fmt.Println("Wallet created. Write down the seed phrase and keep it safe:")
	fmt.Println()
	fmt.Println("  " + phrase)
	fmt.Println()
	printAddresses(h)
}

func cmdRestore(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("usage: beam-wallet restore \"<seed phrase>\"")
	}
	phrase := strings.Join(args, " ")
	if !bridge.ValidateSeedPhrase(phrase) {
		fatal("invalid seed phrase")
	}
	password := mustReadNewPassword()
	h, err := bridge.CreateWallet(cfg.DataDir, password, phrase)
	if err != nil {
		fatal("restore wallet: %v", err)
	}
	defer h.Close()
	fmt.Println("Wallet restored.")
	printAddresses(h)
}

func cmdInfo(cfg *config.Config) {
	h := mustOpen(cfg)
	defer h.Close()

	state, err := h.GetSystemState()
	if err != nil {
		fatal("read system state: %v", err)
	}
	coins, err := h.GetUtxos()
	if err != nil {
		fatal("read utxos: %v", err)
	}
	var available, locked, unconfirmed types.Amount
	for _, c := range coins {
		switch c.Status {
		case keychain.Unspent:
			available += c.Amount
		case keychain.Locked:
			locked += c.Amount
		case keychain.Unconfirmed:
			unconfirmed += c.Amount
		}
	}
	fmt.Printf("Height:       %d\n", state.Height)
	fmt.Printf("Available:    %s\n", FormatAmount(available))
	fmt.Printf("Locked:       %s\n", FormatAmount(locked))
	fmt.Printf("Unconfirmed:  %s\n", FormatAmount(unconfirmed))
}

func cmdUtxos(cfg *config.Config) {
	h := mustOpen(cfg)
	defer h.Close()

	coins, err := h.GetUtxos()
	if err != nil {
		fatal("read utxos: %v", err)
	}
	fmt.Printf("%-6s %-16s %-12s %-10s %-8s\n", "ID", "AMOUNT", "STATUS", "TYPE", "HEIGHT")
	for _, c := range coins {
		fmt.Printf("%-6d %-16s %-12s %-10s %-8d\n",
			c.ID, FormatAmount(c.Amount), c.Status, c.KeyType, c.CreateHeight)
	}
}

func cmdAddresses(cfg *config.Config) {
	h := mustOpen(cfg)
	defer h.Close()
	printAddresses(h)
}

func cmdChangePassword(cfg *config.Config) {
	h := mustOpen(cfg)
	defer h.Close()

	newPassword := mustReadNewPassword()
	if err := h.ChangePassword(newPassword); err != nil {
		fatal("change password: %v", err)
	}
	fmt.Println("Password changed.")
}

// cmdListen runs the wallet service: the transport plus the orchestrator,
// receiving transfers until interrupted.
func cmdListen(cfg *config.Config, args []string) {
	h := mustOpen(cfg)
	defer h.Close()

	_, svc := mustStartWallet(cfg, h, nil)
	defer svc.Stop()

	fmt.Printf("Listening as %s\n", svc.ID())
	fmt.Println("Press Ctrl+C to stop.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func cmdSend(cfg *config.Config, args []string) {
	var to string
	var amountStr string
	for len(args) > 0 {
		switch {
		case args[0] == "--to" && len(args) > 1:
			to = args[1]
			args = args[2:]
		case args[0] == "--amount" && len(args) > 1:
			amountStr = args[1]
			args = args[2:]
		default:
			fatal("unknown flag %q", args[0])
		}
	}
	if to == "" || amountStr == "" {
		fatal("usage: beam-wallet send --to <multiaddr> --amount <amount>")
	}
	amount, err := ParseAmount(amountStr)
	if err != nil {
		fatal("parse amount: %v", err)
	}

	h := mustOpen(cfg)
	defer h.Close()

	done := make(chan types.TxID, 1)
	w, svc := mustStartWallet(cfg, h, func(txID types.TxID) {
		done <- txID
	})
	defer svc.Stop()

	peerID, err := svc.Connect(to)
	if err != nil {
		fatal("connect: %v", err)
	}
	txID, err := w.TransferMoney(peerID, amount)
	if err != nil {
		fatal("transfer: %v", err)
	}
	fmt.Printf("Transfer %s started, %s to %s\n", txID, FormatAmount(amount), to)
	<-done
	fmt.Println("Transfer finished.")
}

// mustStartWallet wires the transport and the orchestrator together.
func mustStartWallet(cfg *config.Config, h *bridge.Handle, action wallet.TxCompletedAction) (*wallet.Wallet, *network.Service) {
	var w *wallet.Wallet
	svc := network.New(network.Config{
		ListenAddr: cfg.P2P.ListenAddr,
		Port:       cfg.P2P.Port,
		DataDir:    cfg.DataDir,
	}, handlerFunc{wallet: func() *wallet.Wallet { return w }})

	w, err := wallet.New(h.KeyChain(), svc, action)
	if err != nil {
		fatal("create wallet: %v", err)
	}
	if err := svc.Start(); err != nil {
		fatal("start transport: %v", err)
	}
	svc.SetNodeTransport(network.NewRPCNodeTransport(cfg.Node.Addr, svc, 0))
	return w, svc
}

// handlerFunc adapts the orchestrator to the transport's Handler
// interface; the indirection breaks the construction cycle between them.
type handlerFunc struct {
	wallet func() *wallet.Wallet
}

func (h handlerFunc) HandleTxMessage(from types.PeerID, msg wallet.TxMessage) {
	h.wallet().HandleTxMessage(from, msg)
}

func (h handlerFunc) HandleNodeMessage(msg wallet.NodeMessage) bool {
	return h.wallet().HandleNodeMessage(msg)
}

func (h handlerFunc) HandleConnectionError(from types.PeerID) {
	h.wallet().HandleConnectionError(from)
}

func mustOpen(cfg *config.Config) *bridge.Handle {
	if !bridge.IsWalletInitialized(cfg.DataDir) {
		fatal("no wallet in %s (run: beam-wallet init)", cfg.DataDir)
	}
	password, err := readPassword("Password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	h, err := bridge.OpenWallet(cfg.DataDir, string(password))
	if err != nil {
		fatal("open wallet: %v", err)
	}
	return h
}

func printAddresses(h *bridge.Handle) {
	addrs, err := h.Addresses()
	if err != nil {
		fatal("read addresses: %v", err)
	}
	for _, a := range addrs {
		owned := ""
		if a.Own {
			owned = " (own)"
		}
		fmt.Printf("%s  %s%s\n", a.WalletID, a.Label, owned)
	}
}

func mustReadNewPassword() string {
	password, err := readPassword("New password: ")
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
	if len(password) == 0 {
		fatal("empty password")
	}
	return string(password)
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

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: beam-wallet [global flags] <command> [flags]

Global flags:
  --datadir <path>     Data directory (default: ~/.beam)
  --log-level <level>  debug, info, warn or error (default: info)

Commands:
  init                            Create a new wallet
  restore "<seed phrase>"         Restore a wallet from a seed phrase
  info                            Show balance and chain state
  utxos                           List tracked coins
  addresses                       List wallet addresses
  change-password                 Change the wallet password
  listen                          Run the wallet service
  send --to <multiaddr> --amount <amt>
                                  Send coins to a peer wallet
`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
