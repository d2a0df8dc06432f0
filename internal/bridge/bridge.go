// Package bridge is the embedding surface of the wallet core. An embedder
// (CLI, mobile shell, GUI) creates or opens a wallet and receives an
// opaque handle whose lifecycle it owns; there is no process-wide
// registry.
package bridge

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kaplanlior/beam/internal/keychain"
	"github.com/kaplanlior/beam/internal/keystore"
	"github.com/kaplanlior/beam/internal/log"
	"github.com/kaplanlior/beam/pkg/types"
)

// Handle is an opened wallet: the coin store plus the keypair store.
// Closed by the embedder via Close.
type Handle struct {
	dir string
	kc  *keychain.KeyChain
	ks  *keystore.KeyStore
}

// DefaultAddressLabel names the address generated at wallet creation.
const DefaultAddressLabel = "default"

// IsWalletInitialized reports whether a wallet exists under dir.
func IsWalletInitialized(dir string) bool {
	return keychain.IsInitialized(dir)
}

// CreateWallet creates a new wallet under dir from a seed phrase: the
// keychain, the keypair store and a default own address.
func CreateWallet(dir, password, seedPhrase string) (*Handle, error) {
	log.Bridge.Info().Msg("creating wallet")

	seedHash, err := SeedHash(seedPhrase)
	if err != nil {
		return nil, err
	}
	kc, err := keychain.Init(dir, password, seedHash)
	if err != nil {
		return nil, err
	}
	ks, err := keystore.Create(keystore.Options{
		Storage:  keystore.LocalFile,
		Flags:    keystore.EnableAllKeys,
		FileName: filepath.Join(dir, keystore.FileName),
	}, password)
	if err != nil {
		kc.Close()
		return nil, err
	}

	// Generate the default address.
	walletID, err := ks.GenKeypair()
	if err != nil {
		kc.Close()
		return nil, err
	}
	if err := ks.SaveKeypair(walletID, true); err != nil {
		kc.Close()
		return nil, err
	}
	addr := keychain.WalletAddress{
		WalletID:   walletID,
		Label:      DefaultAddressLabel,
		CreateTime: time.Now().Unix(),
		Duration:   keychain.MaxDuration,
		Own:        true,
	}
	if err := kc.SaveAddress(&addr); err != nil {
		kc.Close()
		return nil, err
	}

	log.Bridge.Info().Stringer("wallet_id", walletID).Msg("wallet created")
	return &Handle{dir: dir, kc: kc, ks: ks}, nil
}

// OpenWallet opens an existing wallet under dir.
func OpenWallet(dir, password string) (*Handle, error) {
	log.Bridge.Info().Msg("opening wallet")

	kc, err := keychain.Open(dir, password)
	if err != nil {
		return nil, err
	}
	ks, err := keystore.Create(keystore.Options{
		Storage:  keystore.LocalFile,
		Flags:    keystore.EnableAllKeys,
		FileName: filepath.Join(dir, keystore.FileName),
	}, password)
	if err != nil {
		kc.Close()
		return nil, err
	}
	return &Handle{dir: dir, kc: kc, ks: ks}, nil
}

// Close releases the wallet stores.
func (h *Handle) Close() error {
	log.Bridge.Info().Msg("closing wallet")
	return h.kc.Close()
}

// ChangePassword re-encrypts both stores under the new password.
func (h *Handle) ChangePassword(newPassword string) error {
	if err := h.kc.ChangePassword(newPassword); err != nil {
		return err
	}
	if err := h.ks.ChangePassword(newPassword); err != nil {
		return fmt.Errorf("keystore password change: %w", err)
	}
	return nil
}

// GetSystemState returns the reconciled chain cursor.
func (h *Handle) GetSystemState() (types.SystemStateID, error) {
	return h.kc.SystemStateID()
}

// GetUtxos lists every tracked coin in id order.
func (h *Handle) GetUtxos() ([]keychain.Coin, error) {
	var coins []keychain.Coin
	err := h.kc.Visit(func(c *keychain.Coin) bool {
		coins = append(coins, *c)
		return true
	})
	if err != nil {
		return nil, err
	}
	return coins, nil
}

// Addresses lists the address book.
func (h *Handle) Addresses() ([]keychain.WalletAddress, error) {
	return h.kc.Addresses()
}

// KeyChain exposes the coin store for wiring the wallet orchestrator.
func (h *Handle) KeyChain() *keychain.KeyChain {
	return h.kc
}

// KeyStore exposes the keypair store.
func (h *Handle) KeyStore() *keystore.KeyStore {
	return h.ks
}
