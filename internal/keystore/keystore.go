// Package keystore implements the BBS keypair store. Wallet identities are
// secp256k1 keypairs; the compressed public key is the WalletID handed out
// to counterparties, the private half never leaves the store.
package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kaplanlior/beam/internal/encryption"
	"github.com/kaplanlior/beam/internal/log"
	"github.com/kaplanlior/beam/pkg/crypto"
	"github.com/kaplanlior/beam/pkg/types"
)

// FileName is the conventional keypair store file name.
const FileName = "keys.bbs"

// StorageKind selects where the store lives.
type StorageKind uint8

const (
	// LocalFile persists keypairs to an encrypted file.
	LocalFile StorageKind = iota
	// Memory keeps keypairs only for the process lifetime. Used in tests.
	Memory
)

// Flags modify store behavior.
type Flags uint8

// EnableAllKeys is accepted in Options.Flags but not consulted: the store
// always loads every stored keypair on open.
const EnableAllKeys Flags = 1 << 0

// Options configures Create.
type Options struct {
	Storage  StorageKind
	Flags    Flags
	FileName string
}

// Keystore errors.
var (
	ErrWrongPassword = errors.New("wrong keystore password")
	ErrUnknownKey    = errors.New("unknown wallet id")
)

// storeFile is the on-disk JSON format for the encrypted keypair store.
type storeFile struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Encrypted []byte    `json:"encrypted_keys"`
}

// keyEntry is one keypair inside the encrypted payload.
type keyEntry struct {
	WalletID types.WalletID `json:"wallet_id"`
	Private  []byte         `json:"private,omitempty"`
}

// KeyStore holds BBS keypairs.
type KeyStore struct {
	opts     Options
	password []byte

	keys    map[types.WalletID]*crypto.PrivateKey // persisted private keys
	public  map[types.WalletID]struct{}           // persisted public-only ids
	pending map[types.WalletID]*crypto.PrivateKey // generated, not yet saved
}

// Create opens the keypair store described by opts, creating the file on
// first use.
func Create(opts Options, password string) (*KeyStore, error) {
	ks := &KeyStore{
		opts:     opts,
		password: []byte(password),
		keys:     make(map[types.WalletID]*crypto.PrivateKey),
		public:   make(map[types.WalletID]struct{}),
		pending:  make(map[types.WalletID]*crypto.PrivateKey),
	}
	if opts.Storage == Memory {
		return ks, nil
	}
	if opts.FileName == "" {
		return nil, fmt.Errorf("keystore file name required for local storage")
	}
	if _, err := os.Stat(opts.FileName); os.IsNotExist(err) {
		if err := ks.flush(); err != nil {
			return nil, err
		}
		log.KeyStore.Info().Str("file", opts.FileName).Msg("keystore created")
		return ks, nil
	}
	if err := ks.load(); err != nil {
		return nil, err
	}
	return ks, nil
}

// GenKeypair produces a new keypair and returns its WalletID. The pair is
// held in memory until SaveKeypair persists it.
func (ks *KeyStore) GenKeypair() (types.WalletID, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return types.WalletID{}, err
	}
	id, err := types.WalletIDFromBytes(key.PublicKey())
	if err != nil {
		return types.WalletID{}, err
	}
	ks.pending[id] = key
	return id, nil
}

// SaveKeypair persists a generated keypair. When isPrivate is false only
// the public identity is recorded.
func (ks *KeyStore) SaveKeypair(id types.WalletID, isPrivate bool) error {
	key, ok := ks.pending[id]
	if !ok {
		if _, have := ks.keys[id]; have {
			return nil // already persisted
		}
		return fmt.Errorf("save keypair %s: %w", id, ErrUnknownKey)
	}
	delete(ks.pending, id)
	if isPrivate {
		ks.keys[id] = key
	} else {
		ks.public[id] = struct{}{}
	}
	return ks.flush()
}

// ChangePassword re-encrypts the store file under a new password.
func (ks *KeyStore) ChangePassword(newPassword string) error {
	ks.password = []byte(newPassword)
	return ks.flush()
}

// Get returns the private key for an owned wallet id.
func (ks *KeyStore) Get(id types.WalletID) (*crypto.PrivateKey, error) {
	if key, ok := ks.keys[id]; ok {
		return key, nil
	}
	if key, ok := ks.pending[id]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("get keypair %s: %w", id, ErrUnknownKey)
}

// IDs returns every persisted wallet id, private and public alike.
func (ks *KeyStore) IDs() []types.WalletID {
	out := make([]types.WalletID, 0, len(ks.keys)+len(ks.public))
	for id := range ks.keys {
		out = append(out, id)
	}
	for id := range ks.public {
		out = append(out, id)
	}
	return out
}

// flush writes the encrypted store file.
func (ks *KeyStore) flush() error {
	if ks.opts.Storage == Memory {
		return nil
	}
	entries := make([]keyEntry, 0, len(ks.keys)+len(ks.public))
	for id, key := range ks.keys {
		entries = append(entries, keyEntry{WalletID: id, Private: key.Serialize()})
	}
	for id := range ks.public {
		entries = append(entries, keyEntry{WalletID: id})
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode keys: %w", err)
	}
	encrypted, err := encryption.Encrypt(payload, ks.password, encryption.DefaultParams())
	if err != nil {
		return fmt.Errorf("encrypt keys: %w", err)
	}
	sf := storeFile{
		Version:   1,
		CreatedAt: time.Now().UTC(),
		Encrypted: encrypted,
	}
	data, err := json.MarshalIndent(&sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}
	if err := os.WriteFile(ks.opts.FileName, data, 0600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	return nil
}

// load reads and decrypts the store file.
func (ks *KeyStore) load() error {
	data, err := os.ReadFile(ks.opts.FileName)
	if err != nil {
		return fmt.Errorf("read keystore: %w", err)
	}
	var sf storeFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse keystore: %w", err)
	}
	if sf.Version != 1 {
		return fmt.Errorf("unsupported keystore version: %d", sf.Version)
	}
	payload, err := encryption.Decrypt(sf.Encrypted, ks.password)
	if err != nil {
		return ErrWrongPassword
	}
	var entries []keyEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		return fmt.Errorf("decode keys: %w", err)
	}
	for _, e := range entries {
		if len(e.Private) == 0 {
			ks.public[e.WalletID] = struct{}{}
			continue
		}
		key, err := crypto.PrivateKeyFromBytes(e.Private)
		if err != nil {
			return fmt.Errorf("load keypair %s: %w", e.WalletID, err)
		}
		ks.keys[e.WalletID] = key
	}
	return nil
}
