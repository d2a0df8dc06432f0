package keychain

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaplanlior/beam/internal/encryption"
	"github.com/kaplanlior/beam/internal/log"
	"github.com/kaplanlior/beam/internal/storage"
	"github.com/kaplanlior/beam/pkg/crypto"
	"github.com/kaplanlior/beam/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// Store errors.
var (
	ErrAlreadyInitialized = errors.New("keychain already initialized")
	ErrNotInitialized     = errors.New("keychain not initialized")
	ErrWrongPassword      = errors.New("wrong password")
	ErrNotFound           = errors.New("coin not found")
)

// DBName is the directory holding the encrypted coin database.
const DBName = "wallet.db"

// Key prefixes and record keys.
var (
	prefixCoin = []byte("c/")       // c/<id 8B BE> -> sealed coin JSON
	prefixAddr = []byte("a/")       // a/<walletID 33B> -> sealed address JSON
	keyKEK     = []byte("m/key")    // data key under password (plaintext header)
	keyMaster  = []byte("m/master") // sealed master secret
	keySeq     = []byte("m/seq")    // sealed id sequence counter
	keyState   = []byte("s/state")  // sealed system state cursor
)

// KeyChain is the wallet's persistent coin store. Every value is sealed
// with a data key that is itself stored under the user's password, so a
// password change re-encrypts a single record.
type KeyChain struct {
	db     storage.DB
	cipher *encryption.Cipher
	master *bip32.Key
}

// dbPath returns the coin database directory under a wallet data dir.
func dbPath(dir string) string {
	return filepath.Join(dir, DBName)
}

// IsInitialized reports whether a keychain exists under the directory.
func IsInitialized(dir string) bool {
	info, err := os.Stat(dbPath(dir))
	return err == nil && info.IsDir()
}

// Init creates a new keychain under dir. The master secret is derived from
// seedHash; all coin keys derive deterministically from it. Fails with
// ErrAlreadyInitialized when a store already exists.
func Init(dir, password string, seedHash types.Hash) (*KeyChain, error) {
	if IsInitialized(dir) {
		return nil, ErrAlreadyInitialized
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create wallet dir: %w", err)
	}
	db, err := storage.NewBadger(dbPath(dir))
	if err != nil {
		return nil, err
	}
	kc, err := InitDB(db, password, seedHash)
	if err != nil {
		db.Close()
		return nil, err
	}
	return kc, nil
}

// InitDB initializes a keychain over an already-open database.
func InitDB(db storage.DB, password string, seedHash types.Hash) (*KeyChain, error) {
	if ok, err := db.Has(keyKEK); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialized
	}

	dataKey, err := encryption.GenerateKey()
	if err != nil {
		return nil, err
	}
	sealed, err := encryption.Encrypt(dataKey, []byte(password), encryption.DefaultParams())
	if err != nil {
		return nil, err
	}
	if err := db.Put(keyKEK, sealed); err != nil {
		return nil, fmt.Errorf("store key record: %w", err)
	}

	cipher, err := encryption.NewCipher(dataKey)
	if err != nil {
		return nil, err
	}
	master, err := bip32.NewMasterKey(seedHash[:])
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	kc := &KeyChain{db: db, cipher: cipher, master: master}

	if err := kc.putSealed(keyMaster, seedHash[:]); err != nil {
		return nil, err
	}
	if err := kc.putSeq(0); err != nil {
		return nil, err
	}
	if err := kc.SetSystemStateID(types.SystemStateID{}); err != nil {
		return nil, err
	}
	log.KeyChain.Info().Msg("keychain initialized")
	return kc, nil
}

// Open opens an existing keychain. Fails with ErrWrongPassword when the
// password does not decrypt the key record.
func Open(dir, password string) (*KeyChain, error) {
	if !IsInitialized(dir) {
		return nil, ErrNotInitialized
	}
	db, err := storage.NewBadger(dbPath(dir))
	if err != nil {
		return nil, err
	}
	kc, err := OpenDB(db, password)
	if err != nil {
		db.Close()
		return nil, err
	}
	return kc, nil
}

// OpenDB opens a keychain over an already-open database.
func OpenDB(db storage.DB, password string) (*KeyChain, error) {
	sealed, err := db.Get(keyKEK)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}
	dataKey, err := encryption.Decrypt(sealed, []byte(password))
	if err != nil {
		return nil, ErrWrongPassword
	}
	cipher, err := encryption.NewCipher(dataKey)
	if err != nil {
		return nil, err
	}
	kc := &KeyChain{db: db, cipher: cipher}

	seedHash, err := kc.getSealed(keyMaster)
	if err != nil {
		return nil, fmt.Errorf("load master secret: %w", err)
	}
	master, err := bip32.NewMasterKey(seedHash)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	kc.master = master
	return kc, nil
}

// ChangePassword re-encrypts the data key under a new password. The data
// records are untouched, so the operation is a single atomic Put: either
// the new record lands or the old one stays valid.
func (kc *KeyChain) ChangePassword(newPassword string) error {
	sealed, err := encryption.Encrypt(kc.cipher.Key(), []byte(newPassword), encryption.DefaultParams())
	if err != nil {
		return err
	}
	if err := kc.db.Put(keyKEK, sealed); err != nil {
		return fmt.Errorf("store key record: %w", err)
	}
	log.KeyChain.Info().Msg("password changed")
	return nil
}

// Close closes the underlying database and clears key material.
func (kc *KeyChain) Close() error {
	kc.cipher.Zero()
	return kc.db.Close()
}

// coinKey builds a storage key for a coin id: "c/" + id(8, big-endian).
// Big-endian ids make Badger iterate coins in id order.
func coinKey(id uint64) []byte {
	key := make([]byte, len(prefixCoin)+8)
	copy(key, prefixCoin)
	binary.BigEndian.PutUint64(key[len(prefixCoin):], id)
	return key
}

// Store persists a coin, assigning the next id unless the caller supplied
// a non-zero one. Returns the coin's id.
func (kc *KeyChain) Store(c *Coin) (uint64, error) {
	if c.ID == 0 {
		seq, err := kc.getSeq()
		if err != nil {
			return 0, err
		}
		seq++
		if err := kc.putSeq(seq); err != nil {
			return 0, err
		}
		c.ID = seq
	}
	if err := kc.putCoin(c); err != nil {
		return 0, err
	}
	return c.ID, nil
}

// Update overwrites existing coins by id. Missing ids fail with ErrNotFound.
func (kc *KeyChain) Update(coins []Coin) error {
	for i := range coins {
		c := &coins[i]
		ok, err := kc.db.Has(coinKey(c.ID))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("coin %d: %w", c.ID, ErrNotFound)
		}
		if err := kc.putCoin(c); err != nil {
			return err
		}
	}
	return nil
}

// Delete discards a coin that never confirmed: a pending transfer output
// whose negotiation failed. Confirmed coins follow the status lifecycle
// and are never deleted.
func (kc *KeyChain) Delete(id uint64) error {
	return kc.db.Delete(coinKey(id))
}

// Visit iterates all coins in id order. The callback may return false to
// stop. The store must not be mutated during traversal.
func (kc *KeyChain) Visit(fn func(*Coin) bool) error {
	return kc.db.ForEach(prefixCoin, func(_, value []byte) error {
		plain, err := kc.cipher.Open(value)
		if err != nil {
			return fmt.Errorf("unseal coin: %w", err)
		}
		var c Coin
		if err := json.Unmarshal(plain, &c); err != nil {
			return fmt.Errorf("decode coin: %w", err)
		}
		if !fn(&c) {
			return storage.ErrStop
		}
		return nil
	})
}

// CalcKey derives the coin's secret scalar from the master key via BIP-32
// child derivation. Regular coins key off their id; coinbase and
// commission coins key off (create_height, key_type) because the node
// announces them before the store assigns an id, and their key must not
// change once the coin is stored.
func (kc *KeyChain) CalcKey(c *Coin) (*crypto.Scalar, error) {
	var seed [17]byte
	if c.KeyType == Regular {
		binary.BigEndian.PutUint64(seed[:8], c.ID)
	} else {
		binary.BigEndian.PutUint64(seed[8:16], c.CreateHeight)
	}
	seed[16] = byte(c.KeyType)
	digest := crypto.Hash(seed[:])

	// Two non-hardened 31-bit child indexes drawn from the digest.
	hi := binary.BigEndian.Uint32(digest[0:4]) & 0x7fffffff
	lo := binary.BigEndian.Uint32(digest[4:8]) & 0x7fffffff
	child, err := kc.master.NewChildKey(hi)
	if err != nil {
		return nil, fmt.Errorf("derive coin key: %w", err)
	}
	child, err = child.NewChildKey(lo)
	if err != nil {
		return nil, fmt.Errorf("derive coin key: %w", err)
	}
	return crypto.ScalarFromBytes(child.Key)
}

// SystemStateID returns the persisted chain cursor, zero before first sync.
func (kc *KeyChain) SystemStateID() (types.SystemStateID, error) {
	plain, err := kc.getSealed(keyState)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.SystemStateID{}, nil
		}
		return types.SystemStateID{}, err
	}
	var id types.SystemStateID
	if err := json.Unmarshal(plain, &id); err != nil {
		return types.SystemStateID{}, fmt.Errorf("decode state: %w", err)
	}
	return id, nil
}

// SetSystemStateID persists the chain cursor.
func (kc *KeyChain) SetSystemStateID(id types.SystemStateID) error {
	plain, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return kc.putSealed(keyState, plain)
}

// CurrentHeight returns the height component of the cursor.
func (kc *KeyChain) CurrentHeight() types.Height {
	id, err := kc.SystemStateID()
	if err != nil {
		return 0
	}
	return id.Height
}

// SaveAddress persists an address-book entry keyed by wallet id.
func (kc *KeyChain) SaveAddress(addr *WalletAddress) error {
	plain, err := json.Marshal(addr)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	key := make([]byte, len(prefixAddr)+types.WalletIDSize)
	copy(key, prefixAddr)
	copy(key[len(prefixAddr):], addr.WalletID[:])
	return kc.putSealed(key, plain)
}

// Addresses returns all address-book entries.
func (kc *KeyChain) Addresses() ([]WalletAddress, error) {
	var out []WalletAddress
	err := kc.db.ForEach(prefixAddr, func(_, value []byte) error {
		plain, err := kc.cipher.Open(value)
		if err != nil {
			return fmt.Errorf("unseal address: %w", err)
		}
		var addr WalletAddress
		if err := json.Unmarshal(plain, &addr); err != nil {
			return fmt.Errorf("decode address: %w", err)
		}
		out = append(out, addr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (kc *KeyChain) putCoin(c *Coin) error {
	plain, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode coin: %w", err)
	}
	return kc.putSealed(coinKey(c.ID), plain)
}

func (kc *KeyChain) getSeq() (uint64, error) {
	plain, err := kc.getSealed(keySeq)
	if err != nil {
		return 0, err
	}
	if len(plain) != 8 {
		return 0, fmt.Errorf("corrupt sequence record")
	}
	return binary.BigEndian.Uint64(plain), nil
}

func (kc *KeyChain) putSeq(seq uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return kc.putSealed(keySeq, buf[:])
}

func (kc *KeyChain) putSealed(key, plain []byte) error {
	sealed, err := kc.cipher.Seal(plain)
	if err != nil {
		return err
	}
	return kc.db.Put(key, sealed)
}

func (kc *KeyChain) getSealed(key []byte) ([]byte, error) {
	sealed, err := kc.db.Get(key)
	if err != nil {
		return nil, err
	}
	return kc.cipher.Open(sealed)
}
