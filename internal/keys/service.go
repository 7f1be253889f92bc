// Package keys derives one custody wallet per user from a single master
// mnemonic. The Service is constructed explicitly, initialized once with the
// secret, and zeroes its key material on Shutdown.
package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-custody/pkg/crypto"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

var (
	// ErrDerivationFailure means the master secret is absent or malformed.
	// The daemon must not serve traffic after it.
	ErrDerivationFailure = errors.New("master key derivation failed")
	// ErrChildDerivation means a per-user derivation failed. Deterministic,
	// so retrying does not help.
	ErrChildDerivation = errors.New("wallet derivation failed")
	// ErrNotReady is returned before Init and after Shutdown.
	ErrNotReady = errors.New("key service not ready")
	// ErrRevealDisabled is returned by RevealMnemonic when not allowed by config.
	ErrRevealDisabled = errors.New("mnemonic reveal disabled")
	// ErrInvalidUserID is returned for an empty user ID.
	ErrInvalidUserID = errors.New("invalid user id")
)

// Config configures a Service.
type Config struct {
	// Account is the BIP-44 account component (hardened).
	Account uint32
	// AllowReveal enables RevealMnemonic.
	AllowReveal bool
}

// Wallet is the public view of a derived wallet. It never carries private
// material.
type Wallet struct {
	UserID    string        `json:"userId"`
	Index     uint32        `json:"derivationIndex"`
	Path      string        `json:"derivationPath"`
	PublicKey string        `json:"publicKey"`
	Address   types.Address `json:"address"`
}

// Service derives custody wallets. Safe for concurrent use.
type Service struct {
	cfg Config

	mu       sync.RWMutex
	ready    bool
	mnemonic []byte
	seed     []byte
	base     *HDKey // m/44'/8888'/account'/0'
	house    Wallet
}

// New creates an uninitialized Service.
func New(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// Init derives the master key from the mnemonic. Any failure wraps
// ErrDerivationFailure.
func (s *Service) Init(mnemonic, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return fmt.Errorf("%w: already initialized", ErrDerivationFailure)
	}
	if mnemonic == "" {
		return fmt.Errorf("%w: no master mnemonic configured", ErrDerivationFailure)
	}

	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		zeroBytes(seed)
		return fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	basePath := s.basePath()
	base, err := master.DerivePath(basePath...)
	master.Zero()
	if err != nil {
		zeroBytes(seed)
		return fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}

	s.seed = seed
	s.mnemonic = []byte(mnemonic)
	s.base = base
	s.house = Wallet{
		Path:      FormatPath(basePath...),
		PublicKey: hex.EncodeToString(base.PublicKeyBytes()),
		Address:   base.Address(),
	}
	s.ready = true
	return nil
}

// Shutdown zeroes the seed, mnemonic and master key. The service cannot be
// reused afterwards.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	zeroBytes(s.seed)
	zeroBytes(s.mnemonic)
	s.base.Zero()
	s.seed, s.mnemonic, s.base = nil, nil, nil
	s.ready = false
}

// Ready reports whether Init succeeded and Shutdown has not been called.
func (s *Service) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Service) basePath() []uint32 {
	return []uint32{PurposeBIP44, CoinType, Hardened(s.cfg.Account), ChangeCustody}
}

// DeriveWallet returns the public view of the user's wallet.
func (s *Service) DeriveWallet(userID string) (Wallet, error) {
	key, idx, err := s.userKey(userID)
	if err != nil {
		return Wallet{}, err
	}
	defer key.Zero()

	return Wallet{
		UserID:    userID,
		Index:     idx,
		Path:      FormatPath(append(s.basePath(), Hardened(idx))...),
		PublicKey: hex.EncodeToString(key.PublicKeyBytes()),
		Address:   key.Address(),
	}, nil
}

// Signer returns the private key of the user's wallet. The caller must Zero
// it when done and must never log or return it.
func (s *Service) Signer(userID string) (*crypto.PrivateKey, error) {
	key, _, err := s.userKey(userID)
	if err != nil {
		return nil, err
	}
	defer key.Zero()
	signer, err := key.Signer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChildDerivation, err)
	}
	return signer, nil
}

// HouseWallet returns the house wallet, which receives withdrawals.
func (s *Service) HouseWallet() (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return Wallet{}, ErrNotReady
	}
	return s.house, nil
}

// HouseAddress returns the house wallet address.
func (s *Service) HouseAddress() (types.Address, error) {
	w, err := s.HouseWallet()
	return w.Address, err
}

// RevealMnemonic returns the master mnemonic. This is the only path that
// emits secret material; callers gate it on an admin role.
func (s *Service) RevealMnemonic() (string, error) {
	if !s.cfg.AllowReveal {
		return "", ErrRevealDisabled
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return "", ErrNotReady
	}
	return string(s.mnemonic), nil
}

func (s *Service) userKey(userID string) (*HDKey, uint32, error) {
	if userID == "" {
		return nil, 0, ErrInvalidUserID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return nil, 0, ErrNotReady
	}
	idx := DeriveIndex(userID)
	key, err := s.base.DeriveChild(Hardened(idx))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: index %d: %v", ErrChildDerivation, idx, err)
	}
	return key, idx, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
