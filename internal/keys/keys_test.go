package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingnet-custody/pkg/crypto"
)

// BIP-39 test vector: "abandon" x11 + "about" with passphrase "TREZOR".
const (
	testMnemonic   = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testPassphrase = "TREZOR"
)

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg)
	if err := s.Init(testMnemonic, testPassphrase); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestSeedFromMnemonic_Vector(t *testing.T) {
	seed, err := SeedFromMnemonic(testMnemonic, testPassphrase)
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	want := "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04"
	if got := hex.EncodeToString(seed); got != want {
		t.Errorf("seed = %s, want %s", got, want)
	}
}

func TestGenerateMnemonic(t *testing.T) {
	m1, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	if words := len(strings.Fields(m1)); words != 24 {
		t.Errorf("word count = %d, want 24", words)
	}
	if !ValidateMnemonic(m1) {
		t.Error("generated mnemonic does not validate")
	}
	m2, _ := GenerateMnemonic()
	if m1 == m2 {
		t.Error("two generated mnemonics are identical")
	}
}

func TestDeriveIndex_Frozen(t *testing.T) {
	// These values pin index derivation v1. If this test fails every
	// existing wallet would move.
	tests := map[string]uint32{
		"alice":   2073485382,
		"bob":     56760770,
		"user-42": 1466856772,
	}
	for id, want := range tests {
		if got := DeriveIndex(id); got != want {
			t.Errorf("DeriveIndex(%q) = %d, want %d", id, got, want)
		}
	}
	if IndexVersion != 1 {
		t.Errorf("IndexVersion = %d, want 1", IndexVersion)
	}
}

func TestDeriveIndex_CollisionBound(t *testing.T) {
	// 100k ids in a 31-bit space expect about 2.3 birthday collisions, so a
	// handful is normal; the ledger refuses to provision a colliding user.
	const n = 100_000
	seen := make(map[uint32]string, n)
	collisions := 0
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("user-%d", i)
		idx := DeriveIndex(id)
		if idx >= MaxIndex {
			t.Fatalf("DeriveIndex(%q) = %d, not below 2^31", id, idx)
		}
		if _, dup := seen[idx]; dup {
			collisions++
		}
		seen[idx] = id
	}
	if collisions > 5 {
		t.Errorf("collisions = %d over %d ids, want <= 5", collisions, n)
	}
}

func TestDeriveIndex_KnownCollision(t *testing.T) {
	if DeriveIndex("user-4922") != DeriveIndex("user-33165") {
		t.Fatal("expected user-4922 and user-33165 to share an index")
	}
}

func TestService_DeriveWallet_Vector(t *testing.T) {
	s := newTestService(t, Config{})

	w, err := s.DeriveWallet("alice")
	if err != nil {
		t.Fatalf("DeriveWallet() error: %v", err)
	}
	if w.Index != 2073485382 {
		t.Errorf("Index = %d, want 2073485382", w.Index)
	}
	if w.Path != "m/44'/8888'/0'/0'/2073485382'" {
		t.Errorf("Path = %s", w.Path)
	}
	if w.PublicKey != "031df205e9f24c09f8326f8ce24640b77e39f0e28d04dbacfe6650fa791f1d89d2" {
		t.Errorf("PublicKey = %s", w.PublicKey)
	}
	if w.Address.Hex() != "5a123833bba61aa3c6e3d00a891fd2a69e299ec4" {
		t.Errorf("Address = %s", w.Address.Hex())
	}

	house, err := s.HouseWallet()
	if err != nil {
		t.Fatalf("HouseWallet() error: %v", err)
	}
	if house.Path != "m/44'/8888'/0'/0'" {
		t.Errorf("house Path = %s", house.Path)
	}
	if house.PublicKey != "0322d6b58168b056d4a1180b83df652dde05d20f4281bade5f617812aafdd3e762" {
		t.Errorf("house PublicKey = %s", house.PublicKey)
	}
	if house.Address.Hex() != "e2b4817a1b97d6a70ce05025ed1fae5ddfeff4aa" {
		t.Errorf("house Address = %s", house.Address.Hex())
	}
}

func TestService_Deterministic(t *testing.T) {
	a := newTestService(t, Config{})
	b := newTestService(t, Config{})

	for _, id := range []string{"alice", "bob", "7f1c9a52-2b1e-4d0e-9b7c-1d2e3f4a5b6c"} {
		w1, err := a.DeriveWallet(id)
		if err != nil {
			t.Fatalf("DeriveWallet(%q) error: %v", id, err)
		}
		w2, err := a.DeriveWallet(id)
		if err != nil {
			t.Fatalf("DeriveWallet(%q) error: %v", id, err)
		}
		w3, err := b.DeriveWallet(id)
		if err != nil {
			t.Fatalf("DeriveWallet(%q) error: %v", id, err)
		}
		if w1 != w2 || w1 != w3 {
			t.Errorf("DeriveWallet(%q) not deterministic: %+v / %+v / %+v", id, w1, w2, w3)
		}
	}
}

func TestService_PassphraseChangesWallets(t *testing.T) {
	a := newTestService(t, Config{})
	b := New(Config{})
	if err := b.Init(testMnemonic, ""); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	defer b.Shutdown()

	wa, _ := a.DeriveWallet("alice")
	wb, _ := b.DeriveWallet("alice")
	if wa.PublicKey == wb.PublicKey {
		t.Error("different passphrases produced the same wallet")
	}
}

func TestService_AccountSeparatesWallets(t *testing.T) {
	a := newTestService(t, Config{Account: 0})
	b := newTestService(t, Config{Account: 1})
	wa, _ := a.DeriveWallet("alice")
	wb, _ := b.DeriveWallet("alice")
	if wa.Address == wb.Address {
		t.Error("different accounts produced the same address")
	}
	if !strings.HasPrefix(wb.Path, "m/44'/8888'/1'/0'/") {
		t.Errorf("Path = %s", wb.Path)
	}
}

func TestService_Signer(t *testing.T) {
	s := newTestService(t, Config{})

	w, err := s.DeriveWallet("alice")
	if err != nil {
		t.Fatalf("DeriveWallet() error: %v", err)
	}
	signer, err := s.Signer("alice")
	if err != nil {
		t.Fatalf("Signer() error: %v", err)
	}
	defer signer.Zero()

	if signer.Address() != w.Address {
		t.Errorf("signer address = %s, want %s", signer.Address(), w.Address)
	}
	digest := crypto.Hash([]byte("withdraw"))
	sig, err := signer.Sign(digest[:])
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	pub, _ := hex.DecodeString(w.PublicKey)
	if !crypto.VerifySignature(digest[:], sig, pub) {
		t.Error("signature does not verify against derived public key")
	}

	house, _ := s.HouseWallet()
	if house.Address == w.Address {
		t.Error("user wallet collides with house wallet")
	}
}

func TestService_InitFailures(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
	}{
		{"empty", ""},
		{"bad checksum", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon"},
		{"not words", "this is not a mnemonic at all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{})
			err := s.Init(tt.mnemonic, "")
			if !errors.Is(err, ErrDerivationFailure) {
				t.Fatalf("Init() error = %v, want ErrDerivationFailure", err)
			}
			if s.Ready() {
				t.Error("service ready after failed Init")
			}
			if _, err := s.DeriveWallet("alice"); !errors.Is(err, ErrNotReady) {
				t.Errorf("DeriveWallet() error = %v, want ErrNotReady", err)
			}
		})
	}
}

func TestService_DoubleInit(t *testing.T) {
	s := newTestService(t, Config{})
	if err := s.Init(testMnemonic, ""); !errors.Is(err, ErrDerivationFailure) {
		t.Errorf("second Init() error = %v, want ErrDerivationFailure", err)
	}
}

func TestService_Shutdown(t *testing.T) {
	s := New(Config{AllowReveal: true})
	if err := s.Init(testMnemonic, testPassphrase); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	seed := s.seed
	mnemonic := s.mnemonic
	s.Shutdown()

	if s.Ready() {
		t.Error("Ready() = true after Shutdown")
	}
	for i, b := range seed {
		if b != 0 {
			t.Fatalf("seed byte %d not zeroed", i)
		}
	}
	for i, b := range mnemonic {
		if b != 0 {
			t.Fatalf("mnemonic byte %d not zeroed", i)
		}
	}
	if _, err := s.DeriveWallet("alice"); !errors.Is(err, ErrNotReady) {
		t.Errorf("DeriveWallet() after Shutdown = %v, want ErrNotReady", err)
	}
	if _, err := s.Signer("alice"); !errors.Is(err, ErrNotReady) {
		t.Errorf("Signer() after Shutdown = %v, want ErrNotReady", err)
	}
	if _, err := s.RevealMnemonic(); !errors.Is(err, ErrNotReady) {
		t.Errorf("RevealMnemonic() after Shutdown = %v, want ErrNotReady", err)
	}
	s.Shutdown() // idempotent
}

func TestService_RevealMnemonic(t *testing.T) {
	locked := newTestService(t, Config{})
	if _, err := locked.RevealMnemonic(); !errors.Is(err, ErrRevealDisabled) {
		t.Errorf("RevealMnemonic() error = %v, want ErrRevealDisabled", err)
	}

	open := newTestService(t, Config{AllowReveal: true})
	got, err := open.RevealMnemonic()
	if err != nil {
		t.Fatalf("RevealMnemonic() error: %v", err)
	}
	if got != testMnemonic {
		t.Error("RevealMnemonic() returned a different mnemonic")
	}
}

func TestService_EmptyUserID(t *testing.T) {
	s := newTestService(t, Config{})
	if _, err := s.DeriveWallet(""); !errors.Is(err, ErrInvalidUserID) {
		t.Errorf("DeriveWallet(\"\") error = %v, want ErrInvalidUserID", err)
	}
}

func TestService_Concurrent(t *testing.T) {
	s := newTestService(t, Config{})
	want, err := s.DeriveWallet("alice")
	if err != nil {
		t.Fatalf("DeriveWallet() error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.DeriveWallet("alice")
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- fmt.Errorf("got %+v, want %+v", got, want)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestFormatPath(t *testing.T) {
	got := FormatPath(PurposeBIP44, CoinType, Hardened(0), 5)
	if got != "m/44'/8888'/0'/5" {
		t.Errorf("FormatPath() = %s", got)
	}
	if FormatPath() != "m" {
		t.Errorf("FormatPath() with no indices = %s", FormatPath())
	}
}

func TestHDKey_Zero(t *testing.T) {
	seed, err := SeedFromMnemonic(testMnemonic, testPassphrase)
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}
	if len(master.PrivateKeyBytes()) != 32 {
		t.Error("master key should carry a 32-byte private key")
	}

	master.Zero()
	for _, b := range master.PrivateKeyBytes() {
		if b != 0 {
			t.Fatal("Zero() left private key bytes")
		}
	}
	if _, err := NewMasterKey(make([]byte, 32)); err == nil {
		t.Error("NewMasterKey() should reject a 32-byte seed")
	}
}
