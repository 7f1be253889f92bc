// Package vault keeps the master mnemonic encrypted on disk. Plaintext only
// exists in memory between Unlock and the caller handing it to the key
// service.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Klingon-tech/klingnet-custody/internal/keys"
	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
)

const fileVersion = 1

var (
	ErrExists   = errors.New("vault already exists")
	ErrNotFound = errors.New("vault not found")
)

type vaultFile struct {
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	HouseAddress string    `json:"house_address,omitempty"`
	Sealed       []byte    `json:"sealed_mnemonic"`
}

// Info is the non-secret metadata of a vault.
type Info struct {
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	HouseAddress string    `json:"houseAddress,omitempty"`
}

// Vault manages sealed mnemonic files in a directory.
type Vault struct {
	dir string
}

// New returns a Vault rooted at dir, creating it with 0700 if needed.
func New(dir string) (*Vault, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	return &Vault{dir: dir}, nil
}

func (v *Vault) path(name string) string {
	return filepath.Join(v.dir, name+".vault")
}

// Exists reports whether a vault with this name exists.
func (v *Vault) Exists(name string) bool {
	_, err := os.Stat(v.path(name))
	return err == nil
}

// Create seals mnemonic under password. houseAddress is stored in the clear
// so operators can identify the vault without unlocking it.
func (v *Vault) Create(name, mnemonic string, password []byte, params Params, houseAddress string) error {
	if !keys.ValidateMnemonic(mnemonic) {
		return fmt.Errorf("invalid mnemonic")
	}
	if len(password) == 0 {
		return fmt.Errorf("empty password")
	}
	if v.Exists(name) {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}

	plain := []byte(mnemonic)
	defer wipe(plain)
	sealed, err := Seal(plain, password, params)
	if err != nil {
		return fmt.Errorf("seal mnemonic: %w", err)
	}

	vf := vaultFile{
		Version:      fileVersion,
		CreatedAt:    time.Now().UTC(),
		HouseAddress: houseAddress,
		Sealed:       sealed,
	}
	if err := v.write(name, &vf); err != nil {
		return err
	}
	klog.Vault.Info().Str("name", name).Str("house", houseAddress).Msg("Vault created")
	return nil
}

// Unlock decrypts and returns the mnemonic.
func (v *Vault) Unlock(name string, password []byte) (string, error) {
	vf, err := v.read(name)
	if err != nil {
		return "", err
	}
	plain, err := Open(vf.Sealed, password)
	if err != nil {
		return "", err
	}
	defer wipe(plain)
	return string(plain), nil
}

// Info returns the vault's non-secret metadata.
func (v *Vault) Info(name string) (Info, error) {
	vf, err := v.read(name)
	if err != nil {
		return Info{}, err
	}
	return Info{Name: name, CreatedAt: vf.CreatedAt, HouseAddress: vf.HouseAddress}, nil
}

// Rekey re-seals the vault under a new password.
func (v *Vault) Rekey(name string, oldPassword, newPassword []byte, params Params) error {
	vf, err := v.read(name)
	if err != nil {
		return err
	}
	plain, err := Open(vf.Sealed, oldPassword)
	if err != nil {
		return err
	}
	defer wipe(plain)

	sealed, err := Seal(plain, newPassword, params)
	if err != nil {
		return fmt.Errorf("seal mnemonic: %w", err)
	}
	vf.Sealed = sealed
	return v.write(name, vf)
}

// write replaces the file atomically via a temp file and rename.
func (v *Vault) write(name string, vf *vaultFile) error {
	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal vault: %w", err)
	}
	tmp := v.path(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	if err := os.Rename(tmp, v.path(name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write vault: %w", err)
	}
	return nil
}

func (v *Vault) read(name string) (*vaultFile, error) {
	data, err := os.ReadFile(v.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, fmt.Errorf("parse vault: %w", err)
	}
	if vf.Version != fileVersion {
		return nil, fmt.Errorf("unsupported vault version %d", vf.Version)
	}
	return &vf, nil
}
