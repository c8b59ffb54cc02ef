package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const keystoreVersion = 1

// Keystore errors.
var (
	ErrKeystoreExists   = errors.New("keystore entry already exists")
	ErrKeystoreNotFound = errors.New("keystore entry not found")
)

// keystoreFile is the on-disk JSON form of an encrypted wallet seed.
type keystoreFile struct {
	Version       int       `json:"version"`
	Network       string    `json:"network"`
	CreatedAt     time.Time `json:"created_at"`
	EncryptedSeed []byte    `json:"encrypted_seed"`
}

// Keystore keeps one password-encrypted seed file per wallet.
type Keystore struct {
	path string
}

// NewKeystore opens the keystore directory, creating it if needed.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

func (ks *Keystore) seedPath(name string) string {
	return filepath.Join(ks.path, name+".seed")
}

// Exists reports whether a seed file exists for name.
func (ks *Keystore) Exists(name string) bool {
	_, err := os.Stat(ks.seedPath(name))
	return err == nil
}

// Create encrypts seed under password and writes it for name.
func (ks *Keystore) Create(name, network string, seed, password []byte, params EncryptionParams) error {
	if ks.Exists(name) {
		return fmt.Errorf("%w: %q", ErrKeystoreExists, name)
	}

	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return fmt.Errorf("encrypt seed: %w", err)
	}

	return ks.writeFile(ks.seedPath(name), &keystoreFile{
		Version:       keystoreVersion,
		Network:       network,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: encrypted,
	})
}

// Load decrypts and returns the seed stored for name.
func (ks *Keystore) Load(name string, password []byte) ([]byte, error) {
	kf, err := ks.readFile(ks.seedPath(name))
	if err != nil {
		return nil, err
	}
	seed, err := Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet %q: %w", name, err)
	}
	return seed, nil
}

// Network returns the network recorded when the seed was stored.
func (ks *Keystore) Network(name string) (string, error) {
	kf, err := ks.readFile(ks.seedPath(name))
	if err != nil {
		return "", err
	}
	return kf.Network, nil
}

// List returns the names of all stored seeds, sorted.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".seed" {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the seed file for name.
func (ks *Keystore) Delete(name string) error {
	if !ks.Exists(name) {
		return fmt.Errorf("%w: %q", ErrKeystoreNotFound, name)
	}
	return os.Remove(ks.seedPath(name))
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keystore: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(path string) (*keystoreFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeystoreNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	if kf.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %d", kf.Version)
	}
	return &kf, nil
}
