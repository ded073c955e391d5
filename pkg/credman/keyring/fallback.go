// Package keyring keeps the vault master key in the operating system's
// keyring, with a key file fallback for headless hosts.
package keyring

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	keyFileName = "vault.key"
	keyFileMode = 0600
)

// FileKeyStore provides file-based key storage as a fallback when the system
// keyring is unavailable. Keys are stored as hex-encoded strings with 0600 permissions.
type FileKeyStore struct {
	fs        afero.Fs
	configDir string
}

var fileRandRead = rand.Read

// NewFileKeyStore creates a FileKeyStore under configDir on fs. A nil fs
// means the host filesystem.
func NewFileKeyStore(fs afero.Fs, configDir string) *FileKeyStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileKeyStore{
		fs:        fs,
		configDir: configDir,
	}
}

func (f *FileKeyStore) keyPath() string {
	return filepath.Join(f.configDir, keyFileName)
}

// SetKey generates a new 32-byte key, writes it hex-encoded through a
// temporary file and rename, and returns the raw bytes.
func (f *FileKeyStore) SetKey() ([]byte, error) {
	if err := f.fs.MkdirAll(f.configDir, 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	key := make([]byte, 32)
	if _, err := fileRandRead(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	if err := WriteAtomic(f.fs, f.keyPath(), []byte(hex.EncodeToString(key)), keyFileMode); err != nil {
		return nil, err
	}
	return key, nil
}

// GetKey reads and decodes the key file. The error wraps os.ErrNotExist
// when no key has been written yet.
func (f *FileKeyStore) GetKey() ([]byte, error) {
	data, err := afero.ReadFile(f.fs, f.keyPath())
	if err != nil {
		return nil, err
	}

	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid key format: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: expected 32, got %d", len(key))
	}

	return key, nil
}

// DeleteKey removes the key file.
func (f *FileKeyStore) DeleteKey() error {
	return f.fs.Remove(f.keyPath())
}

// WriteAtomic replaces path with data so readers never observe a partial
// file.
func WriteAtomic(fs afero.Fs, path string, data []byte, mode os.FileMode) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := afero.TempFile(fs, dir, "."+base+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", base, err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fs.Chmod(tmpPath, mode); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", base, err)
	}
	return nil
}
