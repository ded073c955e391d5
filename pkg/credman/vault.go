// Package credman stores the portal password and session token encrypted
// at rest, keyed by a master key from the system keyring.
package credman

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/edupoll/edupoll/pkg/credman/encryption"
	"github.com/edupoll/edupoll/pkg/credman/keyring"
	"github.com/edupoll/edupoll/pkg/credman/types"
)

const (
	// FileName is the vault file inside the vault directory.
	FileName = "vault.gob"

	SecretPassword     = "portal.password"
	SecretSessionToken = "portal.session_token"

	vaultPurpose = "vault"
	fileMode     = 0600
)

// ErrNotFound is returned for names the vault does not hold.
var ErrNotFound = errors.New("secret not found")

var timeNow = time.Now

// Vault is a gob file of encrypted secrets. It is safe for concurrent use.
type Vault struct {
	mu      sync.Mutex
	fs      afero.Fs
	path    string
	key     []byte
	secrets map[string]*types.Secret
}

// Open loads the vault at dir/vault.gob, deriving its key from master. A
// missing file is an empty vault.
func Open(fs afero.Fs, dir string, master []byte) (*Vault, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	key, err := encryption.DeriveKey(master, vaultPurpose)
	if err != nil {
		return nil, err
	}
	v := &Vault{
		fs:      fs,
		path:    filepath.Join(dir, FileName),
		key:     key,
		secrets: make(map[string]*types.Secret),
	}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

// OpenDefault opens the vault in dir with the master key from the system
// keyring, falling back to a key file next to the vault.
func OpenDefault(dir string) (*Vault, error) {
	fs := afero.NewOsFs()
	master, err := keyring.LoadOrCreate(keyring.NewKeyring(), keyring.NewFileKeyStore(fs, dir))
	if err != nil {
		return nil, err
	}
	return Open(fs, dir, master)
}

func (v *Vault) load() error {
	data, err := afero.ReadFile(v.fs, v.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read vault: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v.secrets); err != nil {
		return fmt.Errorf("decode vault: %w", err)
	}
	return nil
}

func (v *Vault) save() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v.secrets); err != nil {
		return err
	}
	if err := v.fs.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	return keyring.WriteAtomic(v.fs, v.path, buf.Bytes(), fileMode)
}

// Path returns the vault file location.
func (v *Vault) Path() string {
	return v.path
}

// Set encrypts and stores value under name.
func (v *Vault) Set(name, value string) error {
	if name == "" {
		return errors.New("empty secret name")
	}
	sealed, err := encryption.EncryptValue(value, v.key)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.secrets[name] = &types.Secret{Name: name, Value: sealed, UpdatedAt: timeNow()}
	return v.save()
}

// Get returns the plaintext stored under name.
func (v *Vault) Get(name string) (string, error) {
	v.mu.Lock()
	s, ok := v.secrets[name]
	v.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	plain, err := encryption.DecryptValue(s.Value, v.key)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", name, err)
	}
	return string(plain), nil
}

// Lookup is Get that treats a missing name as an empty value.
func (v *Vault) Lookup(name string) (string, bool, error) {
	value, err := v.Get(name)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Delete removes name from the vault.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.secrets[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(v.secrets, name)
	return v.save()
}

// Names lists the stored secret names in order.
func (v *Vault) Names() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, 0, len(v.secrets))
	for name := range v.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
