package keyring

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyStore holds the vault master key.
type KeyStore interface {
	SetKey() ([]byte, error)
	GetKey() ([]byte, error)
	DeleteKey() error
}

type Keyring struct {
	AppName  string
	KeyField string
}

var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
	randRead      = rand.Read
)

func NewKeyring() *Keyring {
	return &Keyring{
		AppName:  "edupoll",
		KeyField: "master",
	}
}

func (k *Keyring) SetKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := randRead(key); err != nil {
		return nil, err
	}
	keyString := hex.EncodeToString(key)
	err := keyringSet(k.AppName, k.KeyField, keyString)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (k *Keyring) GetKey() ([]byte, error) {
	keyString, err := keyringGet(k.AppName, k.KeyField)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(keyString)
	if err != nil {
		return nil, fmt.Errorf("invalid key format: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: expected 32, got %d", len(key))
	}
	return key, nil
}

func (k *Keyring) DeleteKey() error {
	return keyringDelete(k.AppName, k.KeyField)
}

// LoadOrCreate returns the key held by the first usable store, creating one
// when no store has it yet. The system keyring is normally first and the
// key file second; a store that fails to create is skipped.
func LoadOrCreate(stores ...KeyStore) ([]byte, error) {
	if len(stores) == 0 {
		return nil, errors.New("no key store configured")
	}
	for _, s := range stores {
		if key, err := s.GetKey(); err == nil {
			return key, nil
		}
	}
	var errs []error
	for _, s := range stores {
		key, err := s.SetKey()
		if err == nil {
			return key, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("create master key: %w", errors.Join(errs...))
}
