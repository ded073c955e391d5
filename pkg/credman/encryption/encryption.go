// Package encryption seals vault values with AES-256-GCM.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const gcmPrefix = "gcm1"

// KeySize is the length of master keys and derived subkeys.
const KeySize = 32

var (
	// ErrNotSealed is returned for data that does not carry the gcm1 prefix.
	ErrNotSealed = errors.New("value is not gcm1 sealed")

	randReader io.Reader = rand.Reader
)

// DeriveKey expands master into a subkey bound to purpose, so one keyring
// entry can protect several independent stores.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.New("empty master key")
	}
	sub := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, nil, []byte("edupoll/"+purpose))
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return sub, nil
}

func EncryptValue(value string, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(value), nil)
	out := make([]byte, 0, len(gcmPrefix)+len(nonce)+len(ciphertext))
	out = append(out, gcmPrefix...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func DecryptValue(ciphertext []byte, key []byte) ([]byte, error) {
	if len(ciphertext) < len(gcmPrefix) || string(ciphertext[:len(gcmPrefix)]) != gcmPrefix {
		return nil, ErrNotSealed
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < len(gcmPrefix)+nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[len(gcmPrefix) : len(gcmPrefix)+nonceSize]
	data := ciphertext[len(gcmPrefix)+nonceSize:]
	return gcm.Open(nil, nonce, data, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
