// Package types defines the records persisted by the credentials vault.
package types

import "time"

// Secret is one named vault entry. Value always holds gcm1 ciphertext.
type Secret struct {
	Name      string
	Value     []byte
	UpdatedAt time.Time
}
