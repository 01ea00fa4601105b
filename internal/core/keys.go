package core

import "github.com/google/uuid"

// UUIDKeys generates random (version 4) UUID image keys.
type UUIDKeys struct{}

// NewKey implements KeyGenerator.
func (UUIDKeys) NewKey() string {
	return uuid.NewString()
}
