// Package common defines the sentinel errors shared by the storage, service
// and HTTP layers. Callers should match them with errors.Is; lower layers wrap
// them with fmt.Errorf("%w: ...") to add context.
package common

import "errors"

var (
	// Input errors (client's fault).
	ErrValidation = errors.New("validation error")

	// Storage errors.
	ErrDuplicate = errors.New("already exists")
	ErrNotFound  = errors.New("not found")
	ErrStorage   = errors.New("storage error")

	// Credential and token errors.
	ErrAuth         = errors.New("invalid username or password")
	ErrExpiredToken = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")

	// QR pipeline errors.
	ErrCapacityExceeded = errors.New("content exceeds qr capacity")
	ErrDecodeTimeout    = errors.New("qr decode timed out")
)
