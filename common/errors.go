package common

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Check them with errors.Is.
var (
	// ErrClosed is returned by mailboxes, broadcasts and stores after Close.
	ErrClosed = errors.New("closed")

	// Tunnel.
	ErrAlreadyConnected = errors.New("tunnel already active")
	ErrNotConnected     = errors.New("no active tunnel")
	ErrConnectionFailed = errors.New("connection failed")

	// VPN profile.
	ErrProfileNotFound = errors.New("vpn profile not found")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInvalidProfile  = errors.New("invalid profile data")

	// Secrets.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Application configuration.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")

	ErrPermissionDenied = errors.New("permission denied")
)

// WrapError prefixes err with message. It returns nil for a nil err.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
