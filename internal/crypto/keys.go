package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the length of the master key in bytes (64 hex chars).
const MasterKeySize = 32

// ErrInvalidKeyLength is returned when a key is not MasterKeySize bytes.
var ErrInvalidKeyLength = errors.New("invalid key length")

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// RandomToken returns a hex string carrying n random bytes.
func RandomToken(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ReadMasterKey decodes the master key from hexValue, falling back to the
// contents of file when hexValue is empty.
func ReadMasterKey(hexValue, file string) ([]byte, error) {
	h := strings.TrimSpace(hexValue)
	if h == "" {
		if file == "" {
			return nil, errors.New("MASTER_KEY_HEX not set and no master key file configured")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("MASTER_KEY_HEX not set and %s unreadable: %w", file, err)
		}
		h = strings.TrimSpace(string(data))
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("master key hex decode error: %w", err)
	}
	if len(b) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes (hex %d chars): %w", MasterKeySize, MasterKeySize*2, ErrInvalidKeyLength)
	}
	return b, nil
}

// GenerateMasterKey returns a fresh hex-encoded master key.
func GenerateMasterKey() (string, error) {
	return RandomToken(MasterKeySize)
}

// DeriveKey derives a 32-byte purpose-bound subkey from the master key with
// HKDF-SHA256, so one master key can protect several kinds of data.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) != MasterKeySize {
		return nil, ErrInvalidKeyLength
	}
	h := hkdf.New(sha256.New, master, nil, []byte("memberhub/"+purpose))
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}
