package certs

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func writePair(t *testing.T, notBefore, notAfter time.Time) (string, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "members.example.org"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		DNSNames:     []string{"members.example.org"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLoad_Valid(t *testing.T) {
	buf := captureLog(t)
	certFile, keyFile := writePair(t, now.Add(-time.Hour), now.Add(90*24*time.Hour))

	pair, err := load(certFile, keyFile, now)
	require.NoError(t, err)
	require.NotNil(t, pair.Leaf)
	assert.Equal(t, "members.example.org", pair.Leaf.Subject.CommonName)
	assert.Empty(t, buf.String())
}

func TestLoad_ExpiringSoonWarns(t *testing.T) {
	buf := captureLog(t)
	certFile, keyFile := writePair(t, now.Add(-time.Hour), now.Add(3*24*time.Hour))

	_, err := load(certFile, keyFile, now)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "TLS certificate expires soon")
}

func TestLoad_Expired(t *testing.T) {
	certFile, keyFile := writePair(t, now.Add(-48*time.Hour), now.Add(-time.Hour))

	_, err := load(certFile, keyFile, now)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestLoad_NotYetValid(t *testing.T) {
	certFile, keyFile := writePair(t, now.Add(time.Hour), now.Add(48*time.Hour))

	_, err := load(certFile, keyFile, now)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrExpired)
}

func TestLoad_MissingFiles(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.crt"), "none.key")
	assert.Error(t, err)
}
