// Package certs loads the TLS key pair served by the HTTP server.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ExpiryWarning is how close to expiry a certificate must be before Load
// starts warning about it.
const ExpiryWarning = 14 * 24 * time.Hour

var ErrExpired = errors.New("certificate has expired")

// Load reads certFile and keyFile, parses the leaf certificate and refuses
// one that is already expired.
func Load(certFile, keyFile string) (*tls.Certificate, error) {
	return load(certFile, keyFile, time.Now())
}

func load(certFile, keyFile string, now time.Time) (*tls.Certificate, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	if pair.Leaf == nil {
		leaf, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		pair.Leaf = leaf
	}
	if err := CheckExpiry(pair.Leaf, now); err != nil {
		return nil, err
	}
	return &pair, nil
}

// CheckExpiry fails for an expired or not yet valid certificate and logs a
// warning when it expires within ExpiryWarning.
func CheckExpiry(cert *x509.Certificate, now time.Time) error {
	if IsExpired(cert, now) {
		return fmt.Errorf("%w: %s expired %s", ErrExpired, cert.Subject.CommonName, cert.NotAfter.Format(time.RFC3339))
	}
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate %s is not valid before %s", cert.Subject.CommonName, cert.NotBefore.Format(time.RFC3339))
	}
	if left := cert.NotAfter.Sub(now); left < ExpiryWarning {
		log.Warn().
			Str("subject", cert.Subject.CommonName).
			Time("not_after", cert.NotAfter).
			Dur("remaining", left).
			Msg("TLS certificate expires soon")
	}
	return nil
}

func IsExpired(cert *x509.Certificate, now time.Time) bool {
	return !now.Before(cert.NotAfter)
}
