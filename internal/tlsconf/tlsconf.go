// Package tlsconf derives TLS credentials for the TCP listener from the
// shared token.
//
// The private key is derived deterministically, so the daemon and every
// client produce the same key from the same token. The certificate itself is
// generated fresh on each start; clients verify the server's public key
// directly instead of a certificate chain.
//
// Same token: public keys match, the connection succeeds and is encrypted.
// Different token: public keys differ and the handshake fails.
// No certificate distribution and no CA.
//
// Key derivation:
//
//	HKDF-SHA256(ikm=token, info="clipstash-tls-v1") -> 64 bytes
//	-> reduced mod the curve order -> ECDSA P-256 private key
package tlsconf

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"google.golang.org/grpc/credentials"

	"go.klb.dev/clipstash/internal/crypto"
)

// DefaultPassphrase is used when no token is configured. The connection is
// still encrypted but anyone can derive the key.
const DefaultPassphrase = "clipstash"

// ServerName is the name in the certificate and the one clients ask for.
const ServerName = "clipstash"

// ErrKeyMismatch is returned by the client verifier when the server's key
// was derived from a different token.
var ErrKeyMismatch = errors.New("tlsconf: server public key does not match token")

// Passphrase returns token, or DefaultPassphrase when token is empty.
func Passphrase(token string) string {
	if token == "" {
		return DefaultPassphrase
	}
	return token
}

// ServerConfig returns the listener's TLS config. NextProtos lets ALPN
// negotiate h2 for gRPC and http/1.1 for plain HTTP clients on one port.
func ServerConfig(passphrase string) (*tls.Config, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}
	der, err := selfSignedCert(key)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: cert: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientConfig returns a TLS config that accepts only a server whose key was
// derived from passphrase.
func ClientConfig(passphrase string) (*tls.Config, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}
	expected, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: marshal pubkey: %w", err)
	}
	return &tls.Config{
		// The chain is not verified; VerifyPeerCertificate pins the key.
		InsecureSkipVerify: true, //nolint:gosec
		ServerName:         ServerName,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("tlsconf: server presented no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("tlsconf: parse server cert: %w", err)
			}
			pub, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
			if err != nil {
				return fmt.Errorf("tlsconf: marshal server pubkey: %w", err)
			}
			if !bytes.Equal(pub, expected) {
				return ErrKeyMismatch
			}
			return nil
		},
	}, nil
}

// ClientCredentials returns gRPC transport credentials for ClientConfig.
func ClientCredentials(passphrase string) (credentials.TransportCredentials, error) {
	cfg, err := ClientConfig(passphrase)
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(cfg), nil
}

// deriveKey derives a deterministic ECDSA P-256 private key from passphrase.
func deriveKey(passphrase string) (*ecdsa.PrivateKey, error) {
	buf, err := crypto.Derive(passphrase, crypto.PurposeTLS, 64)
	if err != nil {
		return nil, err
	}

	curve := elliptic.P256()
	n := curve.Params().N
	k := new(big.Int).SetBytes(buf)
	k.Mod(k, new(big.Int).Sub(n, big.NewInt(1)))
	k.Add(k, big.NewInt(1)) // k in [1, N-1]

	key := new(ecdsa.PrivateKey)
	key.PublicKey.Curve = curve
	key.D = k
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(k.Bytes())
	return key, nil
}

// selfSignedCert returns a DER certificate for key. Only its public key is
// checked by clients.
func selfSignedCert(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: ServerName},
		DNSNames:              []string{ServerName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(100 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	return x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
}
