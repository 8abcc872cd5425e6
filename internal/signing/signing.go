// Package signing produces the digest, signature and size that the feed
// advertises for an archive, so update clients can verify what they
// download.
package signing

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"os"
)

// Feed attribute names for the signature, by key algorithm. These are
// part of the external update-check contract.
const (
	AttrEDSignature  = "sparkle:edSignature"
	AttrDSASignature = "sparkle:dsaSignature"
)

// Signature is the base64-encoded artifact signature together with the
// feed attribute it must be published under.
type Signature struct {
	Value string
	Attr  string
}

// SignAndMeasure computes a SHA-256 digest of the archive, signs the
// digest with the PEM-encoded private key, and stats the archive for its
// exact byte size.
//
// Ed25519 (PKCS#8) keys are the expected format; RSA (PKCS#1 or PKCS#8)
// keys are accepted for feeds that still publish the legacy attribute.
// The parsed key exists only for the duration of this call.
func SignAndMeasure(archivePath string, keyPEM []byte) (Signature, int64, error) {
	digest, size, err := digestAndSize(archivePath)
	if err != nil {
		return Signature{}, 0, err
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return Signature{}, 0, fmt.Errorf("signing key is not valid PEM")
	}
	defer wipe(block.Bytes)

	sig, err := signDigest(block, digest)
	if err != nil {
		return Signature{}, 0, err
	}
	sig.Value = base64.StdEncoding.EncodeToString([]byte(sig.Value))
	return sig, size, nil
}

func signDigest(block *pem.Block, digest []byte) (Signature, error) {
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return Signature{}, fmt.Errorf("parse signing key: %w", err)
		}
		switch k := key.(type) {
		case ed25519.PrivateKey:
			return Signature{Value: string(ed25519.Sign(k, digest)), Attr: AttrEDSignature}, nil
		case *rsa.PrivateKey:
			return signRSA(k, digest)
		default:
			return Signature{}, fmt.Errorf("unsupported signing key type %T", key)
		}
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return Signature{}, fmt.Errorf("parse signing key: %w", err)
		}
		return signRSA(key, digest)
	default:
		return Signature{}, fmt.Errorf("unsupported signing key PEM type %q", block.Type)
	}
}

func signRSA(key *rsa.PrivateKey, digest []byte) (Signature, error) {
	raw, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest)
	if err != nil {
		return Signature{}, fmt.Errorf("sign digest: %w", err)
	}
	return Signature{Value: string(raw), Attr: AttrDSASignature}, nil
}

func digestAndSize(path string) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, 0, fmt.Errorf("digest archive: %w", err)
	}
	return h.Sum(nil), size, nil
}

// Wipe zeroes key material once the caller is done with it. Best effort
// only, but it keeps the decoded key from outliving the signing step.
func Wipe(b []byte) {
	wipe(b)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
