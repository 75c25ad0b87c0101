// Package signing defines the module signing and verification contract
// (spec §4.E): RSA-2048/PKCS#1-v1.5 signatures over compiled rule content,
// with key-id addressed verification and rotation with a grace period.
package signing

import "time"

// Algorithm is the only signature algorithm the engine speaks.
const Algorithm = "RSA-SHA256"

// Signature is the metadata attached to a signed module.
type Signature struct {
	Value     []byte // raw RSA-PKCS1v15 signature bytes
	Algorithm string
	KeyID     string
	IssuedAt  time.Time
	ModuleHash string // hex(sha256(content))
}

// SignedModule is a compiled rule artifact plus its signature.
type SignedModule struct {
	Content   []byte
	Signature Signature
}

// KeyPair is one RSA-2048 key pair held by a KeyStore, identified by KeyID.
type KeyPair struct {
	KeyID      string
	PrivateKey any // *rsa.PrivateKey; typed any here to keep this package free of crypto/rsa
	PublicKey  any // *rsa.PublicKey
	CreatedAt  time.Time
}

// KeyStore holds the current signing key and a bounded history of prior
// keys that remain valid for verification during their grace period. It is
// copy-on-write: rotation produces a new snapshot, and in-flight
// verifications observe a consistent snapshot (spec §5).
type KeyStore interface {
	// Current returns the key pair used to sign new modules.
	Current() KeyPair
	// Lookup returns the key pair for keyID, including retired keys still
	// inside their grace period.
	Lookup(keyID string) (KeyPair, bool)
	// Rotate mints a new current key pair, retaining the previous keys up to
	// the configured grace period (default: 3 most recent).
	Rotate() (KeyPair, error)
}

// Signer produces SignedModule values from raw content.
type Signer interface {
	Sign(content []byte) (SignedModule, error)
}

// Verifier validates a SignedModule before it may enter the cache.
type Verifier interface {
	// Verify checks hash integrity, signature validity, and (optionally)
	// signature age against maxAge. maxAge <= 0 disables the freshness
	// check.
	Verify(m SignedModule, maxAge time.Duration) error
}
