// Package crypto implements signing.KeyStore, signing.Signer, and
// signing.Verifier using RSA-2048/PKCS#1-v1.5 over SHA-256, grounded on the
// teacher's use of the standard crypto packages for primitives (see
// internal/domain/runtime/apikey.go's crypto/rand+crypto/sha256 pattern,
// generalized here to asymmetric signing per spec §4.E).
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelgate/ruleengine/internal/domain/signing"
	"github.com/sentinelgate/ruleengine/internal/errs"
)

const keyBits = 2048

// KeyStore is a copy-on-write, mutex-protected signing.KeyStore. Rotation
// replaces the whole snapshot so in-flight verifications observe a
// consistent view (spec §5).
type KeyStore struct {
	mu        sync.RWMutex
	current   signing.KeyPair
	history   []signing.KeyPair // most recent first, bounded by graceSize
	graceSize int
}

// NewKeyStore generates an initial key pair and returns a KeyStore retaining
// up to graceSize retired keys (spec §4.E default: 3).
func NewKeyStore(graceSize int) (*KeyStore, error) {
	if graceSize <= 0 {
		graceSize = 3
	}
	ks := &KeyStore{graceSize: graceSize}
	kp, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	ks.current = kp
	return ks, nil
}

func generateKeyPair() (signing.KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return signing.KeyPair{}, errs.Wrap(errs.KindInternalError, err, "generating RSA key pair")
	}
	return signing.KeyPair{
		KeyID:      uuid.NewString(),
		PrivateKey: priv,
		PublicKey:  &priv.PublicKey,
		CreatedAt:  time.Now(),
	}, nil
}

// Current returns the active signing key.
func (ks *KeyStore) Current() signing.KeyPair {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.current
}

// Lookup finds keyID among the current key and the retained history.
func (ks *KeyStore) Lookup(keyID string) (signing.KeyPair, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.current.KeyID == keyID {
		return ks.current, true
	}
	for _, kp := range ks.history {
		if kp.KeyID == keyID {
			return kp, true
		}
	}
	return signing.KeyPair{}, false
}

// Rotate mints a new current key, retiring the prior current into history
// and trimming history to graceSize.
func (ks *KeyStore) Rotate() (signing.KeyPair, error) {
	kp, err := generateKeyPair()
	if err != nil {
		return signing.KeyPair{}, err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()

	retired := ks.current
	ks.current = kp
	history := make([]signing.KeyPair, 0, ks.graceSize)
	history = append(history, retired)
	history = append(history, ks.history...)
	if len(history) > ks.graceSize {
		history = history[:ks.graceSize]
	}
	ks.history = history
	return kp, nil
}

// Signer signs content with a KeyStore's current key.
type Signer struct {
	keys *KeyStore
}

// NewSigner builds a Signer backed by keys.
func NewSigner(keys *KeyStore) *Signer { return &Signer{keys: keys} }

// Sign hashes content and signs it with the current key (spec §4.E).
func (s *Signer) Sign(content []byte) (signing.SignedModule, error) {
	kp := s.keys.Current()
	priv, ok := kp.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return signing.SignedModule{}, errs.New(errs.KindInternalError, "current key pair has no private key")
	}

	hash := sha256.Sum256(content)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hash[:])
	if err != nil {
		return signing.SignedModule{}, errs.Wrap(errs.KindInternalError, err, "signing content")
	}

	return signing.SignedModule{
		Content: content,
		Signature: signing.Signature{
			Value:      sig,
			Algorithm:  signing.Algorithm,
			KeyID:      kp.KeyID,
			IssuedAt:   time.Now(),
			ModuleHash: hex.EncodeToString(hash[:]),
		},
	}, nil
}

// Verifier checks a SignedModule's hash, signature, and optional freshness
// against a KeyStore (spec §4.E consumer side).
type Verifier struct {
	keys *KeyStore
}

// NewVerifier builds a Verifier backed by keys.
func NewVerifier(keys *KeyStore) *Verifier { return &Verifier{keys: keys} }

// Verify implements signing.Verifier.
func (v *Verifier) Verify(m signing.SignedModule, maxAge time.Duration) error {
	kp, ok := v.keys.Lookup(m.Signature.KeyID)
	if !ok {
		return errs.New(errs.KindSignatureInvalid, "unknown signing key %q", m.Signature.KeyID)
	}
	pub, ok := kp.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errs.New(errs.KindInternalError, "key %q has no public key", m.Signature.KeyID)
	}

	hash := sha256.Sum256(m.Content)
	if hex.EncodeToString(hash[:]) != m.Signature.ModuleHash {
		return errs.New(errs.KindSignatureInvalid, "module hash mismatch: tampered content")
	}

	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash[:], m.Signature.Value); err != nil {
		return errs.Wrap(errs.KindSignatureInvalid, err, "signature does not match content")
	}

	if maxAge > 0 && time.Since(m.Signature.IssuedAt) > maxAge {
		return errs.New(errs.KindSignatureInvalid, "signature issued at %s exceeds max age %s", m.Signature.IssuedAt, maxAge)
	}

	return nil
}

var _ signing.KeyStore = (*KeyStore)(nil)
var _ signing.Signer = (*Signer)(nil)
var _ signing.Verifier = (*Verifier)(nil)
