package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	ks, err := NewKeyStore(3)
	require.NoError(t, err)
	signer := NewSigner(ks)
	verifier := NewVerifier(ks)

	signed, err := signer.Sign([]byte(`{"nodes":[]}`))
	require.NoError(t, err)

	assert.NoError(t, verifier.Verify(signed, 0))
}

func TestVerify_TamperedContentRejected(t *testing.T) {
	ks, err := NewKeyStore(3)
	require.NoError(t, err)
	signer := NewSigner(ks)
	verifier := NewVerifier(ks)

	signed, err := signer.Sign([]byte("original"))
	require.NoError(t, err)
	signed.Content = []byte("tampered")

	assert.Error(t, verifier.Verify(signed, 0))
}

func TestVerify_MaxAgeExceededRejected(t *testing.T) {
	ks, err := NewKeyStore(3)
	require.NoError(t, err)
	signer := NewSigner(ks)
	verifier := NewVerifier(ks)

	signed, err := signer.Sign([]byte("content"))
	require.NoError(t, err)
	signed.Signature.IssuedAt = time.Now().Add(-time.Hour)

	assert.Error(t, verifier.Verify(signed, time.Minute))
	assert.NoError(t, verifier.Verify(signed, 0), "zero max age means no freshness check")
}

func TestRotate_OldKeyStillVerifiesWithinGrace(t *testing.T) {
	ks, err := NewKeyStore(1)
	require.NoError(t, err)
	signer := NewSigner(ks)
	verifier := NewVerifier(ks)

	signed, err := signer.Sign([]byte("content"))
	require.NoError(t, err)

	_, err = ks.Rotate()
	require.NoError(t, err)

	assert.NoError(t, verifier.Verify(signed, 0), "a signature from the just-retired key must still verify within the grace window")
}

func TestRotate_KeyEvictedBeyondGraceSizeFailsVerification(t *testing.T) {
	ks, err := NewKeyStore(1)
	require.NoError(t, err)
	signer := NewSigner(ks)
	verifier := NewVerifier(ks)

	signed, err := signer.Sign([]byte("content"))
	require.NoError(t, err)

	_, err = ks.Rotate()
	require.NoError(t, err)
	_, err = ks.Rotate()
	require.NoError(t, err)

	assert.Error(t, verifier.Verify(signed, 0), "a key retired beyond graceSize must no longer verify")
}

func TestVerify_UnknownKeyRejected(t *testing.T) {
	ks1, err := NewKeyStore(3)
	require.NoError(t, err)
	ks2, err := NewKeyStore(3)
	require.NoError(t, err)

	signed, err := NewSigner(ks1).Sign([]byte("content"))
	require.NoError(t, err)

	assert.Error(t, NewVerifier(ks2).Verify(signed, 0))
}
