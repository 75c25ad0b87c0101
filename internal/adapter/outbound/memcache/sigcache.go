package memcache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// SignatureCache memoizes "module hash -> signature already verified"
// lookups so a rule that is re-inserted with identical content (e.g. a
// version bump that reverts to a prior payload, or a cloud refresh that
// re-fetches an unchanged module) does not pay for RSA verification twice.
// It is deliberately a second, independent cache from the Catalog's LRU:
// the Catalog evicts whole rule.Entry values under pinning rules, while this
// cache only ever holds a boolean and can be sized much larger at
// negligible cost. Grounded on the two-tier cache in the pack's alert
// history service, which reaches for hashicorp/golang-lru/v2 for exactly
// this kind of auxiliary, eviction-only-by-size memoization.
type SignatureCache struct {
	verified *lru.Cache[string, bool]
}

// NewSignatureCache builds a SignatureCache holding up to size module
// hashes. size <= 0 is treated as 1 (a single remembered hash).
func NewSignatureCache(size int) (*SignatureCache, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[string, bool](size)
	if err != nil {
		return nil, err
	}
	return &SignatureCache{verified: c}, nil
}

// Verified reports whether moduleHash was previously confirmed valid.
func (s *SignatureCache) Verified(moduleHash string) bool {
	ok, _ := s.verified.Get(moduleHash)
	return ok
}

// MarkVerified records that moduleHash passed verification.
func (s *SignatureCache) MarkVerified(moduleHash string) {
	s.verified.Add(moduleHash, true)
}

// Forget removes a hash, used when a key rotation invalidates prior trust
// assumptions (a module signed under a revoked key must re-verify).
func (s *SignatureCache) Forget(moduleHash string) {
	s.verified.Remove(moduleHash)
}
