package mls

import (
	"crypto/hmac"
	"crypto/rand"
)

// randReadGuard fills buf with random bytes, used for the per-message
// reuse guard mixed into a PrivateMessage's AEAD nonce (spec.md §4.6).
func randReadGuard(buf []byte) error {
	_, err := rand.Read(buf)
	if err != nil {
		return wrapErr(ClassCrypto, ErrCryptoProviderFailed, err.Error())
	}
	return nil
}

// hmacEqual compares two MACs in constant time.
func hmacEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// dup returns a copy of b, used whenever a secret must be handed out
// without letting the caller alias (and zero) the original.
func dup(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
