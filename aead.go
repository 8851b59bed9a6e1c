package mls

import (
	"crypto/aes"
	"crypto/cipher"
)

// newAESGCMImpl wraps the standard library's AES-GCM. AES-GCM itself
// is not provided by any third-party package in the retrieval pack
// (golang.org/x/crypto ships ChaCha20-Poly1305 but relies on
// crypto/cipher for AES-GCM too); this is the one AEAD primitive this
// module takes directly from the standard library rather than a
// pack-sourced dependency.
func newAESGCMImpl(key []byte) (aeadCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
