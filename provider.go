package mls

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"git.schwanenlied.me/yawning/x448.git"
	"github.com/cisco/go-hpke"
	"github.com/cloudflare/circl/sign/ed448"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/hkdf"
)

// HPKECiphertext is the {kem_output, ciphertext} pair produced by an
// HPKE seal, wire-encoded as part of UpdatePath node secrets and
// Welcome's per-joiner GroupSecrets.
type HPKECiphertext struct {
	KEMOutput  []byte `tls:"head=2"`
	Ciphertext []byte `tls:"head=2"`
}

// HPKEPublicKey and HPKEPrivateKey are opaque, suite-specific encodings
// of a KEM keypair half.
type HPKEPublicKey []byte
type HPKEPrivateKey []byte

// SignaturePublicKey and SignaturePrivateKey are opaque, suite-specific
// encodings of a signature keypair half.
type SignaturePublicKey []byte
type SignaturePrivateKey []byte

// CipherSuiteProvider is the external collaborator that performs every
// cryptographic primitive the core needs: hash, MAC, KDF extract/
// expand, AEAD seal/open, HPKE seal/open/derive, sign/verify and KEM
// key generation (spec.md §6). The core never implements a primitive
// itself; it only sequences calls to this capability.
type CipherSuiteProvider interface {
	Suite() CipherSuite

	Hash(data []byte) []byte
	MAC(key, data []byte) []byte

	KDFExtract(salt, ikm []byte) []byte
	KDFExpand(secret []byte, label string, context []byte, length int) []byte

	AEADSeal(key, nonce, aad, plaintext []byte) ([]byte, error)
	AEADOpen(key, nonce, aad, ciphertext []byte) ([]byte, error)

	HPKESeal(pub HPKEPublicKey, info, aad, plaintext []byte) (HPKECiphertext, error)
	HPKEOpen(priv HPKEPrivateKey, info, aad []byte, ct HPKECiphertext) ([]byte, error)
	HPKEDerive(ikm []byte) (HPKEPublicKey, HPKEPrivateKey, error)
	KEMGenerate() (HPKEPublicKey, HPKEPrivateKey, error)

	Sign(priv SignaturePrivateKey, message []byte) ([]byte, error)
	Verify(pub SignaturePublicKey, message, signature []byte) bool
	SignatureKeyGenerate() (SignaturePublicKey, SignaturePrivateKey, error)
}

// DeriveSecret implements the RFC 9420 `DeriveSecret(Secret, Label)`
// operation: `Expand(Secret, "MLS 1.0 " + Label, Hash.length)` with an
// empty context; ExpandWithContext is the variant that binds a context.
func DeriveSecret(p CipherSuiteProvider, secret []byte, label string) []byte {
	return p.KDFExpand(secret, label, nil, p.Suite().Constants().HashSize)
}

// ExpandWithContext expands secret with label bound to an arbitrary
// context (typically a serialized GroupContext), as used for
// `epoch_secret` itself in §4.4.
func ExpandWithContext(p CipherSuiteProvider, secret []byte, label string, context []byte, length int) []byte {
	return p.KDFExpand(secret, label, context, length)
}

// NewCipherSuiteProvider returns the default provider for cs. Suites 1
// (Curve25519/AES128/SHA256/Ed25519) and 3 (Curve25519/ChaCha20/
// SHA256/Ed25519) are implemented with golang.org/x/crypto. Suites 4
// and 6 (Curve448/.../Ed448) use the x448 DH group and circl's Ed448
// signer. P-256/P-384/P-521 suites (2, 5, 7) are not implemented by
// this default provider; a caller targeting them must supply their own
// CipherSuiteProvider.
func NewCipherSuiteProvider(cs CipherSuite) (CipherSuiteProvider, error) {
	switch cs {
	case CipherSuiteCurve25519Aes128:
		return newHPKEProvider(cs, hpke.DHKEM_X25519, hpke.KDF_HKDF_SHA256, hpke.AEAD_AESGCM128, sha256.New)
	case CipherSuiteCurve25519Chacha:
		return newHPKEProvider(cs, hpke.DHKEM_X25519, hpke.KDF_HKDF_SHA256, hpke.AEAD_CHACHA20POLY1305, sha256.New)
	case CipherSuiteCurve448Aes256:
		return newHPKEProvider(cs, hpke.DHKEM_X448, hpke.KDF_HKDF_SHA512, hpke.AEAD_AESGCM256, sha512.New)
	case CipherSuiteCurve448Chacha:
		return newHPKEProvider(cs, hpke.DHKEM_X448, hpke.KDF_HKDF_SHA512, hpke.AEAD_CHACHA20POLY1305, sha512.New)
	default:
		return nil, wrapErr(ClassCrypto, ErrUnsupportedCipherSuite, cs.String())
	}
}

type hpkeProvider struct {
	suite     CipherSuite
	hpkeSuite hpke.CipherSuite
	newHash   func() hash.Hash
}

func newHPKEProvider(cs CipherSuite, kem hpke.KEMID, kdf hpke.KDFID, aead hpke.AEADID, newHash func() hash.Hash) (CipherSuiteProvider, error) {
	suite, err := hpke.AssembleCipherSuite(kem, kdf, aead)
	if err != nil {
		return nil, wrapErr(ClassCrypto, ErrUnsupportedCipherSuite, err.Error())
	}
	return &hpkeProvider{suite: cs, hpkeSuite: suite, newHash: newHash}, nil
}

func (p *hpkeProvider) Suite() CipherSuite { return p.suite }

func (p *hpkeProvider) Hash(data []byte) []byte {
	h := p.newHash()
	h.Write(data)
	return h.Sum(nil)
}

func (p *hpkeProvider) MAC(key, data []byte) []byte {
	h := hmac.New(p.newHash, key)
	h.Write(data)
	return h.Sum(nil)
}

func (p *hpkeProvider) KDFExtract(salt, ikm []byte) []byte {
	// RFC 5869 Extract, using the suite's hash as HKDF's HMAC engine.
	h := hmac.New(p.newHash, salt)
	h.Write(ikm)
	return h.Sum(nil)
}

func (p *hpkeProvider) KDFExpand(secret []byte, label string, context []byte, length int) []byte {
	info := append([]byte("MLS 1.0 "+label+" "), context...)
	r := hkdf.Expand(p.newHash, secret, info)
	out := make([]byte, length)
	if _, err := r.Read(out); err != nil {
		// HKDF's expand only fails when the requested length
		// exceeds 255*HashLen, which no MLS derivation approaches.
		panic(fmt.Sprintf("mls: hkdf expand: %v", err))
	}
	return out
}

func (p *hpkeProvider) AEADSeal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := p.newAEAD(key)
	if err != nil {
		return nil, wrapErr(ClassCrypto, ErrAEADSealFailed, err.Error())
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func (p *hpkeProvider) AEADOpen(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := p.newAEAD(key)
	if err != nil {
		return nil, wrapErr(ClassCrypto, ErrAEADOpenFailed, err.Error())
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, wrapErr(ClassCrypto, ErrAEADOpenFailed, err.Error())
	}
	return pt, nil
}

func (p *hpkeProvider) newAEAD(key []byte) (aeadCipher, error) {
	switch p.hpkeSuite.AEAD.ID() {
	case hpke.AEAD_CHACHA20POLY1305.ID():
		return chacha20poly1305.New(key)
	default:
		return newAESGCM(key)
	}
}

func (p *hpkeProvider) HPKESeal(pub HPKEPublicKey, info, aad, plaintext []byte) (HPKECiphertext, error) {
	enc, ct, err := p.hpkeSuite.Seal([]byte(pub), info, aad, plaintext)
	if err != nil {
		return HPKECiphertext{}, wrapErr(ClassCrypto, ErrHPKEFailed, err.Error())
	}
	return HPKECiphertext{KEMOutput: enc, Ciphertext: ct}, nil
}

func (p *hpkeProvider) HPKEOpen(priv HPKEPrivateKey, info, aad []byte, ct HPKECiphertext) ([]byte, error) {
	pt, err := p.hpkeSuite.Open([]byte(priv), ct.KEMOutput, info, aad, ct.Ciphertext)
	if err != nil {
		return nil, wrapErr(ClassCrypto, ErrHPKEFailed, err.Error())
	}
	return pt, nil
}

func (p *hpkeProvider) HPKEDerive(ikm []byte) (HPKEPublicKey, HPKEPrivateKey, error) {
	pub, priv, err := p.hpkeSuite.KEM.DeriveKeyPair(ikm)
	if err != nil {
		return nil, nil, wrapErr(ClassCrypto, ErrHPKEFailed, err.Error())
	}
	return HPKEPublicKey(pub), HPKEPrivateKey(priv), nil
}

func (p *hpkeProvider) KEMGenerate() (HPKEPublicKey, HPKEPrivateKey, error) {
	ikm := make([]byte, p.Suite().Constants().SecretSize)
	if _, err := rand.Read(ikm); err != nil {
		return nil, nil, wrapErr(ClassCrypto, ErrCryptoProviderFailed, err.Error())
	}
	return p.HPKEDerive(ikm)
}

func (p *hpkeProvider) Sign(priv SignaturePrivateKey, message []byte) ([]byte, error) {
	switch p.suite {
	case CipherSuiteCurve25519Aes128, CipherSuiteCurve25519Chacha:
		return ed25519.Sign(ed25519.PrivateKey(priv), message), nil
	case CipherSuiteCurve448Aes256, CipherSuiteCurve448Chacha:
		return ed448.Sign(ed448.PrivateKey(priv), message, ""), nil
	default:
		return nil, wrapErr(ClassCrypto, ErrUnsupportedCipherSuite, p.suite.String())
	}
}

func (p *hpkeProvider) Verify(pub SignaturePublicKey, message, signature []byte) bool {
	switch p.suite {
	case CipherSuiteCurve25519Aes128, CipherSuiteCurve25519Chacha:
		return ed25519.Verify(ed25519.PublicKey(pub), message, signature)
	case CipherSuiteCurve448Aes256, CipherSuiteCurve448Chacha:
		return ed448.Verify(ed448.PublicKey(pub), message, signature, "")
	default:
		return false
	}
}

func (p *hpkeProvider) SignatureKeyGenerate() (SignaturePublicKey, SignaturePrivateKey, error) {
	switch p.suite {
	case CipherSuiteCurve25519Aes128, CipherSuiteCurve25519Chacha:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, wrapErr(ClassCrypto, ErrCryptoProviderFailed, err.Error())
		}
		return SignaturePublicKey(pub), SignaturePrivateKey(priv), nil
	case CipherSuiteCurve448Aes256, CipherSuiteCurve448Chacha:
		pub, priv, err := ed448.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, wrapErr(ClassCrypto, ErrCryptoProviderFailed, err.Error())
		}
		return SignaturePublicKey(pub), SignaturePrivateKey(priv), nil
	default:
		return nil, nil, wrapErr(ClassCrypto, ErrUnsupportedCipherSuite, p.suite.String())
	}
}

// x448DH performs the raw X448 Diffie-Hellman scalar multiplication
// used to derive suite 4/6 KEM shared secrets when a provider needs to
// bypass go-hpke's own X448 KEM path (e.g. for test vector checks
// against a known scalar/point pair).
func x448DH(scalar, point [x448.Size]byte) ([x448.Size]byte, bool) {
	var out [x448.Size]byte
	ok := x448.ScalarMult(&out, &scalar, &point)
	return out, ok
}

// x25519DH is the equivalent helper for the default suite.
func x25519DH(scalar, point []byte) ([]byte, error) {
	return curve25519.X25519(scalar, point)
}

type aeadCipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

func newAESGCM(key []byte) (aeadCipher, error) {
	return newAESGCMImpl(key)
}
