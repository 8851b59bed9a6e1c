package mls

// CipherSuite names the {KEM, AEAD, Hash, Signature} tuple a group runs
// under. It is immutable once a group is created: every epoch of a
// group uses the same suite.
type CipherSuite uint16

// The seven RFC 9420 default cipher suites. Custom suites above 7 are
// permitted if a CipherSuiteProvider recognizes them.
const (
	CipherSuiteCurve25519Aes128 CipherSuite = 1
	CipherSuiteP256Aes128       CipherSuite = 2
	CipherSuiteCurve25519Chacha CipherSuite = 3
	CipherSuiteCurve448Aes256   CipherSuite = 4
	CipherSuiteP521Aes256       CipherSuite = 5
	CipherSuiteCurve448Chacha   CipherSuite = 6
	CipherSuiteP384Aes256       CipherSuite = 7
)

// AllCipherSuites returns the seven RFC-defined suites in ascending ID
// order.
func AllCipherSuites() []CipherSuite {
	return []CipherSuite{
		CipherSuiteCurve25519Aes128,
		CipherSuiteP256Aes128,
		CipherSuiteCurve25519Chacha,
		CipherSuiteCurve448Aes256,
		CipherSuiteP521Aes256,
		CipherSuiteCurve448Chacha,
		CipherSuiteP384Aes256,
	}
}

// IsDefault reports whether cs is one of the seven RFC 9420 suites.
func (cs CipherSuite) IsDefault() bool {
	return cs >= 1 && cs <= 7
}

// RawValue returns the raw 16-bit wire identifier.
func (cs CipherSuite) RawValue() uint16 {
	return uint16(cs)
}

// SuiteConstants are the byte-length parameters a cipher suite fixes:
// Nh (hash/secret size), Nk (AEAD key size), Nn (AEAD nonce size), and
// Nsig (raw signature size, informational only).
type SuiteConstants struct {
	HashSize      int
	KeySize       int
	NonceSize     int
	SecretSize    int
	SignatureSize int
}

// Constants returns the byte-length parameters for cs. Custom suites
// must be resolved through a CipherSuiteProvider instead.
func (cs CipherSuite) Constants() SuiteConstants {
	switch cs {
	case CipherSuiteCurve25519Aes128, CipherSuiteP256Aes128, CipherSuiteCurve25519Chacha:
		return SuiteConstants{HashSize: 32, KeySize: 16, NonceSize: 12, SecretSize: 32, SignatureSize: 64}
	case CipherSuiteCurve448Aes256, CipherSuiteCurve448Chacha:
		return SuiteConstants{HashSize: 64, KeySize: 32, NonceSize: 12, SecretSize: 64, SignatureSize: 114}
	case CipherSuiteP521Aes256:
		return SuiteConstants{HashSize: 64, KeySize: 32, NonceSize: 12, SecretSize: 64, SignatureSize: 132}
	case CipherSuiteP384Aes256:
		return SuiteConstants{HashSize: 48, KeySize: 32, NonceSize: 12, SecretSize: 48, SignatureSize: 96}
	default:
		return SuiteConstants{}
	}
}

// String implements fmt.Stringer for log and error messages.
func (cs CipherSuite) String() string {
	switch cs {
	case CipherSuiteCurve25519Aes128:
		return "MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519"
	case CipherSuiteP256Aes128:
		return "MLS_128_DHKEMP256_AES128GCM_SHA256_P256"
	case CipherSuiteCurve25519Chacha:
		return "MLS_128_DHKEMX25519_CHACHA20POLY1305_SHA256_Ed25519"
	case CipherSuiteCurve448Aes256:
		return "MLS_256_DHKEMX448_AES256GCM_SHA512_Ed448"
	case CipherSuiteP521Aes256:
		return "MLS_256_DHKEMP521_AES256GCM_SHA512_P521"
	case CipherSuiteCurve448Chacha:
		return "MLS_256_DHKEMX448_CHACHA20POLY1305_SHA512_Ed448"
	case CipherSuiteP384Aes256:
		return "MLS_256_DHKEMP384_AES256GCM_SHA384_P384"
	default:
		return "unknown cipher suite"
	}
}
