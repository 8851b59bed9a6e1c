package mls

import "testing"

// testProvider returns the default suite-1 provider, used throughout
// the test suite wherever a real CipherSuiteProvider is needed rather
// than a mock (the provider itself is out of scope per spec.md §1, but
// exercising the real HPKE/AEAD/KDF engine is the only way to check the
// tree/key-schedule/secret-tree algorithms that sit on top of it).
func testProvider(t *testing.T) CipherSuiteProvider {
	t.Helper()
	p, err := NewCipherSuiteProvider(CipherSuiteCurve25519Aes128)
	if err != nil {
		t.Fatalf("NewCipherSuiteProvider: %v", err)
	}
	return p
}

// testLeaf builds a minimal, self-consistent LeafNode carrying a fresh
// HPKE encryption key, for tests that only exercise RatchetTree
// structural operations (add/update/remove/resolution/tree hash) and
// do not need a signed, fully-validated leaf.
func testLeaf(t *testing.T, p CipherSuiteProvider, identity string) LeafNode {
	t.Helper()
	pub, _, err := p.KEMGenerate()
	if err != nil {
		t.Fatalf("KEMGenerate: %v", err)
	}
	sigPub, _, err := p.SignatureKeyGenerate()
	if err != nil {
		t.Fatalf("SignatureKeyGenerate: %v", err)
	}
	return LeafNode{
		EncryptionKey: pub,
		SigningIdentity: SigningIdentity{
			SignatureKey: sigPub,
			Credential:   Credential{CredentialType: CredentialTypeBasic, Identity: []byte(identity)},
		},
		Source: LeafNodeSource{Kind: LeafNodeSourceKeyPackage, Lifetime: Lifetime{NotBefore: 0, NotAfter: ^uint64(0)}},
	}
}
