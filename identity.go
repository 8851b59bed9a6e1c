package mls

import "time"

// SigningIdentity binds a public signature key to a credential. It is
// the unit an IdentityProvider validates and compares across Update
// proposals.
type SigningIdentity struct {
	SignatureKey []byte `tls:"head=2"`
	Credential   Credential
}

// CredentialType distinguishes the credential encodings a group may
// carry. Only Basic and X509 are defined by RFC 9420; custom types are
// opaque to the core and are validated entirely by the IdentityProvider.
type CredentialType uint16

const (
	CredentialTypeBasic CredentialType = 1
	CredentialTypeX509  CredentialType = 2
)

// Credential is treated as an opaque capability by the core: its
// internal structure is interpreted only by the configured
// IdentityProvider. Identity validation and credential parsing are
// explicitly out of scope (spec.md §1).
type Credential struct {
	CredentialType CredentialType
	Identity       []byte `tls:"head=2"`
}

// IdentityProvider is the external collaborator responsible for
// validating credentials and comparing identities across Update
// proposals (spec.md §6).
type IdentityProvider interface {
	// Validate checks that identity is well-formed and currently
	// trusted as of timestamp.
	Validate(identity SigningIdentity, timestamp time.Time) error

	// Identity extracts the opaque identity bytes a credential
	// resolves to, used to compare an Update proposal's new leaf
	// against the leaf it replaces.
	Identity(identity SigningIdentity) ([]byte, error)

	// ValidSuccessor reports whether newID may replace oldID in an
	// Update proposal for the same leaf.
	ValidSuccessor(oldID, newID SigningIdentity) (bool, error)
}

// BasicIdentityProvider implements IdentityProvider for the Basic
// credential type: identity equality is byte-equality of the raw
// identity field, with no external trust anchor. This is the simplest
// conforming provider and is suitable for tests and closed
// deployments; production deployments are expected to supply their own
// provider (e.g. backed by a PKI) per spec.md §1's collaborator model.
type BasicIdentityProvider struct{}

func (BasicIdentityProvider) Validate(identity SigningIdentity, _ time.Time) error {
	if identity.Credential.CredentialType != CredentialTypeBasic {
		return wrapErr(ClassIdentity, ErrIdentityRejected, "not a basic credential")
	}
	if len(identity.Credential.Identity) == 0 {
		return wrapErr(ClassIdentity, ErrIdentityRejected, "empty identity")
	}
	return nil
}

func (BasicIdentityProvider) Identity(identity SigningIdentity) ([]byte, error) {
	return identity.Credential.Identity, nil
}

func (BasicIdentityProvider) ValidSuccessor(oldID, newID SigningIdentity) (bool, error) {
	oldIdentity, err := BasicIdentityProvider{}.Identity(oldID)
	if err != nil {
		return false, err
	}
	newIdentity, err := BasicIdentityProvider{}.Identity(newID)
	if err != nil {
		return false, err
	}
	return string(oldIdentity) == string(newIdentity), nil
}
