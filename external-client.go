package mls

import "crypto/rand"

// Well-known GroupContext/GroupInfo extension types (RFC 9420 §17.1).
// Only the ones core operations actually read or write live here; a
// caller wiring in more extension-backed features adds their own
// ExtensionType constants alongside these.
const (
	ExtensionTypeRatchetTree ExtensionType = 2
	ExtensionTypeExternalPub ExtensionType = 3
)

// ExternalClient is a passive observer of a group's PublicMessage
// stream: it never holds a leaf or init_secret, so it can verify a
// MembershipTag, but it can never decrypt a PrivateMessage (spec.md
// §4.8's external-commit-only actor). It keeps no ratchet tree, group
// context or transcript hash of its own: the membership tag check is
// the only check it makes, and it does not check that successive
// commits continue the transcript. Its one active capability is proposing itself as a new
// member via an external commit, using the group's published
// external_pub.
type ExternalClient struct {
	Provider CipherSuiteProvider
	Identity IdentityProvider
}

func NewExternalClient(provider CipherSuiteProvider, identity IdentityProvider) *ExternalClient {
	return &ExternalClient{Provider: provider, Identity: identity}
}

// ExternalPub derives the group's current external_pub/external_priv
// keypair from the epoch's external_secret (spec.md §4.4); members
// publish the public half via the GroupInfo ExternalPub extension so
// an ExternalClient can target it.
func ExternalPub(p CipherSuiteProvider, externalSecret []byte) (HPKEPublicKey, HPKEPrivateKey, error) {
	return p.HPKEDerive(externalSecret)
}

// BuildExternalInit seals a fresh random secret to the group's
// published external_pub, producing both the ExternalInitProposal to
// submit and the raw shared secret the client folds into its own view
// of commit_secret once its external commit lands.
func (c *ExternalClient) BuildExternalInit(externalPub HPKEPublicKey, groupContext []byte) (ExternalInitProposal, []byte, error) {
	secret := make([]byte, c.Provider.Suite().Constants().HashSize)
	if _, err := rand.Read(secret); err != nil {
		return ExternalInitProposal{}, nil, wrapErr(ClassCrypto, ErrHPKEFailed, "external init")
	}
	ct, err := c.Provider.HPKESeal(externalPub, groupContext, nil, secret)
	if err != nil {
		return ExternalInitProposal{}, nil, wrapErr(ClassCrypto, ErrHPKEFailed, "external init")
	}
	return ExternalInitProposal{Kem: ct}, dup(secret), nil
}

// OpenExternalInit is the committer side: given the epoch's
// external_priv (derived the same way via ExternalPub) and the
// proposal a prospective joiner submitted, recovers the same shared
// secret BuildExternalInit produced.
func OpenExternalInit(p CipherSuiteProvider, externalPriv HPKEPrivateKey, groupContext []byte, proposal ExternalInitProposal) ([]byte, error) {
	pt, err := p.HPKEOpen(externalPriv, groupContext, nil, proposal.Kem)
	if err != nil {
		return nil, wrapErr(ClassCrypto, ErrHPKEFailed, "external init")
	}
	return pt, nil
}

// ProcessPublicMessage authenticates a handshake PublicMessage against
// membershipKey without requiring tree state, the one thing an
// external observer with no leaf can still do (spec.md §4.8).
func (c *ExternalClient) ProcessPublicMessage(groupContext GroupContext, membershipKey []byte, msg PublicMessage) error {
	return VerifyMembershipTag(c.Provider, membershipKey, groupContext, msg)
}

// ProcessPrivateMessage always fails: an ExternalClient never derives
// encryption_secret, so it has no secret tree to ratchet.
func (c *ExternalClient) ProcessPrivateMessage(PrivateMessage) error {
	return wrapErr(ClassState, ErrNotEncryptedObserver, "")
}
