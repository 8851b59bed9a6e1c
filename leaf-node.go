package mls

import "time"

// Capabilities advertises which protocol versions, cipher suites,
// extension types, proposal types and credential types a leaf
// understands. §4.2 step 7 requires that an Add's capabilities cover
// every extension/proposal type actually in use by the group.
type Capabilities struct {
	Versions        []ProtocolVersion `tls:"head=1"`
	CipherSuites    []CipherSuite     `tls:"head=1"`
	Extensions      []ExtensionType   `tls:"head=1"`
	Proposals       []ProposalType    `tls:"head=1"`
	CredentialTypes []CredentialType  `tls:"head=1"`
}

func (c Capabilities) supportsExtension(t ExtensionType) bool {
	for _, e := range c.Extensions {
		if e == t {
			return true
		}
	}
	return false
}

func (c Capabilities) supportsProposal(t ProposalType) bool {
	if t <= ProposalTypeGroupContextExtensions {
		// The seven standard proposal types are always supported;
		// only custom proposal types need an explicit capability.
		return true
	}
	for _, p := range c.Proposals {
		if p == t {
			return true
		}
	}
	return false
}

// Lifetime bounds the validity window of a KeyPackage-sourced leaf.
type Lifetime struct {
	NotBefore uint64
	NotAfter  uint64
}

func (l Lifetime) covers(t time.Time) bool {
	now := uint64(t.Unix())
	return l.NotBefore <= now && now <= l.NotAfter
}

// LeafNodeSourceKind tags why a leaf's node was (re)issued.
type LeafNodeSourceKind uint8

const (
	LeafNodeSourceKeyPackage LeafNodeSourceKind = 1
	LeafNodeSourceUpdate     LeafNodeSourceKind = 2
	LeafNodeSourceCommit     LeafNodeSourceKind = 3
)

// LeafNodeSource is a tagged union: a fresh KeyPackage carries a
// Lifetime, a Commit-sourced leaf carries the parent_hash it was
// issued against, and an Update-sourced leaf carries neither.
type LeafNodeSource struct {
	Kind       LeafNodeSourceKind
	Lifetime   Lifetime
	ParentHash []byte `tls:"head=1"`
}

func (s LeafNodeSource) MarshalTLS() ([]byte, error) {
	head, err := syntaxMarshal(s.Kind)
	if err != nil {
		return nil, err
	}
	var body []byte
	switch s.Kind {
	case LeafNodeSourceKeyPackage:
		body, err = syntaxMarshal(s.Lifetime)
	case LeafNodeSourceCommit:
		body, err = syntaxMarshal(struct {
			ParentHash []byte `tls:"head=1"`
		}{s.ParentHash})
	case LeafNodeSourceUpdate:
		body = nil
	default:
		return nil, wrapErr(ClassProtocol, ErrUnknownContent, "unknown leaf node source")
	}
	if err != nil {
		return nil, err
	}
	return append(head, body...), nil
}

func (s *LeafNodeSource) UnmarshalTLS(data []byte) (int, error) {
	var kind LeafNodeSourceKind
	n, err := syntaxUnmarshal(data, &kind)
	if err != nil {
		return 0, err
	}
	s.Kind = kind
	rest := data[n:]
	switch kind {
	case LeafNodeSourceKeyPackage:
		m, err := syntaxUnmarshal(rest, &s.Lifetime)
		if err != nil {
			return 0, err
		}
		return n + m, nil
	case LeafNodeSourceCommit:
		var body struct {
			ParentHash []byte `tls:"head=1"`
		}
		m, err := syntaxUnmarshal(rest, &body)
		if err != nil {
			return 0, err
		}
		s.ParentHash = body.ParentHash
		return n + m, nil
	case LeafNodeSourceUpdate:
		return n, nil
	default:
		return 0, wrapErr(ClassProtocol, ErrUnknownContent, "unknown leaf node source")
	}
}

// LeafNode is the tenant of a leaf slot in the ratchet tree (spec.md
// §3). Its signature binds it to the context implied by its
// LeafNodeSource: group_id+leaf_index for KeyPackage/Update sources,
// group_id+leaf_index+parent_hash for Commit sources.
type LeafNode struct {
	EncryptionKey   HPKEPublicKey `tls:"head=2"`
	SigningIdentity SigningIdentity
	Capabilities    Capabilities
	Source          LeafNodeSource
	Extensions      ExtensionList
	Signature       []byte `tls:"head=2"`
}

// signatureInput reproduces the byte string the leaf's signature
// covers: everything but the signature itself, plus the binding
// context (group id and leaf index) that is not otherwise present on
// a bare LeafNode.
func (l LeafNode) signatureInput(groupID []byte, index leafIndex) ([]byte, error) {
	unsigned := l
	unsigned.Signature = nil

	body, err := syntaxMarshal(unsigned)
	if err != nil {
		return nil, err
	}

	context, err := syntaxMarshal(struct {
		GroupID []byte `tls:"head=1"`
		Index   uint32
	}{groupID, uint32(index)})
	if err != nil {
		return nil, err
	}

	return append(context, body...), nil
}

// Sign computes and installs l.Signature.
func (l *LeafNode) Sign(p CipherSuiteProvider, priv SignaturePrivateKey, groupID []byte, index leafIndex) error {
	input, err := l.signatureInput(groupID, index)
	if err != nil {
		return err
	}
	sig, err := p.Sign(priv, input)
	if err != nil {
		return err
	}
	l.Signature = sig
	return nil
}

// VerifySignature checks l.Signature against its own signing identity.
func (l LeafNode) VerifySignature(p CipherSuiteProvider, groupID []byte, index leafIndex) error {
	input, err := l.signatureInput(groupID, index)
	if err != nil {
		return err
	}
	if !p.Verify(SignaturePublicKey(l.SigningIdentity.SignatureKey), input, l.Signature) {
		return wrapErr(ClassValidation, ErrSignatureInvalid, "leaf node")
	}
	return nil
}

// KeyPackage wraps a fresh LeafNode with the data needed to add it to
// a group: the suite/version it was generated for and an init key used
// once by the Welcome path to encrypt that joiner's GroupSecrets.
type KeyPackage struct {
	ProtocolVersion ProtocolVersion
	CipherSuite     CipherSuite
	InitKey         HPKEPublicKey `tls:"head=2"`
	LeafNode        LeafNode
	Extensions      ExtensionList
	Signature       []byte `tls:"head=2"`
}

func (kp KeyPackage) signatureInput() ([]byte, error) {
	unsigned := kp
	unsigned.Signature = nil
	return syntaxMarshal(unsigned)
}

// Sign computes and installs kp.Signature using the identity's key
// (the same key that signed the embedded LeafNode).
func (kp *KeyPackage) Sign(p CipherSuiteProvider, priv SignaturePrivateKey) error {
	input, err := kp.signatureInput()
	if err != nil {
		return err
	}
	sig, err := p.Sign(priv, input)
	if err != nil {
		return err
	}
	kp.Signature = sig
	return nil
}

// VerifySignature checks kp.Signature against the embedded leaf's
// signing identity.
func (kp KeyPackage) VerifySignature(p CipherSuiteProvider) error {
	input, err := kp.signatureInput()
	if err != nil {
		return err
	}
	if !p.Verify(SignaturePublicKey(kp.LeafNode.SigningIdentity.SignatureKey), input, kp.Signature) {
		return wrapErr(ClassValidation, ErrSignatureInvalid, "key package")
	}
	return nil
}

// Ref returns a hash reference naming this key package, used to match
// a Welcome's EncryptedGroupSecrets entries to the joiner's own
// key package (spec.md §4.7).
func (kp KeyPackage) Ref(p CipherSuiteProvider) ([]byte, error) {
	enc, err := syntaxMarshal(kp)
	if err != nil {
		return nil, err
	}
	digest := p.Hash(enc)
	return digest[:16], nil
}

// ValidateKeyPackage applies spec.md §4.2 step 7's checks
// independent of any particular commit: suite/version match, lifetime,
// signature, and identity validation. ProposalApplier calls it when
// validating an Add, and callers outside a group can call it directly
// (spec.md §4.8, mirroring mls-rs's validate_key_package).
func ValidateKeyPackage(p CipherSuiteProvider, id IdentityProvider, kp KeyPackage, groupSuite CipherSuite, groupVersion ProtocolVersion, now time.Time) error {
	if kp.CipherSuite != groupSuite {
		return wrapErr(ClassValidation, ErrKeyPackageCipherSuiteMismatch, "")
	}
	if kp.ProtocolVersion != groupVersion {
		return wrapErr(ClassValidation, ErrKeyPackageVersionMismatch, "")
	}
	if err := kp.VerifySignature(p); err != nil {
		return err
	}
	if kp.LeafNode.Source.Kind != LeafNodeSourceKeyPackage {
		return wrapErr(ClassValidation, ErrUnknownContent, "key package leaf must be KeyPackage-sourced")
	}
	if !kp.LeafNode.Source.Lifetime.covers(now) {
		return wrapErr(ClassValidation, ErrKeyPackageLifetimeInvalid, "")
	}
	if err := id.Validate(kp.LeafNode.SigningIdentity, now); err != nil {
		return wrapErr(ClassIdentity, ErrIdentityRejected, err.Error())
	}
	return nil
}
