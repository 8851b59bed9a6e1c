package mls

// EpochSecrets holds every secret RFC 9420 §8 derives from one epoch's
// epoch_secret: the tree of per-message ratchets (SecretTree) is
// rooted at EncryptionSecret, while the rest are used directly. This
// replaces the teacher's pre-RFC9420 keyScheduleEpoch (which exposed a
// single HandshakeSecret/ApplicationSecret pair) with the full labeled
// secret set the current wire format requires; the teacher's
// tree-derivation shape survives as secret-tree.go's treeSecrets.
type EpochSecrets struct {
	EpochSecret      []byte
	SenderDataSecret []byte
	EncryptionSecret []byte
	ExporterSecret   []byte
	ExternalSecret   []byte
	ConfirmationKey  []byte
	MembershipKey    []byte
	ResumptionPSK    []byte
	InitSecretNext   []byte
}

// PSKWithSecret pairs a PSK's identifying ID with the raw secret
// bytes a PreSharedKeyStorage lookup resolved it to.
type PSKWithSecret struct {
	ID     PreSharedKeyID
	Secret []byte
}

// JoinerSecret computes `KDF.Extract(init_secret, commit_secret)`
// (spec.md §4.4), the first step of the epoch transition: it is the
// value a Welcome recipient derives the rest of the schedule from,
// using only GroupSecrets and never the prior epoch's full state.
func JoinerSecret(p CipherSuiteProvider, initSecret, commitSecret []byte) []byte {
	return p.KDFExtract(initSecret, commitSecret)
}

// pskSecret combines zero or more PSKs into the single secret mixed
// into member_secret. With no PSKs it is the all-zero string of the
// suite's hash length, so the derivation is well-defined whether or
// not the epoch uses any PSK (spec.md §4.4 psk_secret).
func pskSecret(p CipherSuiteProvider, psks []PSKWithSecret) []byte {
	hashLen := p.Suite().Constants().HashSize
	secret := make([]byte, hashLen)

	for _, psk := range psks {
		extracted := p.KDFExtract(make([]byte, hashLen), psk.Secret)
		enc, err := syntaxMarshal(psk.ID)
		if err != nil {
			enc = nil
		}
		input := ExpandWithContext(p, extracted, "derived psk", enc, hashLen)
		secret = p.KDFExtract(secret, input)
	}

	return secret
}

// MemberSecret computes `KDF.Extract(joiner_secret, psk_secret)`
// (spec.md §4.4), folding any PSK proposals' resolved secrets in
// alongside the fresh commit entropy.
func MemberSecret(p CipherSuiteProvider, joinerSecret []byte, psks []PSKWithSecret) []byte {
	return p.KDFExtract(joinerSecret, pskSecret(p, psks))
}

// WelcomeSecret derives the secret a Welcome message's GroupInfo is
// encrypted under (spec.md §4.4, §4.7).
func WelcomeSecret(p CipherSuiteProvider, memberSecret []byte) []byte {
	return DeriveSecret(p, memberSecret, "welcome")
}

// WelcomeKeyAndNonce derives the AEAD key/nonce Welcome uses to
// encrypt its GroupInfo, from welcome_secret (spec.md §4.7).
func WelcomeKeyAndNonce(p CipherSuiteProvider, welcomeSecret []byte) (key, nonce []byte) {
	c := p.Suite().Constants()
	key = ExpandWithContext(p, welcomeSecret, "key", nil, c.KeySize)
	nonce = ExpandWithContext(p, welcomeSecret, "nonce", nil, c.NonceSize)
	return key, nonce
}

// NewEpochSecrets derives every labeled secret for the epoch whose
// GroupContext (already carrying the new tree_hash and
// confirmed_transcript_hash) is groupContext, rooted at memberSecret
// (spec.md §4.4).
func NewEpochSecrets(p CipherSuiteProvider, memberSecret, groupContext []byte) (*EpochSecrets, error) {
	epochSecret := ExpandWithContext(p, memberSecret, "epoch", groupContext, p.Suite().Constants().HashSize)

	return &EpochSecrets{
		EpochSecret:      epochSecret,
		SenderDataSecret: DeriveSecret(p, epochSecret, "sender data"),
		EncryptionSecret: DeriveSecret(p, epochSecret, "encryption"),
		ExporterSecret:   DeriveSecret(p, epochSecret, "exporter"),
		ExternalSecret:   DeriveSecret(p, epochSecret, "external"),
		ConfirmationKey:  DeriveSecret(p, epochSecret, "confirm"),
		MembershipKey:    DeriveSecret(p, epochSecret, "membership"),
		ResumptionPSK:    DeriveSecret(p, epochSecret, "resumption"),
		InitSecretNext:   DeriveSecret(p, epochSecret, "init"),
	}, nil
}

// Exporter implements the MLS-Exporter interface (spec.md §4.4): an
// application-defined label and context, expanded from
// exporter_secret into arbitrary-length keying material.
func Exporter(p CipherSuiteProvider, exporterSecret []byte, label string, context []byte, length int) []byte {
	sub := DeriveSecret(p, exporterSecret, label)
	return ExpandWithContext(p, sub, "exported", context, length)
}

// Zero clears every secret in place once the epoch they belong to has
// been superseded, so a later compromise of process memory cannot
// recover a past epoch's key material (spec.md §9 forward secrecy).
func (e *EpochSecrets) Zero() {
	zeroizeBytes(e.EpochSecret)
	zeroizeBytes(e.SenderDataSecret)
	zeroizeBytes(e.EncryptionSecret)
	zeroizeBytes(e.ExporterSecret)
	zeroizeBytes(e.ExternalSecret)
	zeroizeBytes(e.ConfirmationKey)
	zeroizeBytes(e.MembershipKey)
	zeroizeBytes(e.ResumptionPSK)
	zeroizeBytes(e.InitSecretNext)
}
