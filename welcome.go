package mls

// GroupSecrets is the plaintext a Welcome's per-joiner
// EncryptedGroupSecrets entry HPKE-decrypts to: the joiner_secret the
// rest of the key schedule is rooted at, plus (when the joiner's leaf
// sits under the committer's update path) the raw path secret it needs
// to derive the same tree-path secrets existing members reach via
// `decap`, plus the PSK ids the epoch's key schedule mixed in (spec.md
// §4.7).
type GroupSecrets struct {
	JoinerSecret []byte           `tls:"head=1"`
	PathSecret   []byte           `tls:"head=1,optional"`
	PSKs         []PreSharedKeyID `tls:"head=2"`
}

// EncryptedGroupSecrets names one joiner (by the reference of the
// KeyPackage they used to join) and carries their GroupSecrets
// HPKE-sealed to that KeyPackage's init key.
type EncryptedGroupSecrets struct {
	NewMember             []byte `tls:"head=1"`
	EncryptedGroupSecrets  HPKECiphertext
}

// Welcome carries everything a brand-new member needs to join a group
// at the epoch a commit just produced: one EncryptedGroupSecrets entry
// per added member, and a single GroupInfo encrypted once under
// welcome_secret (spec.md §4.7).
type Welcome struct {
	CipherSuite        CipherSuite
	Secrets            []EncryptedGroupSecrets `tls:"head=4"`
	EncryptedGroupInfo []byte                  `tls:"head=4"`
}

// GroupInfo is the (otherwise-confidential) snapshot of a group's
// public state as of the epoch a Welcome was built for: enough for a
// joiner to populate its own GroupContext and, optionally, its
// RatchetTree without an extra round trip.
type GroupInfo struct {
	GroupContext    GroupContext
	Extensions      ExtensionList
	ConfirmationTag []byte `tls:"head=1"`
	Signer          leafIndex
	Signature       []byte `tls:"head=2"`

	// RatchetTree is the optional out-of-band tree extension: when
	// absent, the joiner is expected to already have (or separately
	// fetch) the tree via the `ratchet_tree` GroupContext extension or
	// a caller-supplied side channel (spec.md §4.7).
	RatchetTree []byte `tls:"head=4,optional"`
}

func (gi GroupInfo) signatureInput() ([]byte, error) {
	unsigned := gi
	unsigned.Signature = nil
	return syntaxMarshal(unsigned)
}

// Sign computes and installs gi.Signature, authored by the group
// member at leaf gi.Signer.
func (gi *GroupInfo) Sign(p CipherSuiteProvider, priv SignaturePrivateKey) error {
	input, err := gi.signatureInput()
	if err != nil {
		return err
	}
	sig, err := p.Sign(priv, input)
	if err != nil {
		return err
	}
	gi.Signature = sig
	return nil
}

// VerifySignature checks gi.Signature against the signer's public key
// (obtained from the tree or an out-of-band source by the caller).
func (gi GroupInfo) VerifySignature(p CipherSuiteProvider, signerKey SignaturePublicKey) error {
	input, err := gi.signatureInput()
	if err != nil {
		return err
	}
	if !p.Verify(signerKey, input, gi.Signature) {
		return wrapErr(ClassValidation, ErrSignatureInvalid, "group info")
	}
	return nil
}
