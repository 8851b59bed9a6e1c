package mls

// GroupContext is the authenticated, per-epoch public state every
// member must agree on bit-for-bit: it is both signed over (via
// FramedContent) and folded into the key schedule's epoch_secret
// derivation, so any divergence is caught by either a signature
// failure or an unusable key (spec.md §4 GroupContext).
type GroupContext struct {
	ProtocolVersion          ProtocolVersion
	CipherSuite              CipherSuite
	GroupID                  []byte `tls:"head=1"`
	Epoch                    uint64
	TreeHash                 []byte `tls:"head=1"`
	ConfirmedTranscriptHash  []byte `tls:"head=1"`
	Extensions               ExtensionList
}

// transcriptHashInput is the {wire format, content, signature} triple
// that NextConfirmedTranscriptHash folds in after the interim hash
// (spec.md §4 transcript hash chain). That function encodes the same
// fields inline rather than through this type, and
// NextInterimTranscriptHash hashes a different pair (confirmed hash
// and confirmation tag).
type transcriptHashInput struct {
	WireFormat WireFormat
	Content    FramedContent
	Signature  []byte `tls:"head=2"`
}

// NextInterimTranscriptHash folds confirmationTag into the confirmed
// transcript hash of the epoch that just closed, producing the interim
// hash a new epoch's first confirmed-hash update is computed from.
func NextInterimTranscriptHash(p CipherSuiteProvider, confirmedTranscriptHash, confirmationTag []byte) ([]byte, error) {
	enc, err := syntaxMarshal(struct {
		ConfirmedTranscriptHash []byte `tls:"head=1"`
		ConfirmationTag         []byte `tls:"head=1"`
	}{confirmedTranscriptHash, confirmationTag})
	if err != nil {
		return nil, err
	}
	return p.Hash(enc), nil
}

// NextConfirmedTranscriptHash folds a just-processed commit's signed
// content into the prior epoch's interim transcript hash.
func NextConfirmedTranscriptHash(p CipherSuiteProvider, interimTranscriptHash []byte, wireFormat WireFormat, content FramedContent, signature []byte) ([]byte, error) {
	enc, err := syntaxMarshal(struct {
		InterimTranscriptHash []byte `tls:"head=1"`
		WireFormat            WireFormat
		Content               FramedContent
		Signature             []byte `tls:"head=2"`
	}{interimTranscriptHash, wireFormat, content, signature})
	if err != nil {
		return nil, err
	}
	return p.Hash(enc), nil
}

// ConfirmationTag computes `MAC(confirmation_key, confirmed_transcript_hash)`
// (spec.md §4.4/§4.6 "confirmation_tag").
func ConfirmationTag(p CipherSuiteProvider, confirmationKey, confirmedTranscriptHash []byte) []byte {
	return p.MAC(confirmationKey, confirmedTranscriptHash)
}

// signatureContext is the byte string a member's signature over a
// FramedContent covers: the wire format plus the GroupContext fields
// that must be bound even though FramedContent itself does not carry
// them (spec.md §4.6 "Content signing").
func signatureContext(ctx GroupContext, wireFormat WireFormat, content FramedContent) ([]byte, error) {
	prefix, err := syntaxMarshal(struct {
		GroupContext GroupContext
		WireFormat   WireFormat
	}{ctx, wireFormat})
	if err != nil {
		return nil, err
	}
	body, err := syntaxMarshal(content)
	if err != nil {
		return nil, err
	}
	return append(prefix, body...), nil
}

// SignContent signs content under identity priv, binding it to ctx and
// wireFormat, and returns the signature to install in
// FramedContentAuthData.
func SignContent(p CipherSuiteProvider, priv SignaturePrivateKey, ctx GroupContext, wireFormat WireFormat, content FramedContent) ([]byte, error) {
	input, err := signatureContext(ctx, wireFormat, content)
	if err != nil {
		return nil, err
	}
	return p.Sign(priv, input)
}

// VerifyContent checks a FramedContent's signature against pub.
func VerifyContent(p CipherSuiteProvider, pub SignaturePublicKey, ctx GroupContext, wireFormat WireFormat, content FramedContent, signature []byte) error {
	input, err := signatureContext(ctx, wireFormat, content)
	if err != nil {
		return err
	}
	if !p.Verify(pub, input, signature) {
		return wrapErr(ClassValidation, ErrSignatureInvalid, "framed content")
	}
	return nil
}
