package mls

// message-protection.go implements spec.md §4.6: wrapping a
// FramedContent for transport, either as a signed (and optionally
// MAC'd) PublicMessage or as an AEAD-sealed PrivateMessage with a
// separately-keyed sender-data envelope.

// senderDataAAD is the associated data bound to a PrivateMessage's
// sender-data encryption: the public fields a receiver must already
// know (group id, epoch, content type) before it can even look up the
// sender-data key.
func senderDataAAD(groupID []byte, epoch uint64, contentType ContentType) ([]byte, error) {
	return syntaxMarshal(struct {
		GroupID     []byte `tls:"head=1"`
		Epoch       uint64
		ContentType ContentType
	}{groupID, epoch, contentType})
}

// senderDataKeyNonce derives the one-off key/nonce used to encrypt a
// single message's SenderData envelope: the sample is a prefix of the
// content ciphertext itself, so every message gets independent
// sender-data keying without maintaining per-message ratchet state
// (spec.md §4.6 "sender_data_key").
func senderDataKeyNonce(p CipherSuiteProvider, senderDataSecret, ciphertextSample []byte) (key, nonce []byte) {
	c := p.Suite().Constants()
	n := len(ciphertextSample)
	if n > c.NonceSize {
		n = c.NonceSize
	}
	sample := ciphertextSample[:n]
	key = ExpandWithContext(p, senderDataSecret, "sd key", sample, c.KeySize)
	nonce = ExpandWithContext(p, senderDataSecret, "sd nonce", sample, c.NonceSize)
	return key, nonce
}

// contentAAD is the associated data an encrypted PrivateMessage's
// content ciphertext is bound to: everything on PrivateMessage but the
// ciphertext itself.
func contentAAD(msg PrivateMessage) ([]byte, error) {
	return syntaxMarshal(struct {
		GroupID             []byte `tls:"head=1"`
		Epoch               uint64
		ContentType         ContentType
		AuthenticatedData   []byte `tls:"head=4"`
		EncryptedSenderData []byte `tls:"head=1"`
	}{msg.GroupID, msg.Epoch, msg.ContentType, msg.AuthenticatedData, msg.EncryptedSenderData})
}

// reuseGuardNonce XORs a per-message reuse guard into the ratchet
// nonce, so two calls that happen to reuse a generation (which should
// never occur, but guards against an implementation bug reusing a
// nonce) still produce distinct AEAD nonces (spec.md §4.6).
func reuseGuardNonce(nonce []byte, guard [4]byte) []byte {
	out := make([]byte, len(nonce))
	copy(out, nonce)
	for i := 0; i < 4 && i < len(out); i++ {
		out[i] ^= guard[i]
	}
	return out
}

// EncryptPrivateMessage seals content as a PrivateMessage: the content
// is AEAD-sealed under the sender's next handshake or application
// ratchet key (selected by content.ContentType), and the resulting
// SenderData is itself AEAD-sealed under a key/nonce sampled from that
// ciphertext (spec.md §4.6).
func EncryptPrivateMessage(p CipherSuiteProvider, tree *SecretTree, senderDataSecret []byte, sender leafIndex, content FramedContent, signature, confirmationTag []byte) (PrivateMessage, error) {
	contentBytes, err := syntaxMarshal(struct {
		ApplicationData []byte
		Proposal        *Proposal
		Commit          *Commit
		Auth            FramedContentAuthData
	}{content.ApplicationData, content.Proposal, content.Commit,
		FramedContentAuthData{Signature: signature, ConfirmationTag: confirmationTag}})
	if err != nil {
		return PrivateMessage{}, err
	}

	var generation uint32
	var key, nonce []byte
	if content.ContentType == ContentTypeApplication {
		generation, key, nonce = tree.NextApplicationKey(sender)
	} else {
		generation, key, nonce = tree.NextHandshakeKey(sender)
	}

	var guard [4]byte
	if err := randReadGuard(guard[:]); err != nil {
		return PrivateMessage{}, err
	}

	msg := PrivateMessage{
		GroupID:           content.GroupID,
		Epoch:             content.Epoch,
		ContentType:       content.ContentType,
		AuthenticatedData: content.AuthenticatedData,
	}

	aad, err := contentAAD(msg)
	if err != nil {
		return PrivateMessage{}, err
	}

	ciphertext, err := p.AEADSeal(key, reuseGuardNonce(nonce, guard), aad, contentBytes)
	if err != nil {
		return PrivateMessage{}, err
	}
	msg.Ciphertext = ciphertext

	senderData := SenderData{LeafIndex: sender, Generation: generation, ReuseGuard: guard}
	senderDataBytes, err := syntaxMarshal(senderData)
	if err != nil {
		return PrivateMessage{}, err
	}

	sdKey, sdNonce := senderDataKeyNonce(p, senderDataSecret, ciphertext)
	sdAAD, err := senderDataAAD(content.GroupID, content.Epoch, content.ContentType)
	if err != nil {
		return PrivateMessage{}, err
	}
	encryptedSenderData, err := p.AEADSeal(sdKey, sdNonce, sdAAD, senderDataBytes)
	if err != nil {
		return PrivateMessage{}, err
	}
	msg.EncryptedSenderData = encryptedSenderData

	return msg, nil
}

// DecryptPrivateMessage reverses EncryptPrivateMessage: it recovers
// the sender and generation from the sender-data envelope, fetches
// (deriving forward if necessary) that ratchet position's key, and
// opens the content. The caller is responsible for calling
// SecretTree.Erase{Application,Handshake} on success so the opened
// generation's key cannot be recovered again later.
func DecryptPrivateMessage(p CipherSuiteProvider, tree *SecretTree, senderDataSecret []byte, msg PrivateMessage) (FramedContent, []byte, []byte, error) {
	sdAAD, err := senderDataAAD(msg.GroupID, msg.Epoch, msg.ContentType)
	if err != nil {
		return FramedContent{}, nil, nil, err
	}
	sdKey, sdNonce := senderDataKeyNonce(p, senderDataSecret, msg.Ciphertext)
	senderDataBytes, err := p.AEADOpen(sdKey, sdNonce, sdAAD, msg.EncryptedSenderData)
	if err != nil {
		return FramedContent{}, nil, nil, wrapErr(ClassCrypto, ErrAEADOpenFailed, "sender data")
	}

	var senderData SenderData
	if _, err := syntaxUnmarshal(senderDataBytes, &senderData); err != nil {
		return FramedContent{}, nil, nil, err
	}

	var key, nonce []byte
	if msg.ContentType == ContentTypeApplication {
		key, nonce, err = tree.ApplicationKey(senderData.LeafIndex, senderData.Generation)
	} else {
		key, nonce, err = tree.HandshakeKey(senderData.LeafIndex, senderData.Generation)
	}
	if err != nil {
		return FramedContent{}, nil, nil, err
	}

	aad, err := contentAAD(msg)
	if err != nil {
		return FramedContent{}, nil, nil, err
	}
	plaintext, err := p.AEADOpen(key, reuseGuardNonce(nonce, senderData.ReuseGuard), aad, msg.Ciphertext)
	if err != nil {
		return FramedContent{}, nil, nil, wrapErr(ClassCrypto, ErrAEADOpenFailed, "content")
	}

	var body struct {
		ApplicationData []byte
		Proposal        *Proposal
		Commit          *Commit
		Auth            FramedContentAuthData
	}
	if _, err := syntaxUnmarshal(plaintext, &body); err != nil {
		return FramedContent{}, nil, nil, err
	}

	content := FramedContent{
		GroupID:           msg.GroupID,
		Epoch:             msg.Epoch,
		Sender:            Sender{Type: SenderTypeMember, LeafIndex: senderData.LeafIndex},
		AuthenticatedData: msg.AuthenticatedData,
		ContentType:       msg.ContentType,
		ApplicationData:   body.ApplicationData,
		Proposal:          body.Proposal,
		Commit:            body.Commit,
	}

	return content, body.Auth.Signature, body.Auth.ConfirmationTag, nil
}

// ProtectHandshakeContent wraps signed handshake content per cfg's
// EncryptHandshake policy (spec.md §4.6): an encrypting group
// AEAD-seals it into a PrivateMessage, while a plaintext group signs it
// into a PublicMessage and attaches a MembershipTag instead.
func ProtectHandshakeContent(p CipherSuiteProvider, cfg *GroupConfig, tree *SecretTree, senderDataSecret, membershipKey []byte, groupContext GroupContext, sender leafIndex, content FramedContent, signature, confirmationTag []byte) (WireFormat, *PublicMessage, *PrivateMessage, error) {
	if cfg.EncryptHandshake {
		msg, err := EncryptPrivateMessage(p, tree, senderDataSecret, sender, content, signature, confirmationTag)
		if err != nil {
			return 0, nil, nil, err
		}
		return WireFormatPrivateMessage, nil, &msg, nil
	}

	auth := FramedContentAuthData{Signature: signature, ConfirmationTag: confirmationTag}
	tag, err := MembershipTag(p, membershipKey, groupContext, content, auth)
	if err != nil {
		return 0, nil, nil, err
	}
	msg := PublicMessage{Content: content, Auth: auth, MembershipTag: tag}
	return WireFormatPublicMessage, &msg, nil, nil
}

// MembershipTag computes the MAC binding a PublicMessage to the
// membership_key of the epoch it was sent in, used when the group is
// configured to send handshake messages unencrypted (spec.md §4.6).
func MembershipTag(p CipherSuiteProvider, membershipKey []byte, groupContext GroupContext, content FramedContent, auth FramedContentAuthData) ([]byte, error) {
	input, err := syntaxMarshal(struct {
		GroupContext GroupContext
		Content      FramedContent
		Auth         FramedContentAuthData
	}{groupContext, content, auth})
	if err != nil {
		return nil, err
	}
	return p.MAC(membershipKey, input), nil
}

// VerifyMembershipTag checks a PublicMessage's MembershipTag.
func VerifyMembershipTag(p CipherSuiteProvider, membershipKey []byte, groupContext GroupContext, msg PublicMessage) error {
	expected, err := MembershipTag(p, membershipKey, groupContext, msg.Content, msg.Auth)
	if err != nil {
		return err
	}
	if !hmacEqual(expected, msg.MembershipTag) {
		return wrapErr(ClassValidation, ErrMembershipTagInvalid, "")
	}
	return nil
}
