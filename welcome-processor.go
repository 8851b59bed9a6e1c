package mls

// WelcomeProcessor builds and consumes Welcome messages (spec.md
// §4.7). It holds no state of its own; every call takes the facts it
// needs directly, mirroring ProposalApplier and CommitProcessor.
type WelcomeProcessor struct {
	Provider CipherSuiteProvider
}

func NewWelcomeProcessor(provider CipherSuiteProvider) *WelcomeProcessor {
	return &WelcomeProcessor{Provider: provider}
}

// NewMemberInfo is one joiner's inputs to BuildWelcome: their
// KeyPackage (so its init key and ref can be computed) and their leaf
// index, which BuildWelcome uses to look up, in its pathSecrets
// argument, the path secret Encap produced for that leaf (if any).
type NewMemberInfo struct {
	KeyPackage KeyPackage
	LeafIndex  leafIndex
}

// BuildWelcome assembles a Welcome for recipients, encrypting a
// GroupSecrets (joiner_secret + this recipient's path secret, if any +
// the epoch's PSK ids) to each recipient's KeyPackage init key, and a
// single GroupInfo encrypted under welcome_secret derived from
// memberSecret (spec.md §4.7).
func (w *WelcomeProcessor) BuildWelcome(
	groupContext GroupContext,
	confirmationTag []byte,
	signer leafIndex,
	signerPriv SignaturePrivateKey,
	joinerSecret []byte,
	memberSecret []byte,
	psks []PreSharedKeyID,
	recipients []NewMemberInfo,
	pathSecrets map[leafIndex][]byte,
	extensions ExtensionList,
	ratchetTreeBytes []byte,
) (Welcome, error) {
	info := GroupInfo{
		GroupContext:    groupContext,
		Extensions:      extensions,
		ConfirmationTag: confirmationTag,
		Signer:          signer,
		RatchetTree:     ratchetTreeBytes,
	}
	if err := info.Sign(w.Provider, signerPriv); err != nil {
		return Welcome{}, err
	}

	infoBytes, err := syntaxMarshal(info)
	if err != nil {
		return Welcome{}, err
	}

	welcomeSecret := WelcomeSecret(w.Provider, memberSecret)
	key, nonce := WelcomeKeyAndNonce(w.Provider, welcomeSecret)
	encryptedInfo, err := w.Provider.AEADSeal(key, nonce, nil, infoBytes)
	if err != nil {
		return Welcome{}, err
	}

	var secrets []EncryptedGroupSecrets
	for _, r := range recipients {
		gs := GroupSecrets{JoinerSecret: joinerSecret, PSKs: psks}
		if ps, ok := pathSecrets[r.LeafIndex]; ok {
			gs.PathSecret = ps
		}

		gsBytes, err := syntaxMarshal(gs)
		if err != nil {
			return Welcome{}, err
		}

		ref, err := r.KeyPackage.Ref(w.Provider)
		if err != nil {
			return Welcome{}, err
		}

		ct, err := w.Provider.HPKESeal(r.KeyPackage.InitKey, nil, nil, gsBytes)
		if err != nil {
			return Welcome{}, err
		}

		secrets = append(secrets, EncryptedGroupSecrets{NewMember: ref, EncryptedGroupSecrets: ct})
	}

	return Welcome{
		CipherSuite:        groupContext.CipherSuite,
		Secrets:            secrets,
		EncryptedGroupInfo: encryptedInfo,
	}, nil
}

// ConsumeWelcome locates ownRef among welcome.Secrets, HPKE-decrypts
// that entry's GroupSecrets with ownInitPriv, derives member_secret and
// welcome_secret to decrypt GroupInfo, and verifies the transcript
// binding (spec.md §4.7). It does not verify GroupInfo's signature —
// the caller must supply the signer's public key (typically read out
// of the accompanying ratchet tree) and call GroupInfo.VerifySignature
// itself.
func (w *WelcomeProcessor) ConsumeWelcome(welcome Welcome, ownRef []byte, ownInitPriv HPKEPrivateKey, psks []PSKWithSecret) (GroupSecrets, GroupInfo, *EpochSecrets, error) {
	var entry *EncryptedGroupSecrets
	for i := range welcome.Secrets {
		if string(welcome.Secrets[i].NewMember) == string(ownRef) {
			entry = &welcome.Secrets[i]
			break
		}
	}
	if entry == nil {
		return GroupSecrets{}, GroupInfo{}, nil, wrapErr(ClassValidation, ErrUnexpectedFormat, "no GroupSecrets entry for this key package")
	}

	gsBytes, err := w.Provider.HPKEOpen(ownInitPriv, nil, nil, entry.EncryptedGroupSecrets)
	if err != nil {
		return GroupSecrets{}, GroupInfo{}, nil, wrapErr(ClassCrypto, ErrHPKEFailed, "group secrets")
	}

	var secrets GroupSecrets
	if _, err := syntaxUnmarshal(gsBytes, &secrets); err != nil {
		return GroupSecrets{}, GroupInfo{}, nil, err
	}

	memberSecret := MemberSecret(w.Provider, secrets.JoinerSecret, psks)
	welcomeSecret := WelcomeSecret(w.Provider, memberSecret)
	key, nonce := WelcomeKeyAndNonce(w.Provider, welcomeSecret)

	infoBytes, err := w.Provider.AEADOpen(key, nonce, nil, welcome.EncryptedGroupInfo)
	if err != nil {
		return GroupSecrets{}, GroupInfo{}, nil, wrapErr(ClassCrypto, ErrAEADOpenFailed, "group info")
	}

	var info GroupInfo
	if _, err := syntaxUnmarshal(infoBytes, &info); err != nil {
		return GroupSecrets{}, GroupInfo{}, nil, err
	}

	contextBytes, err := syntaxMarshal(info.GroupContext)
	if err != nil {
		return GroupSecrets{}, GroupInfo{}, nil, err
	}
	epochSecrets, err := NewEpochSecrets(w.Provider, memberSecret, contextBytes)
	if err != nil {
		return GroupSecrets{}, GroupInfo{}, nil, err
	}

	expectedTag := ConfirmationTag(w.Provider, epochSecrets.ConfirmationKey, info.GroupContext.ConfirmedTranscriptHash)
	if !hmacEqual(expectedTag, info.ConfirmationTag) {
		return GroupSecrets{}, GroupInfo{}, nil, wrapErr(ClassValidation, ErrConfirmationTagInvalid, "welcome")
	}

	return secrets, info, epochSecrets, nil
}
