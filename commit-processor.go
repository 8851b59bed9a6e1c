package mls

import "time"

// CommitProcessor drives both directions of spec.md §4.3: building an
// outgoing commit from a locally-assembled ProposalBundle, and
// applying an incoming one. It holds no group state; every call is
// given the GroupState facts it needs and returns the provisional
// result for the caller to install atomically.
type CommitProcessor struct {
	Provider CipherSuiteProvider
	Applier  *ProposalApplier
	Config   *GroupConfig
}

func NewCommitProcessor(provider CipherSuiteProvider, applier *ProposalApplier, config *GroupConfig) *CommitProcessor {
	if config == nil {
		config = NewGroupConfig()
	}
	return &CommitProcessor{Provider: provider, Applier: applier, Config: config}
}

// CommitInput is the ambient state a commit is built against or
// applied to.
type CommitInput struct {
	GroupContext          GroupContext
	Tree                  *RatchetTree
	InterimTranscriptHash []byte
	InitSecret            []byte
	Bundle                *ProposalBundle
	Committer             Sender
	IsExternalCommit      bool
	ExternalCommitSecret  []byte // decapsulated from the sole ExternalInit proposal; required iff IsExternalCommit
	PSKs                  []PSKWithSecret
	Now                   time.Time
}

// CommitResult is the provisional outcome of building or applying a
// commit: everything needed to advance GroupState by one epoch, held
// until the caller atomically installs it.
type CommitResult struct {
	Commit                   Commit
	FramedContent             FramedContent
	Signature                []byte
	NewGroupContext           GroupContext
	NewTree                   *RatchetTree
	NewInterimTranscriptHash  []byte
	EpochSecrets              *EpochSecrets
	SecretTree                *SecretTree
	ReInit                    *ReInitProposal
	// State is CommitStateReinitialized when ReInit is set, and
	// otherwise CommitStatePending (BuildCommit) or CommitStateAdvanced
	// (ApplyCommit) — the disposition GroupState.AdvanceEpoch acts on.
	State                    CommitState
}

// requiresPath reports whether this bundle needs the committer to
// refresh its own leaf via an UpdatePath: any Add/Update/Remove
// forces a fresh path so removed/updated members' old keys stop being
// usable, and an external commit always needs one since the joiner
// has no path material yet (spec.md §4.3 step 2).
func requiresPath(bundle *ProposalBundle, isExternalCommit bool) bool {
	if isExternalCommit {
		return true
	}
	return len(bundle.Additions) > 0 || len(bundle.Updates) > 0 || len(bundle.Removals) > 0
}

// BuildCommit assembles an outgoing Commit over in.Bundle, advances
// the key schedule, and signs the resulting handshake content. The
// caller is responsible for wrapping the returned FramedContent/
// Signature into a PublicMessage or PrivateMessage via
// ProtectHandshakeContent (message-protection.go), and for calling
// BuildWelcome for any Add in the bundle.
func (cp *CommitProcessor) BuildCommit(in CommitInput, committerPriv SignaturePrivateKey, pathSecretSeed []byte, committerTreeKEMPriv *TreeKEMPrivate) (*CommitResult, []byte, map[leafIndex][]byte, error) {
	validation := ValidationInput{
		Tree:             in.Tree,
		GroupID:          in.GroupContext.GroupID,
		Epoch:            in.GroupContext.Epoch,
		GroupSuite:       in.GroupContext.CipherSuite,
		GroupVersion:     in.GroupContext.ProtocolVersion,
		ExtensionsInUse:  extensionTypesOf(in.GroupContext.Extensions),
		ProposalsInUse:   in.Bundle.ProposalTypesInUse(),
		Committer:        in.Committer,
		IsExternalCommit: in.IsExternalCommit,
		Now:              in.Now,
	}
	if err := cp.Applier.Validate(validation, in.Bundle); err != nil {
		return nil, nil, nil, err
	}

	if len(in.Bundle.ReInits) == 1 && requiresPath(in.Bundle, in.IsExternalCommit) {
		return nil, nil, nil, wrapErr(ClassValidation, ErrOtherProposalWithReInit, "reinit must not carry an update path")
	}

	logger := Default().ForGroup(in.GroupContext.GroupID).WithEpoch(in.GroupContext.Epoch)
	logger.Debug("building commit", "proposals", in.Bundle.Length(), "external", in.IsExternalCommit)

	provisionalTree, err := cp.Applier.Apply(in.Tree, in.Bundle)
	if err != nil {
		return nil, nil, nil, err
	}

	needsPath := requiresPath(in.Bundle, in.IsExternalCommit)

	var path *UpdatePath
	var commitSecret []byte
	var pathSecrets map[leafIndex][]byte

	hashSize := cp.Provider.Suite().Constants().HashSize
	commitSecret = make([]byte, hashSize)

	if needsPath {
		groupContextBytes, err := syntaxMarshal(in.GroupContext)
		if err != nil {
			return nil, nil, nil, err
		}
		up, cs, ps, err := provisionalTree.Encap(in.Committer.LeafIndex, groupContextBytes, pathSecretSeed, committerTreeKEMPriv)
		if err != nil {
			return nil, nil, nil, err
		}
		path = &up
		commitSecret = cs
		pathSecrets = ps
		if err := provisionalTree.ApplyUpdatePath(in.Committer.LeafIndex, up); err != nil {
			return nil, nil, nil, err
		}
	}

	if in.IsExternalCommit {
		commitSecret = cp.Provider.KDFExtract(commitSecret, in.ExternalCommitSecret)
	}

	commit := Commit{Proposals: in.Bundle.ToProposalsOrRefs(), Path: path}

	content := FramedContent{
		GroupID:     in.GroupContext.GroupID,
		Epoch:       in.GroupContext.Epoch,
		Sender:      in.Committer,
		ContentType: ContentTypeCommit,
		Commit:      &commit,
	}

	signature, err := SignContent(cp.Provider, committerPriv, in.GroupContext, WireFormatPublicMessage, content)
	if err != nil {
		return nil, nil, nil, err
	}

	confirmedTranscriptHash, err := NextConfirmedTranscriptHash(cp.Provider, in.InterimTranscriptHash, WireFormatPublicMessage, content, signature)
	if err != nil {
		return nil, nil, nil, err
	}

	treeHash, err := provisionalTree.TreeHash()
	if err != nil {
		return nil, nil, nil, err
	}

	newContext := GroupContext{
		ProtocolVersion:         in.GroupContext.ProtocolVersion,
		CipherSuite:             in.GroupContext.CipherSuite,
		GroupID:                 in.GroupContext.GroupID,
		Epoch:                   in.GroupContext.Epoch + 1,
		TreeHash:                treeHash,
		ConfirmedTranscriptHash: confirmedTranscriptHash,
		Extensions:              in.GroupContext.Extensions,
	}
	if len(in.Bundle.GCExtensions) == 1 {
		newContext.Extensions = in.Bundle.GCExtensions[0].Proposal.Extensions
	}

	joinerSecret := JoinerSecret(cp.Provider, in.InitSecret, commitSecret)
	memberSecret := MemberSecret(cp.Provider, joinerSecret, in.PSKs)

	newContextBytes, err := syntaxMarshal(newContext)
	if err != nil {
		return nil, nil, nil, err
	}
	epochSecrets, err := NewEpochSecrets(cp.Provider, memberSecret, newContextBytes)
	if err != nil {
		return nil, nil, nil, err
	}

	interimHash, err := NextInterimTranscriptHash(cp.Provider, confirmedTranscriptHash, ConfirmationTag(cp.Provider, epochSecrets.ConfirmationKey, confirmedTranscriptHash))
	if err != nil {
		return nil, nil, nil, err
	}

	var reinit *ReInitProposal
	state := CommitStatePending
	if len(in.Bundle.ReInits) == 1 {
		reinit = &in.Bundle.ReInits[0].Proposal
		state = CommitStateReinitialized
	}

	result := &CommitResult{
		Commit:                   commit,
		FramedContent:            content,
		Signature:                signature,
		NewGroupContext:          newContext,
		NewTree:                  provisionalTree,
		NewInterimTranscriptHash: interimHash,
		EpochSecrets:             epochSecrets,
		SecretTree:               NewSecretTree(cp.Provider, provisionalTree.leafCount(), epochSecrets.EncryptionSecret, cp.Config.MaxPastEpochGenerations),
		ReInit:                   reinit,
		State:                    state,
	}

	logger.Info("commit built", "new_epoch", newContext.Epoch, "leaf_count", provisionalTree.leafCount())

	return result, joinerSecret, pathSecrets, nil
}

// ApplyCommit applies an incoming Commit: it re-derives the
// provisional tree and epoch state exactly as BuildCommit does, but
// authenticates content/signature/confirmation_tag instead of
// producing them, and decaps the update path to recover commit_secret
// instead of running encap.
func (cp *CommitProcessor) ApplyCommit(
	in CommitInput,
	content FramedContent,
	signature []byte,
	confirmationTag []byte,
	committerKey SignaturePublicKey,
	receiverTreeKEMPriv *TreeKEMPrivate,
) (*CommitResult, error) {
	if content.Epoch != in.GroupContext.Epoch {
		return nil, wrapErr(ClassProtocol, ErrWrongEpoch, "")
	}
	if string(content.GroupID) != string(in.GroupContext.GroupID) {
		return nil, wrapErr(ClassProtocol, ErrWrongGroupID, "")
	}
	if content.Commit == nil {
		return nil, wrapErr(ClassProtocol, ErrUnknownContent, "expected commit")
	}

	if err := VerifyContent(cp.Provider, committerKey, in.GroupContext, WireFormatPublicMessage, content, signature); err != nil {
		return nil, err
	}

	logger := Default().ForGroup(in.GroupContext.GroupID).WithEpoch(in.GroupContext.Epoch)
	logger.Debug("applying commit", "sender_leaf", content.Sender.LeafIndex, "external", in.IsExternalCommit)

	validation := ValidationInput{
		Tree:             in.Tree,
		GroupID:          in.GroupContext.GroupID,
		Epoch:            in.GroupContext.Epoch,
		GroupSuite:       in.GroupContext.CipherSuite,
		GroupVersion:     in.GroupContext.ProtocolVersion,
		ExtensionsInUse:  extensionTypesOf(in.GroupContext.Extensions),
		ProposalsInUse:   in.Bundle.ProposalTypesInUse(),
		Committer:        content.Sender,
		IsExternalCommit: in.IsExternalCommit,
		Now:              in.Now,
	}
	if err := cp.Applier.Validate(validation, in.Bundle); err != nil {
		return nil, err
	}

	provisionalTree, err := cp.Applier.Apply(in.Tree, in.Bundle)
	if err != nil {
		return nil, err
	}

	needsPath := requiresPath(in.Bundle, in.IsExternalCommit)
	if needsPath && content.Commit.Path == nil {
		return nil, wrapErr(ClassValidation, ErrExternalCommitNeedsPath, "commit requires an update path")
	}

	hashSize := cp.Provider.Suite().Constants().HashSize
	commitSecret := make([]byte, hashSize)

	if content.Commit.Path != nil {
		groupContextBytes, err := syntaxMarshal(in.GroupContext)
		if err != nil {
			return nil, err
		}
		cs, err := provisionalTree.Decap(*content.Commit.Path, content.Sender.LeafIndex, groupContextBytes, receiverTreeKEMPriv)
		if err != nil {
			return nil, err
		}
		commitSecret = cs
		if err := provisionalTree.ApplyUpdatePath(content.Sender.LeafIndex, *content.Commit.Path); err != nil {
			return nil, err
		}
	}

	if in.IsExternalCommit {
		commitSecret = cp.Provider.KDFExtract(commitSecret, in.ExternalCommitSecret)
	}

	confirmedTranscriptHash, err := NextConfirmedTranscriptHash(cp.Provider, in.InterimTranscriptHash, WireFormatPublicMessage, content, signature)
	if err != nil {
		return nil, err
	}

	treeHash, err := provisionalTree.TreeHash()
	if err != nil {
		return nil, err
	}

	newContext := GroupContext{
		ProtocolVersion:         in.GroupContext.ProtocolVersion,
		CipherSuite:             in.GroupContext.CipherSuite,
		GroupID:                 in.GroupContext.GroupID,
		Epoch:                   in.GroupContext.Epoch + 1,
		TreeHash:                treeHash,
		ConfirmedTranscriptHash: confirmedTranscriptHash,
		Extensions:              in.GroupContext.Extensions,
	}
	if len(in.Bundle.GCExtensions) == 1 {
		newContext.Extensions = in.Bundle.GCExtensions[0].Proposal.Extensions
	}

	joinerSecret := JoinerSecret(cp.Provider, in.InitSecret, commitSecret)
	memberSecret := MemberSecret(cp.Provider, joinerSecret, in.PSKs)

	newContextBytes, err := syntaxMarshal(newContext)
	if err != nil {
		return nil, err
	}
	epochSecrets, err := NewEpochSecrets(cp.Provider, memberSecret, newContextBytes)
	if err != nil {
		return nil, err
	}

	expectedTag := ConfirmationTag(cp.Provider, epochSecrets.ConfirmationKey, confirmedTranscriptHash)
	if !hmacEqual(expectedTag, confirmationTag) {
		return nil, wrapErr(ClassValidation, ErrConfirmationTagInvalid, "")
	}

	interimHash, err := NextInterimTranscriptHash(cp.Provider, confirmedTranscriptHash, confirmationTag)
	if err != nil {
		return nil, err
	}

	var reinit *ReInitProposal
	state := CommitStateAdvanced
	if len(in.Bundle.ReInits) == 1 {
		reinit = &in.Bundle.ReInits[0].Proposal
		state = CommitStateReinitialized
	}

	logger.Info("commit applied", "new_epoch", newContext.Epoch)

	return &CommitResult{
		Commit:                   *content.Commit,
		FramedContent:            content,
		Signature:                signature,
		NewGroupContext:          newContext,
		NewTree:                  provisionalTree,
		NewInterimTranscriptHash: interimHash,
		EpochSecrets:             epochSecrets,
		SecretTree:               NewSecretTree(cp.Provider, provisionalTree.leafCount(), epochSecrets.EncryptionSecret, cp.Config.MaxPastEpochGenerations),
		ReInit:                   reinit,
		State:                    state,
	}, nil
}

func extensionTypesOf(l ExtensionList) []ExtensionType {
	out := make([]ExtensionType, len(l.Extensions))
	for i, e := range l.Extensions {
		out[i] = e.ExtensionType
	}
	return out
}
