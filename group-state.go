package mls

// GroupState is the complete state a member holds for one group at one
// epoch: the group's public context and tree, the current epoch's
// derived secrets and message-protection ratchets, and the
// not-yet-committed proposals a member has cached (spec.md §3
// "Ownership and lifecycle"). Every mutation goes through AdvanceEpoch
// so the prior epoch's secret material is zeroized the moment it stops
// being needed, never left to the garbage collector's schedule.
type GroupState struct {
	Context               GroupContext
	Tree                  *RatchetTree
	InterimTranscriptHash []byte
	Secrets               *EpochSecrets
	MessageKeys           *SecretTree
	Proposals             *ProposalStore
	OwnLeafIndex          leafIndex
	Config                *GroupConfig

	// Terminated is set by AdvanceEpoch when it installs the result of a
	// ReInit commit (spec.md §4.3/§8's Reinitialized state).
	// Neither Commit nor ApplyIncomingCommit accepts any further calls
	// once true; a fresh group must be started out of band.
	Terminated bool

	// TreeKEMPriv is this member's own ancestor-key cache, deliberately
	// kept out of Snapshot: it is private key material, not group state,
	// and a restored GroupState needs it installed separately via
	// SetTreeKEMPrivate before Commit/ApplyIncomingCommit can be used.
	TreeKEMPriv *TreeKEMPrivate

	commitProcessor *CommitProcessor
	identity        IdentityProvider
}

// NewGroupState wraps already-established facts (typically produced by
// creating a fresh group or by consuming a Welcome) into a GroupState
// ready to send and receive in.
func NewGroupState(
	provider CipherSuiteProvider,
	identity IdentityProvider,
	config *GroupConfig,
	context GroupContext,
	tree *RatchetTree,
	interimTranscriptHash []byte,
	secrets *EpochSecrets,
	ownLeafIndex leafIndex,
) *GroupState {
	if config == nil {
		config = NewGroupConfig()
	}
	applier := NewProposalApplier(provider, identity, config)
	return &GroupState{
		Context:               context,
		Tree:                  tree,
		InterimTranscriptHash: interimTranscriptHash,
		Secrets:               secrets,
		MessageKeys:           NewSecretTree(provider, tree.leafCount(), secrets.EncryptionSecret, config.MaxPastEpochGenerations),
		Proposals:             NewProposalStore(),
		OwnLeafIndex:          ownLeafIndex,
		Config:                config,
		commitProcessor:       NewCommitProcessor(provider, applier, config),
		identity:              identity,
	}
}

// SetTreeKEMPrivate installs this member's ancestor-key cache, seeded
// at minimum with its own leaf's HPKE private key. ApplyIncomingCommit
// needs it to decapsulate any commit that carries an update path;
// Commit runs without it, but then keeps none of the ancestor keys it
// derives.
func (g *GroupState) SetTreeKEMPrivate(priv *TreeKEMPrivate) {
	g.TreeKEMPriv = priv
}

// Commit builds an outgoing commit over in.Bundle, deriving the
// committer's fresh path secrets through g.TreeKEMPriv so later
// incoming commits from other members can be decapsulated against the
// ancestor keys this commit just established.
func (g *GroupState) Commit(in CommitInput, committerPriv SignaturePrivateKey, pathSecretSeed []byte) (*CommitResult, []byte, map[leafIndex][]byte, error) {
	if g.Terminated {
		return nil, nil, nil, wrapErr(ClassState, ErrGroupTerminated, "")
	}
	return g.commitProcessor.BuildCommit(in, committerPriv, pathSecretSeed, g.TreeKEMPriv)
}

// ApplyIncomingCommit applies a received commit, decapsulating its
// update path (if any) against g.TreeKEMPriv and extending the cache
// with every newly-derived ancestor key along the way.
func (g *GroupState) ApplyIncomingCommit(in CommitInput, content FramedContent, signature []byte, confirmationTag []byte, committerKey SignaturePublicKey) (*CommitResult, error) {
	if g.Terminated {
		return nil, wrapErr(ClassState, ErrGroupTerminated, "")
	}
	return g.commitProcessor.ApplyCommit(in, content, signature, confirmationTag, committerKey, g.TreeKEMPriv)
}

// CacheProposal records a by-reference proposal this member received
// ahead of the commit that will consume it (spec.md §3). The caller
// computes the ref via ComputeProposalRef over the same encoding it
// received on the wire.
func (g *GroupState) CacheProposal(ref ProposalRef, proposal Proposal, sender Sender) {
	g.Proposals.Insert(ref, proposal, sender)
}

// ResolveBundle turns a Commit's ProposalOrRef list into a
// ProposalBundle, resolving by-reference entries against store,
// attributing by-value entries to committer, and rejecting an
// unresolvable reference (spec.md §4.2 step 1, ahead of
// ProposalApplier.Validate's steps 2-10).
func ResolveBundle(refs []ProposalOrRef, store *ProposalStore, committer Sender) (*ProposalBundle, error) {
	bundle := &ProposalBundle{}
	for _, por := range refs {
		switch por.Kind {
		case ProposalOrRefKindValue:
			bundle.Add(*por.Proposal, committer, ProposalSource{ByValue: true})
		case ProposalOrRefKindReference:
			proposal, sender, ok := store.Get(por.Reference)
			if !ok {
				return nil, wrapErr(ClassValidation, ErrUnknownProposalRef, "")
			}
			bundle.Add(proposal, sender, ProposalSource{ByReference: true, Reference: por.Reference})
		default:
			return nil, wrapErr(ClassProtocol, ErrUnknownContent, "unknown proposal-or-ref kind")
		}
	}
	return bundle, nil
}

// AdvanceEpoch installs a CommitResult as the new current epoch,
// zeroizing the superseded epoch's secrets and clearing the proposal
// store (by-reference proposals never outlive the epoch they arrived
// in, spec.md §3).
func (g *GroupState) AdvanceEpoch(result *CommitResult) {
	if g.Secrets != nil {
		g.Secrets.Zero()
	}
	g.Context = result.NewGroupContext
	g.Tree = result.NewTree
	g.InterimTranscriptHash = result.NewInterimTranscriptHash
	g.Secrets = result.EpochSecrets
	g.MessageKeys = result.SecretTree
	g.Proposals.Clear()

	logger := Default().ForGroup(g.Context.GroupID)
	if result.State == CommitStateReinitialized || result.ReInit != nil {
		g.Terminated = true
		logger.Info("group reinitialized, no further commits accepted", "epoch", g.Context.Epoch)
		return
	}
	logger.Info("epoch advanced", "epoch", g.Context.Epoch, "leaf_count", g.Tree.LeafCount())
}
