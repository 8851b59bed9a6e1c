package mls

// SnapshotVersion1 is the sole snapshot wire version so far; a future
// incompatible change bumps this and Decode switches on it before
// touching anything version-specific.
const SnapshotVersion1 uint16 = 1

// snapshotTreeNode mirrors treeNode but with explicit optional tags so
// go-tls-syntax can round-trip a Blank slot (both pointers nil)
// without error (spec.md §6).
type snapshotTreeNode struct {
	Blank  bool
	Leaf   *LeafNode   `tls:"optional"`
	Parent *ParentNode `tls:"optional"`
}

type snapshotTree struct {
	Nodes []snapshotTreeNode `tls:"head=4"`
}

// snapshotEpochSecrets mirrors EpochSecrets field-for-field with wire
// tags; EpochSecrets itself stays free of tags since it is never
// placed on the wire except through here.
type snapshotEpochSecrets struct {
	EpochSecret      []byte `tls:"head=1"`
	SenderDataSecret []byte `tls:"head=1"`
	EncryptionSecret []byte `tls:"head=1"`
	ExporterSecret   []byte `tls:"head=1"`
	ExternalSecret   []byte `tls:"head=1"`
	ConfirmationKey  []byte `tls:"head=1"`
	MembershipKey    []byte `tls:"head=1"`
	ResumptionPSK    []byte `tls:"head=1"`
	InitSecretNext   []byte `tls:"head=1"`
}

type snapshotProposal struct {
	Ref      ProposalRef
	Proposal Proposal
	Sender   Sender
}

// Snapshot is the versioned, length-prefixed persisted form of a
// GroupState (spec.md §6): the group's public context and tree, the
// current epoch's secrets, the interim transcript hash that bridges to
// the next commit, and any cached by-reference proposals. The caller
// persists the bytes Encode returns via GroupStateStorage and restores
// a live GroupState from them with Decode.
type Snapshot struct {
	Version               uint16
	Context               GroupContext
	Tree                  snapshotTree
	InterimTranscriptHash []byte `tls:"head=1"`
	Secrets               snapshotEpochSecrets
	PendingProposals      []snapshotProposal `tls:"head=4"`
	OwnLeafIndex          leafIndex
}

// EncodeSnapshot serializes g's current epoch to a versioned snapshot.
func EncodeSnapshot(g *GroupState) ([]byte, error) {
	nodes, err := exportTree(g.Tree)
	if err != nil {
		return nil, err
	}

	var pending []snapshotProposal
	for _, e := range g.Proposals.All() {
		pending = append(pending, snapshotProposal{Ref: e.Ref, Proposal: e.Proposal, Sender: e.Sender})
	}

	snap := Snapshot{
		Version:               SnapshotVersion1,
		Context:               g.Context,
		Tree:                  snapshotTree{Nodes: nodes},
		InterimTranscriptHash: g.InterimTranscriptHash,
		Secrets: snapshotEpochSecrets{
			EpochSecret:      g.Secrets.EpochSecret,
			SenderDataSecret: g.Secrets.SenderDataSecret,
			EncryptionSecret: g.Secrets.EncryptionSecret,
			ExporterSecret:   g.Secrets.ExporterSecret,
			ExternalSecret:   g.Secrets.ExternalSecret,
			ConfirmationKey:  g.Secrets.ConfirmationKey,
			MembershipKey:    g.Secrets.MembershipKey,
			ResumptionPSK:    g.Secrets.ResumptionPSK,
			InitSecretNext:   g.Secrets.InitSecretNext,
		},
		PendingProposals: pending,
		OwnLeafIndex:     g.OwnLeafIndex,
	}

	return syntaxMarshal(snap)
}

// DecodeSnapshot rebuilds a live GroupState from bytes EncodeSnapshot
// produced, rehydrating the ratchet tree and secret tree rather than
// persisting them redundantly.
func DecodeSnapshot(data []byte, provider CipherSuiteProvider, identity IdentityProvider, config *GroupConfig) (*GroupState, error) {
	var snap Snapshot
	if _, err := syntaxUnmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Version != SnapshotVersion1 {
		return nil, wrapErr(ClassStorage, ErrUnsupportedVersion, "snapshot")
	}

	tree, err := importTree(provider, snap.Tree.Nodes)
	if err != nil {
		return nil, err
	}

	secrets := &EpochSecrets{
		EpochSecret:      snap.Secrets.EpochSecret,
		SenderDataSecret: snap.Secrets.SenderDataSecret,
		EncryptionSecret: snap.Secrets.EncryptionSecret,
		ExporterSecret:   snap.Secrets.ExporterSecret,
		ExternalSecret:   snap.Secrets.ExternalSecret,
		ConfirmationKey:  snap.Secrets.ConfirmationKey,
		MembershipKey:    snap.Secrets.MembershipKey,
		ResumptionPSK:    snap.Secrets.ResumptionPSK,
		InitSecretNext:   snap.Secrets.InitSecretNext,
	}

	g := NewGroupState(provider, identity, config, snap.Context, tree, snap.InterimTranscriptHash, secrets, snap.OwnLeafIndex)
	for _, p := range snap.PendingProposals {
		g.CacheProposal(p.Ref, p.Proposal, p.Sender)
	}
	return g, nil
}

// Persist writes g's current epoch snapshot to storage under its
// epoch id and prunes any epoch snapshot older than
// g.Config.MaxPastEpochsRetained behind the current one (spec.md §6,
// "Default retention: last 3 epochs").
func (g *GroupState) Persist(storage GroupStateStorage) error {
	state, err := EncodeSnapshot(g)
	if err != nil {
		return err
	}

	epoch := g.Context.Epoch
	var deleteUnder uint64
	if retain := uint64(g.Config.MaxPastEpochsRetained); epoch > retain {
		deleteUnder = epoch - retain
	}

	if err := storage.Write(g.Context.GroupID, state, map[uint64][]byte{epoch: state}, nil, deleteUnder); err != nil {
		return wrapErr(ClassStorage, ErrStorageFailed, err.Error())
	}
	return nil
}

func exportTree(t *RatchetTree) ([]snapshotTreeNode, error) {
	width := uint32(nodeWidth(t.leafCount()))
	nodes := make([]snapshotTreeNode, width)
	for i := uint32(0); i < width; i++ {
		s := t.slot(nodeIndex(i))
		nodes[i] = snapshotTreeNode{Blank: s.Blank, Leaf: s.Leaf, Parent: s.Parent}
	}
	return nodes, nil
}

func importTree(provider CipherSuiteProvider, nodes []snapshotTreeNode) (*RatchetTree, error) {
	t := NewRatchetTree(provider)
	if len(nodes) == 0 {
		return t, nil
	}
	t.ensureWidth(nodeWidth2LeafCount(len(nodes)))
	for i, n := range nodes {
		t.setSlot(nodeIndex(i), treeNode{Blank: n.Blank, Leaf: n.Leaf, Parent: n.Parent})
	}
	return t, nil
}

// nodeWidth2LeafCount inverts nodeWidth: a left-balanced tree over n
// node slots has (n+1)/2 leaves.
func nodeWidth2LeafCount(width int) leafCount {
	return leafCount((width + 1) / 2)
}
