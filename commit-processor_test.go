package mls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// bootstrapTestGroup seeds n members directly into a single tree
// (skipping Welcome entirely, since these tests exercise the
// commit/group-state state machine, not message distribution) and
// returns one independent GroupState per member, all starting at
// epoch 0 with identical epoch secrets derived from an all-zero
// init_secret/commit_secret pair.
func bootstrapTestGroup(t *testing.T, p CipherSuiteProvider, n int, cfg *GroupConfig) ([]*GroupState, []SignaturePrivateKey, []SignaturePublicKey) {
	t.Helper()
	if cfg == nil {
		cfg = NewGroupConfig()
	}

	tree := NewRatchetTree(p)
	sigPrivs := make([]SignaturePrivateKey, n)
	sigPubs := make([]SignaturePublicKey, n)
	leafPrivs := make([]HPKEPrivateKey, n)

	for i := 0; i < n; i++ {
		kemPub, kemPriv, err := p.KEMGenerate()
		if err != nil {
			t.Fatalf("KEMGenerate(%d): %v", i, err)
		}
		sigPub, sigPriv, err := p.SignatureKeyGenerate()
		if err != nil {
			t.Fatalf("SignatureKeyGenerate(%d): %v", i, err)
		}
		leaf := testLeaf(t, p, string(rune('A'+i)))
		leaf.EncryptionKey = kemPub
		leaf.SigningIdentity.SignatureKey = sigPub
		if _, err := tree.AddLeaf(leaf); err != nil {
			t.Fatalf("AddLeaf(%d): %v", i, err)
		}
		sigPrivs[i] = sigPriv
		sigPubs[i] = sigPub
		leafPrivs[i] = kemPriv
	}

	treeHash, err := tree.TreeHash()
	if err != nil {
		t.Fatalf("TreeHash: %v", err)
	}
	context := GroupContext{
		ProtocolVersion: ProtocolVersionMLS10,
		CipherSuite:     p.Suite(),
		GroupID:         []byte("commit-processor-test-group"),
		Epoch:           0,
		TreeHash:        treeHash,
	}
	contextBytes, err := syntaxMarshal(context)
	if err != nil {
		t.Fatalf("marshal context: %v", err)
	}

	hashSize := p.Suite().Constants().HashSize
	joinerSecret := JoinerSecret(p, make([]byte, hashSize), make([]byte, hashSize))
	memberSecret := MemberSecret(p, joinerSecret, nil)

	groups := make([]*GroupState, n)
	for i := 0; i < n; i++ {
		epochSecrets, err := NewEpochSecrets(p, memberSecret, contextBytes)
		if err != nil {
			t.Fatalf("NewEpochSecrets(%d): %v", i, err)
		}
		g := NewGroupState(p, BasicIdentityProvider{}, cfg, context, tree.Clone(), []byte{}, epochSecrets, leafIndex(i))
		g.SetTreeKEMPrivate(NewTreeKEMPrivate(leafIndex(i), leafPrivs[i]))
		groups[i] = g
	}

	return groups, sigPrivs, sigPubs
}

// testAddProposalKeyPackage builds a signed KeyPackage for a fresh
// joiner, valid for the rest of time so ValidateKeyPackage's lifetime
// check never gets in the way of the state-machine behavior under test.
func testAddProposalKeyPackage(t *testing.T, p CipherSuiteProvider, identity string, suite CipherSuite) KeyPackage {
	t.Helper()
	kemPub, _, err := p.KEMGenerate()
	if err != nil {
		t.Fatalf("KEMGenerate: %v", err)
	}
	initPub, _, err := p.KEMGenerate()
	if err != nil {
		t.Fatalf("KEMGenerate (init key): %v", err)
	}
	sigPub, sigPriv, err := p.SignatureKeyGenerate()
	if err != nil {
		t.Fatalf("SignatureKeyGenerate: %v", err)
	}

	leaf := LeafNode{
		EncryptionKey: kemPub,
		SigningIdentity: SigningIdentity{
			SignatureKey: sigPub,
			Credential:   Credential{CredentialType: CredentialTypeBasic, Identity: []byte(identity)},
		},
		Source: LeafNodeSource{Kind: LeafNodeSourceKeyPackage, Lifetime: Lifetime{NotBefore: 0, NotAfter: ^uint64(0)}},
	}

	kp := KeyPackage{
		ProtocolVersion: ProtocolVersionMLS10,
		CipherSuite:     suite,
		InitKey:         initPub,
		LeafNode:        leaf,
	}
	if err := kp.Sign(p, sigPriv); err != nil {
		t.Fatalf("KeyPackage.Sign: %v", err)
	}
	return kp
}

// TestGroupStateS1ThreeMemberGroupOneCommit covers spec.md §8's S1: a
// one-member group commits Add(Bob) and Add(Charlie) together, landing
// at epoch 1 with all three leaves non-blank (node indices 0, 2, 4 in
// the width-7 array backing a tree padded to 4 leaf slots, the last of
// them blank; addressed here by leaf index 0, 1, 2 instead).
func TestGroupStateS1ThreeMemberGroupOneCommit(t *testing.T) {
	p := testProvider(t)
	groups, sigPrivs, _ := bootstrapTestGroup(t, p, 1, nil)
	alice := groups[0]
	committer := Sender{Type: SenderTypeMember, LeafIndex: 0}

	bobKP := testAddProposalKeyPackage(t, p, "bob", p.Suite())
	charlieKP := testAddProposalKeyPackage(t, p, "charlie", p.Suite())

	bundle := &ProposalBundle{}
	bundle.Add(Proposal{ProposalType: ProposalTypeAdd, Add: &AddProposal{KeyPackage: bobKP}}, committer, ProposalSource{ByValue: true})
	bundle.Add(Proposal{ProposalType: ProposalTypeAdd, Add: &AddProposal{KeyPackage: charlieKP}}, committer, ProposalSource{ByValue: true})

	in := CommitInput{
		GroupContext:          alice.Context,
		Tree:                  alice.Tree,
		InterimTranscriptHash: alice.InterimTranscriptHash,
		InitSecret:            alice.Secrets.InitSecretNext,
		Bundle:                bundle,
		Committer:             committer,
		Now:                   time.Now(),
	}

	result, _, _, err := alice.Commit(in, sigPrivs[0], []byte("s1-path-seed"))
	require.NoError(t, err)
	alice.AdvanceEpoch(result)

	require.EqualValues(t, 1, alice.Context.Epoch)
	require.EqualValues(t, 4, alice.Tree.LeafCount())
	for _, idx := range []leafIndex{0, 1, 2} {
		require.NotNilf(t, alice.Tree.LeafAt(idx), "leaf %d should be non-blank after the commit", idx)
	}
}

// TestGroupStateS2UpdateThenRemove covers spec.md §8's S2: Bob's
// by-reference Update and Alice's Remove(Charlie) land in one commit;
// the epoch advances and Charlie - left on the old epoch's secrets -
// can no longer decrypt a message sent under the new one.
func TestGroupStateS2UpdateThenRemove(t *testing.T) {
	p := testProvider(t)
	groups, sigPrivs, _ := bootstrapTestGroup(t, p, 3, nil)
	alice, charlie := groups[0], groups[2]
	startEpoch := alice.Context.Epoch

	committer := Sender{Type: SenderTypeMember, LeafIndex: 0}
	bobSender := Sender{Type: SenderTypeMember, LeafIndex: 1}

	newBobKemPub, _, err := p.KEMGenerate()
	if err != nil {
		t.Fatalf("KEMGenerate: %v", err)
	}
	newBobLeaf := *alice.Tree.LeafAt(1)
	newBobLeaf.EncryptionKey = newBobKemPub
	newBobLeaf.Source = LeafNodeSource{Kind: LeafNodeSourceUpdate}

	updateProposal := Proposal{ProposalType: ProposalTypeUpdate, Update: &UpdateProposal{LeafNode: newBobLeaf}}
	ref, err := ComputeProposalRef(p, updateProposal)
	if err != nil {
		t.Fatalf("ComputeProposalRef: %v", err)
	}
	alice.CacheProposal(ref, updateProposal, bobSender)

	removeProposal := Proposal{ProposalType: ProposalTypeRemove, Remove: &RemoveProposal{Removed: 2}}

	bundle := &ProposalBundle{}
	bundle.Add(updateProposal, bobSender, ProposalSource{ByReference: true, Reference: ref})
	bundle.Add(removeProposal, committer, ProposalSource{ByValue: true})

	in := CommitInput{
		GroupContext:          alice.Context,
		Tree:                  alice.Tree,
		InterimTranscriptHash: alice.InterimTranscriptHash,
		InitSecret:            alice.Secrets.InitSecretNext,
		Bundle:                bundle,
		Committer:             committer,
		Now:                   time.Now(),
	}

	result, _, _, err := alice.Commit(in, sigPrivs[0], []byte("s2-path-seed"))
	require.NoError(t, err)
	alice.AdvanceEpoch(result)

	require.Equal(t, startEpoch+1, alice.Context.Epoch)
	require.Nil(t, alice.Tree.LeafAt(2), "charlie's leaf should be blank after the Remove commit")

	content := FramedContent{
		GroupID:         alice.Context.GroupID,
		Epoch:           alice.Context.Epoch,
		Sender:          committer,
		ContentType:     ContentTypeApplication,
		ApplicationData: []byte("hello after epoch advance"),
	}
	msg, err := EncryptPrivateMessage(p, alice.MessageKeys, alice.Secrets.SenderDataSecret, 0, content, []byte("sig"), nil)
	require.NoError(t, err)

	_, _, _, err = DecryptPrivateMessage(p, charlie.MessageKeys, charlie.Secrets.SenderDataSecret, msg)
	require.ErrorIs(t, err, ErrAEADOpenFailed, "charlie decrypting a post-removal epoch message should fail")
}

// TestCommitProcessorS3DuplicateAddRejected covers spec.md §8's S3:
// adding the same key package twice in one commit is rejected with
// ErrDuplicateLeafKey and leaves the epoch unchanged.
func TestCommitProcessorS3DuplicateAddRejected(t *testing.T) {
	p := testProvider(t)
	groups, sigPrivs, _ := bootstrapTestGroup(t, p, 1, nil)
	alice := groups[0]
	startEpoch := alice.Context.Epoch
	committer := Sender{Type: SenderTypeMember, LeafIndex: 0}

	bobKP := testAddProposalKeyPackage(t, p, "bob", p.Suite())

	bundle := &ProposalBundle{}
	bundle.Add(Proposal{ProposalType: ProposalTypeAdd, Add: &AddProposal{KeyPackage: bobKP}}, committer, ProposalSource{ByValue: true})
	bundle.Add(Proposal{ProposalType: ProposalTypeAdd, Add: &AddProposal{KeyPackage: bobKP}}, committer, ProposalSource{ByValue: true})

	in := CommitInput{
		GroupContext:          alice.Context,
		Tree:                  alice.Tree,
		InterimTranscriptHash: alice.InterimTranscriptHash,
		InitSecret:            alice.Secrets.InitSecretNext,
		Bundle:                bundle,
		Committer:             committer,
		Now:                   time.Now(),
	}

	_, _, _, err := alice.Commit(in, sigPrivs[0], []byte("s3-path-seed"))
	require.ErrorIs(t, err, ErrDuplicateLeafKey)
	require.Equal(t, startEpoch, alice.Context.Epoch, "epoch must not change on a rejected commit")
}

// TestGroupStateS6ReInitTerminatesGroup covers spec.md §8's S6: a
// commit carrying the group's sole ReInit proposal advances the epoch
// one last time, flips GroupState.Terminated, and every subsequent
// commit attempt - even a routine Add - is rejected with
// ErrGroupTerminated without being evaluated.
func TestGroupStateS6ReInitTerminatesGroup(t *testing.T) {
	p := testProvider(t)
	groups, sigPrivs, _ := bootstrapTestGroup(t, p, 1, nil)
	alice := groups[0]
	committer := Sender{Type: SenderTypeMember, LeafIndex: 0}

	reinit := Proposal{ProposalType: ProposalTypeReInit, ReInit: &ReInitProposal{
		GroupID:         []byte("s6-successor-group"),
		ProtocolVersion: ProtocolVersionMLS10,
		CipherSuite:     p.Suite(),
	}}
	bundle := &ProposalBundle{}
	bundle.Add(reinit, committer, ProposalSource{ByValue: true})

	in := CommitInput{
		GroupContext:          alice.Context,
		Tree:                  alice.Tree,
		InterimTranscriptHash: alice.InterimTranscriptHash,
		InitSecret:            alice.Secrets.InitSecretNext,
		Bundle:                bundle,
		Committer:             committer,
		Now:                   time.Now(),
	}

	result, _, _, err := alice.Commit(in, sigPrivs[0], []byte("s6-path-seed"))
	require.NoError(t, err)
	require.Equal(t, CommitStateReinitialized, result.State)

	alice.AdvanceEpoch(result)

	require.True(t, alice.Terminated, "group should be Terminated after a ReInit commit advances the epoch")
	require.EqualValues(t, 1, alice.Context.Epoch)

	lateKP := testAddProposalKeyPackage(t, p, "late-joiner", p.Suite())
	nextBundle := &ProposalBundle{}
	nextBundle.Add(Proposal{ProposalType: ProposalTypeAdd, Add: &AddProposal{KeyPackage: lateKP}}, committer, ProposalSource{ByValue: true})
	nextIn := CommitInput{
		GroupContext:          alice.Context,
		Tree:                  alice.Tree,
		InterimTranscriptHash: alice.InterimTranscriptHash,
		InitSecret:            alice.Secrets.InitSecretNext,
		Bundle:                nextBundle,
		Committer:             committer,
		Now:                   time.Now(),
	}
	_, _, _, err = alice.Commit(nextIn, sigPrivs[0], []byte("s6-after-seed"))
	require.ErrorIs(t, err, ErrGroupTerminated)
}
