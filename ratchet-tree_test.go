package mls

import (
	"bytes"
	"testing"
)

func addTestLeaves(t *testing.T, tree *RatchetTree, p CipherSuiteProvider, n int) ([]leafIndex, []HPKEPrivateKey) {
	t.Helper()
	indices := make([]leafIndex, n)
	privs := make([]HPKEPrivateKey, n)
	for i := 0; i < n; i++ {
		pub, priv, err := p.KEMGenerate()
		if err != nil {
			t.Fatalf("KEMGenerate: %v", err)
		}
		leaf := testLeaf(t, p, string(rune('A'+i)))
		leaf.EncryptionKey = pub
		idx, err := tree.AddLeaf(leaf)
		if err != nil {
			t.Fatalf("AddLeaf(%d): %v", i, err)
		}
		indices[i] = idx
		privs[i] = priv
	}
	return indices, privs
}

func TestRatchetTreeAddLeafAssignsSequentialSlots(t *testing.T) {
	p := testProvider(t)
	tree := NewRatchetTree(p)
	indices, _ := addTestLeaves(t, tree, p, 4)
	for i, idx := range indices {
		if uint32(idx) != uint32(i) {
			t.Errorf("leaf %d landed at index %d", i, idx)
		}
	}
	if tree.LeafCount() != 4 {
		t.Errorf("LeafCount() = %d, want 4", tree.LeafCount())
	}
}

func TestRatchetTreeAddLeafRejectsDuplicateKey(t *testing.T) {
	p := testProvider(t)
	tree := NewRatchetTree(p)
	leaf := testLeaf(t, p, "dup")
	if _, err := tree.AddLeaf(leaf); err != nil {
		t.Fatalf("first AddLeaf: %v", err)
	}
	if _, err := tree.AddLeaf(leaf); err == nil {
		t.Fatal("AddLeaf with a duplicate encryption key should fail")
	}
}

func TestRatchetTreeRemoveLeafBlanksAndTruncates(t *testing.T) {
	p := testProvider(t)
	tree := NewRatchetTree(p)
	addTestLeaves(t, tree, p, 4)

	if err := tree.RemoveLeaf(3); err != nil {
		t.Fatalf("RemoveLeaf(3): %v", err)
	}
	if err := tree.RemoveLeaf(2); err != nil {
		t.Fatalf("RemoveLeaf(2): %v", err)
	}
	if tree.LeafCount() != 2 {
		t.Errorf("LeafCount() after removing the top half = %d, want 2", tree.LeafCount())
	}
	if tree.LeafAt(0) == nil || tree.LeafAt(1) == nil {
		t.Error("remaining leaves should still be present")
	}
}

func TestRatchetTreeRemoveLeafBlanksSlotWithoutTruncating(t *testing.T) {
	p := testProvider(t)
	tree := NewRatchetTree(p)
	addTestLeaves(t, tree, p, 4)

	if err := tree.RemoveLeaf(1); err != nil {
		t.Fatalf("RemoveLeaf(1): %v", err)
	}
	if tree.LeafCount() != 4 {
		t.Errorf("LeafCount() = %d, want 4 (blanking a middle leaf must not shrink the tree)", tree.LeafCount())
	}
	if tree.LeafAt(1) != nil {
		t.Error("leaf 1 should be blank after removal")
	}
}

func TestRatchetTreeTreeHashDeterministicAndSensitiveToContent(t *testing.T) {
	p := testProvider(t)
	tree := NewRatchetTree(p)
	addTestLeaves(t, tree, p, 4)

	h1, err := tree.TreeHash()
	if err != nil {
		t.Fatalf("TreeHash: %v", err)
	}
	h2, err := tree.TreeHash()
	if err != nil {
		t.Fatalf("TreeHash (second call): %v", err)
	}
	if !bytes.Equal(h1, h2) {
		t.Error("TreeHash is not deterministic over an unchanged tree")
	}

	if err := tree.RemoveLeaf(2); err != nil {
		t.Fatalf("RemoveLeaf: %v", err)
	}
	h3, err := tree.TreeHash()
	if err != nil {
		t.Fatalf("TreeHash (after mutation): %v", err)
	}
	if bytes.Equal(h1, h3) {
		t.Error("TreeHash did not change after a leaf was removed")
	}
}

func TestRatchetTreeResolutionOfBlankLeafIsEmpty(t *testing.T) {
	p := testProvider(t)
	tree := NewRatchetTree(p)
	addTestLeaves(t, tree, p, 2)
	if err := tree.RemoveLeaf(1); err != nil {
		t.Fatalf("RemoveLeaf: %v", err)
	}
	if res := tree.Resolution(toNodeIndex(1)); res != nil {
		t.Errorf("Resolution(blank leaf) = %v, want nil", res)
	}
}

// TestRatchetTreeEncapDecapRoundTrip exercises two successive commits
// over a 4-member tree and checks that every non-committing member
// recovers the same commit_secret as the committer via Decap. The
// second commit is the one that actually exercises node-index
// matching against an internal ancestor (rather than a bare leaf): by
// the time member 2 commits, the subtree covering members 0 and 1 is
// a non-blank parent (installed by member 0's prior commit), so member
// 1's Decap call must match that parent's node index in its own
// TreeKEMPrivate rather than find a leaf entry in the resolution.
func TestRatchetTreeEncapDecapRoundTrip(t *testing.T) {
	p := testProvider(t)
	tree := NewRatchetTree(p)
	_, leafPrivs := addTestLeaves(t, tree, p, 4)

	privs := make([]*TreeKEMPrivate, 4)
	for i := range privs {
		privs[i] = NewTreeKEMPrivate(leafIndex(i), leafPrivs[i])
	}

	groupContext := []byte("test-group-context-epoch-0")

	// Member 0 commits first.
	up0, commitSecret0, _, err := tree.Encap(0, groupContext, []byte("seed-0"), privs[0])
	if err != nil {
		t.Fatalf("Encap(0): %v", err)
	}
	for _, member := range []leafIndex{1, 2, 3} {
		cs, err := tree.Decap(up0, 0, groupContext, privs[member])
		if err != nil {
			t.Fatalf("Decap(0) for member %d: %v", member, err)
		}
		if !bytes.Equal(cs, commitSecret0) {
			t.Errorf("member %d recovered a different commit_secret than member 0 produced", member)
		}
	}
	if err := tree.ApplyUpdatePath(0, up0); err != nil {
		t.Fatalf("ApplyUpdatePath(0): %v", err)
	}

	// Member 2 commits second, with the 0/1 subtree now a non-blank
	// parent: member 1 must resolve via the cached parent node index,
	// not a leaf match.
	groupContext1 := []byte("test-group-context-epoch-1")
	up2, commitSecret2, _, err := tree.Encap(2, groupContext1, []byte("seed-2"), privs[2])
	if err != nil {
		t.Fatalf("Encap(2): %v", err)
	}
	for _, member := range []leafIndex{0, 1, 3} {
		cs, err := tree.Decap(up2, 2, groupContext1, privs[member])
		if err != nil {
			t.Fatalf("Decap(2) for member %d: %v", member, err)
		}
		if !bytes.Equal(cs, commitSecret2) {
			t.Errorf("member %d recovered a different commit_secret than member 2 produced", member)
		}
	}
}

func TestRatchetTreeApplyUpdatePathThenVerifyParentHashes(t *testing.T) {
	p := testProvider(t)
	tree := NewRatchetTree(p)
	_, privs := addTestLeaves(t, tree, p, 4)

	groupContext := []byte("test-group-context-parent-hash")
	up, _, _, err := tree.Encap(0, groupContext, []byte("seed"), NewTreeKEMPrivate(0, privs[0]))
	if err != nil {
		t.Fatalf("Encap: %v", err)
	}
	if err := tree.ApplyUpdatePath(0, up); err != nil {
		t.Fatalf("ApplyUpdatePath: %v", err)
	}
	if err := tree.VerifyParentHashes(0); err != nil {
		t.Errorf("VerifyParentHashes on a freshly applied update path: %v", err)
	}
}

func TestRatchetTreeApplyUpdatePathRejectsTamperedLeafParentHash(t *testing.T) {
	p := testProvider(t)
	tree := NewRatchetTree(p)
	_, privs := addTestLeaves(t, tree, p, 4)

	groupContext := []byte("test-group-context-tamper")
	up, _, _, err := tree.Encap(0, groupContext, []byte("seed"), NewTreeKEMPrivate(0, privs[0]))
	if err != nil {
		t.Fatalf("Encap: %v", err)
	}
	up.LeafNode.Source.ParentHash = append([]byte(nil), up.LeafNode.Source.ParentHash...)
	up.LeafNode.Source.ParentHash[0] ^= 0xff

	if err := tree.ApplyUpdatePath(0, up); err == nil {
		t.Fatal("expected ApplyUpdatePath to reject a tampered leaf parent_hash")
	}
}
