package mls

import "testing"

func TestProposalBundleAddBucketsByType(t *testing.T) {
	var b ProposalBundle
	b.Add(Proposal{ProposalType: ProposalTypeAdd, Add: &AddProposal{}}, Sender{}, ProposalSource{ByValue: true})
	b.Add(Proposal{ProposalType: ProposalTypeRemove, Remove: &RemoveProposal{Removed: 2}}, Sender{}, ProposalSource{ByValue: true})
	b.Add(Proposal{ProposalType: ProposalTypeUpdate, Update: &UpdateProposal{}}, Sender{}, ProposalSource{ByValue: true})

	if len(b.Additions) != 1 || len(b.Removals) != 1 || len(b.Updates) != 1 {
		t.Fatalf("bucket sizes = %d/%d/%d, want 1/1/1", len(b.Additions), len(b.Removals), len(b.Updates))
	}
	if b.Length() != 3 {
		t.Errorf("Length() = %d, want 3", b.Length())
	}
	if b.Removals[0].Proposal.Removed != 2 {
		t.Errorf("Removals[0].Removed = %d, want 2", b.Removals[0].Proposal.Removed)
	}
}

func TestProposalBundleProposalTypesInUse(t *testing.T) {
	var b ProposalBundle
	b.Add(Proposal{ProposalType: ProposalTypeUpdate, Update: &UpdateProposal{}}, Sender{}, ProposalSource{ByValue: true})
	b.Add(Proposal{ProposalType: ProposalTypeCustom, Custom: &CustomProposal{CustomType: 0xff01}}, Sender{}, ProposalSource{ByValue: true})

	types := b.ProposalTypesInUse()
	want := map[ProposalType]bool{ProposalTypeUpdate: true, ProposalType(0xff01): true}
	if len(types) != len(want) {
		t.Fatalf("ProposalTypesInUse() = %v, want two entries", types)
	}
	for _, ty := range types {
		if !want[ty] {
			t.Errorf("unexpected type %v in ProposalTypesInUse()", ty)
		}
	}
}

func TestProposalBundleToProposalsOrRefsFixedOrder(t *testing.T) {
	var b ProposalBundle
	// Insert out of the canonical emission order.
	b.Add(Proposal{ProposalType: ProposalTypeRemove, Remove: &RemoveProposal{Removed: 1}}, Sender{}, ProposalSource{ByValue: true})
	b.Add(Proposal{ProposalType: ProposalTypeAdd, Add: &AddProposal{}}, Sender{}, ProposalSource{ByValue: true})
	b.Add(Proposal{ProposalType: ProposalTypeUpdate, Update: &UpdateProposal{}}, Sender{}, ProposalSource{ByValue: true})

	out := b.ToProposalsOrRefs()
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	wantOrder := []ProposalType{ProposalTypeAdd, ProposalTypeUpdate, ProposalTypeRemove}
	for i, por := range out {
		if por.Proposal.ProposalType != wantOrder[i] {
			t.Errorf("out[%d].ProposalType = %v, want %v (additions, updates, removals, ...)", i, por.Proposal.ProposalType, wantOrder[i])
		}
	}
}

func TestProposalBundleByReferenceEmitsReference(t *testing.T) {
	var b ProposalBundle
	var ref ProposalRef
	copy(ref[:], "some-ref-bytes!!")
	b.Add(Proposal{ProposalType: ProposalTypeRemove, Remove: &RemoveProposal{Removed: 0}}, Sender{}, ProposalSource{ByReference: true, Reference: ref})

	out := b.ToProposalsOrRefs()
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0].Kind != ProposalOrRefKindReference {
		t.Fatalf("Kind = %v, want ProposalOrRefKindReference", out[0].Kind)
	}
	if out[0].Reference != ref {
		t.Errorf("Reference = %v, want %v", out[0].Reference, ref)
	}
}

// TestProposalApplierApplyOrdersRemovesBeforeAdds builds a bundle
// whose Add would need a fresh slot if it ran before the bundle's
// Remove, and checks that the new member instead lands in the slot
// the Remove just freed - proving Apply follows spec.md §4.2's fixed
// apply order (updates, then removes, then adds) rather than bundle
// insertion order.
func TestProposalApplierApplyOrdersRemovesBeforeAdds(t *testing.T) {
	p := testProvider(t)
	tree := NewRatchetTree(p)
	addTestLeaves(t, tree, p, 2)

	newLeaf := testLeaf(t, p, "new-member")
	newPub, _, err := p.KEMGenerate()
	if err != nil {
		t.Fatalf("KEMGenerate: %v", err)
	}
	newLeaf.EncryptionKey = newPub

	var bundle ProposalBundle
	bundle.Add(Proposal{ProposalType: ProposalTypeAdd, Add: &AddProposal{KeyPackage: KeyPackage{LeafNode: newLeaf}}}, Sender{LeafIndex: 0}, ProposalSource{ByValue: true})
	bundle.Add(Proposal{ProposalType: ProposalTypeRemove, Remove: &RemoveProposal{Removed: 1}}, Sender{LeafIndex: 0}, ProposalSource{ByValue: true})

	applier := NewProposalApplier(p, BasicIdentityProvider{}, NewGroupConfig())
	result, err := applier.Apply(tree, &bundle)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if result.LeafCount() != 2 {
		t.Errorf("LeafCount() = %d, want 2 (the new member should reuse the freed slot, not extend the tree)", result.LeafCount())
	}
	if leaf := result.LeafAt(1); leaf == nil || string(leaf.EncryptionKey) != string(newPub) {
		t.Error("new member was not installed in the slot the Remove freed")
	}
}
