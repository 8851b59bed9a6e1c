package mls

// ProposalStore caches by-reference proposals a member has received
// but not yet seen committed, keyed by ProposalRef within a single
// epoch (spec.md §3 Proposal variants / ProposalStore). Entries never
// carry their own expiry: the store is scoped to one epoch and the
// caller discards it wholesale via Clear when the epoch advances.
type ProposalStore struct {
	entries map[ProposalRef]storedProposal
}

type storedProposal struct {
	proposal Proposal
	sender   Sender
}

// NewProposalStore returns an empty store.
func NewProposalStore() *ProposalStore {
	return &ProposalStore{entries: make(map[ProposalRef]storedProposal)}
}

// Insert records proposal under ref, overwriting any prior entry for
// the same reference (a retransmission of the identical proposal
// value produces the identical ref, so this is idempotent in
// practice).
func (s *ProposalStore) Insert(ref ProposalRef, proposal Proposal, sender Sender) {
	s.entries[ref] = storedProposal{proposal, sender}
}

// Get resolves ref to its proposal and sender, reporting ok=false if
// the reference is unknown (spec.md §4.2 step 3 "unknown reference").
func (s *ProposalStore) Get(ref ProposalRef) (Proposal, Sender, bool) {
	e, ok := s.entries[ref]
	return e.proposal, e.sender, ok
}

// Remove drops ref, used once a commit referencing it has been applied
// so a stale reference cannot be reused in a later commit.
func (s *ProposalStore) Remove(ref ProposalRef) {
	delete(s.entries, ref)
}

// Clear empties the store; called on every epoch transition since a
// by-reference proposal is only ever valid within the epoch it was
// received in (spec.md §3).
func (s *ProposalStore) Clear() {
	s.entries = make(map[ProposalRef]storedProposal)
}

// Len reports the number of cached proposals.
func (s *ProposalStore) Len() int {
	return len(s.entries)
}

// StoredProposal is one ProposalStore entry exposed for persistence
// (snapshot.go) and iteration.
type StoredProposal struct {
	Ref      ProposalRef
	Proposal Proposal
	Sender   Sender
}

// All returns every cached entry; order is unspecified.
func (s *ProposalStore) All() []StoredProposal {
	out := make([]StoredProposal, 0, len(s.entries))
	for ref, e := range s.entries {
		out = append(out, StoredProposal{Ref: ref, Proposal: e.proposal, Sender: e.sender})
	}
	return out
}
