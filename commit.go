package mls

// Commit is the handshake content that advances a group by one epoch:
// a list of proposals (by value or by reference) plus an optional
// TreeKEM UpdatePath (spec.md §4.3). Path is nil exactly when the
// commit needs no fresh entropy of its own, i.e. every proposal in the
// bundle can be applied without requiring the committer to refresh
// their own leaf (see CommitProcessor.requiresPath).
type Commit struct {
	Proposals []ProposalOrRef `tls:"head=4"`
	Path      *UpdatePath      `tls:"optional"`
}

// CommitState is the high-level disposition of a group following a
// call to CommitProcessor (spec.md §4.3's Steady/Pending/Advanced/
// Reinitialized states).
type CommitState uint8

const (
	// CommitStateSteady means no commit has been built or applied; the
	// group sits in its current epoch.
	CommitStateSteady CommitState = iota
	// CommitStatePending means an outgoing commit has been built
	// locally and is awaiting the server's acceptance before the new
	// epoch is adopted.
	CommitStatePending
	// CommitStateAdvanced means an incoming commit has been applied and
	// the group has moved to the next epoch.
	CommitStateAdvanced
	// CommitStateReinitialized means the applied commit carried the
	// group's sole ReInit proposal; the group is now terminated and a
	// fresh group must be started out of band.
	CommitStateReinitialized
)

func (s CommitState) String() string {
	switch s {
	case CommitStateSteady:
		return "steady"
	case CommitStatePending:
		return "pending"
	case CommitStateAdvanced:
		return "advanced"
	case CommitStateReinitialized:
		return "reinitialized"
	default:
		return "unknown"
	}
}
