package mls

import "time"

// ProposalApplier runs the fixed-order §4.2 validation pipeline over a
// ProposalBundle and, once it passes, produces the provisional
// RatchetTree a commit will install. It holds no group state of its
// own: every call is given the tree and group facts it needs, so the
// same applier can validate speculative bundles without risk of
// leaking state between them.
type ProposalApplier struct {
	Provider CipherSuiteProvider
	Identity IdentityProvider
	Config   *GroupConfig
}

// NewProposalApplier returns an applier over provider/identity, using
// config's policy (custom proposals, allowed extensions, etc).
func NewProposalApplier(provider CipherSuiteProvider, identity IdentityProvider, config *GroupConfig) *ProposalApplier {
	if config == nil {
		config = NewGroupConfig()
	}
	return &ProposalApplier{Provider: provider, Identity: identity, Config: config}
}

// ValidationInput bundles the group facts §4.2's steps need beyond the
// bundle itself.
type ValidationInput struct {
	Tree             *RatchetTree
	GroupID          []byte
	Epoch            uint64
	GroupSuite       CipherSuite
	GroupVersion     ProtocolVersion
	ExtensionsInUse  []ExtensionType
	ProposalsInUse   []ProposalType
	Committer        Sender
	IsExternalCommit bool
	Now              time.Time
}

// Validate runs a.Config.ProposalFilter, then the deployment-chosen
// GroupConfig policy, then the ten ordered checks from spec.md §4.2.
// The first failing check aborts and returns its error; later checks
// never run.
func (a *ProposalApplier) Validate(in ValidationInput, bundle *ProposalBundle) error {
	filterCtx := ProposalFilterContext{GroupID: in.GroupID, Epoch: in.Epoch, CommitSender: in.Committer}
	if err := a.Config.ProposalFilter.Filter(filterCtx, bundle); err != nil {
		return err
	}
	if err := a.checkConfigPolicy(bundle); err != nil {
		return err
	}

	// Step 1 is enforced by the caller resolving every ProposalOrRef
	// against the ProposalStore before building the bundle; an unknown
	// or expired reference never reaches the applier as a bundle entry
	// (see ResolveBundle in group-state.go).

	if err := a.checkSenderPermissions(in, bundle); err != nil {
		return err
	}
	if err := a.checkSingletons(bundle); err != nil {
		return err
	}
	if err := a.checkOneProposalPerLeaf(bundle); err != nil {
		return err
	}
	if err := a.checkNoSelfUpdate(in.Committer, bundle); err != nil {
		return err
	}
	if err := a.checkPSKs(bundle); err != nil {
		return err
	}
	if err := a.checkAdds(in, bundle); err != nil {
		return err
	}
	if err := a.checkUpdates(in, bundle); err != nil {
		return err
	}
	if err := a.checkRemoves(in, bundle); err != nil {
		return err
	}
	if err := a.checkExternalCommit(in, bundle); err != nil {
		return err
	}
	return nil
}

// checkConfigPolicy enforces the deployment-chosen GroupConfig flags
// that spec.md §4.2's fixed ten steps don't cover: whether
// by-reference proposals are permitted at all, and whether a
// GroupContextExtensions proposal's extensions are all on the
// configured allow list.
func (a *ProposalApplier) checkConfigPolicy(bundle *ProposalBundle) error {
	if !a.Config.AllowProposalByReference && bundle.HasByReferenceProposal() {
		return wrapErr(ClassValidation, ErrProposalByReferenceNotAllowed, "")
	}
	if len(a.Config.AllowedExtensions) > 0 {
		for _, p := range bundle.GCExtensions {
			for _, ext := range p.Proposal.Extensions.Extensions {
				if !extensionTypeAllowed(a.Config.AllowedExtensions, ext.ExtensionType) {
					return wrapErr(ClassValidation, ErrExtensionNotAllowed, "")
				}
			}
		}
	}
	return nil
}

func extensionTypeAllowed(allowed []ExtensionType, t ExtensionType) bool {
	for _, e := range allowed {
		if e == t {
			return true
		}
	}
	return false
}

// step 2: sender-permission check.
func (a *ProposalApplier) checkSenderPermissions(in ValidationInput, bundle *ProposalBundle) error {
	checkSender := func(sender Sender, allowed ...SenderType) error {
		for _, t := range allowed {
			if sender.Type == t {
				return nil
			}
		}
		return wrapErr(ClassValidation, ErrInvalidProposalTypeForSender, "")
	}

	for _, p := range bundle.Additions {
		if err := checkSender(p.Sender, SenderTypeMember, SenderTypeExternal, SenderTypeNewMemberCommit); err != nil {
			return err
		}
	}
	for _, p := range bundle.Updates {
		if err := checkSender(p.Sender, SenderTypeMember); err != nil {
			return err
		}
	}
	for _, p := range bundle.Removals {
		if err := checkSender(p.Sender, SenderTypeMember, SenderTypeExternal); err != nil {
			return err
		}
	}
	for _, p := range bundle.PSKs {
		if err := checkSender(p.Sender, SenderTypeMember, SenderTypeExternal, SenderTypeNewMemberCommit, SenderTypeNewMemberProposal); err != nil {
			return err
		}
	}
	for _, p := range bundle.ReInits {
		if err := checkSender(p.Sender, SenderTypeMember, SenderTypeExternal); err != nil {
			return err
		}
	}
	for _, p := range bundle.ExternalInits {
		if err := checkSender(p.Sender, SenderTypeNewMemberCommit); err != nil {
			return err
		}
	}
	for _, p := range bundle.GCExtensions {
		if err := checkSender(p.Sender, SenderTypeMember); err != nil {
			return err
		}
	}
	for _, p := range bundle.Customs {
		if !a.Config.AllowCustomProposals {
			return wrapErr(ClassValidation, ErrInvalidProposalTypeForSender, "custom proposals are disabled")
		}
		if err := checkSender(p.Sender, SenderTypeMember, SenderTypeExternal); err != nil {
			return err
		}
	}

	// A by-reference Add must have been authored by a member: a
	// non-member sender's proposal can only ever arrive embedded by
	// value in the commit that exercises it (spec.md §4.2 step 2).
	for _, p := range bundle.Additions {
		if p.IsByReference() && p.Sender.Type != SenderTypeMember {
			return wrapErr(ClassValidation, ErrOnlyMembersCanProposeByRef, "")
		}
	}
	return nil
}

// step 3: at most one GroupContextExtensions, at most one ReInit, and
// if ReInit is present it must be the bundle's sole proposal.
func (a *ProposalApplier) checkSingletons(bundle *ProposalBundle) error {
	if len(bundle.GCExtensions) > 1 {
		return wrapErr(ClassValidation, ErrMoreThanOneGroupContextExtProp, "")
	}
	if len(bundle.ReInits) > 1 {
		return wrapErr(ClassValidation, ErrMoreThanOneReInitProposal, "")
	}
	if len(bundle.ReInits) == 1 && bundle.Length() != 1 {
		return wrapErr(ClassValidation, ErrOtherProposalWithReInit, "")
	}
	return nil
}

// step 4: no more than one proposal may reference any single existing
// leaf (an Update and a Remove for the same leaf in one commit is
// forbidden, as is more than one Remove for the same leaf).
func (a *ProposalApplier) checkOneProposalPerLeaf(bundle *ProposalBundle) error {
	seen := map[leafIndex]bool{}
	mark := func(l leafIndex) error {
		if seen[l] {
			return wrapErr(ClassValidation, ErrMoreThanOneProposalForLeaf, "")
		}
		seen[l] = true
		return nil
	}
	for _, p := range bundle.Updates {
		if err := mark(p.Sender.LeafIndex); err != nil {
			return err
		}
	}
	for _, p := range bundle.Removals {
		if err := mark(p.Proposal.Removed); err != nil {
			return err
		}
	}
	return nil
}

// step 5: the committer must not include an Update proposal they
// themselves authored (an Update must always be carried as the
// committer's own fresh leaf via the commit's UpdatePath instead).
func (a *ProposalApplier) checkNoSelfUpdate(committer Sender, bundle *ProposalBundle) error {
	if committer.Type != SenderTypeMember {
		return nil
	}
	for _, p := range bundle.Updates {
		if p.Sender.Type == SenderTypeMember && p.Sender.LeafIndex == committer.LeafIndex {
			return wrapErr(ClassValidation, ErrInvalidCommitSelfUpdate, "")
		}
	}
	return nil
}

// step 6: PSK proposal shape — correct nonce length, allowed type/usage
// combination, no duplicate PSK ids within the bundle.
func (a *ProposalApplier) checkPSKs(bundle *ProposalBundle) error {
	nonceLen := a.Provider.Suite().Constants().HashSize
	seen := map[string]bool{}

	for _, p := range bundle.PSKs {
		psk := p.Proposal.PSK
		if len(psk.PSKNonce) != nonceLen {
			return wrapErr(ClassValidation, ErrInvalidPskNonceLength, "")
		}
		switch psk.PSKType {
		case PSKTypeExternal:
		case PSKTypeResumption:
			if psk.ResumptionUsage != ResumptionPSKUsageApplication {
				return wrapErr(ClassValidation, ErrInvalidPskTypeOrUsage, "")
			}
		default:
			return wrapErr(ClassValidation, ErrInvalidPskTypeOrUsage, "")
		}

		key, err := pskDedupeKey(psk)
		if err != nil {
			return err
		}
		if seen[key] {
			return wrapErr(ClassValidation, ErrDuplicatePskIDs, "")
		}
		seen[key] = true
	}
	return nil
}

func pskDedupeKey(id PreSharedKeyID) (string, error) {
	enc, err := syntaxMarshal(id)
	if err != nil {
		return "", err
	}
	return string(enc), nil
}

// step 7: every Add's key package must match the group's suite and
// version, verify, carry a valid lifetime and identity, and declare
// capabilities covering every extension/proposal type in use.
func (a *ProposalApplier) checkAdds(in ValidationInput, bundle *ProposalBundle) error {
	for _, p := range bundle.Additions {
		kp := p.Proposal.KeyPackage
		if err := ValidateKeyPackage(a.Provider, a.Identity, kp, in.GroupSuite, in.GroupVersion, in.Now); err != nil {
			return err
		}
		for _, ext := range in.ExtensionsInUse {
			if !kp.LeafNode.Capabilities.supportsExtension(ext) {
				return wrapErr(ClassValidation, ErrCapabilitiesInsufficient, "extension")
			}
		}
		for _, pt := range in.ProposalsInUse {
			if !kp.LeafNode.Capabilities.supportsProposal(pt) {
				return wrapErr(ClassValidation, ErrCapabilitiesInsufficient, "proposal type")
			}
		}
	}
	return nil
}

// step 8: an Update's new leaf must share identity with the leaf
// currently installed at the sender's index.
func (a *ProposalApplier) checkUpdates(in ValidationInput, bundle *ProposalBundle) error {
	for _, p := range bundle.Updates {
		existing := in.Tree.LeafAt(p.Sender.LeafIndex)
		if existing == nil {
			return wrapErr(ClassValidation, ErrRemoveTargetBlank, "update targets blank leaf")
		}
		oldIdentity, err := a.Identity.Identity(existing.SigningIdentity)
		if err != nil {
			return wrapErr(ClassIdentity, ErrIdentityRejected, err.Error())
		}
		newIdentity, err := a.Identity.Identity(p.Proposal.LeafNode.SigningIdentity)
		if err != nil {
			return wrapErr(ClassIdentity, ErrIdentityRejected, err.Error())
		}
		if string(oldIdentity) != string(newIdentity) {
			ok, err := a.Identity.ValidSuccessor(existing.SigningIdentity, p.Proposal.LeafNode.SigningIdentity)
			if err != nil {
				return wrapErr(ClassIdentity, ErrIdentityRejected, err.Error())
			}
			if !ok {
				return wrapErr(ClassValidation, ErrUpdateIdentityMismatch, "")
			}
		}
	}
	return nil
}

// step 9: a Remove's target must be a non-blank leaf other than the
// committer's own.
func (a *ProposalApplier) checkRemoves(in ValidationInput, bundle *ProposalBundle) error {
	for _, p := range bundle.Removals {
		if in.Tree.LeafAt(p.Proposal.Removed) == nil {
			return wrapErr(ClassValidation, ErrRemoveTargetBlank, "")
		}
		if in.Committer.Type == SenderTypeMember && p.Proposal.Removed == in.Committer.LeafIndex {
			return wrapErr(ClassValidation, ErrCommitterSelfRemoval, "")
		}
	}
	return nil
}

// step 10: an external commit must carry exactly one ExternalInit
// proposal (and, by construction of CommitProcessor, always an
// update_path); it may remove at most one prior leaf, which must be
// the joiner's own, and may not carry proposal types forbidden to a
// new, not-yet-a-member sender.
func (a *ProposalApplier) checkExternalCommit(in ValidationInput, bundle *ProposalBundle) error {
	if !in.IsExternalCommit {
		if len(bundle.ExternalInits) > 0 {
			return wrapErr(ClassValidation, ErrExternalSenderCannotCommit, "external init outside external commit")
		}
		return nil
	}

	if !a.Config.AllowExternalCommit {
		return wrapErr(ClassValidation, ErrExternalCommitNotAllowed, "")
	}

	if len(bundle.ExternalInits) != 1 {
		return wrapErr(ClassValidation, ErrExternalCommitMustHaveOneInit, "")
	}
	if len(bundle.Additions) != 1 {
		return wrapErr(ClassValidation, ErrExternalCommitNeedsNewLeaf, "")
	}
	if len(bundle.Removals) > 1 {
		return wrapErr(ClassValidation, ErrExternalCommitExtraRemove, "")
	}
	// PSKs are allowed in an external commit; Updates are not, since
	// the joiner has no existing leaf of its own to update.
	if len(bundle.Updates) > 0 {
		return wrapErr(ClassValidation, ErrInvalidProposalTypeInExtCommit, "")
	}
	if len(bundle.ReInits) > 0 || len(bundle.GCExtensions) > 0 {
		return wrapErr(ClassValidation, ErrInvalidProposalTypeInExtCommit, "")
	}

	if len(bundle.Removals) == 1 {
		removed := in.Tree.LeafAt(bundle.Removals[0].Proposal.Removed)
		joiner := bundle.Additions[0].Proposal.KeyPackage.LeafNode
		if removed == nil {
			return wrapErr(ClassValidation, ErrRemoveTargetBlank, "")
		}
		removedIdentity, err := a.Identity.Identity(removed.SigningIdentity)
		if err != nil {
			return wrapErr(ClassIdentity, ErrIdentityRejected, err.Error())
		}
		joinerIdentity, err := a.Identity.Identity(joiner.SigningIdentity)
		if err != nil {
			return wrapErr(ClassIdentity, ErrIdentityRejected, err.Error())
		}
		if string(removedIdentity) != string(joinerIdentity) {
			return wrapErr(ClassValidation, ErrExternalCommitRemovesOther, "")
		}
	}

	return nil
}

// Apply installs a validated bundle's proposals into a clone of in.Tree
// in the fixed order spec.md §4.2 requires: Updates, then Removes, then
// Adds. Proposals are never reordered within their own bucket.
func (a *ProposalApplier) Apply(tree *RatchetTree, bundle *ProposalBundle) (*RatchetTree, error) {
	provisional := tree.Clone()

	for _, p := range bundle.Updates {
		if err := provisional.UpdateLeaf(p.Sender.LeafIndex, p.Proposal.LeafNode); err != nil {
			return nil, err
		}
	}
	for _, p := range bundle.Removals {
		if err := provisional.RemoveLeaf(p.Proposal.Removed); err != nil {
			return nil, err
		}
	}
	for _, p := range bundle.Additions {
		if _, err := provisional.AddLeaf(p.Proposal.KeyPackage.LeafNode); err != nil {
			return nil, err
		}
	}

	return provisional, nil
}
