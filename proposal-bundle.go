package mls

// ProposalSource tags where a proposal in a bundle came from: supplied
// inline, resolved from a ProposalRef, or synthesized by a custom
// proposal rule. Mirrors mls-rs's ProposalSource enum.
type ProposalSource struct {
	ByValue     bool
	ByReference bool
	Reference   ProposalRef
	CustomRule  bool
}

// ProposalInfo pairs a typed proposal with its sender and source, the
// unit every per-bucket slice in ProposalBundle holds. T is one of the
// eight concrete proposal payload types.
type ProposalInfo[T any] struct {
	Proposal T
	Sender   Sender
	Source   ProposalSource
}

func (i ProposalInfo[T]) IsByValue() bool {
	return i.Source.ByValue || i.Source.CustomRule
}

func (i ProposalInfo[T]) IsByReference() bool {
	return !i.IsByValue()
}

// ProposalBundle buckets a commit's proposals by type instead of
// dispatching on a tagged union at validation time, per spec.md §9's
// "avoid runtime dispatch on the hot validation path" design note.
// Order within each bucket is insertion order and is observable by
// ProposalApplier (spec.md §3).
type ProposalBundle struct {
	Additions     []ProposalInfo[AddProposal]
	Updates       []ProposalInfo[UpdateProposal]
	Removals      []ProposalInfo[RemoveProposal]
	PSKs          []ProposalInfo[PreSharedKeyProposal]
	ReInits       []ProposalInfo[ReInitProposal]
	ExternalInits []ProposalInfo[ExternalInitProposal]
	GCExtensions  []ProposalInfo[GroupContextExtensionsProposal]
	Customs       []ProposalInfo[CustomProposal]
}

// Add appends proposal to the bucket matching its type.
func (b *ProposalBundle) Add(p Proposal, sender Sender, source ProposalSource) {
	switch p.ProposalType {
	case ProposalTypeAdd:
		b.Additions = append(b.Additions, ProposalInfo[AddProposal]{*p.Add, sender, source})
	case ProposalTypeUpdate:
		b.Updates = append(b.Updates, ProposalInfo[UpdateProposal]{*p.Update, sender, source})
	case ProposalTypeRemove:
		b.Removals = append(b.Removals, ProposalInfo[RemoveProposal]{*p.Remove, sender, source})
	case ProposalTypePSK:
		b.PSKs = append(b.PSKs, ProposalInfo[PreSharedKeyProposal]{*p.PSK, sender, source})
	case ProposalTypeReInit:
		b.ReInits = append(b.ReInits, ProposalInfo[ReInitProposal]{*p.ReInit, sender, source})
	case ProposalTypeExternalInit:
		b.ExternalInits = append(b.ExternalInits, ProposalInfo[ExternalInitProposal]{*p.ExternalInit, sender, source})
	case ProposalTypeGroupContextExtensions:
		b.GCExtensions = append(b.GCExtensions, ProposalInfo[GroupContextExtensionsProposal]{*p.GCExtensions, sender, source})
	case ProposalTypeCustom:
		b.Customs = append(b.Customs, ProposalInfo[CustomProposal]{*p.Custom, sender, source})
	}
}

// Length is the total number of proposals across every bucket.
func (b *ProposalBundle) Length() int {
	return len(b.Additions) + len(b.Updates) + len(b.Removals) + len(b.PSKs) +
		len(b.ReInits) + len(b.ExternalInits) + len(b.GCExtensions) + len(b.Customs)
}

// ProposalTypesInUse returns the standard proposal types that have at
// least one entry in the bundle, followed by the CustomType of each
// custom entry; used by §4.2 step 7 to check
// that an Add's capabilities cover every proposal type the commit
// exercises.
func (b *ProposalBundle) ProposalTypesInUse() []ProposalType {
	var types []ProposalType
	if len(b.Additions) > 0 {
		types = append(types, ProposalTypeAdd)
	}
	if len(b.Updates) > 0 {
		types = append(types, ProposalTypeUpdate)
	}
	if len(b.Removals) > 0 {
		types = append(types, ProposalTypeRemove)
	}
	if len(b.PSKs) > 0 {
		types = append(types, ProposalTypePSK)
	}
	if len(b.ReInits) > 0 {
		types = append(types, ProposalTypeReInit)
	}
	if len(b.ExternalInits) > 0 {
		types = append(types, ProposalTypeExternalInit)
	}
	if len(b.GCExtensions) > 0 {
		types = append(types, ProposalTypeGroupContextExtensions)
	}
	for _, c := range b.Customs {
		types = append(types, c.Proposal.CustomType)
	}
	return types
}

// ToProposalsOrRefs flattens the bundle back to wire order for
// embedding in a Commit: by-reference entries become ProposalRef,
// everything else is embedded by value. Order across buckets follows
// additions, updates, removals, psks, reinits, external inits, group
// context extensions, customs — matching mls-rs's into_proposals chain
// order in bundle.rs.
func (b *ProposalBundle) ToProposalsOrRefs() []ProposalOrRef {
	var out []ProposalOrRef

	emit := func(sourced ProposalSource, p Proposal) {
		if sourced.IsByReferenceBundle() {
			out = append(out, ProposalOrRef{Kind: ProposalOrRefKindReference, Reference: sourced.Reference})
			return
		}
		out = append(out, ProposalOrRef{Kind: ProposalOrRefKindValue, Proposal: &p})
	}

	for _, a := range b.Additions {
		emit(a.Source, Proposal{ProposalType: ProposalTypeAdd, Add: &a.Proposal})
	}
	for _, u := range b.Updates {
		emit(u.Source, Proposal{ProposalType: ProposalTypeUpdate, Update: &u.Proposal})
	}
	for _, r := range b.Removals {
		emit(r.Source, Proposal{ProposalType: ProposalTypeRemove, Remove: &r.Proposal})
	}
	for _, p := range b.PSKs {
		emit(p.Source, Proposal{ProposalType: ProposalTypePSK, PSK: &p.Proposal})
	}
	for _, r := range b.ReInits {
		emit(r.Source, Proposal{ProposalType: ProposalTypeReInit, ReInit: &r.Proposal})
	}
	for _, e := range b.ExternalInits {
		emit(e.Source, Proposal{ProposalType: ProposalTypeExternalInit, ExternalInit: &e.Proposal})
	}
	for _, g := range b.GCExtensions {
		emit(g.Source, Proposal{ProposalType: ProposalTypeGroupContextExtensions, GCExtensions: &g.Proposal})
	}
	for _, c := range b.Customs {
		emit(c.Source, Proposal{ProposalType: ProposalTypeCustom, Custom: &c.Proposal})
	}

	return out
}

// IsByReferenceBundle reports whether this source names a
// ProposalStore entry rather than carrying/embedding a value.
func (s ProposalSource) IsByReferenceBundle() bool {
	return s.ByReference && !s.CustomRule
}

// retainProposals keeps only the entries of bucket for which keep
// returns true, preserving order, and reports how many were dropped.
func retainProposals[T any](bucket *[]ProposalInfo[T], keep func(Sender, ProposalSource) bool) int {
	kept := (*bucket)[:0]
	dropped := 0
	for _, p := range *bucket {
		if keep(p.Sender, p.Source) {
			kept = append(kept, p)
		} else {
			dropped++
		}
	}
	*bucket = kept
	return dropped
}

// RetainByType keeps only the entries of the single bucket named by t
// for which keep returns true; every other bucket is untouched.
// Mirrors mls-rs's ProposalBundle::retain_by_type (bundle.rs), used by
// a ProposalFilter that wants to drop some but not all proposals of one
// type without touching the rest of the bundle. It reports how many
// entries were dropped.
func (b *ProposalBundle) RetainByType(t ProposalType, keep func(sender Sender, source ProposalSource) bool) int {
	switch t {
	case ProposalTypeAdd:
		return retainProposals(&b.Additions, keep)
	case ProposalTypeUpdate:
		return retainProposals(&b.Updates, keep)
	case ProposalTypeRemove:
		return retainProposals(&b.Removals, keep)
	case ProposalTypePSK:
		return retainProposals(&b.PSKs, keep)
	case ProposalTypeReInit:
		return retainProposals(&b.ReInits, keep)
	case ProposalTypeExternalInit:
		return retainProposals(&b.ExternalInits, keep)
	case ProposalTypeGroupContextExtensions:
		return retainProposals(&b.GCExtensions, keep)
	default:
		dropped := 0
		kept := b.Customs[:0]
		for _, c := range b.Customs {
			if c.Proposal.CustomType != t || keep(c.Sender, c.Source) {
				kept = append(kept, c)
			} else {
				dropped++
			}
		}
		b.Customs = kept
		return dropped
	}
}

// Retain applies keep across every bucket in the bundle, mirroring
// mls-rs's ProposalBundle::retain. It reports the total number of
// entries dropped across all eight buckets.
func (b *ProposalBundle) Retain(keep func(t ProposalType, sender Sender, source ProposalSource) bool) int {
	n := retainProposals(&b.Additions, func(s Sender, src ProposalSource) bool { return keep(ProposalTypeAdd, s, src) })
	n += retainProposals(&b.Updates, func(s Sender, src ProposalSource) bool { return keep(ProposalTypeUpdate, s, src) })
	n += retainProposals(&b.Removals, func(s Sender, src ProposalSource) bool { return keep(ProposalTypeRemove, s, src) })
	n += retainProposals(&b.PSKs, func(s Sender, src ProposalSource) bool { return keep(ProposalTypePSK, s, src) })
	n += retainProposals(&b.ReInits, func(s Sender, src ProposalSource) bool { return keep(ProposalTypeReInit, s, src) })
	n += retainProposals(&b.ExternalInits, func(s Sender, src ProposalSource) bool { return keep(ProposalTypeExternalInit, s, src) })
	n += retainProposals(&b.GCExtensions, func(s Sender, src ProposalSource) bool { return keep(ProposalTypeGroupContextExtensions, s, src) })

	dropped := 0
	kept := b.Customs[:0]
	for _, c := range b.Customs {
		if keep(c.Proposal.CustomType, c.Sender, c.Source) {
			kept = append(kept, c)
		} else {
			dropped++
		}
	}
	b.Customs = kept
	return n + dropped
}

// HasByReferenceProposal reports whether any bucket carries a
// by-reference entry, used to enforce GroupConfig.AllowProposalByReference.
func (b *ProposalBundle) HasByReferenceProposal() bool {
	return anyByReference(b.Additions) || anyByReference(b.Updates) || anyByReference(b.Removals) ||
		anyByReference(b.PSKs) || anyByReference(b.ReInits) || anyByReference(b.ExternalInits) ||
		anyByReference(b.GCExtensions) || anyByReference(b.Customs)
}

func anyByReference[T any](bucket []ProposalInfo[T]) bool {
	for _, p := range bucket {
		if p.IsByReference() {
			return true
		}
	}
	return false
}
