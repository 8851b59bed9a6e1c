package mls

// ProposalType tags which variant a Proposal carries.
type ProposalType uint16

const (
	ProposalTypeAdd                    ProposalType = 1
	ProposalTypeUpdate                 ProposalType = 2
	ProposalTypeRemove                 ProposalType = 3
	ProposalTypePSK                    ProposalType = 4
	ProposalTypeReInit                 ProposalType = 5
	ProposalTypeExternalInit           ProposalType = 6
	ProposalTypeGroupContextExtensions ProposalType = 7
	ProposalTypeCustom                 ProposalType = 0xff00
)

// AddProposal introduces a new member via their KeyPackage.
type AddProposal struct {
	KeyPackage KeyPackage
}

// UpdateProposal replaces the sender's own leaf.
type UpdateProposal struct {
	LeafNode LeafNode
}

// RemoveProposal removes an existing member by leaf index.
type RemoveProposal struct {
	Removed leafIndex
}

// PSKType distinguishes an externally-provisioned PSK from one
// resumed from a prior epoch/group (spec.md §3 Proposal variants).
type PSKType uint8

const (
	PSKTypeExternal   PSKType = 1
	PSKTypeResumption PSKType = 2
)

// ResumptionPSKUsage narrows a Resumption PSK's origin. Only
// Application resumption PSKs are accepted by the §4.2 validation
// pipeline (step 6).
type ResumptionPSKUsage uint8

const (
	ResumptionPSKUsageApplication ResumptionPSKUsage = 1
	ResumptionPSKUsageReInit      ResumptionPSKUsage = 2
	ResumptionPSKUsageBranch      ResumptionPSKUsage = 3
)

// PreSharedKeyID names a PSK: either an opaque external id, or a
// (group_id, epoch) pair to resume from.
type PreSharedKeyID struct {
	PSKType      PSKType
	ExternalID   []byte `tls:"head=1"`
	ResumptionUsage ResumptionPSKUsage
	ResumptionGroupID []byte `tls:"head=1"`
	ResumptionEpoch   uint64
	PSKNonce     []byte `tls:"head=1"`
}

// PreSharedKeyProposal injects an out-of-band PSK's entropy into the
// next epoch's key schedule.
type PreSharedKeyProposal struct {
	PSK PreSharedKeyID
}

// ReInitProposal tears the current group down in favor of a fresh one
// under (possibly) a different cipher suite or protocol version.
type ReInitProposal struct {
	GroupID         []byte `tls:"head=1"`
	ProtocolVersion ProtocolVersion
	CipherSuite     CipherSuite
	Extensions      ExtensionList
}

// ExternalInitProposal is the sole proposal a non-member may submit in
// an external commit. Kem seals a fresh random secret to the group's
// current external_pub (itself derived from external_secret, spec.md
// §4.4); the committer opens it with the matching external_priv to
// recover the same shared secret, which folds into commit_secret
// alongside any UpdatePath-derived secret.
type ExternalInitProposal struct {
	Kem HPKECiphertext
}

// GroupContextExtensionsProposal replaces the group's extension list.
type GroupContextExtensionsProposal struct {
	Extensions ExtensionList
}

// CustomProposal carries an opaque proposal type the core does not
// interpret; a ProposalFilter is responsible for understanding it.
type CustomProposal struct {
	CustomType ProposalType
	Data       []byte `tls:"head=4"`
}

// Proposal is a tagged sum over the eight variants above. A per-
// variant bucket in ProposalBundle (proposal-bundle.go) means the hot
// validation path never needs to switch on this tag; it only appears
// when decoding wire bytes or re-encoding a bundle back to wire form.
type Proposal struct {
	ProposalType ProposalType

	Add        *AddProposal
	Update     *UpdateProposal
	Remove     *RemoveProposal
	PSK        *PreSharedKeyProposal
	ReInit     *ReInitProposal
	ExternalInit *ExternalInitProposal
	GCExtensions *GroupContextExtensionsProposal
	Custom     *CustomProposal
}

func (p Proposal) MarshalTLS() ([]byte, error) {
	head, err := syntaxMarshal(p.ProposalType)
	if err != nil {
		return nil, err
	}

	var body []byte
	switch p.ProposalType {
	case ProposalTypeAdd:
		body, err = syntaxMarshal(p.Add)
	case ProposalTypeUpdate:
		body, err = syntaxMarshal(p.Update)
	case ProposalTypeRemove:
		body, err = syntaxMarshal(p.Remove)
	case ProposalTypePSK:
		body, err = syntaxMarshal(p.PSK)
	case ProposalTypeReInit:
		body, err = syntaxMarshal(p.ReInit)
	case ProposalTypeExternalInit:
		body, err = syntaxMarshal(p.ExternalInit)
	case ProposalTypeGroupContextExtensions:
		body, err = syntaxMarshal(p.GCExtensions)
	case ProposalTypeCustom:
		body, err = syntaxMarshal(p.Custom)
	default:
		return nil, wrapErr(ClassProtocol, ErrUnknownContent, "unknown proposal type")
	}
	if err != nil {
		return nil, err
	}
	return append(head, body...), nil
}

func (p *Proposal) UnmarshalTLS(data []byte) (int, error) {
	var pt ProposalType
	n, err := syntaxUnmarshal(data, &pt)
	if err != nil {
		return 0, err
	}
	p.ProposalType = pt

	rest := data[n:]
	var m int
	switch pt {
	case ProposalTypeAdd:
		p.Add = &AddProposal{}
		m, err = syntaxUnmarshal(rest, p.Add)
	case ProposalTypeUpdate:
		p.Update = &UpdateProposal{}
		m, err = syntaxUnmarshal(rest, p.Update)
	case ProposalTypeRemove:
		p.Remove = &RemoveProposal{}
		m, err = syntaxUnmarshal(rest, p.Remove)
	case ProposalTypePSK:
		p.PSK = &PreSharedKeyProposal{}
		m, err = syntaxUnmarshal(rest, p.PSK)
	case ProposalTypeReInit:
		p.ReInit = &ReInitProposal{}
		m, err = syntaxUnmarshal(rest, p.ReInit)
	case ProposalTypeExternalInit:
		p.ExternalInit = &ExternalInitProposal{}
		m, err = syntaxUnmarshal(rest, p.ExternalInit)
	case ProposalTypeGroupContextExtensions:
		p.GCExtensions = &GroupContextExtensionsProposal{}
		m, err = syntaxUnmarshal(rest, p.GCExtensions)
	case ProposalTypeCustom:
		p.Custom = &CustomProposal{}
		m, err = syntaxUnmarshal(rest, p.Custom)
	default:
		return 0, wrapErr(ClassProtocol, ErrUnknownContent, "unknown proposal type")
	}
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

// ProposalRef is a hash reference over a serialized proposal,
// truncated to 16 bytes, naming a by-reference proposal within its
// epoch (spec.md §3).
type ProposalRef [16]byte

// ComputeProposalRef hashes the wire encoding of p with the group's
// cipher suite and truncates to 16 bytes.
func ComputeProposalRef(p CipherSuiteProvider, proposal Proposal) (ProposalRef, error) {
	enc, err := syntaxMarshal(proposal)
	if err != nil {
		return ProposalRef{}, err
	}
	digest := p.Hash(enc)

	var ref ProposalRef
	copy(ref[:], digest[:16])
	return ref, nil
}

// ProposalOrRefKind tags whether a Commit carries a proposal inline or
// by reference to the ProposalStore.
type ProposalOrRefKind uint8

const (
	ProposalOrRefKindValue     ProposalOrRefKind = 1
	ProposalOrRefKindReference ProposalOrRefKind = 2
)

// ProposalOrRef is the wire representation of a proposal inside a
// Commit: either embedded by value, or named by its ProposalRef.
type ProposalOrRef struct {
	Kind      ProposalOrRefKind
	Proposal  *Proposal
	Reference ProposalRef
}

func (por ProposalOrRef) MarshalTLS() ([]byte, error) {
	head, err := syntaxMarshal(por.Kind)
	if err != nil {
		return nil, err
	}
	var body []byte
	switch por.Kind {
	case ProposalOrRefKindValue:
		body, err = syntaxMarshal(por.Proposal)
	case ProposalOrRefKindReference:
		body, err = syntaxMarshal(por.Reference)
	default:
		return nil, wrapErr(ClassProtocol, ErrUnknownContent, "unknown proposal-or-ref kind")
	}
	if err != nil {
		return nil, err
	}
	return append(head, body...), nil
}

func (por *ProposalOrRef) UnmarshalTLS(data []byte) (int, error) {
	var kind ProposalOrRefKind
	n, err := syntaxUnmarshal(data, &kind)
	if err != nil {
		return 0, err
	}
	por.Kind = kind

	rest := data[n:]
	var m int
	switch kind {
	case ProposalOrRefKindValue:
		por.Proposal = &Proposal{}
		m, err = syntaxUnmarshal(rest, por.Proposal)
	case ProposalOrRefKindReference:
		m, err = syntaxUnmarshal(rest, &por.Reference)
	default:
		return 0, wrapErr(ClassProtocol, ErrUnknownContent, "unknown proposal-or-ref kind")
	}
	if err != nil {
		return 0, err
	}
	return n + m, nil
}
