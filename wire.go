package mls

// ProtocolVersion identifies the wire version of the MLS protocol in
// use; RFC 9420 defines MLS10 as the sole current value.
type ProtocolVersion uint16

const ProtocolVersionMLS10 ProtocolVersion = 1

// Extension is a single {type, opaque data} pair. ExtensionList is an
// ordered collection of them, carried on GroupContext, LeafNode, and
// KeyPackage.
type ExtensionType uint16

type Extension struct {
	ExtensionType ExtensionType
	ExtensionData []byte `tls:"head=4"`
}

type ExtensionList struct {
	Extensions []Extension `tls:"head=4"`
}

// Has reports whether the list carries an extension of type t.
func (l ExtensionList) Has(t ExtensionType) bool {
	for _, e := range l.Extensions {
		if e.ExtensionType == t {
			return true
		}
	}
	return false
}

// Find returns the extension of type t, if present.
func (l ExtensionList) Find(t ExtensionType) (Extension, bool) {
	for _, e := range l.Extensions {
		if e.ExtensionType == t {
			return e, true
		}
	}
	return Extension{}, false
}

// SenderType classifies who originated a proposal or commit.
type SenderType uint8

const (
	SenderTypeMember SenderType = iota + 1
	SenderTypeExternal
	SenderTypeNewMemberProposal
	SenderTypeNewMemberCommit
)

// Sender identifies the originator of a proposal, commit, or message.
// LeafIndex is meaningful only when Type is SenderTypeMember.
type Sender struct {
	Type      SenderType
	LeafIndex leafIndex
	SenderIndex uint32 // index into the external_senders extension, when Type == SenderTypeExternal
}

// ContentType distinguishes the three kinds of framed content: an
// application message, a proposal sent as a standalone handshake
// message, or a commit.
type ContentType uint8

const (
	ContentTypeApplication ContentType = 1
	ContentTypeProposal    ContentType = 2
	ContentTypeCommit      ContentType = 3
)

// WireFormat tags whether a framed message is a PublicMessage (signed,
// optionally MAC'd) or a PrivateMessage (AEAD-encrypted).
type WireFormat uint16

const (
	WireFormatPublicMessage  WireFormat = 1
	WireFormatPrivateMessage WireFormat = 2
	WireFormatWelcome        WireFormat = 3
	WireFormatGroupInfo      WireFormat = 4
	WireFormatKeyPackage     WireFormat = 5
)

// FramedContentAuthData carries the sender's signature and, for
// commits, the confirmation tag — the two authenticators that bind a
// message to a specific group and epoch.
type FramedContentAuthData struct {
	Signature       []byte `tls:"head=2"`
	ConfirmationTag []byte `tls:"head=1,optional"`
}

// FramedContent is the content common to every message kind before
// framing: the fields that go into both the signature and (for
// commits) the confirmed transcript hash. The content-type-dependent
// payload is carried by exactly one of ApplicationData, Proposal, or
// Commit; MarshalTLS/UnmarshalTLS enforce that invariant explicitly
// rather than through a declarative selector tag, the same way the
// teacher hand-rolls MarshalTLS for its Bytes1 type in key-schedule.go.
type FramedContent struct {
	GroupID           []byte `tls:"head=1"`
	Epoch             uint64
	Sender            Sender
	AuthenticatedData []byte `tls:"head=4"`
	ContentType       ContentType
	ApplicationData   []byte
	Proposal          *Proposal
	Commit            *Commit
}

// MarshalTLS encodes the content-type-tagged payload manually: the
// fixed prefix through ContentType, followed by exactly the field that
// ContentType selects.
func (c FramedContent) MarshalTLS() ([]byte, error) {
	prefix, err := syntaxMarshal(struct {
		GroupID           []byte `tls:"head=1"`
		Epoch             uint64
		Sender            Sender
		AuthenticatedData []byte `tls:"head=4"`
		ContentType       ContentType
	}{c.GroupID, c.Epoch, c.Sender, c.AuthenticatedData, c.ContentType})
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch c.ContentType {
	case ContentTypeApplication:
		payload, err = syntaxMarshal(struct {
			Data []byte `tls:"head=4"`
		}{c.ApplicationData})
	case ContentTypeProposal:
		payload, err = syntaxMarshal(c.Proposal)
	case ContentTypeCommit:
		payload, err = syntaxMarshal(c.Commit)
	default:
		return nil, wrapErr(ClassProtocol, ErrUnknownContent, "")
	}
	if err != nil {
		return nil, err
	}

	return append(prefix, payload...), nil
}

// UnmarshalTLS decodes the fixed prefix, then the payload selected by
// the decoded ContentType.
func (c *FramedContent) UnmarshalTLS(data []byte) (int, error) {
	var prefix struct {
		GroupID           []byte `tls:"head=1"`
		Epoch             uint64
		Sender            Sender
		AuthenticatedData []byte `tls:"head=4"`
		ContentType       ContentType
	}
	n, err := syntaxUnmarshal(data, &prefix)
	if err != nil {
		return 0, err
	}

	c.GroupID = prefix.GroupID
	c.Epoch = prefix.Epoch
	c.Sender = prefix.Sender
	c.AuthenticatedData = prefix.AuthenticatedData
	c.ContentType = prefix.ContentType

	rest := data[n:]
	switch c.ContentType {
	case ContentTypeApplication:
		var payload struct {
			Data []byte `tls:"head=4"`
		}
		m, err := syntaxUnmarshal(rest, &payload)
		if err != nil {
			return 0, err
		}
		c.ApplicationData = payload.Data
		return n + m, nil
	case ContentTypeProposal:
		c.Proposal = &Proposal{}
		m, err := syntaxUnmarshal(rest, c.Proposal)
		if err != nil {
			return 0, err
		}
		return n + m, nil
	case ContentTypeCommit:
		c.Commit = &Commit{}
		m, err := syntaxUnmarshal(rest, c.Commit)
		if err != nil {
			return 0, err
		}
		return n + m, nil
	default:
		return 0, wrapErr(ClassProtocol, ErrUnknownContent, "")
	}
}

// PublicMessage is a plaintext (unencrypted) framed message: signed
// always, and membership-tagged when the group is configured with
// encrypt_handshake=false (spec.md §4.6's MAC'd fallback).
type PublicMessage struct {
	Content        FramedContent
	Auth           FramedContentAuthData
	MembershipTag  []byte `tls:"head=1,optional"`
}

// PrivateMessage is an AEAD-encrypted framed message with a public
// sender-data envelope (spec.md §6 wire format paragraph).
type PrivateMessage struct {
	GroupID             []byte `tls:"head=1"`
	Epoch               uint64
	ContentType         ContentType
	AuthenticatedData   []byte `tls:"head=4"`
	EncryptedSenderData []byte `tls:"head=1"`
	Ciphertext          []byte `tls:"head=4"`
}

// SenderData is the plaintext structure that EncryptedSenderData
// decrypts to: which leaf and generation produced the message, plus
// the per-message reuse guard mixed into the AEAD nonce.
type SenderData struct {
	LeafIndex  leafIndex
	Generation uint32
	ReuseGuard [4]byte
}
