package mls

import (
	"errors"
	"fmt"
)

// ErrorClass tags an Error with the §7 recovery-policy bucket it
// belongs to, so callers can decide whether to surface, drop, or
// roll back without inspecting the specific sentinel.
type ErrorClass int

const (
	ClassProtocol ErrorClass = iota
	ClassValidation
	ClassCrypto
	ClassIdentity
	ClassState
	ClassStorage
	ClassProgrammer
)

func (c ErrorClass) String() string {
	switch c {
	case ClassProtocol:
		return "protocol"
	case ClassValidation:
		return "validation"
	case ClassCrypto:
		return "crypto"
	case ClassIdentity:
		return "identity"
	case ClassState:
		return "state"
	case ClassStorage:
		return "storage"
	case ClassProgrammer:
		return "programmer"
	default:
		return "unknown"
	}
}

// Error wraps a sentinel with its recovery class and optional context.
type Error struct {
	Class ErrorClass
	Err   error
	Msg   string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("mls: %s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("mls: %s: %v: %s", e.Class, e.Err, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(class ErrorClass, err error, msg string) error {
	return &Error{Class: class, Err: err, Msg: msg}
}

// Protocol errors: wrong epoch, wrong group_id, wrong version, unknown
// content type.
var (
	ErrWrongEpoch       = errors.New("wrong epoch")
	ErrWrongGroupID     = errors.New("wrong group_id")
	ErrWrongVersion     = errors.New("wrong protocol version")
	ErrUnknownContent   = errors.New("unknown content type")
	ErrGroupTerminated  = errors.New("group terminated")
	ErrUnexpectedFormat = errors.New("unexpected wire format for this operation")
)

// Validation errors: signature/MAC/hash mismatches, bad proposal
// composition, and the specific conditions named in mls-rs's
// ProposalFilterError.
var (
	ErrSignatureInvalid                = errors.New("signature verification failed")
	ErrMembershipTagInvalid            = errors.New("membership tag verification failed")
	ErrConfirmationTagInvalid          = errors.New("confirmation tag verification failed")
	ErrParentHashMismatch              = errors.New("parent hash mismatch")
	ErrTreeHashMismatch                = errors.New("tree hash mismatch")
	ErrDuplicateLeafKey                = errors.New("duplicate leaf encryption key")
	ErrInvalidCommitSelfUpdate         = errors.New("committer must not include an update proposal they authored")
	ErrCommitterSelfRemoval            = errors.New("committer can not remove themselves")
	ErrMoreThanOneProposalForLeaf      = errors.New("more than one proposal references the same leaf")
	ErrMoreThanOneGroupContextExtProp  = errors.New("more than one group context extensions proposal")
	ErrMoreThanOneReInitProposal       = errors.New("more than one reinit proposal")
	ErrOtherProposalWithReInit         = errors.New("reinit must be the only proposal in its commit")
	ErrInvalidProposalTypeForSender    = errors.New("sender is not permitted to send this proposal type")
	ErrOnlyMembersCanProposeByRef      = errors.New("only members can commit proposals by reference")
	ErrUnknownProposalRef              = errors.New("proposal reference does not resolve to a known proposal")
	ErrExpiredProposalRef              = errors.New("proposal reference has expired")
	ErrInvalidPskNonceLength           = errors.New("invalid PSK nonce length")
	ErrInvalidPskTypeOrUsage           = errors.New("PSK proposal must be External, or Resumption with usage Application")
	ErrDuplicatePskIDs                 = errors.New("duplicate PSK ids in bundle")
	ErrKeyPackageCipherSuiteMismatch   = errors.New("key package cipher suite does not match the group")
	ErrKeyPackageVersionMismatch       = errors.New("key package protocol version does not match the group")
	ErrKeyPackageLifetimeInvalid       = errors.New("key package lifetime does not cover the current time")
	ErrCapabilitiesInsufficient        = errors.New("leaf capabilities do not cover an extension or proposal type in use")
	ErrUpdateIdentityMismatch          = errors.New("update proposal changes the leaf's identity")
	ErrRemoveTargetBlank               = errors.New("remove proposal targets a blank leaf")
	ErrRemoveTargetIsCommitter         = errors.New("remove proposal targets the committer")
	ErrExternalCommitMustHaveOneInit   = errors.New("external commit must have exactly one external init proposal")
	ErrExternalCommitNeedsNewLeaf      = errors.New("external commit must add the joiner's own leaf")
	ErrExternalCommitNeedsPath         = errors.New("external commit must carry an update path")
	ErrExternalCommitRemovesOther      = errors.New("external commit removes an identity other than the joiner's own prior one")
	ErrExternalCommitExtraRemove       = errors.New("external commit contains more than one remove proposal")
	ErrExternalSenderCannotCommit      = errors.New("external sender cannot commit")
	ErrInvalidProposalTypeInExtCommit  = errors.New("proposal type not permitted in an external commit")
	ErrProgrammerNoProposalsOrPath     = errors.New("commit has no proposals and no update path where one is required")
	ErrExternalCommitNotAllowed        = errors.New("group config disallows external commits")
	ErrProposalByReferenceNotAllowed   = errors.New("group config disallows by-reference proposals")
	ErrExtensionNotAllowed             = errors.New("extension type is not on the group's allowed list")
)

// Crypto errors: provider failure, unsupported suite.
var (
	ErrUnsupportedCipherSuite = errors.New("unsupported cipher suite")
	ErrCryptoProviderFailed   = errors.New("cipher suite provider returned failure")
	ErrAEADSealFailed         = errors.New("AEAD seal failed")
	ErrAEADOpenFailed         = errors.New("AEAD open failed")
	ErrHPKEFailed             = errors.New("HPKE operation failed")
)

// Identity errors.
var (
	ErrIdentityRejected         = errors.New("identity provider rejected the credential")
	ErrInvalidSuccessor         = errors.New("new identity is not a valid successor of the old one")
)

// State errors: unknown group, stale/future message, wrong epoch path.
var (
	ErrUnknownGroup   = errors.New("unknown group_id")
	ErrStaleMessage   = errors.New("message generation is below the receive window")
	ErrFutureMessage  = errors.New("message generation is above the receive window")
	ErrStaleCommit    = errors.New("commit epoch is not current+1")
	ErrFutureCommit   = errors.New("commit epoch is ahead of the buffered window")
	ErrNotAMember     = errors.New("operation requires group membership")
	ErrNotEncryptedObserver = errors.New("external client cannot process an encrypted handshake message")
)

// Storage errors are opaque wrappers around whatever the storage
// provider returned.
var ErrStorageFailed = errors.New("storage provider failed")

// ErrUnsupportedVersion flags a persisted snapshot whose version tag
// this build does not know how to decode.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")
