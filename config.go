package mls

// GroupConfig carries the policy choices the original Rust source
// gated at compile time via Cargo feature flags (`psk`,
// `external_commit`, `custom_proposal`, `all_extensions`, by-reference
// proposals). Turning them into functional-option runtime fields means
// an invalid combination is a validation error at commit time instead
// of a missing code path (spec.md §9 design note).
type GroupConfig struct {
	AllowExternalCommit      bool
	AllowCustomProposals     bool
	AllowProposalByReference bool
	EncryptHandshake         bool
	MaxPastEpochGenerations  int
	MaxPastEpochsRetained    int
	AllowedExtensions        []ExtensionType
	ProposalFilter           ProposalFilter
}

// GroupConfigOption mutates a GroupConfig under construction.
type GroupConfigOption func(*GroupConfig)

// NewGroupConfig builds a GroupConfig from defaults plus options. The
// defaults match mls-rs's behavior with every optional feature
// enabled: external commits and by-reference proposals are permitted,
// custom proposals are not (a deployment must opt in explicitly since
// the core cannot validate an opaque proposal type on its own),
// handshake messages are encrypted, and the secret tree keeps 1000
// generations of replay window with 3 epochs of storage retention
// (spec.md §4.5, §6 "Default retention: last 3 epochs").
func NewGroupConfig(opts ...GroupConfigOption) *GroupConfig {
	c := &GroupConfig{
		AllowExternalCommit:      true,
		AllowCustomProposals:     false,
		AllowProposalByReference: true,
		EncryptHandshake:         true,
		MaxPastEpochGenerations:  defaultMaxPastGenerations,
		MaxPastEpochsRetained:    3,
		ProposalFilter:           PassThroughProposalFilter{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithExternalCommit(allow bool) GroupConfigOption {
	return func(c *GroupConfig) { c.AllowExternalCommit = allow }
}

func WithCustomProposals(allow bool) GroupConfigOption {
	return func(c *GroupConfig) { c.AllowCustomProposals = allow }
}

func WithProposalByReference(allow bool) GroupConfigOption {
	return func(c *GroupConfig) { c.AllowProposalByReference = allow }
}

func WithEncryptHandshake(encrypt bool) GroupConfigOption {
	return func(c *GroupConfig) { c.EncryptHandshake = encrypt }
}

func WithMaxPastEpochGenerations(n int) GroupConfigOption {
	return func(c *GroupConfig) { c.MaxPastEpochGenerations = n }
}

func WithMaxPastEpochsRetained(n int) GroupConfigOption {
	return func(c *GroupConfig) { c.MaxPastEpochsRetained = n }
}

func WithAllowedExtensions(types ...ExtensionType) GroupConfigOption {
	return func(c *GroupConfig) { c.AllowedExtensions = types }
}

func WithProposalFilter(f ProposalFilter) GroupConfigOption {
	return func(c *GroupConfig) { c.ProposalFilter = f }
}
