package mls

// treeNode is one slot of the flattened array: either Blank, a Leaf,
// or a Parent. Leaf slots live at even indices, Parent slots at odd
// indices (spec.md §3).
type treeNode struct {
	Blank  bool
	Leaf   *LeafNode
	Parent *ParentNode
}

// RatchetTree is the left-balanced binary tree over 2N-1 node slots
// where N is the smallest power of two >= the leaf count. It is a pure
// array: parent/child/sibling relationships are index arithmetic
// (tree-math.go), never pointers, so no reference cycle can arise
// (spec.md §9).
type RatchetTree struct {
	provider CipherSuiteProvider
	nodes    []treeNode // length nodeWidth(leafCount())
}

// NewRatchetTree returns an empty tree (no leaves) under provider's
// cipher suite.
func NewRatchetTree(provider CipherSuiteProvider) *RatchetTree {
	return &RatchetTree{provider: provider}
}

func (t *RatchetTree) leafCount() leafCount {
	if len(t.nodes) == 0 {
		return 0
	}
	return leafCount((len(t.nodes) + 1) / 2)
}

// LeafCount returns the number of leaf slots, including blanks.
func (t *RatchetTree) LeafCount() uint32 {
	return uint32(t.leafCount())
}

func (t *RatchetTree) ensureWidth(n leafCount) {
	w := int(nodeWidth(n))
	for len(t.nodes) < w {
		t.nodes = append(t.nodes, treeNode{Blank: true})
	}
}

func (t *RatchetTree) slot(x nodeIndex) treeNode {
	if int(x) >= len(t.nodes) {
		return treeNode{Blank: true}
	}
	return t.nodes[x]
}

func (t *RatchetTree) setSlot(x nodeIndex, n treeNode) {
	t.nodes[x] = n
}

// LeafAt returns the leaf at index, or nil if it is blank.
func (t *RatchetTree) LeafAt(index leafIndex) *LeafNode {
	return t.slot(toNodeIndex(index)).Leaf
}

// Clone deep-copies the tree, used by ProposalApplier to produce a
// provisional tree that validation can mutate freely without touching
// the group's active state until a commit is actually accepted.
func (t *RatchetTree) Clone() *RatchetTree {
	clone := &RatchetTree{provider: t.provider, nodes: make([]treeNode, len(t.nodes))}
	for i, n := range t.nodes {
		c := treeNode{Blank: n.Blank}
		if n.Leaf != nil {
			c.Leaf = cloneLeaf(*n.Leaf)
		}
		if n.Parent != nil {
			p := *n.Parent
			p.UnmergedLeaves = append([]leafIndex(nil), n.Parent.UnmergedLeaves...)
			c.Parent = &p
		}
		clone.nodes[i] = c
	}
	return clone
}

// AddLeaf installs leaf at the leftmost blank leaf slot, extending
// the tree (doubling its backing size) if none is free, and marks
// every non-blank ancestor's unmerged_leaves with the new index
// (spec.md §4.1).
func (t *RatchetTree) AddLeaf(leaf LeafNode) (leafIndex, error) {
	for _, key := range t.allLeafKeys() {
		if string(key) == string(leaf.EncryptionKey) {
			return 0, wrapErr(ClassValidation, ErrDuplicateLeafKey, "")
		}
	}

	index, found := t.firstBlankLeaf()
	if !found {
		n := t.leafCount()
		if n == 0 {
			n = 1
		} else {
			n *= 2
		}
		t.ensureWidth(n)
		index, found = t.firstBlankLeaf()
		if !found {
			index = leafIndex(t.leafCount() - 1)
		}
	}

	t.setSlot(toNodeIndex(index), treeNode{Leaf: cloneLeaf(leaf)})

	for _, anc := range directPath(toNodeIndex(index), t.leafCount()) {
		s := t.slot(anc)
		if !s.Blank && s.Parent != nil {
			s.Parent.addUnmerged(index)
		}
	}

	return index, nil
}

func cloneLeaf(l LeafNode) *LeafNode {
	c := l
	return &c
}

func (t *RatchetTree) firstBlankLeaf() (leafIndex, bool) {
	n := t.leafCount()
	for i := leafIndex(0); i < leafIndex(n); i++ {
		if t.slot(toNodeIndex(i)).Blank {
			return i, true
		}
	}
	return 0, false
}

func (t *RatchetTree) allLeafKeys() [][]byte {
	var keys [][]byte
	n := t.leafCount()
	for i := leafIndex(0); i < leafIndex(n); i++ {
		if leaf := t.LeafAt(i); leaf != nil {
			keys = append(keys, leaf.EncryptionKey)
		}
	}
	return keys
}

// UpdateLeaf replaces the leaf at index and blanks every proper
// ancestor (spec.md §4.1): the old path secrets are no longer valid
// once the leaf they seed has changed.
func (t *RatchetTree) UpdateLeaf(index leafIndex, leaf LeafNode) error {
	if t.slot(toNodeIndex(index)).Blank {
		return wrapErr(ClassState, ErrRemoveTargetBlank, "update of blank leaf")
	}
	t.setSlot(toNodeIndex(index), treeNode{Leaf: cloneLeaf(leaf)})
	for _, anc := range directPath(toNodeIndex(index), t.leafCount()) {
		t.setSlot(anc, treeNode{Blank: true})
	}
	return nil
}

// RemoveLeaf blanks the leaf and every proper ancestor, then truncates
// trailing blank leaves back to the next power-of-two boundary
// (spec.md §4.1).
func (t *RatchetTree) RemoveLeaf(index leafIndex) error {
	if t.slot(toNodeIndex(index)).Blank {
		return wrapErr(ClassValidation, ErrRemoveTargetBlank, "")
	}

	t.setSlot(toNodeIndex(index), treeNode{Blank: true})
	for _, anc := range directPath(toNodeIndex(index), t.leafCount()) {
		t.setSlot(anc, treeNode{Blank: true})
	}

	t.truncateBlanks()
	return nil
}

func (t *RatchetTree) truncateBlanks() {
	n := t.leafCount()
	last := leafIndex(n)
	for last > 0 && t.slot(toNodeIndex(last-1)).Blank {
		last--
	}

	newSize := leafCount(1)
	for newSize < leafCount(last) {
		newSize *= 2
	}
	if last == 0 {
		newSize = 0
	}

	t.ensureWidthShrink(newSize)
}

func (t *RatchetTree) ensureWidthShrink(n leafCount) {
	w := int(nodeWidth(n))
	if w < len(t.nodes) {
		t.nodes = t.nodes[:w]
	}
}

// resolution is the minimal set of non-blank node indices covering
// the subtree rooted at x: {x} if x is a non-blank leaf; nil if x is a
// blank leaf; {x} followed by its unmerged leaves if x is a non-blank
// parent (those leaves do not hold x's private key, so they are
// reached through their own leaf keys); the union of both children's
// resolutions if x is a blank parent (spec.md §4.1 "Resolution").
func (t *RatchetTree) resolution(x nodeIndex) []nodeIndex {
	s := t.slot(x)

	if isLeaf(x) {
		if s.Blank {
			return nil
		}
		return []nodeIndex{x}
	}

	if !s.Blank {
		res := []nodeIndex{x}
		for _, u := range s.Parent.UnmergedLeaves {
			res = append(res, toNodeIndex(u))
		}
		return res
	}

	n := t.leafCount()
	return append(t.resolution(left(x)), t.resolution(right(x, n))...)
}

// Resolution exposes the resolution of x; for a non-blank parent it
// includes that parent's unmerged leaves.
func (t *RatchetTree) Resolution(x nodeIndex) []nodeIndex {
	return t.resolution(x)
}

// filterResolutionExcluding returns res with the leaf node of excluded
// removed - used by encap to exclude the committer's own leaf from the
// set that receives an encrypted path secret.
func filterResolutionExcluding(res []nodeIndex, excluded leafIndex) []nodeIndex {
	out := res[:0:0]
	for _, n := range res {
		if isLeaf(n) && toLeafIndex(n) == excluded {
			continue
		}
		out = append(out, n)
	}
	return out
}

// TreeHash computes the recursive Merkle hash over node contents,
// post-order: H(leaf_node | leaf_index) for leaves, H(parent_node |
// left_hash | right_hash) for parents, with Blank-specific encodings
// (spec.md §4.1).
func (t *RatchetTree) TreeHash() ([]byte, error) {
	if t.leafCount() == 0 {
		return t.provider.Hash(nil), nil
	}
	return t.subtreeHash(root(t.leafCount()))
}

func (t *RatchetTree) subtreeHash(x nodeIndex) ([]byte, error) {
	s := t.slot(x)

	if isLeaf(x) {
		var leafBytes []byte
		if !s.Blank {
			enc, err := syntaxMarshal(*s.Leaf)
			if err != nil {
				return nil, err
			}
			leafBytes = enc
		}
		input, err := syntaxMarshal(struct {
			Present bool
			Index   uint32
			Node    []byte `tls:"head=4"`
		}{!s.Blank, uint32(toLeafIndex(x)), leafBytes})
		if err != nil {
			return nil, err
		}
		return t.provider.Hash(input), nil
	}

	n := t.leafCount()
	leftHash, err := t.subtreeHash(left(x))
	if err != nil {
		return nil, err
	}
	rightHash, err := t.subtreeHash(right(x, n))
	if err != nil {
		return nil, err
	}

	var parentBytes []byte
	if !s.Blank {
		enc, err := syntaxMarshal(*s.Parent)
		if err != nil {
			return nil, err
		}
		parentBytes = enc
	}

	input, err := syntaxMarshal(struct {
		Present bool
		Node    []byte `tls:"head=4"`
		Left    []byte `tls:"head=1"`
		Right   []byte `tls:"head=1"`
	}{!s.Blank, parentBytes, leftHash, rightHash})
	if err != nil {
		return nil, err
	}
	return t.provider.Hash(input), nil
}

// originalChildResolutionHash hashes the resolution of child as seen
// at the moment the parent's path secret was encrypted to it - i.e.
// excluding the committer's own leaf, since a committer never
// encrypts to itself.
func (t *RatchetTree) originalChildResolutionHash(child nodeIndex, excludeLeaf leafIndex) ([]byte, error) {
	res := filterResolutionExcluding(t.resolution(child), excludeLeaf)

	var keys [][]byte
	for _, n := range res {
		s := t.slot(n)
		if isLeaf(n) {
			keys = append(keys, s.Leaf.EncryptionKey)
		} else {
			keys = append(keys, s.Parent.EncryptionKey)
		}
	}

	enc, err := syntaxMarshal(struct {
		Keys [][]byte `tls:"head=4"`
	}{keys})
	if err != nil {
		return nil, err
	}
	return t.provider.Hash(enc), nil
}

// ParentHash computes H(encryption_key | parent_hash | child
// resolution hash) for the parent sitting immediately above child on
// child's direct path (spec.md §4.1 parent_hash definition).
func (t *RatchetTree) ParentHash(encryptionKey HPKEPublicKey, parentHash []byte, child nodeIndex, excludeLeaf leafIndex) ([]byte, error) {
	childResHash, err := t.originalChildResolutionHash(child, excludeLeaf)
	if err != nil {
		return nil, err
	}
	input, err := syntaxMarshal(struct {
		EncryptionKey HPKEPublicKey `tls:"head=2"`
		ParentHash    []byte        `tls:"head=1"`
		ChildResHash  []byte        `tls:"head=1"`
	}{encryptionKey, parentHash, childResHash})
	if err != nil {
		return nil, err
	}
	return t.provider.Hash(input), nil
}

// VerifyParentHashes walks every non-blank parent and confirms its
// parent_hash validates against the child on its direct-path side
// (spec.md §4.1 invariant / §8 property 2). excludeLeaf is the leaf
// whose commit most recently produced these parent hashes (path
// secrets are never encrypted to the committer itself).
func (t *RatchetTree) VerifyParentHashes(excludeLeaf leafIndex) error {
	n := t.leafCount()
	if n == 0 {
		return nil
	}
	r := root(n)
	return t.verifyParentHashesAt(r, excludeLeaf)
}

// storedParentHash returns the parent_hash already recorded at x: a
// ParentNode's own field, or a leaf's Source.ParentHash if it was
// installed by a commit. Blank slots and non-Commit leaves carry no
// parent_hash to check against.
func (t *RatchetTree) storedParentHash(x nodeIndex) []byte {
	s := t.slot(x)
	if s.Blank {
		return nil
	}
	if isLeaf(x) {
		if s.Leaf.Source.Kind != LeafNodeSourceCommit {
			return nil
		}
		return s.Leaf.Source.ParentHash
	}
	return s.Parent.ParentHash
}

func (t *RatchetTree) verifyParentHashesAt(x nodeIndex, excludeLeaf leafIndex) error {
	if isLeaf(x) {
		return nil
	}

	n := t.leafCount()
	s := t.slot(x)
	if !s.Blank {
		l, r := left(x), right(x, n)

		// Exactly one of x's two children was installed by the commit
		// that produced x; that child's own stored parent_hash must
		// equal the candidate computed from x using the OTHER child's
		// resolution (spec.md §4.1, §8 property 2).
		lh, err := t.ParentHash(s.Parent.EncryptionKey, s.Parent.ParentHash, l, excludeLeaf)
		if err != nil {
			return err
		}
		rh, err := t.ParentHash(s.Parent.EncryptionKey, s.Parent.ParentHash, r, excludeLeaf)
		if err != nil {
			return err
		}

		rightMatches := string(t.storedParentHash(r)) == string(lh)
		leftMatches := string(t.storedParentHash(l)) == string(rh)
		if !rightMatches && !leftMatches {
			return wrapErr(ClassValidation, ErrParentHashMismatch, "parent_hash does not validate against either child")
		}
	}

	if err := t.verifyParentHashesAt(left(x), excludeLeaf); err != nil {
		return err
	}
	return t.verifyParentHashesAt(right(x, n), excludeLeaf)
}

// parentHashChain computes the parent_hash that belongs on every node
// of one direct path, working from the root down to the leaf: the
// root has no parent, so its children's hash is seeded from an empty
// chain value; each node below that is hashed from its own parent's
// (fresh) public key, that parent's just-computed chain value, and the
// resolution of the sibling the parent's path descends through
// (spec.md §4.1 `encap`, §8 property 2 "parent_hash validates against
// the child on its direct-path side"). dp/cp/pubs are leaf-to-root
// ordered (as directPath/copath return them); the returned slice is
// index-aligned with dp (the last entry, for the root, is left nil -
// root has no parent_hash to verify), and the second return is the
// value that belongs on the leaf itself. Encap and ApplyUpdatePath
// call this with the same shape of inputs so the hash a committer
// seals into its LeafNode and the hashes a receiver installs on the
// new ParentNodes always agree.
func (t *RatchetTree) parentHashChain(dp, cp []nodeIndex, pubs []HPKEPublicKey, excludeLeaf leafIndex) ([][]byte, []byte, error) {
	k := len(dp)
	if k == 0 {
		// The committer's own leaf is the root (a single-member
		// group): there is no ancestor to chain through.
		return nil, []byte{}, nil
	}
	nodeHashes := make([][]byte, k)

	chain := []byte{}
	for j := k - 1; j >= 1; j-- {
		ph, err := t.ParentHash(pubs[j], chain, cp[j], excludeLeaf)
		if err != nil {
			return nil, nil, err
		}
		nodeHashes[j-1] = ph
		chain = ph
	}

	leafHash, err := t.ParentHash(pubs[0], chain, cp[0], excludeLeaf)
	if err != nil {
		return nil, nil, err
	}
	return nodeHashes, leafHash, nil
}

// TreeKEMPrivate is one member's private view of the ratchet tree: its
// own leaf's HPKE private key, plus the private key of every ancestor
// on its own direct path that it currently holds, keyed by node index.
// It starts out holding only the member's leaf key and is extended
// upward by Encap (for the committer, which derives every ancestor key
// directly) and by Decap (for every other receiver covered by the
// commit's update path, which derives them by climbing from the node
// it could decrypt) (spec.md §4.1 decap "re-derive all path secrets
// above that node").
type TreeKEMPrivate struct {
	Leaf        leafIndex
	PrivateKeys map[nodeIndex]HPKEPrivateKey
}

// NewTreeKEMPrivate seeds a fresh TreeKEMPrivate holding only leaf's own
// HPKE private key, the starting point for every member before it has
// processed any commit.
func NewTreeKEMPrivate(leaf leafIndex, leafPriv HPKEPrivateKey) *TreeKEMPrivate {
	return &TreeKEMPrivate{
		Leaf:        leaf,
		PrivateKeys: map[nodeIndex]HPKEPrivateKey{toNodeIndex(leaf): leafPriv},
	}
}

// DerivePrivateFromPathSecret builds a joiner's TreeKEMPrivate out of a
// Welcome's GroupSecrets.path_secret: that secret seeds the lowest
// common ancestor of the joiner's own leaf and the leaf that committed
// the Add, and every node from there up to the root derives forward
// from it exactly as Encap's own chain does (spec.md §4.7 "path
// secret", §4.1 `encap`). Callers that joined without a path secret
// (the group had only one member, or the joiner sat outside the
// committer's update path) have nothing to seed beyond their own leaf
// and should use NewTreeKEMPrivate instead.
func (t *RatchetTree) DerivePrivateFromPathSecret(joiner, committer leafIndex, pathSecret []byte, leafPriv HPKEPrivateKey) (*TreeKEMPrivate, error) {
	priv := NewTreeKEMPrivate(joiner, leafPriv)

	ancestor := commonAncestor(toNodeIndex(joiner), toNodeIndex(committer), t.leafCount())
	dp := directPath(toNodeIndex(joiner), t.leafCount())

	idx := -1
	for i, a := range dp {
		if a == ancestor {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, wrapErr(ClassValidation, ErrUnexpectedFormat, "common ancestor not on joiner's direct path")
	}

	secret := pathSecret
	_, nodePriv, err := t.provider.HPKEDerive(DeriveSecret(t.provider, secret, "node"))
	if err != nil {
		return nil, err
	}
	priv.PrivateKeys[ancestor] = nodePriv

	for i := idx + 1; i < len(dp); i++ {
		secret = DeriveSecret(t.provider, secret, "path")
		_, nodePriv, err := t.provider.HPKEDerive(DeriveSecret(t.provider, secret, "node"))
		if err != nil {
			return nil, err
		}
		priv.PrivateKeys[dp[i]] = nodePriv
	}

	return priv, nil
}

// UpdatePathNode carries one ancestor's fresh encryption key plus the
// path secret re-encrypted to every member of that ancestor's sibling
// resolution.
type UpdatePathNode struct {
	EncryptionKey       HPKEPublicKey `tls:"head=2"`
	EncryptedPathSecret []HPKECiphertext `tls:"head=4"`
}

// UpdatePath is the TreeKEM payload of a Commit: the committer's own
// fresh leaf plus one UpdatePathNode per ancestor on its direct path,
// ordered leaf-to-root (spec.md §4.1 encap/decap, §4.3).
type UpdatePath struct {
	LeafNode LeafNode
	Nodes    []UpdatePathNode `tls:"head=4"`
}

// Encap derives a path secret chain from pathSecretSeed via repeated
// KDF.Expand, computes each ancestor's fresh keypair, HPKE-encrypts
// the path secret to every member of that ancestor's sibling
// resolution (minus the committer's own leaf; unmerged leaves in it
// are encrypted to under their own leaf keys), and records the
// resulting parent_hash on the committer's new LeafNode (the parent
// nodes' own parent_hash values are set by ApplyUpdatePath) (spec.md
// §4.1 `encap`).
func (t *RatchetTree) Encap(leafIndex leafIndex, groupContext []byte, pathSecretSeed []byte, priv *TreeKEMPrivate) (UpdatePath, []byte, map[leafIndex][]byte, error) {
	dp := directPath(toNodeIndex(leafIndex), t.leafCount())
	cp := copath(toNodeIndex(leafIndex), t.leafCount())

	pathSecret := pathSecretSeed
	var nodes []UpdatePathNode
	var pubs []HPKEPublicKey
	var lastPathSecret []byte
	recipientSecrets := make(map[leafIndex][]byte)

	for i, ancestor := range dp {
		pathSecret = DeriveSecret(t.provider, pathSecret, "path")
		lastPathSecret = pathSecret

		pub, nodePriv, err := t.provider.HPKEDerive(DeriveSecret(t.provider, pathSecret, "node"))
		if err != nil {
			return UpdatePath{}, nil, nil, err
		}
		if priv != nil {
			priv.PrivateKeys[ancestor] = nodePriv
		}

		var encrypted []HPKECiphertext
		siblingRes := filterResolutionExcluding(t.resolution(cp[i]), leafIndex)
		for _, target := range siblingRes {
			var targetPub HPKEPublicKey
			s := t.slot(target)
			if isLeaf(target) {
				targetPub = s.Leaf.EncryptionKey
				recipientSecrets[toLeafIndex(target)] = dup(pathSecret)
			} else {
				targetPub = s.Parent.EncryptionKey
			}
			ct, err := t.provider.HPKESeal(targetPub, groupContext, nil, pathSecret)
			if err != nil {
				return UpdatePath{}, nil, nil, err
			}
			encrypted = append(encrypted, ct)
		}

		pubs = append(pubs, pub)
		nodes = append(nodes, UpdatePathNode{EncryptionKey: pub, EncryptedPathSecret: encrypted})
	}

	_, leafParentHash, err := t.parentHashChain(dp, cp, pubs, leafIndex)
	if err != nil {
		return UpdatePath{}, nil, nil, err
	}

	leaf := *t.LeafAt(leafIndex)
	leaf.Source = LeafNodeSource{Kind: LeafNodeSourceCommit, ParentHash: leafParentHash}

	commitSecret := DeriveSecret(t.provider, lastPathSecretOrSeed(lastPathSecret, pathSecretSeed), "path")
	return UpdatePath{LeafNode: leaf, Nodes: nodes}, commitSecret, recipientSecrets, nil
}

func lastPathSecretOrSeed(last, seed []byte) []byte {
	if last != nil {
		return last
	}
	return seed
}

// Decap locates the node closest to `from` whose copath resolution
// contains a node the receiver already holds a private key for (per
// priv.PrivateKeys), HPKE-decrypts the corresponding ciphertext with
// that key, re-derives every path secret above that node, verifies
// each against the public key carried in update_path, and caches the
// newly-derived ancestor private keys into priv so later commits can
// resolve against them too (spec.md §4.1 `decap`).
//
// Matching by node index rather than by leaf identity is what makes
// this work for groups larger than two members: a receiver's held key
// is just as often an internal parent node (inherited from some
// earlier commit) as its own leaf, and resolution() never expands a
// non-blank parent into its descendant leaves, so leaf-only matching
// can only ever succeed for an unmerged leaf or a two-member tree.
func (t *RatchetTree) Decap(updatePath UpdatePath, from leafIndex, groupContext []byte, priv *TreeKEMPrivate) ([]byte, error) {
	dp := directPath(toNodeIndex(from), t.leafCount())
	cp := copath(toNodeIndex(from), t.leafCount())

	resolvedAt := -1
	var ctIndex int
	var matchedNode nodeIndex
	for i, copathNode := range cp {
		res := filterResolutionExcluding(t.resolution(copathNode), from)
		for j, target := range res {
			if _, ok := priv.PrivateKeys[target]; ok {
				resolvedAt = i
				ctIndex = j
				matchedNode = target
				break
			}
		}
		if resolvedAt >= 0 {
			break
		}
	}
	if resolvedAt < 0 {
		return nil, wrapErr(ClassValidation, ErrUnexpectedFormat, "receiver not covered by this update path")
	}
	if resolvedAt >= len(updatePath.Nodes) {
		return nil, wrapErr(ClassValidation, ErrUnexpectedFormat, "update path too short")
	}

	ct := updatePath.Nodes[resolvedAt].EncryptedPathSecret[ctIndex]
	pathSecret, err := t.provider.HPKEOpen(priv.PrivateKeys[matchedNode], groupContext, nil, ct)
	if err != nil {
		return nil, wrapErr(ClassCrypto, ErrHPKEFailed, err.Error())
	}

	// The opened pathSecret is dp[resolvedAt]'s own path secret (the
	// same value Encap held at this iteration before climbing further),
	// so dp[resolvedAt]'s keypair must be derived and cached here too -
	// it is the receiver's new nearest ancestor, not just a stepping
	// stone to the ones above it.
	pub0, priv0, err := t.provider.HPKEDerive(DeriveSecret(t.provider, pathSecret, "node"))
	if err != nil {
		return nil, err
	}
	if string(pub0) != string(updatePath.Nodes[resolvedAt].EncryptionKey) {
		return nil, wrapErr(ClassValidation, ErrParentHashMismatch, "derived path key does not match update path")
	}
	priv.PrivateKeys[dp[resolvedAt]] = priv0

	for i := resolvedAt + 1; i < len(dp); i++ {
		pathSecret = DeriveSecret(t.provider, pathSecret, "path")
		pub, nodePriv, err := t.provider.HPKEDerive(DeriveSecret(t.provider, pathSecret, "node"))
		if err != nil {
			return nil, err
		}
		if string(pub) != string(updatePath.Nodes[i].EncryptionKey) {
			return nil, wrapErr(ClassValidation, ErrParentHashMismatch, "derived path key does not match update path")
		}
		priv.PrivateKeys[dp[i]] = nodePriv
	}

	return DeriveSecret(t.provider, pathSecret, "path"), nil
}

// ApplyUpdatePath installs the new leaf and fresh parent nodes carried
// by updatePath, clearing each touched parent's unmerged_leaves
// (spec.md §4.1 `apply_update_path`). The per-node parent_hash values
// are not carried on the wire (only the leaf's is); every applier
// reproduces them from the new public keys via the same chain Encap
// used to seal them, and rejects the path if the reproduced leaf hash
// does not match the one the committer attached to its LeafNode.
func (t *RatchetTree) ApplyUpdatePath(from leafIndex, updatePath UpdatePath) error {
	dp := directPath(toNodeIndex(from), t.leafCount())
	if len(dp) != len(updatePath.Nodes) {
		return wrapErr(ClassValidation, ErrUnexpectedFormat, "update path length does not match direct path")
	}
	cp := copath(toNodeIndex(from), t.leafCount())

	pubs := make([]HPKEPublicKey, len(updatePath.Nodes))
	for i, n := range updatePath.Nodes {
		pubs[i] = n.EncryptionKey
	}

	nodeHashes, leafParentHash, err := t.parentHashChain(dp, cp, pubs, from)
	if err != nil {
		return err
	}
	if string(leafParentHash) != string(updatePath.LeafNode.Source.ParentHash) {
		return wrapErr(ClassValidation, ErrParentHashMismatch, "leaf parent_hash does not match the installed update path")
	}

	t.setSlot(toNodeIndex(from), treeNode{Leaf: cloneLeaf(updatePath.LeafNode)})
	for i, ancestor := range dp {
		pn := &ParentNode{EncryptionKey: updatePath.Nodes[i].EncryptionKey, ParentHash: nodeHashes[i]}
		t.setSlot(ancestor, treeNode{Parent: pn})
	}

	return nil
}
