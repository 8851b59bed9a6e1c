package mls

// A secretTree hands out per-message keys for one epoch. It adapts the
// teacher's tree-structured base-key derivation (originally
// key-schedule.go's treeBaseKeySource) to RFC 9420 §9's secret tree:
// encryption_secret seeds the root, each internal node derives its two
// children by expanding its secret with label "tree" and context
// "left" or "right", and each leaf's secret
// splits into an independent handshake and application hash ratchet.

// ratchetKind selects which of a leaf's two independent ratchets a
// caller wants (spec.md §4.5 "two independent ratchets per leaf").
type ratchetKind uint8

const (
	ratchetHandshake ratchetKind = iota
	ratchetApplication
)

func (k ratchetKind) label() string {
	if k == ratchetHandshake {
		return "handshake"
	}
	return "application"
}

// defaultMaxPastGenerations bounds how far behind the current
// generation a ratchet will still derive and cache a requested key
// before returning ErrStaleMessage (spec.md §4.5 "generation window").
// Overridable via GroupConfig.MaxPastEpochGenerations.
const defaultMaxPastGenerations = 1000

// keyAndNonce is one generation's derived AEAD key material.
type keyAndNonce struct {
	Key   []byte
	Nonce []byte
}

func zeroizeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// hashRatchet is a single forward-secret KDF chain: each Next() call
// both returns the current generation's key/nonce and advances the
// chain, discarding the previous secret. Past generations remain
// available via Get up to maxPast steps behind the most recently
// issued one, to tolerate reordered delivery (spec.md §4.5).
type hashRatchet struct {
	provider       CipherSuiteProvider
	nextSecret     []byte
	nextGeneration uint32
	cache          map[uint32]keyAndNonce
	maxPast        int
}

func newHashRatchet(p CipherSuiteProvider, baseSecret []byte, maxPast int) *hashRatchet {
	return &hashRatchet{
		provider: p,
		nextSecret: baseSecret,
		cache:    map[uint32]keyAndNonce{},
		maxPast:  maxPast,
	}
}

func (hr *hashRatchet) step() (uint32, keyAndNonce) {
	c := hr.provider.Suite().Constants()
	key := DeriveSecret(hr.provider, hr.nextSecret, "key")
	key = key[:c.KeySize]
	nonce := DeriveSecret(hr.provider, hr.nextSecret, "nonce")
	nonce = nonce[:c.NonceSize]
	secret := DeriveSecret(hr.provider, hr.nextSecret, "secret")

	generation := hr.nextGeneration
	hr.nextGeneration++
	zeroizeBytes(hr.nextSecret)
	hr.nextSecret = secret

	kn := keyAndNonce{key, nonce}
	hr.cache[generation] = kn

	for g := range hr.cache {
		if int(generation)-int(g) > hr.maxPast {
			zeroizeBytes(hr.cache[g].Key)
			zeroizeBytes(hr.cache[g].Nonce)
			delete(hr.cache, g)
		}
	}

	return generation, kn
}

// Next issues the next generation in sequence.
func (hr *hashRatchet) Next() (uint32, keyAndNonce) {
	return hr.step()
}

// Get returns the key/nonce for generation, deriving forward if it has
// not yet been reached, or failing if it has already fallen outside
// the retained window.
func (hr *hashRatchet) Get(generation uint32) (keyAndNonce, error) {
	if kn, ok := hr.cache[generation]; ok {
		return kn, nil
	}
	if generation < hr.nextGeneration {
		return keyAndNonce{}, wrapErr(ClassState, ErrStaleMessage, "")
	}
	if int(generation)-int(hr.nextGeneration) > hr.maxPast {
		return keyAndNonce{}, wrapErr(ClassState, ErrFutureMessage, "generation too far ahead of ratchet")
	}
	var kn keyAndNonce
	for hr.nextGeneration <= generation {
		_, kn = hr.step()
	}
	return kn, nil
}

// Erase discards the cached key/nonce for generation immediately after
// use, so a compromised future state cannot recover a delivered
// message's key (spec.md §4.5 "Erase").
func (hr *hashRatchet) Erase(generation uint32) {
	if kn, ok := hr.cache[generation]; ok {
		zeroizeBytes(kn.Key)
		zeroizeBytes(kn.Nonce)
		delete(hr.cache, generation)
	}
}

// treeSecrets derives per-leaf secrets from a root secret by walking
// down the direct path, discarding each internal node's secret as soon
// as both children are derived (spec.md §9 secret tree derivation).
type treeSecrets struct {
	provider CipherSuiteProvider
	size     leafCount
	root     nodeIndex
	secrets  map[nodeIndex][]byte
}

func newTreeSecrets(p CipherSuiteProvider, size leafCount, rootSecret []byte) *treeSecrets {
	r := root(size)
	return &treeSecrets{provider: p, size: size, root: r, secrets: map[nodeIndex][]byte{r: rootSecret}}
}

func (ts *treeSecrets) leafSecret(leaf leafIndex) []byte {
	target := toNodeIndex(leaf)
	dp := directPath(target, ts.size)

	// dp runs target's-parent -> root; walk it in reverse (root first).
	path := append([]nodeIndex{target}, dp...)

	found := len(path) - 1
	for i := len(path) - 1; i >= 0; i-- {
		if _, ok := ts.secrets[path[i]]; ok {
			found = i
			break
		}
	}

	for i := found; i > 0; i-- {
		node := path[i]
		secret := ts.secrets[node]
		l := left(node)
		r := right(node, ts.size)
		hashSize := ts.provider.Suite().Constants().HashSize
		ts.secrets[l] = ExpandWithContext(ts.provider, secret, "tree", []byte("left"), hashSize)
		ts.secrets[r] = ExpandWithContext(ts.provider, secret, "tree", []byte("right"), hashSize)
		zeroizeBytes(secret)
		delete(ts.secrets, node)
	}

	out := ts.secrets[target]
	delete(ts.secrets, target)
	return out
}

// SecretTree hands out the handshake and application ratchets for
// every leaf in one epoch, rooted at that epoch's encryption_secret.
type SecretTree struct {
	provider CipherSuiteProvider
	leaves   *treeSecrets
	maxPast  int

	// leafSecrets holds a leaf's root secret between the first and
	// second ratchet() call for that leaf: treeSecrets.leafSecret is
	// single-use (it deletes the node's place in the tree once derived),
	// but a leaf's handshake and application ratchets are each seeded
	// from the same secret on two separate calls, so the first call
	// must hold onto it for the second rather than re-deriving (which
	// would find nothing left to derive from).
	leafSecrets map[leafIndex][]byte

	handshake   map[leafIndex]*hashRatchet
	application map[leafIndex]*hashRatchet
}

// NewSecretTree roots a fresh secret tree at encryptionSecret for a
// tree of size leaves. maxPastGenerations bounds the receive window;
// pass 0 to use defaultMaxPastGenerations.
func NewSecretTree(p CipherSuiteProvider, size leafCount, encryptionSecret []byte, maxPastGenerations int) *SecretTree {
	if maxPastGenerations <= 0 {
		maxPastGenerations = defaultMaxPastGenerations
	}
	return &SecretTree{
		provider:    p,
		leaves:      newTreeSecrets(p, size, encryptionSecret),
		maxPast:     maxPastGenerations,
		leafSecrets: map[leafIndex][]byte{},
		handshake:   map[leafIndex]*hashRatchet{},
		application: map[leafIndex]*hashRatchet{},
	}
}

func (st *SecretTree) ratchet(kind ratchetKind, leaf leafIndex) *hashRatchet {
	table, other := st.handshake, st.application
	if kind == ratchetApplication {
		table, other = st.application, st.handshake
	}
	if r, ok := table[leaf]; ok {
		return r
	}

	leafSecret, cached := st.leafSecrets[leaf]
	if !cached {
		leafSecret = st.leaves.leafSecret(leaf)
	}

	base := DeriveSecret(st.provider, leafSecret, kind.label())

	if _, otherDone := other[leaf]; otherDone {
		zeroizeBytes(leafSecret)
		delete(st.leafSecrets, leaf)
	} else {
		st.leafSecrets[leaf] = leafSecret
	}

	r := newHashRatchet(st.provider, base, st.maxPast)
	table[leaf] = r
	return r
}

// NextHandshakeKey issues the next handshake-message key for leaf.
func (st *SecretTree) NextHandshakeKey(leaf leafIndex) (uint32, []byte, []byte) {
	gen, kn := st.ratchet(ratchetHandshake, leaf).Next()
	return gen, kn.Key, kn.Nonce
}

// HandshakeKey retrieves (deriving forward if needed) the handshake
// key for leaf at generation.
func (st *SecretTree) HandshakeKey(leaf leafIndex, generation uint32) ([]byte, []byte, error) {
	kn, err := st.ratchet(ratchetHandshake, leaf).Get(generation)
	if err != nil {
		return nil, nil, err
	}
	return kn.Key, kn.Nonce, nil
}

// NextApplicationKey issues the next application-message key for leaf.
func (st *SecretTree) NextApplicationKey(leaf leafIndex) (uint32, []byte, []byte) {
	gen, kn := st.ratchet(ratchetApplication, leaf).Next()
	return gen, kn.Key, kn.Nonce
}

// ApplicationKey retrieves (deriving forward if needed) the
// application key for leaf at generation.
func (st *SecretTree) ApplicationKey(leaf leafIndex, generation uint32) ([]byte, []byte, error) {
	kn, err := st.ratchet(ratchetApplication, leaf).Get(generation)
	if err != nil {
		return nil, nil, err
	}
	return kn.Key, kn.Nonce, nil
}

// EraseApplication discards leaf's cached application key/nonce at
// generation once it has been used to open a message.
func (st *SecretTree) EraseApplication(leaf leafIndex, generation uint32) {
	st.ratchet(ratchetApplication, leaf).Erase(generation)
}

// EraseHandshake discards leaf's cached handshake key/nonce at
// generation once it has been used.
func (st *SecretTree) EraseHandshake(leaf leafIndex, generation uint32) {
	st.ratchet(ratchetHandshake, leaf).Erase(generation)
}
