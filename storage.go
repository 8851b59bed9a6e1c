package mls

import "sync"

// GroupStateStorage persists a group's durable state across process
// restarts: the current epoch's snapshot plus a bounded trailing
// window of past-epoch snapshots (spec.md §6, default retention 3
// epochs).
type GroupStateStorage interface {
	State(groupID []byte) ([]byte, bool, error)
	Epoch(groupID []byte, epochID uint64) ([]byte, bool, error)
	Write(groupID []byte, state []byte, epochInserts map[uint64][]byte, epochUpdates map[uint64][]byte, deleteUnder uint64) error
	MaxEpochID(groupID []byte) (uint64, bool, error)
}

// KeyPackageStorage holds this member's own previously-generated
// KeyPackages (and their matching private init keys) until they are
// consumed by a Welcome or explicitly discarded.
type KeyPackageStorage interface {
	Insert(ref []byte, keyPackage KeyPackage, initPriv HPKEPrivateKey) error
	Get(ref []byte) (KeyPackage, HPKEPrivateKey, bool, error)
	Delete(ref []byte) error
}

// PreSharedKeyStorage resolves an external PSK id to its secret.
type PreSharedKeyStorage interface {
	Get(externalID []byte) (*Secret, bool, error)
}

// MemoryGroupStateStorage is an in-process reference implementation,
// primarily for tests and single-process deployments.
type MemoryGroupStateStorage struct {
	mu     sync.Mutex
	states map[string][]byte
	epochs map[string]map[uint64][]byte
}

func NewMemoryGroupStateStorage() *MemoryGroupStateStorage {
	return &MemoryGroupStateStorage{
		states: make(map[string][]byte),
		epochs: make(map[string]map[uint64][]byte),
	}
}

func (m *MemoryGroupStateStorage) State(groupID []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.states[string(groupID)]
	return b, ok, nil
}

func (m *MemoryGroupStateStorage) Epoch(groupID []byte, epochID uint64) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	epochs, ok := m.epochs[string(groupID)]
	if !ok {
		return nil, false, nil
	}
	b, ok := epochs[epochID]
	return b, ok, nil
}

func (m *MemoryGroupStateStorage) Write(groupID []byte, state []byte, epochInserts, epochUpdates map[uint64][]byte, deleteUnder uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(groupID)
	m.states[key] = state

	epochs, ok := m.epochs[key]
	if !ok {
		epochs = make(map[uint64][]byte)
		m.epochs[key] = epochs
	}
	for id, b := range epochInserts {
		epochs[id] = b
	}
	for id, b := range epochUpdates {
		epochs[id] = b
	}
	for id := range epochs {
		if id < deleteUnder {
			delete(epochs, id)
		}
	}
	return nil
}

func (m *MemoryGroupStateStorage) MaxEpochID(groupID []byte) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	epochs, ok := m.epochs[string(groupID)]
	if !ok || len(epochs) == 0 {
		return 0, false, nil
	}
	var max uint64
	found := false
	for id := range epochs {
		if !found || id > max {
			max = id
			found = true
		}
	}
	return max, found, nil
}

// MemoryKeyPackageStorage is an in-process reference KeyPackageStorage.
type MemoryKeyPackageStorage struct {
	mu      sync.Mutex
	entries map[string]memoryKeyPackageEntry
}

type memoryKeyPackageEntry struct {
	kp   KeyPackage
	priv HPKEPrivateKey
}

func NewMemoryKeyPackageStorage() *MemoryKeyPackageStorage {
	return &MemoryKeyPackageStorage{entries: make(map[string]memoryKeyPackageEntry)}
}

func (m *MemoryKeyPackageStorage) Insert(ref []byte, kp KeyPackage, initPriv HPKEPrivateKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(ref)
	if _, ok := m.entries[key]; ok {
		return wrapErr(ClassStorage, ErrStorageFailed, "duplicate key package ref")
	}
	m.entries[key] = memoryKeyPackageEntry{kp, initPriv}
	return nil
}

func (m *MemoryKeyPackageStorage) Get(ref []byte) (KeyPackage, HPKEPrivateKey, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[string(ref)]
	return e.kp, e.priv, ok, nil
}

func (m *MemoryKeyPackageStorage) Delete(ref []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, string(ref))
	return nil
}

// MemoryPreSharedKeyStorage is an in-process reference
// PreSharedKeyStorage backed by a plain map, wrapping each value in a
// Secret so callers get zeroization for free on retrieval.
type MemoryPreSharedKeyStorage struct {
	mu   sync.Mutex
	psks map[string][]byte
}

func NewMemoryPreSharedKeyStorage() *MemoryPreSharedKeyStorage {
	return &MemoryPreSharedKeyStorage{psks: make(map[string][]byte)}
}

func (m *MemoryPreSharedKeyStorage) Set(externalID, secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.psks[string(externalID)] = dup(secret)
}

func (m *MemoryPreSharedKeyStorage) Get(externalID []byte) (*Secret, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.psks[string(externalID)]
	if !ok {
		return nil, false, nil
	}
	return NewSecret(dup(b)), true, nil
}
