package mls

import (
	"bytes"
	"errors"
	"testing"
)

func TestSecretTreeApplicationKeysAdvanceAndDiffer(t *testing.T) {
	p := testProvider(t)
	root := bytes.Repeat([]byte{0x10}, p.Suite().Constants().HashSize)
	st := NewSecretTree(p, 4, root, 0)

	gen0, key0, nonce0 := st.NextApplicationKey(0)
	gen1, key1, nonce1 := st.NextApplicationKey(0)

	if gen0 != 0 || gen1 != 1 {
		t.Fatalf("generations = %d, %d, want 0, 1", gen0, gen1)
	}
	if bytes.Equal(key0, key1) || bytes.Equal(nonce0, nonce1) {
		t.Error("consecutive generations produced the same key/nonce")
	}
}

func TestSecretTreeGetMatchesPriorNext(t *testing.T) {
	p := testProvider(t)
	root := bytes.Repeat([]byte{0x11}, p.Suite().Constants().HashSize)
	st := NewSecretTree(p, 4, root, 0)

	gen, key, nonce := st.NextApplicationKey(1)
	gotKey, gotNonce, err := st.ApplicationKey(1, gen)
	if err != nil {
		t.Fatalf("ApplicationKey: %v", err)
	}
	if !bytes.Equal(key, gotKey) || !bytes.Equal(nonce, gotNonce) {
		t.Error("Get did not return the same key/nonce Next just issued")
	}
}

func TestSecretTreeGetDerivesForwardForFutureGeneration(t *testing.T) {
	p := testProvider(t)
	root := bytes.Repeat([]byte{0x12}, p.Suite().Constants().HashSize)
	st := NewSecretTree(p, 4, root, 0)

	key5, nonce5, err := st.ApplicationKey(2, 5)
	if err != nil {
		t.Fatalf("ApplicationKey(2, 5): %v", err)
	}

	key5Again, nonce5Again, err := st.ApplicationKey(2, 5)
	if err != nil {
		t.Fatalf("ApplicationKey(2, 5) second call: %v", err)
	}
	if !bytes.Equal(key5, key5Again) || !bytes.Equal(nonce5, nonce5Again) {
		t.Error("re-requesting a cached generation returned a different key/nonce")
	}
}

func TestSecretTreeStaleGenerationAfterWindowCloses(t *testing.T) {
	p := testProvider(t)
	root := bytes.Repeat([]byte{0x13}, p.Suite().Constants().HashSize)
	st := NewSecretTree(p, 4, root, 2) // maxPast = 2

	// Advance well past generation 0 so it falls outside the window.
	for i := 0; i < 5; i++ {
		st.NextApplicationKey(0)
	}

	_, _, err := st.ApplicationKey(0, 0)
	if err == nil {
		t.Fatal("expected a stale-message error for a generation outside the retained window")
	}
	if !errors.Is(err, ErrStaleMessage) {
		t.Errorf("error = %v, want ErrStaleMessage", err)
	}
}

func TestSecretTreeFutureGenerationBeyondWindow(t *testing.T) {
	p := testProvider(t)
	root := bytes.Repeat([]byte{0x14}, p.Suite().Constants().HashSize)
	st := NewSecretTree(p, 4, root, 2) // maxPast = 2

	_, _, err := st.ApplicationKey(0, 100)
	if err == nil {
		t.Fatal("expected a future-message error for a generation far beyond the window")
	}
	if !errors.Is(err, ErrFutureMessage) {
		t.Errorf("error = %v, want ErrFutureMessage", err)
	}
}

func TestSecretTreeLeavesAreIndependent(t *testing.T) {
	p := testProvider(t)
	root := bytes.Repeat([]byte{0x15}, p.Suite().Constants().HashSize)
	st := NewSecretTree(p, 4, root, 0)

	_, keyA, _ := st.NextApplicationKey(0)
	_, keyB, _ := st.NextApplicationKey(1)
	if bytes.Equal(keyA, keyB) {
		t.Error("two different leaves derived the same application key")
	}
}

func TestSecretTreeHandshakeAndApplicationRatchetsAreIndependent(t *testing.T) {
	p := testProvider(t)
	root := bytes.Repeat([]byte{0x16}, p.Suite().Constants().HashSize)
	st := NewSecretTree(p, 4, root, 0)

	_, hsKey, _ := st.NextHandshakeKey(0)
	_, appKey, _ := st.NextApplicationKey(0)
	if bytes.Equal(hsKey, appKey) {
		t.Error("handshake and application ratchets for the same leaf produced the same key")
	}
}

// TestSecretTreeS5OutOfOrderApplicationMessages covers spec.md §8's
// S5: a receiver holding its own copy of the sender's ratchet can
// decrypt application messages delivered out of order (generation 1
// arriving before generation 0, both still inside the retained
// window), but re-decrypting a generation whose key was already
// erased fails with ErrStaleMessage - the "stale re-decrypt" half of
// S5.
func TestSecretTreeS5OutOfOrderApplicationMessages(t *testing.T) {
	p := testProvider(t)
	hashSize := p.Suite().Constants().HashSize
	root := bytes.Repeat([]byte{0x20}, hashSize)
	senderDataSecret := bytes.Repeat([]byte{0x21}, hashSize)

	senderTree := NewSecretTree(p, 2, root, 10)
	receiverTree := NewSecretTree(p, 2, root, 10)

	makeContent := func(payload string) FramedContent {
		return FramedContent{
			GroupID:         []byte("s5-group"),
			Epoch:           0,
			ContentType:     ContentTypeApplication,
			ApplicationData: []byte(payload),
		}
	}

	msg0, err := EncryptPrivateMessage(p, senderTree, senderDataSecret, 0, makeContent("generation zero"), []byte("sig"), nil)
	if err != nil {
		t.Fatalf("EncryptPrivateMessage (gen 0): %v", err)
	}
	msg1, err := EncryptPrivateMessage(p, senderTree, senderDataSecret, 0, makeContent("generation one"), []byte("sig"), nil)
	if err != nil {
		t.Fatalf("EncryptPrivateMessage (gen 1): %v", err)
	}

	// Deliver generation 1 first.
	content1, _, _, err := DecryptPrivateMessage(p, receiverTree, senderDataSecret, msg1)
	if err != nil {
		t.Fatalf("DecryptPrivateMessage (gen 1, out of order): %v", err)
	}
	if string(content1.ApplicationData) != "generation one" {
		t.Errorf("ApplicationData = %q, want %q", content1.ApplicationData, "generation one")
	}
	receiverTree.EraseApplication(0, 1)

	// Then deliver generation 0, arriving late.
	content0, _, _, err := DecryptPrivateMessage(p, receiverTree, senderDataSecret, msg0)
	if err != nil {
		t.Fatalf("DecryptPrivateMessage (gen 0, late arrival): %v", err)
	}
	if string(content0.ApplicationData) != "generation zero" {
		t.Errorf("ApplicationData = %q, want %q", content0.ApplicationData, "generation zero")
	}
	receiverTree.EraseApplication(0, 0)

	// Re-delivering generation 0 after its key was erased must fail.
	if _, _, _, err := DecryptPrivateMessage(p, receiverTree, senderDataSecret, msg0); !errors.Is(err, ErrStaleMessage) {
		t.Errorf("re-decrypting an erased generation: error = %v, want ErrStaleMessage", err)
	}
}

func TestSecretTreeEraseRemovesCachedKey(t *testing.T) {
	p := testProvider(t)
	root := bytes.Repeat([]byte{0x17}, p.Suite().Constants().HashSize)
	st := NewSecretTree(p, 4, root, 10)

	gen, _, _ := st.NextApplicationKey(0)
	st.EraseApplication(0, gen)

	if _, _, err := st.ApplicationKey(0, gen); !errors.Is(err, ErrStaleMessage) {
		t.Errorf("expected ErrStaleMessage after erasing generation %d, got %v", gen, err)
	}
}
