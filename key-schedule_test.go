package mls

import (
	"bytes"
	"testing"
)

func TestJoinerSecretDeterministicAndCommitSensitive(t *testing.T) {
	p := testProvider(t)
	initSecret := bytes.Repeat([]byte{0x01}, p.Suite().Constants().HashSize)

	js1 := JoinerSecret(p, initSecret, []byte("commit-a"))
	js2 := JoinerSecret(p, initSecret, []byte("commit-a"))
	if !bytes.Equal(js1, js2) {
		t.Error("JoinerSecret is not deterministic for identical inputs")
	}

	js3 := JoinerSecret(p, initSecret, []byte("commit-b"))
	if bytes.Equal(js1, js3) {
		t.Error("JoinerSecret did not change when commit_secret changed")
	}
}

func TestNewEpochSecretsDerivesDistinctFields(t *testing.T) {
	p := testProvider(t)
	memberSecret := bytes.Repeat([]byte{0x02}, p.Suite().Constants().HashSize)
	groupContext := []byte("group-context-bytes")

	secrets, err := NewEpochSecrets(p, memberSecret, groupContext)
	if err != nil {
		t.Fatalf("NewEpochSecrets: %v", err)
	}

	fields := [][]byte{
		secrets.EpochSecret, secrets.SenderDataSecret, secrets.EncryptionSecret,
		secrets.ExporterSecret, secrets.ExternalSecret, secrets.ConfirmationKey,
		secrets.MembershipKey, secrets.ResumptionPSK, secrets.InitSecretNext,
	}
	for i := range fields {
		if len(fields[i]) == 0 {
			t.Errorf("field %d is empty", i)
		}
		for j := i + 1; j < len(fields); j++ {
			if bytes.Equal(fields[i], fields[j]) {
				t.Errorf("fields %d and %d derived to the same value", i, j)
			}
		}
	}
}

func TestNewEpochSecretsDeterministic(t *testing.T) {
	p := testProvider(t)
	memberSecret := bytes.Repeat([]byte{0x03}, p.Suite().Constants().HashSize)
	groupContext := []byte("same-context")

	s1, err := NewEpochSecrets(p, memberSecret, groupContext)
	if err != nil {
		t.Fatalf("NewEpochSecrets (1): %v", err)
	}
	s2, err := NewEpochSecrets(p, memberSecret, groupContext)
	if err != nil {
		t.Fatalf("NewEpochSecrets (2): %v", err)
	}
	if !bytes.Equal(s1.EpochSecret, s2.EpochSecret) {
		t.Error("NewEpochSecrets is not deterministic given identical inputs")
	}
}

func TestNewEpochSecretsSensitiveToGroupContext(t *testing.T) {
	p := testProvider(t)
	memberSecret := bytes.Repeat([]byte{0x04}, p.Suite().Constants().HashSize)

	s1, err := NewEpochSecrets(p, memberSecret, []byte("context-a"))
	if err != nil {
		t.Fatalf("NewEpochSecrets (a): %v", err)
	}
	s2, err := NewEpochSecrets(p, memberSecret, []byte("context-b"))
	if err != nil {
		t.Fatalf("NewEpochSecrets (b): %v", err)
	}
	if bytes.Equal(s1.EpochSecret, s2.EpochSecret) {
		t.Error("EpochSecret did not change when group_context changed")
	}
}

func TestEpochSecretsZeroClearsEveryField(t *testing.T) {
	p := testProvider(t)
	secrets, err := NewEpochSecrets(p, bytes.Repeat([]byte{0x05}, p.Suite().Constants().HashSize), []byte("ctx"))
	if err != nil {
		t.Fatalf("NewEpochSecrets: %v", err)
	}

	secrets.Zero()

	fields := [][]byte{
		secrets.EpochSecret, secrets.SenderDataSecret, secrets.EncryptionSecret,
		secrets.ExporterSecret, secrets.ExternalSecret, secrets.ConfirmationKey,
		secrets.MembershipKey, secrets.ResumptionPSK, secrets.InitSecretNext,
	}
	for i, f := range fields {
		for _, b := range f {
			if b != 0 {
				t.Errorf("field %d still has a nonzero byte after Zero()", i)
				break
			}
		}
	}
}

func TestExporterDeterministicAndLabelSensitive(t *testing.T) {
	p := testProvider(t)
	exporterSecret := bytes.Repeat([]byte{0x06}, p.Suite().Constants().HashSize)

	out1 := Exporter(p, exporterSecret, "label-a", []byte("context"), 32)
	out2 := Exporter(p, exporterSecret, "label-a", []byte("context"), 32)
	if !bytes.Equal(out1, out2) {
		t.Error("Exporter is not deterministic for identical inputs")
	}

	out3 := Exporter(p, exporterSecret, "label-b", []byte("context"), 32)
	if bytes.Equal(out1, out3) {
		t.Error("Exporter did not change when the label changed")
	}
}
