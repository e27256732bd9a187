package webhook

import "testing"

func TestSignerVerify(t *testing.T) {
	signer := NewSigner("test-secret")
	body := []byte(`{"event":"payment_captured","payment_id":"pay_1"}`)

	signature := signer.Sign(body)
	if !signer.Verify(signature, body) {
		t.Fatal("valid signature must verify")
	}

	if signer.Verify(signature, []byte(`{"tampered":true}`)) {
		t.Fatal("signature must not verify for a different body")
	}
	if signer.Verify("deadbeef", body) {
		t.Fatal("wrong signature must not verify")
	}
	if signer.Verify("not-hex!", body) {
		t.Fatal("malformed signature must not verify")
	}
}

func TestSignerDifferentSecrets(t *testing.T) {
	body := []byte(`{}`)
	a := NewSigner("secret-a")
	b := NewSigner("secret-b")

	if b.Verify(a.Sign(body), body) {
		t.Fatal("signature from another secret must not verify")
	}
}

func TestSignerEnabled(t *testing.T) {
	if NewSigner("").Enabled() {
		t.Error("empty secret must disable the signer")
	}
	if !NewSigner("x").Enabled() {
		t.Error("non-empty secret must enable the signer")
	}
}
