package proofs

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestKeySignerProducesRecoverableSignature(t *testing.T) {
	signer, err := NewKeySigner("0x" + testKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	data := []byte(`{"decision":true,"submission_id":"sub-1"}`)

	sig, err := signer.Sign(context.Background(), data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("expected %d byte signature, got %d", SignatureLength, len(sig))
	}
	if !VerifySignature(signer.Address(), data, sig) {
		t.Fatalf("signature did not recover to %s", signer.Address().Hex())
	}
	if VerifySignature(signer.Address(), []byte("tampered"), sig) {
		t.Fatalf("signature verified against different data")
	}

	key, _ := crypto.HexToECDSA(testKey)
	if signer.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("unexpected signer address %s", signer.Address().Hex())
	}
}

func TestKeySignerRequiresValidKey(t *testing.T) {
	for _, key := range []string{"", "   ", "0xnothex", "1234"} {
		if _, err := NewKeySigner(key); !xerrors.HasCode(err, xerrors.CodeSigning) {
			t.Fatalf("key %q: expected signing error, got %v", key, err)
		}
	}

	t.Setenv("DVN_TEST_SIGNING_KEY", testKey)
	if _, err := NewKeySignerFromEnv("DVN_TEST_SIGNING_KEY"); err != nil {
		t.Fatalf("signer from env: %v", err)
	}
	if _, err := NewKeySignerFromEnv("DVN_TEST_MISSING_KEY"); !xerrors.HasCode(err, xerrors.CodeSigning) {
		t.Fatalf("expected signing error for missing env key, got %v", err)
	}
}

func TestSimulatedSignerIsDeterministic(t *testing.T) {
	signer := NewSimulatedSigner("va_general_1001")
	data := []byte("evidence")

	a, err := signer.Sign(context.Background(), data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, _ := signer.Sign(context.Background(), data)
	if EncodeSignature(a) != EncodeSignature(b) {
		t.Fatalf("simulated signatures differ")
	}
	encoded := EncodeSignature(a)
	if len(encoded) != 132 || !strings.HasPrefix(encoded, "0x") {
		t.Fatalf("unexpected placeholder signature %q", encoded)
	}

	other, _ := NewSimulatedSigner("va_general_1002").Sign(context.Background(), data)
	if EncodeSignature(other) == encoded {
		t.Fatalf("different seeds produced identical signatures")
	}
}

func TestSignRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSimulatedSigner("x").Sign(ctx, nil); !xerrors.HasCode(err, xerrors.CodeSigning) {
		t.Fatalf("expected signing error, got %v", err)
	}
}
