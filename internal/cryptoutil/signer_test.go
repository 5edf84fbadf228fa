package cryptoutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// fakeKMS signs with a local ECDSA key so tests can verify signatures
// without AWS credentials.
type fakeKMS struct {
	key     *ecdsa.PrivateKey
	lastIn  *kms.SignInput
	signErr error
}

func newFakeKMS(t *testing.T) *fakeKMS {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &fakeKMS{key: key}
}

func (f *fakeKMS) Sign(_ context.Context, params *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	f.lastIn = params
	if f.signErr != nil {
		return nil, f.signErr
	}
	sig, err := ecdsa.SignASN1(rand.Reader, f.key, params.Message)
	if err != nil {
		return nil, err
	}
	return &kms.SignOutput{Signature: sig}, nil
}

func TestNewKMSSignerRequiresKey(t *testing.T) {
	if _, err := NewKMSSigner(newFakeKMS(t), ""); err == nil {
		t.Fatal("expected error for empty key ARN")
	}
}

func TestSignDigest(t *testing.T) {
	const keyARN = "arn:aws:kms:us-east-1:123456789012:key/test"
	fake := newFakeKMS(t)
	signer, err := NewKMSSigner(fake, keyARN)
	if err != nil {
		t.Fatalf("NewKMSSigner: %v", err)
	}

	digest := sha256.Sum256([]byte("export payload"))
	sig, err := signer.SignDigest(context.Background(), digest[:])
	if err != nil {
		t.Fatalf("SignDigest: %v", err)
	}

	if sig.KeyARN != keyARN {
		t.Errorf("KeyARN = %s, want %s", sig.KeyARN, keyARN)
	}
	if sig.Algorithm != string(kmstypes.SigningAlgorithmSpecEcdsaSha256) {
		t.Errorf("Algorithm = %s", sig.Algorithm)
	}
	if fake.lastIn.MessageType != kmstypes.MessageTypeDigest {
		t.Errorf("MessageType = %s, want DIGEST", fake.lastIn.MessageType)
	}

	gotDigest, err := base64.StdEncoding.DecodeString(sig.Digest)
	if err != nil {
		t.Fatalf("decode digest: %v", err)
	}
	if !HashEqual(string(gotDigest), string(digest[:])) {
		t.Error("signature digest does not match input")
	}

	raw, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if !ecdsa.VerifyASN1(&fake.key.PublicKey, digest[:], raw) {
		t.Error("signature does not verify against the signing key")
	}
}

func TestSignDigestRejectsBadLength(t *testing.T) {
	signer, err := NewKMSSigner(newFakeKMS(t), "arn:aws:kms:us-east-1:123456789012:key/test")
	if err != nil {
		t.Fatalf("NewKMSSigner: %v", err)
	}
	if _, err := signer.SignDigest(context.Background(), []byte("short")); err == nil {
		t.Fatal("expected error for non-SHA-256 digest")
	}
}

func TestSignDigestWrapsKMSError(t *testing.T) {
	fake := newFakeKMS(t)
	fake.signErr = errors.New("AccessDeniedException")
	signer, err := NewKMSSigner(fake, "arn:aws:kms:us-east-1:123456789012:key/test")
	if err != nil {
		t.Fatalf("NewKMSSigner: %v", err)
	}

	digest := sha256.Sum256([]byte("x"))
	if _, err := signer.SignDigest(context.Background(), digest[:]); err == nil {
		t.Fatal("expected KMS error to surface")
	}
}
