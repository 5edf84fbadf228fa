package cryptoutil

import (
	"context"
	"encoding/base64"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/briefvault/briefvault-api/internal/xerrors"
)

// kmsSignAPI is the subset of the KMS API needed to sign a digest.
// Extracted as an interface to enable unit testing without live AWS credentials.
type kmsSignAPI interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KMSSigner signs precomputed SHA-256 digests with an asymmetric KMS key.
// The private key never leaves KMS; consumers verify exports against the
// key's public half out of band.
type KMSSigner struct {
	client kmsSignAPI
	keyARN string
}

// Signature is a signed digest plus everything a verifier needs.
type Signature struct {
	KeyARN    string `json:"key_arn"`
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`    // base64 SHA-256 of the payload
	Signature string `json:"signature"` // base64 signature over the digest
}

// NewKMSSigner wraps a KMS client and key. The key must be an asymmetric
// sign/verify key with ECDSA_SHA_256.
func NewKMSSigner(client kmsSignAPI, keyARN string) (*KMSSigner, error) {
	if keyARN == "" {
		return nil, xerrors.New("cryptoutil: KMS key ARN is required")
	}
	return &KMSSigner{client: client, keyARN: keyARN}, nil
}

// SignDigest signs a raw SHA-256 digest.
func (s *KMSSigner) SignDigest(ctx context.Context, digest []byte) (*Signature, error) {
	if len(digest) != 32 {
		return nil, xerrors.Newf("cryptoutil: digest length %d, want 32", len(digest))
	}

	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyARN),
		Message:          digest,
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms sign with %s", s.keyARN)
	}

	return &Signature{
		KeyARN:    s.keyARN,
		Algorithm: string(kmstypes.SigningAlgorithmSpecEcdsaSha256),
		Digest:    base64.StdEncoding.EncodeToString(digest),
		Signature: base64.StdEncoding.EncodeToString(out.Signature),
	}, nil
}
