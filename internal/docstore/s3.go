// Package docstore stores document content in S3 under
// {prefix}/{orgID}/{docID} keys. Rows in the documents table point at these
// keys via storage_key; neither side deletes without the other.
package docstore

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/briefvault/briefvault-api/internal/xerrors"
)

// Client is the slice of the S3 API the store needs. *s3.Client satisfies
// it; tests use a fake.
type Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store reads and writes document blobs.
type Store struct {
	client Client
	bucket string
	prefix string
}

// New creates a Store. Prefix may be empty.
func New(client Client, bucket, prefix string) (*Store, error) {
	if bucket == "" {
		return nil, xerrors.New("docstore: bucket is required")
	}
	return &Store{client: client, bucket: bucket, prefix: prefix}, nil
}

// Key returns the object key for a document.
func (s *Store) Key(orgID, docID uuid.UUID) string {
	key := orgID.String() + "/" + docID.String()
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}

// Put uploads document content and returns the storage key.
func (s *Store) Put(ctx context.Context, orgID, docID uuid.UUID, contentType string, body io.Reader) (string, error) {
	key := s.Key(orgID, docID)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}
	return key, nil
}

// Get streams document content for the given storage key. The caller must
// close the returned reader.
func (s *Store) Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get s3://%s/%s", s.bucket, storageKey)
	}

	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	return out.Body, contentType, nil
}

// Delete removes the blob for the given storage key.
func (s *Store) Delete(ctx context.Context, storageKey string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		return xerrors.Wrapf(err, "delete s3://%s/%s", s.bucket, storageKey)
	}
	return nil
}
