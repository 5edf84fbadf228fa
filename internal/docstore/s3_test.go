package docstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/briefvault/briefvault-api/internal/xerrors"
)

// fakeS3 stores objects in a map.
type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = body
	if in.ContentType != nil {
		f.types[*in.Key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, xerrors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(body)),
		ContentType: aws.String(f.types[*in.Key]),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(newFakeS3(), "", "docs"); err == nil {
		t.Fatal("empty bucket accepted")
	}
}

func TestKey_Layout(t *testing.T) {
	orgID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	docID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	withPrefix, _ := New(newFakeS3(), "b", "docs")
	if got := withPrefix.Key(orgID, docID); got != "docs/"+orgID.String()+"/"+docID.String() {
		t.Fatalf("key = %q", got)
	}

	noPrefix, _ := New(newFakeS3(), "b", "")
	if got := noPrefix.Key(orgID, docID); got != orgID.String()+"/"+docID.String() {
		t.Fatalf("key without prefix = %q", got)
	}
}

func TestPutGetDelete_RoundTrip(t *testing.T) {
	fake := newFakeS3()
	store, err := New(fake, "briefvault-docs", "docs")
	if err != nil {
		t.Fatal(err)
	}

	orgID, docID := uuid.New(), uuid.New()
	content := "engagement letter body"

	key, err := store.Put(context.Background(), orgID, docID, "application/pdf", strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if key != store.Key(orgID, docID) {
		t.Fatalf("returned key %q != derived key", key)
	}

	rc, contentType, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != content {
		t.Fatalf("body = %q, want %q", got, content)
	}
	if contentType != "application/pdf" {
		t.Fatalf("content type = %q", contentType)
	}

	if err := store.Delete(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Get(context.Background(), key); err == nil {
		t.Fatal("get after delete succeeded")
	}
}

func TestPut_ErrorWrapped(t *testing.T) {
	fake := newFakeS3()
	fake.err = xerrors.New("access denied")
	store, _ := New(fake, "b", "")

	_, err := store.Put(context.Background(), uuid.New(), uuid.New(), "text/plain", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "put s3://b/") {
		t.Fatalf("error %q missing context", err)
	}
}
