package blobstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papersync/papersync/internal/common"
)

// fakeS3 implements the s3API subset in memory, two keys per list page to
// exercise pagination.
type fakeS3 struct {
	objects map[string][]byte
	bucket  string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var all []string
	for k := range f.objects {
		if in.Prefix == nil || strings.HasPrefix(k, *in.Prefix) {
			all = append(all, k)
		}
	}
	sort.Strings(all)

	start := 0
	if in.ContinuationToken != nil {
		for i, k := range all {
			if k == *in.ContinuationToken {
				start = i
				break
			}
		}
	}

	const pageSize = 2
	end := start + pageSize
	truncated := end < len(all)
	if !truncated {
		end = len(all)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(truncated)}
	for _, k := range all[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if truncated {
		out.NextContinuationToken = aws.String(all[end])
	}
	return out, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := &S3Store{client: fake, bucket: "documents"}
	ctx := context.Background()

	data := []byte("object bytes")
	require.NoError(t, store.Put(ctx, "private/id/documents/x/a.pdf", bytes.NewReader(data), int64(len(data))))
	assert.Equal(t, "documents", fake.bucket)

	body, err := store.Get(ctx, "private/id/documents/x/a.pdf")
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestS3StoreGetMissingKey(t *testing.T) {
	store := &S3Store{client: newFakeS3(), bucket: "documents"}

	_, err := store.Get(context.Background(), "private/id/documents/x/absent.pdf")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestS3StoreDeleteIsIdempotent(t *testing.T) {
	fake := newFakeS3()
	store := &S3Store{client: fake, bucket: "documents"}
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", bytes.NewReader([]byte("x")), 1))
	require.NoError(t, store.Delete(ctx, "k"))
	assert.NoError(t, store.Delete(ctx, "k"))
}

func TestS3StoreListPaginates(t *testing.T) {
	fake := newFakeS3()
	store := &S3Store{client: fake, bucket: "documents"}
	ctx := context.Background()

	keys := []string{"p/a", "p/b", "p/c", "p/d", "p/e", "q/other"}
	for _, k := range keys {
		require.NoError(t, store.Put(ctx, k, bytes.NewReader([]byte("x")), 1))
	}

	got, err := store.List(ctx, "p/")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/a", "p/b", "p/c", "p/d", "p/e"}, got)
}
