package adapters

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"

	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket that pages listings pageSize keys at a time.
type fakeS3 struct {
	objects  map[string][]byte
	pageSize int
	lists    int
}

func newFakeS3(pageSize int) *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, pageSize: pageSize}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.lists++

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3BlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newS3BlobStore(newFakeS3(10), "models", zerolog.Nop())

	require.NoError(t, store.Put(ctx, "joblog/c/abc", []byte("weights")))

	data, err := store.Get(ctx, "joblog/c/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), data)

	require.NoError(t, store.Delete(ctx, "joblog/c/abc"))
	_, err = store.Get(ctx, "joblog/c/abc")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestS3BlobStoreDeletePrefixPages(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3(2)
	store := newS3BlobStore(client, "models", zerolog.Nop())

	for _, k := range []string{"joblog/a/1", "joblog/a/2", "joblog/a/3", "joblog/a/4", "joblog/a/5", "joblog/b/1"} {
		require.NoError(t, store.Put(ctx, k, []byte(k)))
	}

	require.NoError(t, store.DeletePrefix(ctx, "joblog/a/"))

	assert.Len(t, client.objects, 1)
	assert.Contains(t, client.objects, "joblog/b/1")
	assert.GreaterOrEqual(t, client.lists, 3)
}
