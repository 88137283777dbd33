package s3

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	conf "github.com/webitel/report-orchestrator/config"
	"github.com/webitel/report-orchestrator/internal/storage"
)

type fakeClient struct {
	objects map[string][]byte
}

func (f *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func testConfig() *conf.StorageConfig {
	return &conf.StorageConfig{
		Endpoint:  "http://localhost:9000",
		Region:    "us-east-1",
		Bucket:    "reports",
		AccessKey: "access",
		SecretKey: "secret",
		PathStyle: true,
	}
}

func TestPutGetExists(t *testing.T) {
	ctx := context.Background()
	s := New(testConfig(), slog.Default())
	s.client = &fakeClient{objects: map[string][]byte{}}

	ok, err := s.Exists(ctx, "data/x.tar")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "data/x.tar", strings.NewReader("abc"), 3, "application/x-tar"))
	ok, err = s.Exists(ctx, "data/x.tar")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Get(ctx, "data/x.tar")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "abc", string(b))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestSignGet(t *testing.T) {
	s := New(testConfig(), slog.Default())
	uri, err := s.SignGet(context.Background(), "reports/VC1/R00000001.pdf", storage.SignOptions{
		TTL:      12 * time.Hour,
		FileName: "VC1 usage.pdf",
	})
	require.NoError(t, err)

	u, err := url.Parse(uri)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "/reports/reports/VC1/R00000001.pdf", u.Path)
	assert.Equal(t, "43200", q.Get("X-Amz-Expires"))
	assert.Equal(t, "no-store", q.Get("response-cache-control"))
	assert.Equal(t, `attachment; filename="VC1 usage.pdf"`, q.Get("response-content-disposition"))
}

func TestSignGetClampsTTL(t *testing.T) {
	s := New(testConfig(), slog.Default())
	uri, err := s.SignGet(context.Background(), "batches/S1/B1.zip", storage.SignOptions{TTL: 14 * 24 * time.Hour})
	require.NoError(t, err)
	u, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "604800", u.Query().Get("X-Amz-Expires"))
}
