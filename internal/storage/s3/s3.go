package s3

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	conf "github.com/webitel/report-orchestrator/config"
	apperr "github.com/webitel/report-orchestrator/internal/errors"
	"github.com/webitel/report-orchestrator/internal/storage"
)

// MaxPresignTTL is the longest validity SigV4 presigned URLs accept.
const MaxPresignTTL = 7 * 24 * time.Hour

type client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type Store struct {
	client  client
	presign *s3.PresignClient
	bucket  string
	log     *slog.Logger
}

func New(cfg *conf.StorageConfig, log *slog.Logger) *Store {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	c := s3.New(opts)
	return &Store{
		client:  c,
		presign: s3.NewPresignClient(c),
		bucket:  cfg.Bucket,
		log:     log,
	}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return apperr.Network("put object failed", apperr.WithID("storage.s3.put"), apperr.WithCause(err))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, apperr.Network("get object failed", apperr.WithID("storage.s3.get"), apperr.WithCause(err))
	}
	return out.Body, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return false, nil
	}
	return false, apperr.Network("head object failed", apperr.WithID("storage.s3.head"), apperr.WithCause(err))
}

// SignGet presigns a GET that downloads key as an attachment and is never cached.
func (s *Store) SignGet(ctx context.Context, key string, opts storage.SignOptions) (string, error) {
	ttl := opts.TTL
	if ttl > MaxPresignTTL {
		s.log.WarnContext(ctx, "report_orchestrator.storage.ttl_clamped",
			slog.String("key", key),
			slog.Duration("requested", ttl),
			slog.Duration("applied", MaxPresignTTL))
		ttl = MaxPresignTTL
	}
	input := &s3.GetObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		ResponseCacheControl: aws.String("no-store"),
	}
	if opts.FileName != "" {
		input.ResponseContentDisposition = aws.String(storage.AttachmentDisposition(opts.FileName))
	}
	req, err := s.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", apperr.Internal("presign failed", apperr.WithID("storage.s3.presign"), apperr.WithCause(err))
	}
	return req.URL, nil
}
