package remotelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/starford/notesq/internal/apperr"
)

// S3API is the subset of the S3 client used by the S3 backend.
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 is a Backend storing each file as an object under bucket/prefix.
// Versions are ETags and replaces use S3 conditional writes.
type S3 struct {
	api    S3API
	bucket string
	prefix string
}

// NewS3 creates an S3 backend.
func NewS3(api S3API, bucket, prefix string) *S3 {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{api: api, bucket: bucket, prefix: prefix}
}

// NewS3Client builds a client from the default credential chain. endpoint
// overrides the service endpoint for S3-compatible stores.
func NewS3Client(ctx context.Context, region, endpoint string, pathStyle bool) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("remotelog: load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	}), nil
}

// Fetch implements Backend.
func (b *S3) Fetch(ctx context.Context) (map[string]File, error) {
	out := make(map[string]File)
	p := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("remotelog: list objects: %w", classifyS3(err))
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, b.prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			f, ok, err := b.get(ctx, key)
			if err != nil {
				return nil, err
			}
			if ok {
				out[name] = f
			}
		}
	}
	return out, nil
}

func (b *S3) get(ctx context.Context, key string) (File, bool, error) {
	obj, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			// Deleted between list and get.
			return File{}, false, nil
		}
		return File{}, false, fmt.Errorf("remotelog: get %s: %w", key, classifyS3(err))
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return File{}, false, fmt.Errorf("remotelog: read %s: %w", key, err)
	}
	return File{Content: string(data), Version: aws.ToString(obj.ETag)}, true, nil
}

// Replace implements Backend.
func (b *S3) Replace(ctx context.Context, name, content, expectedVersion string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.prefix + name),
		Body:        strings.NewReader(content),
		ContentType: aws.String("application/x-ndjson"),
	}
	switch expectedVersion {
	case "":
	case VersionAbsent:
		in.IfNoneMatch = aws.String("*")
	default:
		in.IfMatch = aws.String(expectedVersion)
	}
	if _, err := b.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("remotelog: put %s: %w", name, classifyS3(err))
	}
	return nil
}

// classifyS3 maps S3 API error codes onto the package error model.
func classifyS3(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return fmt.Errorf("%w: %s", apperr.ErrVersionMismatch, apiErr.ErrorCode())
	case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
		return &RateLimitError{}
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return fmt.Errorf("%w: %s", apperr.ErrUnauthorized, apiErr.ErrorCode())
	case "NoSuchBucket":
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, apiErr.ErrorCode())
	}
	return err
}
