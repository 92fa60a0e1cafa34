package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/justapithecus/stakeout/iox"
)

// S3Options configures the S3 vault backend.
type S3Options struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// PathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	PathStyle bool
}

// S3 is an S3-backed vault. Credentials come from the AWS SDK default
// chain (env vars, shared config, IAM role).
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Client = (*S3)(nil)

// NewS3 opens an S3 vault for the given bucket and prefix.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 vault requires a bucket")
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if opts.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3{
		client: s3.NewFromConfig(awsConfig, s3Opts...),
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}, nil
}

func (v *S3) objectKey(key string) string {
	return path.Join(v.prefix, key)
}

func (v *S3) Put(ctx context.Context, key string, content []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	objKey := v.objectKey(key)
	_, err := v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &v.bucket,
		Key:    &objKey,
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	return nil
}

func (v *S3) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	objKey := v.objectKey(key)
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &v.bucket,
		Key:    &objKey,
	})
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, &StorageError{Op: "get", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	defer iox.DrainClose(out.Body)

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	return content, nil
}

func (v *S3) Exists(ctx context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	objKey := v.objectKey(key)
	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &v.bucket,
		Key:    &objKey,
	})
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "exists", Key: key, Err: err}
	}
	return true, nil
}

func (v *S3) Close() error { return nil }

// String identifies the backend in logs.
func (v *S3) String() string {
	return fmt.Sprintf("s3://%s/%s", v.bucket, v.prefix)
}
