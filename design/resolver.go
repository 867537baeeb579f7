package design

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrUnsupportedReference indicates a design reference with an unknown scheme.
var ErrUnsupportedReference = errors.New("unsupported design reference")

// ErrDesignNotFound indicates the referenced design documents do not exist.
var ErrDesignNotFound = errors.New("design documents not found")

// Resolver fetches the raw design documents a reference points at.
type Resolver interface {
	Resolve(ctx context.Context, ref *url.URL) ([]byte, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ref *url.URL) ([]byte, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, ref *url.URL) ([]byte, error) {
	return f(ctx, ref)
}

// Resolvers maps a URI scheme to its resolver. The empty scheme is used for
// plain file paths.
type Resolvers map[string]Resolver

// DefaultResolvers resolves file:// references and plain paths.
func DefaultResolvers() Resolvers {
	return Resolvers{
		"":     FileResolver{},
		"file": FileResolver{},
	}
}

// Fetch resolves designRef with the resolver registered for its scheme.
func (r Resolvers) Fetch(ctx context.Context, designRef string) ([]byte, error) {
	ref, err := url.Parse(designRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedReference, designRef, err)
	}
	res, ok := r[strings.ToLower(ref.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: scheme %q in %s", ErrUnsupportedReference, ref.Scheme, designRef)
	}
	return res.Resolve(ctx, ref)
}

// FileResolver reads designs from the local filesystem.
type FileResolver struct{}

// Resolve reads the file named by ref.
func (FileResolver) Resolve(_ context.Context, ref *url.URL) ([]byte, error) {
	path := ref.Path
	if ref.Scheme == "" {
		path = ref.String()
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDesignNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read design %s: %w", path, err)
	}
	return data, nil
}

// S3API is the subset of the S3 client used to fetch designs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures access to an S3 compatible object store.
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// S3Resolver fetches designs referenced as s3://bucket/key.
type S3Resolver struct {
	client S3API
}

// NewS3Resolver builds a resolver backed by an S3 client for cfg.
func NewS3Resolver(ctx context.Context, cfg S3Config) (*S3Resolver, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3ResolverWithClient(client), nil
}

// NewS3ResolverWithClient wraps an existing client.
func NewS3ResolverWithClient(client S3API) *S3Resolver {
	return &S3Resolver{client: client}
}

// Resolve downloads the object named by ref.
func (r *S3Resolver) Resolve(ctx context.Context, ref *url.URL) ([]byte, error) {
	bucket := ref.Host
	key := strings.TrimPrefix(ref.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: %s needs a bucket and a key", ErrUnsupportedReference, ref)
	}

	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrDesignNotFound, ref)
		}
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", key, bucket, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	return buf.Bytes(), nil
}
