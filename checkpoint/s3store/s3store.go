// Package s3store implements checkpoint.Store against an S3 bucket,
// writing the same little-endian PipelineState frame as
// checkpoint.LocalStore but to an S3 object instead of a local file.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nebulastream/nes-core/checkpoint"
)

// Config holds the S3 backend's bucket/region/endpoint settings, mirroring
// the teacher's storage config shape for S3-compatible providers.
type Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

func (c Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3store: bucket is required")
	}
	return nil
}

// Store persists PipelineState snapshots as objects in an S3 bucket. A
// snapshot's object key is "<prefix><queryId>-<pipelineId>.checkpoint".
// S3's PUT semantics already give atomic whole-object replacement, so no
// separate write-tmp-then-rename step is needed (unlike the local store).
type Store struct {
	client *s3.Client
	cfg    Config
}

// New creates an S3-backed checkpoint store using the AWS SDK default
// credential chain (env vars, shared config, IAM role).
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3store: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &Store{client: s3.NewFromConfig(awsCfg, s3Opts...), cfg: cfg}, nil
}

func (s *Store) key(queryID, pipelineID uint64) string {
	return fmt.Sprintf("%s%d-%d.checkpoint", s.cfg.Prefix, queryID, pipelineID)
}

// Save serializes state and uploads it as an S3 object, overwriting any
// prior snapshot for the same (QueryID, PipelineID).
func (s *Store) Save(state *checkpoint.PipelineState) error {
	ctx := context.Background()
	data, err := checkpoint.Serialize(state)
	if err != nil {
		return fmt.Errorf("s3store: serialize: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(state.QueryID, state.PipelineID)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3store: put object: %w", err)
	}
	return nil
}

// Load downloads and deserializes the snapshot for (queryID, pipelineID).
func (s *Store) Load(queryID, pipelineID uint64) (*checkpoint.PipelineState, error) {
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(queryID, pipelineID)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3store: read object body: %w", err)
	}
	return checkpoint.Deserialize(data)
}
