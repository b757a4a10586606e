package status

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used to persist statuses
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(
		ctx context.Context,
		params *s3.ListObjectsV2Input,
		optFns ...func(*s3.Options),
	) (*s3.ListObjectsV2Output, error)
}

// S3ClientOptions configures NewS3Client
type S3ClientOptions struct {
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// NewS3Client builds an S3 client from the default AWS credential chain
func NewS3Client(ctx context.Context, opts S3ClientOptions) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// s3StatusPersistence stores each pipeline status as <prefix>/<pipeline>/status.json
type s3StatusPersistence struct {
	client S3API
	bucket string
	prefix string
}

// NewS3StatusPersistence creates a status persistence backed by an S3 bucket
func NewS3StatusPersistence(client S3API, bucket, prefix string) StatusPersistence {
	return &s3StatusPersistence{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (p *s3StatusPersistence) key(pipeline string) string {
	return path.Join(p.prefix, pipeline, StatusFileName)
}

func (p *s3StatusPersistence) SaveStatus(ctx context.Context, pipeline string, status *SyncStatus) error {
	data, err := encodeStatus(pipeline, status)
	if err != nil {
		return err
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.key(pipeline)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload status for pipeline '%s': %w", pipeline, err)
	}
	return nil
}

func (p *s3StatusPersistence) LoadStatus(ctx context.Context, pipeline string) (*SyncStatus, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(pipeline)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return &SyncStatus{}, nil
		}
		return nil, fmt.Errorf("failed to download status for pipeline '%s': %w", pipeline, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status for pipeline '%s': %w", pipeline, err)
	}

	return decodeStatus(pipeline, data)
}

func (p *s3StatusPersistence) LoadAllStatus(ctx context.Context) (map[string]*SyncStatus, error) {
	result := make(map[string]*SyncStatus)

	listPrefix := ""
	if p.prefix != "" {
		listPrefix = p.prefix + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list status objects: %w", err)
		}

		for _, obj := range page.Contents {
			pipeline, ok := pipelineFromKey(aws.ToString(obj.Key), listPrefix)
			if !ok {
				continue
			}
			status, err := p.LoadStatus(ctx, pipeline)
			if err != nil {
				slog.WarnContext(ctx, "Skipping unreadable status object", "pipeline", pipeline, "error", err)
				continue
			}
			result[pipeline] = status
		}
	}

	return result, nil
}

// pipelineFromKey extracts the pipeline name from "<prefix><pipeline>/status.json"
func pipelineFromKey(key, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return "", false
	}
	pipeline, file, ok := strings.Cut(rest, "/")
	if !ok || pipeline == "" || file != StatusFileName {
		return "", false
	}
	return pipeline, true
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
