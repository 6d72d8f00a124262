package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/ontology"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 reads batch documents from a bucket and archives ontology snapshots
// next to them.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3FromEnv configures a path-style client from the AWS_* variables.
// It returns nil when AWS_BUCKET is unset.
func NewS3FromEnv(ctx context.Context) (*S3, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	if bucket == "" {
		return nil, nil
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(util.GetEnvString("AWS_REGION", "us-east-1")),
	}
	if endpoint := util.GetEnv("AWS_ENDPOINT"); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	if key := util.GetEnv("AWS_ACCESS_KEY"); key != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, util.GetEnv("AWS_SECRET_KEY"), ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &S3{client: client, bucket: bucket}, nil
}

func (s *S3) GetFile(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s from S3: %w", key, err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// GetDocument returns the text of the object under key, see ExtractText.
func (s *S3) GetDocument(ctx context.Context, key string) (string, error) {
	data, err := s.GetFile(ctx, key)
	if err != nil {
		return "", err
	}
	return ExtractText(key, data)
}

func decodeText(key string, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("document %s is not valid UTF-8 text", key)
	}
	return string(data), nil
}

func (s *S3) PutFile(ctx context.Context, key string, body io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file %s to S3: %w", key, err)
	}
	return nil
}

func contentType(key string) string {
	if t := mime.TypeByExtension(path.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// SnapshotKey is where version v of a domain's ontology is archived.
func SnapshotKey(domain string, version int) string {
	domain = strings.Trim(strings.ReplaceAll(domain, "/", "_"), ".")
	if domain == "" {
		domain = "default"
	}
	return fmt.Sprintf("ontology/%s/v%04d.json", domain, version)
}

func (s *S3) ArchiveOntology(ctx context.Context, domain string, schema *ontology.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ontology: %w", err)
	}
	return s.PutFile(ctx, SnapshotKey(domain, schema.Version), bytes.NewReader(data))
}
