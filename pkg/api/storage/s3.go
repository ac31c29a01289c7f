package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"github.com/vulntrex/vulntrex/pkg/config"
)

// Compile-time interface check.
var _ Store = (*s3Store)(nil)

type s3Store struct {
	log           logrus.FieldLogger
	client        *s3.Client
	presignClient *s3.PresignClient
	presignExpiry time.Duration
	presigned     *presignCache
	bucket        string
	prefix        string
}

// NewS3Store creates a Store backed by S3-compatible storage.
func NewS3Store(log logrus.FieldLogger, cfg *config.S3StorageConfig) (Store, error) {
	expiry, err := cfg.PresignExpiryDuration()
	if err != nil {
		return nil, err
	}

	client := newS3Client(cfg)

	return &s3Store{
		log:           log.WithField("component", "storage-s3"),
		client:        client,
		presignClient: s3.NewPresignClient(client),
		presignExpiry: expiry,
		presigned:     newPresignCache(expiry),
		bucket:        cfg.Bucket,
		prefix:        runsPrefix(cfg.Prefix),
	}, nil
}

// runsPrefix returns the key prefix under which run directories live,
// always ending in "runs/".
func runsPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "runs/"
	}

	return prefix + "/runs/"
}

func (s *s3Store) key(runID, filename string) string {
	return s.prefix + runID + "/" + filename
}

// Location returns the bucket URL of the runs prefix.
func (s *s3Store) Location() string {
	return "s3://" + s.bucket + "/" + s.prefix
}

// ListRunIDs lists run IDs (common prefixes) under {prefix}/runs/.
func (s *s3Store) ListRunIDs(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(
		s.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(s.bucket),
			Prefix:    aws.String(s.prefix),
			Delimiter: aws.String("/"),
		},
	)

	var ids []string

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf(
				"listing run prefixes under %q: %w", s.prefix, err,
			)
		}

		for _, cp := range page.CommonPrefixes {
			if cp.Prefix != nil {
				// "prefix/runs/abc123/" -> "abc123"
				ids = append(ids, path.Base(strings.TrimRight(*cp.Prefix, "/")))
			}
		}
	}

	sort.Strings(ids)

	return ids, nil
}

// GetRunFile reads {prefix}/runs/{runID}/{filename} from S3.
// Returns (nil, nil) when the key does not exist.
func (s *s3Store) GetRunFile(
	ctx context.Context, runID, filename string,
) ([]byte, error) {
	key := s.key(runID, filename)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}

	return data, nil
}

// PutRunFile uploads {prefix}/runs/{runID}/{filename}.
func (s *s3Store) PutRunFile(
	ctx context.Context, runID, filename string, data []byte,
) error {
	key := s.key(runID, filename)

	s.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": s.bucket,
	}).Debug("Uploading run file")

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(detectContentType(filename)),
	})
	if err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}

	return nil
}

// DeleteRunFile deletes {prefix}/runs/{runID}/{filename}. S3 treats
// deleting a missing key as success.
func (s *s3Store) DeleteRunFile(
	ctx context.Context, runID, filename string,
) error {
	key := s.key(runID, filename)

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil && !isS3NotFound(err) {
		return fmt.Errorf("deleting object %q: %w", key, err)
	}

	return nil
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	return strings.Contains(err.Error(), "NoSuchKey")
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(name string) string {
	ext := path.Ext(name)

	switch ext {
	case "":
		return "application/octet-stream"
	case ".jsonl":
		return "application/x-ndjson"
	}

	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}

	return "application/octet-stream"
}

func newS3Client(cfg *config.S3StorageConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}
