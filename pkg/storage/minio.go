package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tuskdata/tusk/pkg/types"
)

const (
	minioHandlePrefix  = "minio://"
	defaultMinioBucket = "tusk-results"
)

// MinioConfig holds object storage connection settings for results
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioResultStore stores each job result as one JSON-lines object
type MinioResultStore struct {
	client *minio.Client
	bucket string
}

// NewMinioResultStore connects to the object store and ensures the bucket exists
func NewMinioResultStore(ctx context.Context, cfg MinioConfig) (*MinioResultStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required for the minio result backend")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = defaultMinioBucket
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	return &MinioResultStore{client: client, bucket: bucket}, nil
}

func objectName(jobID string) string {
	return fmt.Sprintf("jobs/%s/result.jsonl", jobID)
}

// parseMinioHandle splits minio://bucket/object
func parseMinioHandle(handle string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(handle, minioHandlePrefix)
	if !ok {
		return "", "", fmt.Errorf("unsupported result handle %q", handle)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed result handle %q", handle)
	}
	return bucket, object, nil
}

func (s *MinioResultStore) PutResult(ctx context.Context, jobID string, batches []*types.Batch) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, batch := range batches {
		if err := enc.Encode(batch); err != nil {
			return "", fmt.Errorf("failed to encode batch: %w", err)
		}
	}

	name := objectName(jobID)
	_, err := s.client.PutObject(ctx, s.bucket, name, &buf, int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "application/x-ndjson"})
	if err != nil {
		return "", fmt.Errorf("failed to upload result: %w", err)
	}
	return minioHandlePrefix + s.bucket + "/" + name, nil
}

func (s *MinioResultStore) ReadResult(ctx context.Context, handle string, fn func(*types.Batch) error) error {
	bucket, name, err := parseMinioHandle(handle)
	if err != nil {
		return err
	}
	object, err := s.client.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return err
	}
	defer object.Close()

	if _, err := object.Stat(); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("result %s: %w", handle, types.ErrNotFound)
		}
		return err
	}

	scanner := bufio.NewScanner(object)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		var batch types.Batch
		if err := json.Unmarshal(scanner.Bytes(), &batch); err != nil {
			return fmt.Errorf("failed to decode batch: %w", err)
		}
		if err := fn(&batch); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *MinioResultStore) DeleteResult(ctx context.Context, handle string) error {
	bucket, name, err := parseMinioHandle(handle)
	if err != nil {
		return err
	}
	return s.client.RemoveObject(ctx, bucket, name, minio.RemoveObjectOptions{})
}
