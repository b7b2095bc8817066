package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSConfig describes an Aliyun OSS bucket holding report artifacts.
type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Prefix          string
}

// ossBucket is the subset of *oss.Bucket used by OSSStorage.
type ossBucket interface {
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
	GetObject(objectKey string, options ...oss.Option) (io.ReadCloser, error)
	DeleteObject(objectKey string, options ...oss.Option) error
	DeleteObjects(objectKeys []string, options ...oss.Option) (oss.DeleteObjectsResult, error)
	ListObjects(options ...oss.Option) (oss.ListObjectsResult, error)
}

// OSSStorage stores report artifacts in an OSS bucket under a key prefix.
type OSSStorage struct {
	bucket ossBucket
	prefix string
}

// NewOSSStorage connects to the configured bucket.
func NewOSSStorage(cfg OSSConfig) (*OSSStorage, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("oss endpoint, credentials and bucket are required")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("oss.New: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("client.Bucket: %w", err)
	}
	return newOSSStorage(bucket, cfg.Prefix), nil
}

func newOSSStorage(bucket ossBucket, prefix string) *OSSStorage {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &OSSStorage{bucket: bucket, prefix: prefix}
}

// Save uploads data and returns key.
func (s *OSSStorage) Save(ctx context.Context, key string, data []byte) (string, error) {
	err := s.bucket.PutObject(s.objectKey(key), bytes.NewReader(data),
		oss.WithContext(ctx),
		oss.ContentType(contentTypeFor(key)),
		oss.ContentDisposition("attachment"),
	)
	if err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	return key, nil
}

// Open streams an uploaded artifact.
func (s *OSSStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	body, err := s.bucket.GetObject(s.objectKey(key), oss.WithContext(ctx))
	if err != nil {
		var se oss.ServiceError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("download report: %w", err)
	}
	return body, nil
}

// Delete removes an uploaded artifact.
func (s *OSSStorage) Delete(ctx context.Context, key string) error {
	if err := s.bucket.DeleteObject(s.objectKey(key), oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return nil
}

// CleanupOlderThan deletes objects under the prefix last modified before now-ttl.
func (s *OSSStorage) CleanupOlderThan(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl)
	marker := oss.Marker("")
	var expired []string
	for {
		page, err := s.bucket.ListObjects(oss.Prefix(s.prefix), marker, oss.MaxKeys(1000), oss.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		for _, obj := range page.Objects {
			if obj.Key != "" && obj.LastModified.Before(threshold) {
				expired = append(expired, obj.Key)
			}
		}
		if !page.IsTruncated {
			break
		}
		marker = oss.Marker(page.NextMarker)
	}

	deleted := make([]string, 0, len(expired))
	for i := 0; i < len(expired); i += 1000 {
		end := i + 1000
		if end > len(expired) {
			end = len(expired)
		}
		batch := expired[i:end]
		if _, err := s.bucket.DeleteObjects(batch, oss.DeleteObjectsQuiet(true), oss.WithContext(ctx)); err != nil {
			return deleted, fmt.Errorf("delete expired reports: %w", err)
		}
		for _, key := range batch {
			deleted = append(deleted, strings.TrimPrefix(key, s.prefix))
		}
	}
	return deleted, nil
}

func (s *OSSStorage) objectKey(key string) string {
	return s.prefix + strings.TrimPrefix(path.Clean("/"+key), "/")
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
