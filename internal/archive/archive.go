// Package archive stores run artifacts (rendered reports) in S3-compatible
// object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultBucket = "courtroom-artifacts"

// S3Store writes artifacts under <bucket>/<runID>/<name>. The bucket is
// created lazily on first use.
type S3Store struct {
	cli    *minio.Client
	bucket string

	once    sync.Once
	onceErr error
}

// Config carries the object-store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// FromEnv reads COURTROOM_S3_* settings. An empty endpoint means archiving
// is disabled.
func FromEnv() Config {
	return Config{
		Endpoint:  strings.TrimSpace(os.Getenv("COURTROOM_S3_ENDPOINT")),
		AccessKey: os.Getenv("COURTROOM_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("COURTROOM_S3_SECRET_KEY"),
		Bucket:    strings.TrimSpace(os.Getenv("COURTROOM_S3_BUCKET")),
		UseSSL:    os.Getenv("COURTROOM_S3_SSL") == "true",
	}
}

// New connects to the object store. A Config with no endpoint returns
// (nil, nil) so callers can pass the result straight to the coordinator.
func New(cfg Config) (*S3Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: connect %s: %w", cfg.Endpoint, err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	return &S3Store{cli: cli, bucket: bucket}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.once.Do(func() {
		exists, err := s.cli.BucketExists(ctx, s.bucket)
		if err != nil {
			s.onceErr = err
			return
		}
		if !exists {
			s.onceErr = s.cli.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		}
	})
	return s.onceErr
}

// Put stores one artifact for a run.
func (s *S3Store) Put(ctx context.Context, runID, name string, content []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("archive: bucket %s: %w", s.bucket, err)
	}
	key := runID + "/" + name
	_, err := s.cli.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType(name)})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	log.Printf("archive: stored %s (%d bytes)", key, len(content))
	return nil
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".md"):
		return "text/markdown"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
