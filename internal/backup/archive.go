// Package backup mirrors board backups to object storage.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"retroboard/internal/retro"
)

// Archive receives a copy of every backup written to the document store.
type Archive interface {
	Store(ctx context.Context, b retro.Backup) (string, error)
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

type MinIOArchive struct {
	client *minio.Client
	bucket string
	prefix string
	region string
	log    *slog.Logger
}

func NewMinIO(cfg MinIOConfig, log *slog.Logger) (*MinIOArchive, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &MinIOArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		region: region,
		log:    log,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (a *MinIOArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	a.log.Info("backup: bucket created", "bucket", a.bucket)
	return nil
}

func (a *MinIOArchive) Store(ctx context.Context, b retro.Backup) (string, error) {
	payload, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}
	name := ObjectName(a.prefix, b.Timestamp)
	_, err = a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload backup %s: %w", name, err)
	}
	a.log.Info("backup: mirrored", "bucket", a.bucket, "object", name, "bytes", len(payload))
	return name, nil
}

// ObjectName matches the document-store backup file name.
func ObjectName(prefix string, t time.Time) string {
	return path.Join(prefix, fmt.Sprintf("backup-%s.json", t.UTC().Format("2006-01-02T15-04-05")))
}
