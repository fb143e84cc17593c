package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/synccore/internal/model"
)

// ErrArchivalNotConfigured is returned when S3-compatible archival has not
// been configured.
var ErrArchivalNotConfigured = errors.New("checkpoint archival not configured")

// Archiver pushes a completed checkpoint to external storage, mirroring a
// snapshot uploader's Upload/PresignedURL contract.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, record model.CheckpointRecord) error
	PresignedURL(ctx context.Context, sessionID string) (url string, expiry time.Time, err error)
}

// s3Client defines the minimal minio.Client surface Archiver depends on, so
// it can be faked in tests.
type s3Client interface {
	PutObject(ctx context.Context, bucket, object string, data []byte) error
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration) (string, error)
}

type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) PutObject(ctx context.Context, bucket, object string, data []byte) error {
	_, err := w.client.PutObject(ctx, bucket, object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration) (string, error) {
	u, err := w.client.PresignedGetObject(ctx, bucket, object, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// S3Archiver archives checkpoints to S3-compatible object storage.
type S3Archiver struct {
	client    s3Client
	bucket    string
	urlExpiry time.Duration
}

// ArchiveConfig configures an S3Archiver.
type ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	URLExpiry time.Duration
}

// NewArchiver returns a NoopArchiver when cfg.Bucket is empty, or an
// S3Archiver otherwise — the same degrade-to-local-only pattern used
// elsewhere in this module when optional external storage isn't
// configured.
func NewArchiver(cfg ArchiveConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return &NoopArchiver{}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	return &S3Archiver{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		urlExpiry: expiry,
	}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, sessionID string, record model.CheckpointRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal checkpoint record: %w", err)
	}

	if err := a.client.PutObject(ctx, a.bucket, objectKey(sessionID), payload); err != nil {
		return fmt.Errorf("upload checkpoint to S3: %w", err)
	}
	return nil
}

func (a *S3Archiver) PresignedURL(ctx context.Context, sessionID string) (string, time.Time, error) {
	url, err := a.client.PresignedGetObject(ctx, a.bucket, objectKey(sessionID), a.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return url, time.Now().Add(a.urlExpiry), nil
}

func objectKey(sessionID string) string {
	return sessionID + "/checkpoint/complete.json"
}

// NoopArchiver is used when archival is not configured; Archive is a no-op
// and PresignedURL reports ErrArchivalNotConfigured.
type NoopArchiver struct{}

func (a *NoopArchiver) Archive(ctx context.Context, sessionID string, record model.CheckpointRecord) error {
	return nil
}

func (a *NoopArchiver) PresignedURL(ctx context.Context, sessionID string) (string, time.Time, error) {
	return "", time.Time{}, ErrArchivalNotConfigured
}
