package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver uploads exported reports to an S3-compatible bucket so a
// report generated before an activation survives later exports.
type Archiver struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// ArchiverConfig holds object storage connection settings.
type ArchiverConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewArchiver connects to object storage and creates the report bucket
// if it does not exist yet.
func NewArchiver(ctx context.Context, cfg ArchiverConfig) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Archiver{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// Store uploads one exported report. Object keys are grouped by domain
// and version so the bucket browses like a history.
func (a *Archiver) Store(ctx context.Context, domain, versionID string, result *Result) (*ArchiveInfo, error) {
	archivedAt := a.now().UTC()
	key := fmt.Sprintf("reports/%s/%s/%s-%s", domain, versionID, archivedAt.Format("20060102T150405Z"), result.Filename)

	_, err := a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(result.Data), int64(len(result.Data)),
		minio.PutObjectOptions{ContentType: result.MimeType})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	return &ArchiveInfo{
		Bucket:     a.bucket,
		ObjectKey:  key,
		Size:       int64(len(result.Data)),
		ArchivedAt: archivedAt,
	}, nil
}
