package render

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Snapshot prefixes: render failures vs parser/schema trouble.
const (
	SnapshotErrors = "errors"
	SnapshotSchema = "schema"
)

// Snapshotter stores debug page captures in S3-compatible object storage.
// A nil Snapshotter (no bucket configured) drops captures silently.
type Snapshotter struct {
	client  *minio.Client
	bucket  string
	ttlDays int
}

// NewSnapshotter connects to a MinIO/S3 endpoint. Empty bucket disables
// snapshotting.
func NewSnapshotter(endpoint, accessKey, secretKey, bucket string, useSSL bool, ttlDays int) (*Snapshotter, error) {
	if bucket == "" {
		return nil, nil
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshots: connect %s: %w", endpoint, err)
	}
	return &Snapshotter{client: client, bucket: bucket, ttlDays: ttlDays}, nil
}

// Save uploads the HTML and screenshot of a page under
// <prefix>/<domain>/<UTC-stamp>-<uuid>.{html,png} with an Expires header
// SNAPSHOT_TTL_DAYS out. Upload failures are logged, never propagated:
// losing a debug capture must not fail the fetch that produced it.
func (s *Snapshotter) Save(ctx context.Context, prefix, pageURL, html string, screenshot []byte) {
	if s == nil {
		return
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	stamp := time.Now().UTC().Format("20060102T150405")
	base := fmt.Sprintf("%s/%s/%s-%s", prefix, u.Host, stamp, uuid.NewString())
	expires := time.Now().AddDate(0, 0, s.ttlDays)

	if html != "" {
		s.put(ctx, base+".html", []byte(html), "text/html", expires)
	}
	if len(screenshot) > 0 {
		s.put(ctx, base+".png", screenshot, "image/png", expires)
	}
}

// List returns stored capture keys under prefix, e.g. "schema/www.ozon.ru/".
func (s *Snapshotter) List(ctx context.Context, prefix string) ([]string, error) {
	if s == nil {
		return nil, nil
	}
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("snapshots: list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Download fetches one capture into dir, keeping the object's base name.
func (s *Snapshotter) Download(ctx context.Context, key, dir string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("snapshots: not configured")
	}
	dest := filepath.Join(dir, filepath.Base(key))
	if err := s.client.FGetObject(ctx, s.bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("snapshots: download %s: %w", key, err)
	}
	return dest, nil
}

func (s *Snapshotter) put(ctx context.Context, key string, body []byte, contentType string, expires time.Time) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
		Expires:     expires,
	})
	if err != nil {
		zap.L().Warn("snapshot upload failed", zap.String("key", key), zap.Error(err))
	}
}
