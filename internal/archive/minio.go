package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"triage/internal/config"
	"triage/internal/results"
	"triage/internal/services"
)

// Minio stores snapshots in an S3-compatible bucket.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
}

// ValidateConfig checks the archive settings without contacting the server.
func ValidateConfig(cfg config.Archive) error {
	var problems []string
	if strings.TrimSpace(cfg.Endpoint) == "" {
		problems = append(problems, "endpoint is required")
	}
	if strings.Contains(cfg.Endpoint, "://") {
		problems = append(problems, fmt.Sprintf("endpoint must not include scheme: %q", cfg.Endpoint))
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		problems = append(problems, "access and secret keys are required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		problems = append(problems, "bucket is required")
	}
	if len(problems) > 0 {
		return services.Wrap(services.ErrConfiguration, "archive", "config", strings.Join(problems, "; "), nil)
	}
	return nil
}

// NewMinio connects to the archive bucket, creating it when missing.
func NewMinio(ctx context.Context, cfg config.Archive) (*Minio, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "archive", "connect", "Invalid archive endpoint", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, services.Wrap(services.ErrTransient, "archive", "bucket", "Archive bucket unavailable", err)
	}
	return &Minio{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (m *Minio) key(runID string) string {
	if m.prefix == "" {
		return runID + ".json"
	}
	return path.Join(m.prefix, runID+".json")
}

func (m *Minio) Location(runID string) string {
	return "s3://" + m.bucket + "/" + m.key(runID)
}

func (m *Minio) Save(ctx context.Context, snap *results.Snapshot) (string, error) {
	if err := validRunID(snap); err != nil {
		return "", err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := m.key(snap.RunID)
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return m.Location(snap.RunID), nil
}

func (m *Minio) Load(ctx context.Context, runID string) (*results.Snapshot, error) {
	key := m.key(runID)
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.loadError(runID, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.loadError(runID, err)
	}
	return decode(data)
}

func (m *Minio) loadError(runID string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return services.Wrap(services.ErrNotFound, "archive", "load", "No archived result for run "+runID, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return services.Wrap(services.ErrTransient, "archive", "load", "Archive unreachable", err)
	}
	return fmt.Errorf("get %s: %w", m.key(runID), err)
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
