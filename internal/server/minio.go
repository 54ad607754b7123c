package server

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		secure = (u.Scheme == "https")
		return u.Host, secure, nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

// MinioConfig selects the bucket uploads are mirrored to.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // object key prefix, e.g. "uploads/"
}

// MinioConfigFromEnv reads FD_S3_*; ok is false when the mirror is not
// configured.
func MinioConfigFromEnv() (cfg MinioConfig, ok bool) {
	cfg = MinioConfig{
		Endpoint:  os.Getenv("FD_S3_ENDPOINT"),
		AccessKey: os.Getenv("FD_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("FD_S3_SECRET_KEY"),
		Bucket:    os.Getenv("FD_BUCKET"),
		Prefix:    os.Getenv("FD_S3_PREFIX"),
	}
	ok = cfg.Endpoint != "" && cfg.AccessKey != "" && cfg.SecretKey != "" && cfg.Bucket != ""
	return cfg, ok
}

// Mirror copies stored uploads into a MinIO/S3 bucket. It is both a
// StoredFileHook and a HealthChecker.
type Mirror struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioMirror connects to the bucket and checks it exists.
func NewMinioMirror(ctx context.Context, cfg MinioConfig) (*Mirror, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	// Sanity check: bucket must exist.
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}

	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (m *Mirror) Name() string { return "minio" }

// ObjectKey is the key a stored file is mirrored under.
func (m *Mirror) ObjectKey(fd FileDescriptor) string {
	return objectKey(m.prefix, fd.NewFilename)
}

func objectKey(prefix, newFilename string) string {
	key := path.Clean("/" + newFilename)[1:]
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// FileStored uploads the stored file to the bucket.
func (m *Mirror) FileStored(ctx context.Context, fd FileDescriptor) error {
	_, err := m.client.FPutObject(ctx, m.bucket, m.ObjectKey(fd), fd.Filepath, minio.PutObjectOptions{
		ContentType: fd.Mimetype,
		UserMetadata: map[string]string{
			"original-filename": url.QueryEscape(fd.OriginalFilename),
			"sha256":            fd.SHA256,
		},
	})
	if err != nil {
		return fmt.Errorf("mirror %s: %w", fd.NewFilename, err)
	}
	return nil
}

// CheckHealth checks MinIO/S3 connectivity
func (m *Mirror) CheckHealth(ctx context.Context) ComponentHealth {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "minio connection failed: " + err.Error(),
		}
	}

	if !exists {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "bucket does not exist: " + m.bucket,
		}
	}

	return ComponentHealth{Status: ComponentStatusUp, Message: "minio healthy"}
}
