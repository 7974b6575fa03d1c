package report

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zeebo/blake3"

	"statusflow/internal/config"
)

// Publisher stores a rendered document and returns where it went.
type Publisher interface {
	Publish(ctx context.Context, name string, doc []byte) (string, error)
}

// ObjectName builds a content-addressed file name: <name>-<digest>.html.
func ObjectName(name string, doc []byte) string {
	sum := blake3.Sum256(doc)
	base := sanitize(name)
	if base == "" {
		base = "report"
	}
	return base + "-" + hex.EncodeToString(sum[:8]) + ".html"
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		case r == '/' || r == ' ':
			return '-'
		}
		return -1
	}, name)
}

type DirPublisher struct {
	Dir string
}

func (p DirPublisher) Publish(ctx context.Context, name string, doc []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create publish dir: %w", err)
	}
	dst := filepath.Join(p.Dir, ObjectName(name, doc))
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, doc, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return dst, nil
}

type MinioPublisher struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

func NewMinioPublisher(cfg config.MinioConfig) (*MinioPublisher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioPublisher{Client: client, Bucket: cfg.Bucket, Prefix: cfg.Prefix}, nil
}

func (p *MinioPublisher) Publish(ctx context.Context, name string, doc []byte) (string, error) {
	key := path.Join(p.Prefix, ObjectName(name, doc))
	_, err := p.Client.PutObject(
		ctx,
		p.Bucket,
		key,
		bytes.NewReader(doc),
		int64(len(doc)),
		minio.PutObjectOptions{ContentType: "text/html; charset=utf-8"},
	)
	if err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}
	return "s3://" + p.Bucket + "/" + key, nil
}

// PublisherFromConfig prefers object storage when configured. It returns nil
// when neither a bucket nor a directory is set.
func PublisherFromConfig(cfg config.ReportConfig, workspace string) (Publisher, error) {
	if cfg.Minio != nil {
		p, err := NewMinioPublisher(*cfg.Minio)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	if cfg.PublishDir == "" {
		return nil, nil
	}
	dir := cfg.PublishDir
	if !filepath.IsAbs(dir) && workspace != "" {
		dir = filepath.Join(workspace, dir)
	}
	return DirPublisher{Dir: dir}, nil
}
