// Package storage выдаёт ограниченные по времени ссылки на материалы кампаний.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// Config — параметры подключения к S3-совместимому хранилищу.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// ObjectKey возвращает ключ объекта с материалами назначения.
func ObjectKey(a *model.Assignment) string {
	return path.Join("campaigns", strconv.FormatInt(a.CampaignID, 10), string(a.FormatAssigned))
}

// MinioSigner подписывает ссылки через PresignedGetObject.
type MinioSigner struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinioSigner создаёт клиент MinIO. С указанным регионом подпись не требует обращения к серверу.
func NewMinioSigner(ctx context.Context, cfg Config, log *zap.Logger) (*MinioSigner, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if log != nil {
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			log.Warn("failed to check if bucket exists", zap.String("bucket", cfg.Bucket), zap.Error(err))
		} else {
			log.Info("minio client initialized", zap.String("endpoint", cfg.Endpoint), zap.Bool("bucketExists", exists))
		}
	}

	return &MinioSigner{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// SignedURL реализует engine.Presigner.
func (s *MinioSigner) SignedURL(ctx context.Context, a *model.Assignment, ttl time.Duration) (*model.MaterialLink, error) {
	if ttl < time.Second {
		return nil, fmt.Errorf("ttl %s is too short", ttl)
	}
	ttl = ttl.Truncate(time.Second)

	params := url.Values{}
	params.Set("response-content-disposition", "inline")
	u, err := s.client.PresignedGetObject(ctx, s.bucket, ObjectKey(a), ttl, params)
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", ObjectKey(a), err)
	}
	return &model.MaterialLink{URL: u.String(), ExpiresAt: s.now().Add(ttl)}, nil
}

// Static выдаёт неподписанные ссылки от базового адреса. Используется, когда хранилище не настроено.
type Static struct {
	BaseURL string
	Now     func() time.Time
}

// SignedURL реализует engine.Presigner.
func (s Static) SignedURL(_ context.Context, a *model.Assignment, ttl time.Duration) (*model.MaterialLink, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	base := s.BaseURL
	if base == "" {
		base = "/materials"
	}
	u, err := url.JoinPath(base, ObjectKey(a))
	if err != nil {
		return nil, fmt.Errorf("join url: %w", err)
	}
	return &model.MaterialLink{URL: u, ExpiresAt: now().Add(ttl)}, nil
}
