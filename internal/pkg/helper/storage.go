package helper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/davexpro/archivist/internal/config"
	"github.com/davexpro/archivist/internal/logging"
)

// Storage mirrors backup directories to an S3-compatible bucket (R2, MinIO).
type Storage struct {
	client     *minio.Client
	bucket     string
	pathPrefix string
}

// NewStorage returns nil, nil when no endpoint is configured; the mirror is optional.
func NewStorage(cfg config.R2Config) (*Storage, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	endpoint, secure := splitEndpoint(cfg.Endpoint)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	return &Storage{
		client:     client,
		bucket:     cfg.Bucket,
		pathPrefix: strings.Trim(cfg.PathPrefix, "/"),
	}, nil
}

// minio-go wants host:port, without scheme
func splitEndpoint(endpoint string) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	default:
		return endpoint, true
	}
}

// Key joins the configured prefix with rel using forward slashes.
func (s *Storage) Key(rel string) string {
	rel = strings.TrimLeft(filepath.ToSlash(rel), "/")
	if s.pathPrefix == "" {
		return rel
	}
	return path.Join(s.pathPrefix, rel)
}

// UploadDir uploads every regular file under localDir to keys under keyPrefix, tagging each
// object with its sha256. A missing localDir uploads nothing.
func (s *Storage) UploadDir(ctx context.Context, localDir, keyPrefix string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == localDir {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		digest, err := FileDigest(p)
		if err != nil {
			return err
		}

		key := s.Key(path.Join(keyPrefix, filepath.ToSlash(rel)))
		_, err = s.client.FPutObject(ctx, s.bucket, key, p, minio.PutObjectOptions{
			ContentType:  contentType(p),
			UserMetadata: map[string]string{"sha256": digest.SHA256},
		})
		if err != nil {
			return fmt.Errorf("failed to upload object %s: %w", key, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, err
	}

	logging.Debug().Str("bucket", s.bucket).Str("prefix", keyPrefix).Int("objects", uploaded).Msg("mirrored directory")
	return uploaded, nil
}

// RemovePrefix deletes every object under keyPrefix. Failures of individual objects are
// collected and returned together.
func (s *Storage) RemovePrefix(ctx context.Context, keyPrefix string) error {
	prefix := strings.TrimSuffix(s.Key(keyPrefix), "/") + "/"
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}

	var errs []error
	removed := 0
	for object := range s.client.ListObjects(ctx, s.bucket, opts) {
		if object.Err != nil {
			errs = append(errs, object.Err)
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete object %s: %w", object.Key, err))
			continue
		}
		removed++
	}

	if removed > 0 {
		logging.Info().Str("bucket", s.bucket).Str("prefix", prefix).Int("objects", removed).Msg("removed mirrored objects")
	}
	return errors.Join(errs...)
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
