// Package media downloads attachments and owns the on-disk layout of a backup.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/davexpro/archivist/internal/logging"
	"github.com/davexpro/archivist/internal/metrics"
)

// ErrDownload wraps every failed fetch. It is never fatal to a job.
var ErrDownload = errors.New("media download failed")

// File describes a completed download.
type File struct {
	Path        string
	Size        int64
	ContentType string
}

type Downloader struct {
	http      *http.Client
	userAgent string
}

// NewDownloader bounds every download, body included, by timeout.
func NewDownloader(timeout time.Duration, userAgent string) *Downloader {
	return &Downloader{http: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

// Download fetches url into dest and reports success. Failures are logged, never returned.
func (d *Downloader) Download(ctx context.Context, url, dest string) bool {
	if _, err := d.Fetch(ctx, url, dest); err != nil {
		logging.Warn().Err(err).Str("dest", dest).Msg("skipping media")
		return false
	}
	return true
}

// Fetch streams url into dest through a temporary sibling file, then renames it into place.
// On any failure no file is left at dest or at the temporary path.
func (d *Downloader) Fetch(ctx context.Context, url, dest string) (*File, error) {
	f, err := d.fetch(ctx, url, dest)
	if err != nil {
		metrics.MediaFailures.Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrDownload, url, err)
	}
	metrics.MediaBytes.Add(float64(f.Size))
	return f, nil
}

func (d *Downloader) fetch(ctx context.Context, url, dest string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tmp := dest + ".part-" + uuid.NewString()
	out, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("rename file: %w", err)
	}

	return &File{Path: dest, Size: n, ContentType: resp.Header.Get("Content-Type")}, nil
}
