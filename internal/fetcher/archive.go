package fetcher

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/fsds"
)

// ArchiveFetcher downloads one period's archive into a workspace directory.
type ArchiveFetcher struct {
	http    *HTTPFetcher
	baseURL string
}

// NewArchiveFetcher returns a fetcher for archives published under baseURL.
func NewArchiveFetcher(h *HTTPFetcher, baseURL string) *ArchiveFetcher {
	return &ArchiveFetcher{http: h, baseURL: baseURL}
}

// Fetch downloads the archive for p to dir/{period}.zip. Errors are *fsds.FetchError.
func (a *ArchiveFetcher) Fetch(ctx context.Context, p fsds.Period, dir string) (*fsds.ArchiveHandle, error) {
	url := p.ArchiveURL(a.baseURL)
	name := p.ArchiveName()
	path := filepath.Join(dir, name)
	log := zap.L().With(zap.String("component", "fetcher"), zap.String("period", p.String()))

	start := time.Now()
	n, err := a.http.DownloadToFile(ctx, url, path)
	if err != nil {
		fe := &fsds.FetchError{Period: p, URL: url}
		var se *StatusError
		if errors.As(err, &se) {
			fe.StatusCode = se.StatusCode
		} else {
			fe.Transport = err
		}
		log.Error("archive download failed", zap.String("url", url), zap.Error(fe))
		return nil, fe
	}

	log.Info("archive downloaded",
		zap.String("url", url),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &fsds.ArchiveHandle{Period: p, Path: path, Name: name, Size: n}, nil
}
