// Package files fetches user-uploaded files to local storage.
package files

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// maxFileSize caps downloads at 20 MiB; chat platforms reject larger
// uploads long before this.
const maxFileSize = 20 << 20

// HTTPRetriever downloads file references (URLs handed over by the chat
// platform) into a local directory. Stored names are random; the original
// file name is returned separately for display and answer records.
type HTTPRetriever struct {
	dir    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPRetriever creates a retriever storing downloads under dir, which
// is created if missing.
func NewHTTPRetriever(dir string, logger *slog.Logger) (*HTTPRetriever, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}
	return &HTTPRetriever{
		dir:    dir,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}, nil
}

// Retrieve downloads fileRef and returns the local path plus the original
// file name taken from the URL path.
func (r *HTTPRetriever) Retrieve(ctx context.Context, fileRef string) (string, string, error) {
	parsed, err := url.Parse(fileRef)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", "", fmt.Errorf("invalid file reference %q", fileRef)
	}

	fileName := path.Base(parsed.Path)
	if fileName == "." || fileName == "/" {
		fileName = "upload"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileRef, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	localPath := filepath.Join(r.dir, uuid.NewString()+filepath.Ext(fileName))
	out, err := os.Create(localPath)
	if err != nil {
		return "", "", fmt.Errorf("create file: %w", err)
	}

	written, err := io.Copy(out, io.LimitReader(resp.Body, maxFileSize+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > maxFileSize {
		err = fmt.Errorf("file exceeds %d bytes", maxFileSize)
	}
	if err != nil {
		_ = os.Remove(localPath)
		return "", "", fmt.Errorf("write file: %w", err)
	}

	r.logger.Debug("file retrieved", "file_name", fileName, "bytes", written, "path", localPath)
	return localPath, fileName, nil
}
