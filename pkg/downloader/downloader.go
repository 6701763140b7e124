// Package downloader fetches a ROM referenced by a validation response's
// PkgRom.Url and verifies it against the server's expected MD5 before
// handing it to the sideload engine.
package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	log "github.com/Has-X/Sensitivity/pkg/logging"
)

// ErrMD5Mismatch is returned when a completed download's MD5 does not
// match the server-supplied expectation.
type ErrMD5Mismatch struct {
	Got, Want string
}

func (e *ErrMD5Mismatch) Error() string {
	return fmt.Sprintf("downloader: MD5 mismatch: got %s, want %s", e.Got, e.Want)
}

// Client fetches ROM files over HTTP.
type Client struct {
	HTTPClient *http.Client
}

// New builds a Client with no overall client timeout, since large ROM
// downloads can take arbitrarily long; per-request context deadlines still
// apply.
func New() *Client {
	return &Client{HTTPClient: &http.Client{Timeout: 0}}
}

// destFileName derives a local file name from a possibly query-decorated
// URL, e.g. "https://host/rom.zip?t=...&s=1" -> "rom.zip".
func destFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	base := rawURL
	if err == nil {
		base = u.Path
	}
	base = filepath.Base(base)
	if base == "" || base == "." || base == "/" {
		base = "download.zip"
	}
	return base
}

// Download fetches url into destDir, streaming through MD5 as it writes,
// and returns the local path once the digest matches expectMD5. The
// partial file is left on disk on failure for inspection; callers that
// want a clean retry should remove it themselves.
func (c *Client) Download(ctx context.Context, url, destDir, expectMD5 string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("downloader: creating %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, destFileName(url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("downloader: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloader: GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("downloader: GET %s: HTTP %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("downloader: creating %s: %w", dest, err)
	}
	defer f.Close()

	hasher := md5.New()
	written, err := io.Copy(f, io.TeeReader(resp.Body, hasher))
	if err != nil {
		return "", fmt.Errorf("downloader: writing %s: %w", dest, err)
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(got, expectMD5) {
		return dest, &ErrMD5Mismatch{Got: got, Want: expectMD5}
	}

	log.Infof("downloader: fetched %s (%d bytes), MD5 verified", dest, written)
	return dest, nil
}
