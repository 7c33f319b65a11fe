// Package urlutil provides URL classification, validation, and fetching for
// diagnosis inputs: local paths, file:// and http(s):// sources, and the
// rtsp/rtmp URLs handed to stream workers.
package urlutil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/visus-project/visus/internal/httpclient"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
	SchemeRTSP  = "rtsp"
	SchemeRTMP  = "rtmp"
	SchemeRTMPS = "rtmps"
)

// IsRemoteURL checks if a URL is a remote URL that can be fetched over HTTP.
// This includes:
//   - URLs with http:// or https:// scheme
//   - Protocol-relative URLs (//example.com/...)
//
// Returns false for relative paths, empty strings, or local paths.
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "//")
}

// IsFileURL checks if a URL uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

// IsStreamURL checks if a URL uses a live stream scheme (rtsp, rtmp, rtmps).
func IsStreamURL(u string) bool {
	switch GetScheme(u) {
	case SchemeRTSP, SchemeRTMP, SchemeRTMPS:
		return true
	}
	return false
}

// IsNetworkInput reports whether the input needs network transport options
// when handed to a decoder, as opposed to a plain local path.
func IsNetworkInput(u string) bool {
	return IsRemoteURL(u) || IsStreamURL(u)
}

// GetScheme returns the lowercased scheme of a URL, or empty string if the
// URL does not parse or carries none.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// sensitiveParams are query parameter names masked by Redact.
var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "authorization",
	"credential", "credentials",
}

// Redact returns the URL with embedded credentials masked so it is safe for
// logs, error messages, and status responses. Userinfo passwords and
// sensitive query parameters become "***"; non-URL inputs pass through.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}

	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}

	query := u.Query()
	changed := false
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = query.Encode()
	}

	// url.UserPassword escapes the mask; undo it for readability.
	return strings.Replace(u.String(), ":%2A%2A%2A@", ":***@", 1)
}

// FilePathFromURL extracts the file path from a file:// URL.
// For non-file URLs, returns empty string and an error.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	// Handle both file:///path and file://localhost/path forms
	path := parsed.Path
	if path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}

	return path, nil
}

// ResourceFetcher provides a unified interface for fetching diagnosis inputs
// from HTTP/HTTPS URLs and file:// URLs.
type ResourceFetcher struct {
	httpClient *httpclient.Client
}

// NewResourceFetcher creates a new ResourceFetcher with the given HTTP client config.
func NewResourceFetcher(cfg httpclient.Config) *ResourceFetcher {
	return &ResourceFetcher{
		httpClient: httpclient.New(cfg),
	}
}

// NewDefaultResourceFetcher creates a ResourceFetcher with default settings.
func NewDefaultResourceFetcher() *ResourceFetcher {
	return &ResourceFetcher{
		httpClient: httpclient.NewWithDefaults(),
	}
}

// Fetch retrieves content from a URL (http://, https://, or file://).
// Returns an io.ReadCloser that must be closed by the caller.
func (f *ResourceFetcher) Fetch(ctx context.Context, u string) (io.ReadCloser, error) {
	scheme := GetScheme(u)

	switch scheme {
	case SchemeHTTP, SchemeHTTPS:
		return f.fetchHTTP(ctx, u)
	case SchemeFile:
		return f.fetchFile(u)
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (URL: %s)", scheme, Redact(u))
	}
}

// fetchHTTP fetches content from an HTTP/HTTPS URL.
func (f *ResourceFetcher) fetchHTTP(ctx context.Context, u string) (io.ReadCloser, error) {
	resp, err := f.httpClient.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// fetchFile fetches content from a file:// URL.
func (f *ResourceFetcher) fetchFile(u string) (io.ReadCloser, error) {
	path, err := FilePathFromURL(u)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// ValidateStreamURL checks that a URL is a well-formed rtsp/rtmp source.
// Returns nil if valid, or an error describing the problem.
func ValidateStreamURL(u string) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case SchemeRTSP, SchemeRTMP, SchemeRTMPS:
	case "":
		return fmt.Errorf("URL must include a scheme (rtsp:// or rtmp://)")
	default:
		return fmt.Errorf("unsupported stream scheme: %s (supported: rtsp, rtmp, rtmps)", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("stream URL must include a host")
	}

	return nil
}

// ValidateURL checks if a URL is valid and uses a fetchable scheme
// (http, https, or file).
func ValidateURL(u string) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case SchemeHTTP, SchemeHTTPS:
		return nil
	case SchemeFile:
		path, err := FilePathFromURL(u)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return fmt.Errorf("cannot access file: %w", err)
		}
		return nil
	case "":
		return fmt.Errorf("URL must include a scheme (http://, https://, or file://)")
	default:
		return fmt.Errorf("unsupported URL scheme: %s (supported: http, https, file)", scheme)
	}
}
