// Package fetcher downloads remote inputs and streams CSV, JSON, NDJSON and
// XLSX data.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote resources.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path and returns the bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
