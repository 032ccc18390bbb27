// Package fetcher downloads and decodes data from the external providers:
// HTTP APIs, EBB postback pages, and the NCEI FTP archive.
package fetcher

import (
	"context"
	"io"
	"net/url"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// Get fetches the URL with extra headers and returns the response body.
	Get(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error)

	// PostForm submits a form-encoded POST (EBB postback flows) and returns
	// the response body and content type.
	PostForm(ctx context.Context, url string, form url.Values, headers map[string]string) (io.ReadCloser, string, error)
}
