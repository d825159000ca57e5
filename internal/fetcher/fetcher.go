// Package fetcher loads catalog sources from local paths, HTTP(S), FTP and
// zip bundles.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads one remote object.
type Fetcher interface {
	// Download fetches the URL and returns the body. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}
