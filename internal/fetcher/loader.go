package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/config"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/resilience"
)

// Source is one loaded payload. Format is inferred from the name and is
// empty when the extension is not recognized.
type Source struct {
	Name     string
	Location string
	Format   model.Format
	Data     []byte
}

// Loader resolves a location to payload bytes.
type Loader struct {
	http     Fetcher
	ftp      Fetcher
	maxBytes int64
}

// LoaderOptions configures a Loader. Nil fetchers get defaults.
type LoaderOptions struct {
	HTTP     Fetcher
	FTP      Fetcher
	MaxBytes int64
}

// NewLoader creates a Loader.
func NewLoader(opts LoaderOptions) *Loader {
	if opts.HTTP == nil {
		opts.HTTP = NewHTTPFetcher(HTTPOptions{})
	}
	if opts.FTP == nil {
		opts.FTP = NewFTPFetcher(FTPOptions{})
	}
	return &Loader{http: opts.HTTP, ftp: opts.FTP, maxBytes: opts.MaxBytes}
}

// NewLoaderFromConfig wires fetchers from the fetch and pipeline sections.
func NewLoaderFromConfig(cfg *config.Config) *Loader {
	timeout := time.Duration(cfg.Fetch.TimeoutSecs) * time.Second
	return NewLoader(LoaderOptions{
		HTTP: NewHTTPFetcher(HTTPOptions{
			UserAgent:   cfg.Fetch.UserAgent,
			Timeout:     timeout,
			RatePerHost: cfg.Fetch.RatePerHost,
			Retry:       resilience.ForFetch(cfg.Fetch),
		}),
		FTP:      NewFTPFetcher(FTPOptions{Timeout: timeout}),
		MaxBytes: cfg.Pipeline.MaxSourceBytes,
	})
}

// MaxBytes is the per-source size cap; zero means unlimited.
func (l *Loader) MaxBytes() int64 { return l.maxBytes }

// Load reads location and returns its sources. A zip bundle yields one
// source per catalog entry; anything else yields exactly one.
func (l *Loader) Load(ctx context.Context, location string) ([]Source, error) {
	start := time.Now()
	data, err := l.fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("fetcher: loaded",
		zap.String("location", location),
		zap.Int("bytes", len(data)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	name := sourceName(location)
	if IsZIP(location) {
		return ExpandZIP(data, name, l.maxBytes)
	}
	src := Source{Name: name, Location: location, Data: data}
	if f, err := model.FormatFromPath(stripQuery(location)); err == nil {
		src.Format = f
	}
	return []Source{src}, nil
}

func (l *Loader) fetch(ctx context.Context, location string) ([]byte, error) {
	scheme := ""
	if u, err := url.Parse(location); err == nil && len(u.Scheme) > 1 {
		scheme = strings.ToLower(u.Scheme)
	}

	var (
		rc  io.ReadCloser
		err error
	)
	switch scheme {
	case "http", "https":
		rc, err = l.http.Download(ctx, location)
	case "ftp":
		rc, err = l.ftp.Download(ctx, location)
	case "file":
		u, _ := url.Parse(location)
		rc, err = openFile(u.Path)
	case "":
		rc, err = openFile(location)
	default:
		return nil, eris.Wrapf(model.ErrMalformedInput, "fetcher: unsupported scheme %q", scheme)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: load %s", location)
	}
	defer rc.Close() //nolint:errcheck

	return readLimited(rc, l.maxBytes, location)
}

func openFile(p string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(p))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open file")
	}
	return f, nil
}

// readLimited reads r fully, failing with ErrSourceTooLarge once more than
// maxBytes arrive. maxBytes <= 0 disables the cap.
func readLimited(r io.Reader, maxBytes int64, name string) ([]byte, error) {
	if maxBytes <= 0 {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read %s", name)
		}
		return b, nil
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", name)
	}
	if n > maxBytes {
		return nil, eris.Wrapf(model.ErrSourceTooLarge, "fetcher: %s exceeds %d bytes", name, maxBytes)
	}
	return buf.Bytes(), nil
}

// ReadLimited applies the loader's size cap to an already open payload, such
// as an upload.
func (l *Loader) ReadLimited(r io.Reader, name string) ([]byte, error) {
	return readLimited(r, l.maxBytes, name)
}

// sourceName is the last path element of a location, without any query.
func sourceName(location string) string {
	p := stripQuery(location)
	if u, err := url.Parse(p); err == nil && u.Path != "" && len(u.Scheme) > 1 {
		p = u.Path
	}
	base := path.Base(filepath.ToSlash(p))
	if base == "." || base == "/" {
		return location
	}
	return base
}

func stripQuery(location string) string {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		return location[:i]
	}
	return location
}
