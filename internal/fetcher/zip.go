package fetcher

import (
	"archive/zip"
	"bytes"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// IsZIP reports whether a location names a zip bundle.
func IsZIP(location string) bool {
	return strings.EqualFold(path.Ext(stripQuery(location)), ".zip")
}

// ExpandZIP returns every catalog file inside a zip bundle, in archive order.
// Entries without a json, csv or pdf extension are skipped. Each entry is
// held to maxBytes when it is positive.
func ExpandZIP(data []byte, bundle string, maxBytes int64) ([]Source, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrapf(model.ErrMalformedInput, "fetcher: open zip %s: %v", bundle, err)
	}

	var out []Source
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(f.Name)
		if strings.HasPrefix(name, "../") || path.IsAbs(name) {
			return nil, eris.Wrapf(model.ErrMalformedInput, "fetcher: illegal path %q in %s", f.Name, bundle)
		}
		if strings.HasPrefix(path.Base(name), ".") || strings.HasPrefix(name, "__MACOSX/") {
			continue
		}
		format, err := model.FormatFromPath(name)
		if err != nil {
			zap.L().Debug("fetcher: skipping zip entry", zap.String("bundle", bundle), zap.String("entry", f.Name))
			continue
		}
		if maxBytes > 0 && f.UncompressedSize64 > uint64(maxBytes) {
			return nil, eris.Wrapf(model.ErrSourceTooLarge, "fetcher: %s in %s", name, bundle)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, eris.Wrapf(model.ErrMalformedInput, "fetcher: open zip entry %s: %v", name, err)
		}
		body, err := readLimited(rc, maxBytes, bundle+"/"+name)
		_ = rc.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, Source{
			Name:     bundle + "/" + name,
			Location: bundle,
			Format:   format,
			Data:     body,
		})
	}
	return out, nil
}
