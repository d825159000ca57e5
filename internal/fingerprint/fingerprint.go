// Package fingerprint computes content keys for source payloads.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// Compute returns the SHA-256 hex of the declared format and raw bytes.
// The same bytes declared as a different format yield a different key.
func Compute(format model.Format, raw []byte) string {
	h := sha256.New()
	writeFormat(h, format)
	h.Write(raw) //nolint:errcheck
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ComputeReader is Compute over a stream. It returns the key and byte count.
func ComputeReader(format model.Format, r io.Reader) (string, int64, error) {
	h := sha256.New()
	writeFormat(h, format)
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, eris.Wrap(err, "fingerprint: read payload")
	}
	return fmt.Sprintf("%x", h.Sum(nil)), n, nil
}

func writeFormat(w io.Writer, format model.Format) {
	w.Write([]byte(format)) //nolint:errcheck
	w.Write([]byte{0})      //nolint:errcheck
}
