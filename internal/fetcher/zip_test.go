package fetcher

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/model"
)

type zipEntry struct {
	name, content string
}

func buildZIP(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(e.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExpandZIP(t *testing.T) {
	data := buildZIP(t,
		zipEntry{"catalog.json", `{"products":[]}`},
		zipEntry{"readme.txt", "ignored"},
		zipEntry{"q3/prices.CSV", "Product Name,Price\nJira,$10\n"},
		zipEntry{"__MACOSX/._prices.csv", "junk"},
		zipEntry{"q3/", ""},
	)

	got, err := ExpandZIP(data, "bundle.zip", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "bundle.zip/catalog.json", got[0].Name)
	assert.Equal(t, model.FormatJSON, got[0].Format)
	assert.Equal(t, "bundle.zip/q3/prices.CSV", got[1].Name)
	assert.Equal(t, model.FormatCSV, got[1].Format)
	assert.Equal(t, "Product Name,Price\nJira,$10\n", string(got[1].Data))
}

func TestExpandZIP_Invalid(t *testing.T) {
	_, err := ExpandZIP([]byte("not a zip"), "bad.zip", 0)
	assert.ErrorIs(t, err, model.ErrMalformedInput)
}

func TestExpandZIP_ZipSlip(t *testing.T) {
	data := buildZIP(t, zipEntry{"../../etc/catalog.json", "{}"})
	_, err := ExpandZIP(data, "evil.zip", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal path")
}

func TestExpandZIP_EntryTooLarge(t *testing.T) {
	data := buildZIP(t, zipEntry{"big.csv", "Product,Price\nA,1\nB,2\n"})
	_, err := ExpandZIP(data, "b.zip", 8)
	assert.ErrorIs(t, err, model.ErrSourceTooLarge)
}

func TestIsZIP(t *testing.T) {
	assert.True(t, IsZIP("catalogs.zip"))
	assert.True(t, IsZIP("https://example.com/q3/ALL.ZIP?token=x"))
	assert.False(t, IsZIP("catalog.json"))
	assert.False(t, IsZIP("zip"))
}
