package reader

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/model"
)

func TestReadJSON_Catalog(t *testing.T) {
	input := `{
		"catalog_name": "Tech Products Q4",
		"version": 3,
		"products": [
			{"id": "TP-001", "name": "Google Pixel 8 Pro", "vendor": "Google", "price": 999.00, "specs": {"storage": "128GB"}},
			{"id": "TP-002", "name": "ThinkPad X1", "vendor": "Lenovo", "price": "$1,499"}
		]
	}`

	res, err := ReadJSON(context.Background(), []byte(input))
	require.NoError(t, err)

	assert.Equal(t, "Tech Products Q4", res.Meta.CatalogName)
	assert.Equal(t, 2, res.Meta.RowCount)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Records[0].Row)
	assert.Equal(t, "Google Pixel 8 Pro", res.Records[0].Fields["name"])
	assert.Equal(t, json.Number("999.00"), res.Records[0].Fields["price"])
	assert.IsType(t, map[string]any{}, res.Records[0].Fields["specs"])
	assert.Empty(t, res.Meta.Errors)
}

func TestReadJSON_NonObjectElementSkipped(t *testing.T) {
	input := `{"products": [{"name": "A"}, "oops", null, {"name": "B"}]}`

	res, err := ReadJSON(context.Background(), []byte(input))
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 4, res.Records[1].Row)
	require.Len(t, res.Meta.Errors, 2)
	assert.Equal(t, model.KindRecordParseError, res.Meta.Errors[0].Kind)
	assert.Equal(t, 2, res.Meta.Errors[0].Row)
	assert.Equal(t, "expected object, got string", res.Meta.Errors[0].Message)
	assert.Equal(t, "expected object, got null", res.Meta.Errors[1].Message)
}

func TestReadJSON_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"truncated", `{"products": [{"name": "A"}`},
		{"top level array", `[{"name": "A"}]`},
		{"products not array", `{"products": {"name": "A"}}`},
		{"missing products", `{"catalog_name": "x"}`},
		{"trailing data", `{"products": []} {"products": []}`},
		{"syntax error in element", `{"products": [{"name": }]}`},
		{"duplicate products", `{"products": [{"name": "A"}], "products": [{"name": "B"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadJSON(context.Background(), []byte(tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrMalformedInput)
		})
	}
}

func TestReadJSON_ByteOrderMark(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, `{"catalog_name": "Q4", "products": [{"name": "A"}]}`...)

	res, err := ReadJSON(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "Q4", res.Meta.CatalogName)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "A", res.Records[0].Fields["name"])
}

func TestReadJSON_EmptyProducts(t *testing.T) {
	res, err := ReadJSON(context.Background(), []byte(`{"products": []}`))
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}

func TestReadJSON_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadJSON(ctx, []byte(`{"products": [{"name": "A"}]}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
