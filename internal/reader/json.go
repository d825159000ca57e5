package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// ReadJSON parses a JSON catalog of the form
// {"catalog_name": "...", "products": [{...}, ...]}.
//
// A leading UTF-8 byte order mark is ignored. Any structural failure of the
// document, including a repeated products key, is fatal for the file. An element of
// products that is not an object is skipped and reported with its 1-based index.
func ReadJSON(ctx context.Context, raw []byte) (*Result, error) {
	decoder := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))
	decoder.UseNumber()

	tok, err := decoder.Token()
	if err != nil {
		return nil, malformed(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, eris.Wrapf(model.ErrMalformedInput, "json: expected '{', got %v", tok)
	}

	res := &Result{}
	sawProducts := false
	for decoder.More() {
		keyTok, err := decoder.Token()
		if err != nil {
			return nil, malformed(err, "json: read key")
		}
		key, _ := keyTok.(string)

		switch key {
		case "catalog_name":
			var name any
			if err := decoder.Decode(&name); err != nil {
				return nil, malformed(err, "json: decode catalog_name")
			}
			if s, ok := name.(string); ok {
				res.Meta.CatalogName = s
			}
		case "products":
			if sawProducts {
				return nil, eris.Wrap(model.ErrMalformedInput, "json: duplicate products key")
			}
			sawProducts = true
			if err := readProducts(ctx, decoder, res); err != nil {
				return nil, err
			}
		default:
			var skip json.RawMessage
			if err := decoder.Decode(&skip); err != nil {
				return nil, malformed(err, fmt.Sprintf("json: decode %q", key))
			}
		}
	}

	if _, err := decoder.Token(); err != nil {
		return nil, malformed(err, "json: read closing token")
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, eris.Wrap(model.ErrMalformedInput, "json: trailing data after catalog object")
	}
	if !sawProducts {
		return nil, eris.Wrap(model.ErrMalformedInput, "json: missing products array")
	}
	return res, nil
}

func readProducts(ctx context.Context, decoder *json.Decoder, res *Result) error {
	tok, err := decoder.Token()
	if err != nil {
		return malformed(err, "json: read products token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return eris.Wrapf(model.ErrMalformedInput, "json: products must be an array, got %v", tok)
	}

	index := 0
	for decoder.More() {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "json: context cancelled")
		}
		index++
		res.Meta.RowCount++

		var item any
		if err := decoder.Decode(&item); err != nil {
			return malformed(err, "json: decode element")
		}
		obj, ok := item.(map[string]any)
		if !ok {
			res.Meta.Errors = append(res.Meta.Errors, model.RecordError{
				Kind:    model.KindRecordParseError,
				Row:     index,
				Message: fmt.Sprintf("expected object, got %s", jsonKind(item)),
			})
			continue
		}
		res.Records = append(res.Records, Record{Fields: model.FieldMap(obj), Row: index})
	}

	if _, err := decoder.Token(); err != nil {
		return malformed(err, "json: read products closing token")
	}
	return nil
}

func malformed(err error, action string) error {
	return eris.Wrapf(model.ErrMalformedInput, "%s: %v", action, err)
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	}
	return "value"
}
