package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/KaramelBytes/dataforge-cli/internal/engine"
)

type jsonLoader struct{}

func (jsonLoader) CanLoad(c Conn) bool {
	return c.Kind == KindFile && (c.Format == "json" || c.Format == "ndjson")
}

// Load accepts a top-level array of objects or a stream of objects (one per
// line or simply concatenated). Columns appear in first-seen key order.
func (jsonLoader) Load(ctx context.Context, c Conn, opts Options) (*engine.Table, error) {
	rc, err := openFile(c)
	if err != nil {
		return nil, fmt.Errorf("open json: %w", err)
	}
	defer rc.Close()
	text, err := decodeText(rc, opts.Encoding)
	if err != nil {
		return nil, err
	}
	return readJSON(ctx, text, opts.limit())
}

func readJSON(ctx context.Context, r io.Reader, limit int) (*engine.Table, error) {
	br := bufio.NewReader(r)
	dec := json.NewDecoder(br)
	dec.UseNumber()

	var (
		objects []map[string]any
		names   []string
		index   = map[string]int{}
	)
	add := func(raw json.RawMessage) error {
		keys, err := objectKeys(raw)
		if err != nil {
			return fmt.Errorf("record %d: %w", len(objects)+1, err)
		}
		obj := map[string]any{}
		d := json.NewDecoder(bytes.NewReader(raw))
		d.UseNumber()
		if err := d.Decode(&obj); err != nil {
			return fmt.Errorf("record %d: %w", len(objects)+1, err)
		}
		for _, k := range keys {
			if _, ok := index[k]; !ok {
				index[k] = len(names)
				names = append(names, k)
			}
		}
		objects = append(objects, obj)
		return nil
	}

	if first, err := peekNonSpace(br); err != nil {
		if errors.Is(err, io.EOF) {
			return &engine.Table{}, nil
		}
		return nil, err
	} else if first == '[' {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		for dec.More() && len(objects) < limit {
			var v json.RawMessage
			if err := dec.Decode(&v); err != nil {
				return nil, fmt.Errorf("decode json: %w", err)
			}
			if err := add(v); err != nil {
				return nil, err
			}
		}
	} else {
		for len(objects) < limit {
			if len(objects)%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			var v json.RawMessage
			err := dec.Decode(&v)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decode json record %d: %w", len(objects)+1, err)
			}
			if err := add(v); err != nil {
				return nil, err
			}
		}
	}

	types := make([]engine.DataType, len(names))
	cols := make([][]any, len(names))
	vals := make([]any, len(objects))
	for c, name := range names {
		for r, obj := range objects {
			vals[r] = obj[name]
		}
		types[c], cols[c] = inferJSON(vals)
	}
	return tableFromColumns(names, types, cols), nil
}

// objectKeys lists the top-level keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("want a JSON object, got %s", describeToken(tok))
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func describeToken(tok json.Token) string {
	switch x := tok.(type) {
	case json.Delim:
		if x == '[' {
			return "an array"
		}
	case string:
		return "a string"
	case nil:
		return "null"
	case bool:
		return "a boolean"
	}
	return "a number"
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
