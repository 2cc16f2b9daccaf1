package arraystore

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
)

// Encode compresses and encodes v as a gob+gzip blob.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(v); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decompresses and decodes a gob+gzip blob into v.
func Decode(blob []byte, v any) error {
	if len(blob) == 0 {
		return fmt.Errorf("empty blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	dec := gob.NewDecoder(gz)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to decode blob: %w", err)
	}
	return nil
}
