// Package scoring holds the content-addressing helpers used by the section score cache.
package scoring

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyDocument is returned when there is nothing to hash.
var ErrEmptyDocument = errors.New("cannot hash empty document")

// Canonicalize re-encodes a JSON document with object keys sorted and
// insignificant whitespace removed. Numbers keep their original textual form.
func Canonicalize(doc []byte) ([]byte, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, ErrEmptyDocument
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode document: trailing data")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json sorts map keys, which is what makes the output order-independent.
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// HashJSON returns the hex SHA-256 of the canonical form of a JSON document.
func HashJSON(doc []byte) (string, error) {
	canonical, err := Canonicalize(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Hash marshals v and returns the hex SHA-256 of its canonical form.
func Hash(v any) (string, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return HashJSON(raw)
	}
	doc, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return HashJSON(doc)
}
