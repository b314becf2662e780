// Package seal computes deterministic fingerprints of record field mappings.
// A record's user-editable fields are flattened into a canonical byte string
// and hashed; the resulting fingerprint is what gets anchored externally and
// compared during verification.
package seal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DefaultExclusions are the field names stripped before canonicalization:
// identifiers, the fingerprint mirror columns, and volatile timestamps.
// Deployments can override the set via SEAL_EXCLUDE_FIELDS.
var DefaultExclusions = []string{
	"id",
	"fingerprint",
	"external_reference",
	"content_reference",
	"created_at",
	"updated_at",
}

// CanonicalizationError reports a field value whose type has no defined
// canonical encoding. It aborts the whole attempt: no partial output is
// ever produced.
type CanonicalizationError struct {
	Key  string
	Type string
}

func (e *CanonicalizationError) Error() string {
	return fmt.Sprintf("canonicalize: field %q has unencodable type %s", e.Key, e.Type)
}

// Canonicalizer turns a field mapping into a unique, reproducible byte
// string: keys sorted lexicographically, values written through one stable
// encoding, excluded keys never emitted. Output is byte-identical for
// semantically identical mappings regardless of input key order.
type Canonicalizer struct {
	exclude map[string]struct{}
}

func NewCanonicalizer(exclude []string) *Canonicalizer {
	c := &Canonicalizer{exclude: make(map[string]struct{}, len(exclude))}
	for _, k := range exclude {
		c.exclude[k] = struct{}{}
	}
	return c
}

// Canonicalize encodes fields into canonical bytes. Exclusions apply at
// every nesting level. On error the returned bytes are nil.
func (c *Canonicalizer) Canonicalize(fields map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.writeMap(&buf, "", fields); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Canonicalizer) writeMap(buf *bytes.Buffer, path string, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if _, skip := c.exclude[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		if err := c.writeValue(buf, childPath(path, k), m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func (c *Canonicalizer) writeValue(buf *bytes.Buffer, path string, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		fmt.Fprintf(buf, "%d", t)
	case float32:
		return writeFloat(buf, path, float64(t))
	case float64:
		return writeFloat(buf, path, t)
	case time.Time:
		// Normalized to UTC so the same instant canonicalizes identically
		// whatever zone it was loaded in.
		writeString(buf, t.UTC().Format(time.RFC3339Nano))
	case uuid.UUID:
		writeString(buf, t.String())
	case map[string]any:
		return c.writeMap(buf, path, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := c.writeValue(buf, fmt.Sprintf("%s[%d]", path, i), elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return &CanonicalizationError{Key: path, Type: fmt.Sprintf("%T", v)}
	}
	return nil
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// writeFloat emits the shortest decimal representation that round-trips.
// NaN and infinities have no decimal form and fail closed.
func writeFloat(buf *bytes.Buffer, path string, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &CanonicalizationError{Key: path, Type: "non-finite float64"}
	}
	buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// writeString emits a JSON-quoted string. Marshalling a string never fails.
func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
