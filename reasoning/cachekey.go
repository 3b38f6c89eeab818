package reasoning

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/baum777/reasongate"
)

// Canonical encodes v as compact JSON with object keys sorted at every
// level, so equal contexts encode to equal bytes regardless of map order
// or struct layout.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("reasoning: canonicalize: %w", err)
	}

	// Round-trip through a generic value so structs become sorted maps.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("reasoning: canonicalize: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("reasoning: canonicalize: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CacheKey builds the cache key for a use case, reference, version and
// canonical context.
func CacheKey(uc reasongate.UseCase, referenceID, version string, canonical []byte) string {
	h := xxh3.Hash128(canonical)
	return fmt.Sprintf("reasoning:%s:%s:%s:%016x%016x", uc, referenceID, version, h.Hi, h.Lo)
}
