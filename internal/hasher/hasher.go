// Package hasher implements the canonical content-to-digest function used
// throughout the sync core to detect change and verify integrity.
package hasher

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Algorithm selects the digest function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA384 Algorithm = "sha384"
	SHA512 Algorithm = "sha512"
)

// Hasher maps arbitrary content to a fixed-length hex digest, normalizing
// input so that equal logical content always produces equal digests.
type Hasher struct {
	algo         Algorithm
	excludedKeys map[string]bool
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithAlgorithm selects the digest algorithm. Defaults to SHA-256.
func WithAlgorithm(a Algorithm) Option {
	return func(h *Hasher) { h.algo = a }
}

// WithExcludedKeys removes the named object keys from normalization before
// hashing.
func WithExcludedKeys(keys ...string) Option {
	return func(h *Hasher) {
		for _, k := range keys {
			h.excludedKeys[k] = true
		}
	}
}

// New creates a Hasher with the given options.
func New(opts ...Option) *Hasher {
	h := &Hasher{
		algo:         SHA256,
		excludedKeys: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hasher) newDigest() hash.Hash {
	switch h.algo {
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

// Hash normalizes and hashes arbitrary structured content.
func (h *Hasher) Hash(content interface{}) string {
	normalized := h.normalize(content)
	digest := h.newDigest()
	digest.Write(normalized)
	return hex.EncodeToString(digest.Sum(nil))
}

// HashBinary hashes raw bytes directly without normalization.
func (h *Hasher) HashBinary(content []byte) string {
	digest := h.newDigest()
	digest.Write(content)
	return hex.EncodeToString(digest.Sum(nil))
}

// BatchHash hashes many items concurrently, bounded by concurrency. Results
// preserve input order.
func (h *Hasher) BatchHash(ctx context.Context, items []interface{}, concurrency int) ([]string, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]string, len(items))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = h.Hash(item)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch hash: %w", err)
	}
	return results, nil
}

// normalize applies the canonical normalization rules and returns the
// serialized UTF-8 byte stream fed to the digest.
func (h *Hasher) normalize(v interface{}) []byte {
	var buf []byte
	h.writeNormalized(&buf, v)
	return buf
}

func (h *Hasher) writeNormalized(buf *[]byte, v interface{}) {
	switch val := v.(type) {
	case nil:
		*buf = append(*buf, "null"...)
	case time.Time:
		*buf = append(*buf, '"')
		*buf = append(*buf, val.UTC().Format(time.RFC3339Nano)...)
		*buf = append(*buf, '"')
	case []interface{}:
		*buf = append(*buf, '[')
		for i, elem := range val {
			if i > 0 {
				*buf = append(*buf, ',')
			}
			h.writeNormalized(buf, elem)
		}
		*buf = append(*buf, ']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			if h.excludedKeys[k] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		*buf = append(*buf, '{')
		for i, k := range keys {
			if i > 0 {
				*buf = append(*buf, ',')
			}
			*buf = append(*buf, '"')
			*buf = append(*buf, k...)
			*buf = append(*buf, `":`...)
			h.writeNormalized(buf, val[k])
		}
		*buf = append(*buf, '}')
	case string:
		*buf = append(*buf, '"')
		*buf = append(*buf, escapeString(val)...)
		*buf = append(*buf, '"')
	default:
		*buf = append(*buf, fmt.Sprintf("%v", val)...)
	}
}

// escapeString escapes quote and backslash characters so that string
// boundaries stay unambiguous in the normalized byte stream.
func escapeString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
