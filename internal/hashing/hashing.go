// Package hashing implements the canonical hasher: deterministic
// fingerprinting of strings, byte blobs, and dictionaries, plus HMAC signing
// and constant-time comparison. Every function here is pure; the package
// carries no hidden state besides an optional HMAC key threaded in by the
// caller.
package hashing

import (
	"bytes"
	"crypto/hmac"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"
)

// HashString UTF-8-encodes s and returns its 64-character lowercase hex
// SHA3-256 digest.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// HashBytes returns the 64-character lowercase hex SHA3-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashDict returns the digest of v's canonical JSON encoding: keys sorted
// lexicographically at every nesting level, "," / ":" separators with no
// whitespace, non-ASCII left unescaped, null retained, numbers emitted as
// given. This canonicalization is a cross-language contract: any
// reimplementation must produce byte-identical output for the same
// semantic value or cross-deployment verification breaks.
func HashDict(v any) (string, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return "", fmt.Errorf("hashing: canonicalize: %w", err)
	}
	return HashBytes(canon), nil
}

// Canonicalize marshals v into the canonical byte form consumed by HashDict.
// Exported so callers needing the bytes themselves (e.g. for debugging a
// verification mismatch) don't have to reimplement the ordering rules.
func Canonicalize(v any) ([]byte, error) {
	// Round-trip through a generic representation so map keys at every level
	// get sorted, not just the top level, and struct tags are honored.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf []byte
	buf, err = appendCanonical(buf, generic)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// marshalString JSON-encodes s without HTML-escaping "<", ">", "&" and
// without the trailing newline json.Encoder appends, so string output
// matches what a non-Go canonicalizer (e.g. Python's json.dumps) produces.
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func appendCanonical(buf []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if t {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case json.Number:
		return append(buf, t.String()...), nil
	case string:
		enc, err := marshalString(t)
		if err != nil {
			return nil, err
		}
		return append(buf, enc...), nil
	case []any:
		buf = append(buf, '[')
		for i, item := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendCanonical(buf, item)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := marshalString(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf, err = appendCanonical(buf, t[k])
			if err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("hashing: unsupported type %T in canonical value", v)
	}
}

// AuditHashes is the output of ComputeAuditHash.
type AuditHashes struct {
	InputHash   string
	OutputHash  string
	ContextHash string
	FullHash    string
}

// ComputeAuditHash hashes input and output as plain strings (they are the
// prompt and response text) and context as a dictionary (a structured
// projection), then folds all three plus the fixed metadata projection into
// FullHash. Per spec golden vector: input_hash for input="Hello" is
// SHA3-256("Hello"), not the hash of its JSON-quoted form.
func ComputeAuditHash(input, output string, context, metadata any) (AuditHashes, error) {
	inputHash := HashString(input)
	outputHash := HashString(output)
	contextHash, err := HashDict(context)
	if err != nil {
		return AuditHashes{}, fmt.Errorf("hashing: context: %w", err)
	}
	fullHash, err := HashDict(map[string]any{
		"input_hash":   inputHash,
		"output_hash":  outputHash,
		"context_hash": contextHash,
		"metadata":     metadata,
	})
	if err != nil {
		return AuditHashes{}, fmt.Errorf("hashing: full: %w", err)
	}
	return AuditHashes{
		InputHash:   inputHash,
		OutputHash:  outputHash,
		ContextHash: contextHash,
		FullHash:    fullHash,
	}, nil
}

// MerkleHash is the pairing primitive for internal Merkle tree nodes:
// hash_string(left ++ right), i.e. a plain hex-string concatenation hashed
// as ASCII text. This is the adopted contract — do not switch to raw-byte
// concatenation of the decoded digests, or cross-implementation Merkle
// roots will diverge.
func MerkleHash(left, right string) string {
	return HashString(left + right)
}

// HMACHex returns the hex-encoded HMAC-SHA3-256 of data under key.
func HMACHex(data string, key []byte) string {
	mac := hmac.New(sha3.New256, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Compare performs a constant-time equality check on two hex digests.
func Compare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
