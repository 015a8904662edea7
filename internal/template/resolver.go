// Package template resolves {{KEY}} and {{PREFIX:NAME}} placeholders in
// strings and recursively in structured values. It is a small hand-written
// scanner rather than a regexp-based one: the placeholder grammar is
// simple enough that a scanner avoids pulling in a regex engine for every
// call (see the engine's per-request substitution hot path).
package template

import (
	"crypto/rand"
	"encoding/binary"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Built-in placeholder names resolved when no extra-var or base-var match
// is found.
const (
	builtinUUID          = "uuid"
	builtinTimestamp     = "timestamp"
	builtinTimestampUnix = "timestamp_unix"
	builtinRequestNumber = "request_number"
	builtinRandomInt     = "random_int"
)

// Supported placeholder prefixes.
const (
	prefixEnv    = "env"
	prefixTarget = "target"
)

// Resolver substitutes template placeholders against a layered variable
// set: per-call extra vars, a base variable map (typically TestSpec
// variables), then built-ins. A Resolver is safe for concurrent use; it
// holds no mutable state beyond its immutable base map.
type Resolver struct {
	base map[string]string
}

// New creates a Resolver seeded with base variables (commonly
// spec.Variables). A nil map is treated as empty.
func New(base map[string]string) *Resolver {
	return &Resolver{base: base}
}

// Substitute resolves every {{...}} placeholder in s. extra vars take
// precedence over the resolver's base map, which takes precedence over
// built-ins. requestNumber seeds the {{request_number}} built-in. An
// unresolved placeholder (unknown key, no matching prefix handler) is
// emitted unchanged.
func (r *Resolver) Substitute(s string, extra map[string]string, requestNumber int) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "{{")
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		start += i
		b.WriteString(s[i:start])

		end := strings.Index(s[start:], "}}")
		if end < 0 {
			// Unterminated placeholder: copy the rest verbatim.
			b.WriteString(s[start:])
			break
		}
		end += start

		token := s[start+2 : end]
		if value, ok := r.resolveToken(token, extra, requestNumber); ok {
			b.WriteString(value)
		} else {
			// Preserve the placeholder verbatim, including the braces.
			b.WriteString(s[start : end+2])
		}
		i = end + 2
	}
	return b.String()
}

// resolveToken resolves one token (the content between {{ and }}) if it is
// a syntactically valid key or PREFIX:NAME pair made of [A-Za-z0-9_]+.
func (r *Resolver) resolveToken(token string, extra map[string]string, requestNumber int) (string, bool) {
	prefix, name, hasPrefix := strings.Cut(token, ":")
	if hasPrefix {
		if !isIdent(prefix) || !isIdent(name) {
			return "", false
		}
		switch prefix {
		case prefixEnv:
			return os.Getenv(name), true
		case prefixTarget:
			return os.Getenv("TARGET_" + strings.ToUpper(name)), true
		default:
			return "", false
		}
	}

	if !isIdent(token) {
		return "", false
	}

	if extra != nil {
		if v, ok := extra[token]; ok {
			return v, true
		}
	}
	if r.base != nil {
		if v, ok := r.base[token]; ok {
			return v, true
		}
	}
	return resolveBuiltin(token, requestNumber)
}

func resolveBuiltin(name string, requestNumber int) (string, bool) {
	switch name {
	case builtinUUID:
		return uuid.NewString(), true
	case builtinTimestamp:
		return time.Now().UTC().Format(time.RFC3339), true
	case builtinTimestampUnix:
		return strconv.FormatInt(time.Now().Unix(), 10), true
	case builtinRequestNumber:
		return strconv.Itoa(requestNumber), true
	case builtinRandomInt:
		return strconv.Itoa(randomInt(1_000_000)), true
	default:
		return "", false
	}
}

// randomInt returns a uniform random integer in [0, n) using a
// crypto-grade source; load-test identifiers do not need to be
// predictable, and crypto/rand avoids seeding math/rand per call.
func randomInt(n int64) int {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	v := binary.BigEndian.Uint64(buf[:]) % uint64(n)
	return int(v)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

// SubstituteValue recursively resolves every string leaf of a structured
// value (map[string]any, []any, or string); non-string leaves (numbers,
// bools, nil) are copied unchanged. It is used to substitute templates
// into a structured request body.
func (r *Resolver) SubstituteValue(v any, extra map[string]string, requestNumber int) any {
	switch x := v.(type) {
	case string:
		return r.Substitute(x, extra, requestNumber)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = r.SubstituteValue(val, extra, requestNumber)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = r.SubstituteValue(val, extra, requestNumber)
		}
		return out
	default:
		return v
	}
}

// SubstituteHeaders resolves placeholders in every header value.
func (r *Resolver) SubstituteHeaders(headers map[string]string, extra map[string]string, requestNumber int) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = r.Substitute(v, extra, requestNumber)
	}
	return out
}
