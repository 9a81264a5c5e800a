// Package scratchpad implements the named-value store used to carry
// sentinels between tasks in a step: a string-to-string map with ${key}
// substitution over arbitrarily nested structures.
package scratchpad

import (
	"fmt"
	"regexp"

	"github.com/opentargets/otter/pkg/errs"
)

// keyRe matches a substitution placeholder's key: [A-Za-z_][A-Za-z0-9_]*.
var keyRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Scratchpad is a string-to-string value store.
type Scratchpad map[string]string

// New returns an empty Scratchpad.
func New() Scratchpad {
	return make(Scratchpad)
}

// Merge inserts every key from other not already present in s. Once a key
// is set it is never overwritten by a later merge — first-writer-wins,
// which is what makes concurrent sibling tasks merging into a shared
// scratchpad safe.
func (s Scratchpad) Merge(other Scratchpad) {
	for k, v := range other {
		if _, exists := s[k]; !exists {
			s[k] = v
		}
	}
}

// Substitute walks an arbitrarily nested value (map[string]any, []any,
// string, or scalar) and replaces every ${key} occurrence in string leaves
// with its value in s. Unknown keys return errs.ErrScratchpad unless
// ignoreMissing is set, in which case the literal placeholder is preserved.
func (s Scratchpad) Substitute(value any, ignoreMissing bool) (any, error) {
	switch v := value.(type) {
	case string:
		return s.substituteString(v, ignoreMissing)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			replaced, err := s.Substitute(item, ignoreMissing)
			if err != nil {
				return nil, err
			}
			out[k] = replaced
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			replaced, err := s.Substitute(item, ignoreMissing)
			if err != nil {
				return nil, err
			}
			out[i] = replaced
		}
		return out, nil
	default:
		return value, nil
	}
}

func (s Scratchpad) substituteString(in string, ignoreMissing bool) (string, error) {
	var firstErr error
	out := keyRe.ReplaceAllStringFunc(in, func(match string) string {
		if firstErr != nil {
			return match
		}
		key := keyRe.FindStringSubmatch(match)[1]
		val, ok := s[key]
		if !ok {
			if ignoreMissing {
				return match
			}
			firstErr = fmt.Errorf("unknown scratchpad key %q: %w", key, errs.ErrScratchpad)
			return match
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return collapseSchemeSlashes(out), nil
}

// collapseSchemeSlashes collapses "//" runs accidentally introduced by
// substitution (e.g. "${prefix}/file" where prefix ends in "/"), except
// immediately after a "://" scheme marker.
func collapseSchemeSlashes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' && len(out) > 0 && out[len(out)-1] == '/' {
			if len(out) >= 2 && out[len(out)-2] == ':' {
				out = append(out, c)
				continue
			}
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
