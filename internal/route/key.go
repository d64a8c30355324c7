// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Robo Contributors

package route

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// generateKey builds the lookup key for parts, the path segments plus the
// file name (already bound to the parent for index files).
func (c *compiled) generateKey(parts []string) string {
	var key string
	switch c.Key.Style {
	case KeyFilepath:
		sep := c.Key.Separator
		if sep == "" {
			sep = "/"
		}
		key = strings.Join(parts, sep)
	case KeyCamelCase:
		key = camelCase(parts)
	case KeyDotNotation:
		key = strings.Join(parts, ".")
	default:
		key = parts[len(parts)-1]
	}
	if c.Key.Transform != nil {
		key = c.Key.Transform(key, append([]string(nil), parts...))
	}
	return key
}

// camelCase folds segments into one identifier: ["admin", "ban-user"]
// becomes "adminBanUser".
func camelCase(parts []string) string {
	var b strings.Builder
	first := true
	for _, part := range parts {
		words := strings.FieldsFunc(part, func(r rune) bool {
			return r == '-' || r == '_' || r == ' '
		})
		for _, w := range words {
			if first {
				b.WriteString(lowerFirst(w))
				first = false
				continue
			}
			b.WriteString(upperFirst(w))
		}
	}
	return b.String()
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
