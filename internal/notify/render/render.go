// Package render fills {{key}} placeholders and {{#if key}}...{{/if}}
// blocks in operator-authored templates. Output is not HTML-escaped.
package render

import (
	"regexp"
	"strings"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*([^{}#/]+?)\s*\}\}`)
	conditionalRe = regexp.MustCompile(`(?s)\{\{#if\s+([^{}#/]+?)\s*\}\}(.*?)\{\{/if\}\}`)
)

// Render substitutes variables into tmpl. Any key text without braces,
// '#' or '/' is a placeholder; missing keys render as "".
// A block is kept when its key is truthy, see Truthy.
func Render(tmpl string, vars map[string]string) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	out := conditionalRe.ReplaceAllStringFunc(tmpl, func(block string) string {
		m := conditionalRe.FindStringSubmatch(block)
		if !Truthy(vars[strings.TrimSpace(m[1])]) {
			return ""
		}
		return m[2]
	})
	return placeholderRe.ReplaceAllStringFunc(out, func(ph string) string {
		m := placeholderRe.FindStringSubmatch(ph)
		return vars[strings.TrimSpace(m[1])]
	})
}

// Truthy treats "", "0", "false", "null" and "undefined" as false.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "null", "undefined":
		return false
	}
	return true
}
