package datastore

import (
	"fmt"
	"regexp"

	"github.com/samber/lo"
)

// LinkParams binds the {name} macros of a templated base path, such as
// "contacts/{contact}/media", to the parent resource they stand for.
type LinkParams map[string]any

var macroPattern = regexp.MustCompile(`\{(\w+)\}`)

// Valid reports whether every bound value is non-nil.
func (p LinkParams) Valid() bool {
	for _, v := range p {
		if lo.IsNil(v) {
			return false
		}
	}
	return true
}

// Macros returns the macro names referenced by text, in order of appearance.
func Macros(text string) []string {
	matches := macroPattern.FindAllStringSubmatch(text, -1)
	return lo.Uniq(lo.Map(matches, func(m []string, _ int) string {
		return m[1]
	}))
}

// Unresolved returns the macro names of templates that are unbound or bound to
// nil.
func Unresolved(params LinkParams, templates ...string) []string {
	var missing []string
	for _, text := range templates {
		for _, name := range Macros(text) {
			if v, ok := params[name]; !ok || lo.IsNil(v) {
				missing = append(missing, name)
			}
		}
	}
	return lo.Uniq(missing)
}

// InvalidLink reports whether a request built from templates must be refused.
func InvalidLink(params LinkParams, templates ...string) bool {
	return !params.Valid() || len(Unresolved(params, templates...)) > 0
}

// FormatMacro substitutes every {name} occurrence of text. Unbound names become
// the empty string, so callers check InvalidLink first.
func FormatMacro(text string, params LinkParams) string {
	if text == "" {
		return text
	}
	return macroPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := params[name]
		if !ok || lo.IsNil(v) {
			return ""
		}
		return fmt.Sprint(v)
	})
}
