package benchalot

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {{ident}} or {{ident.field}}. Braces are
// matched literally; there is no escaping syntax and no nesting
// (spec.md §4.1).
var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)(?:\.([A-Za-z_][A-Za-z0-9_]*))?\}\}`)

// ExpandTemplate substitutes every {{ident}} / {{ident.field}}
// placeholder in s using bindings, returning UnknownVariable if an
// identifier is not bound and BadFieldAccess if a scalar/compound
// mismatch occurs (spec.md §4.1). The same function is applied to
// command strings, cwd, env values, and filename patterns.
func ExpandTemplate(s string, bindings Bindings) (string, error) {
	var firstErr error
	result := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := placeholderPattern.FindStringSubmatch(match)
		name, field := sub[1], sub[2]
		binding, ok := bindings[name]
		if !ok {
			firstErr = &UnknownVariable{Name: name}
			return match
		}
		if binding.IsCompound() {
			if field == "" {
				firstErr = &BadFieldAccess{Name: name}
				return match
			}
			val, ok := binding.Fields[field]
			if !ok {
				firstErr = &BadFieldAccess{Name: name, Field: field}
				return match
			}
			return scalarString(val)
		}
		if field != "" {
			firstErr = &BadFieldAccess{Name: name, Field: field}
			return match
		}
		return scalarString(binding.Value)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// TemplateVariables returns the distinct placeholder names in s, in
// first-occurrence order: "name" for {{name}} and "name.field" for
// {{name.field}}. Used by the Output Driver to decide which matrix variables a
// filename pattern partitions on (spec.md §4.8).
func TemplateVariables(s string) []string {
	seen := map[string]bool{}
	var names []string
	for _, sub := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		name := sub[1]
		if sub[2] != "" {
			name = sub[1] + "." + sub[2]
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// ExpandAll expands every string in ss, returning on the first error.
func ExpandAll(ss []string, bindings Bindings) ([]string, error) {
	out := make([]string, len(ss))
	for i, s := range ss {
		expanded, err := ExpandTemplate(s, bindings)
		if err != nil {
			return nil, err
		}
		out[i] = expanded
	}
	return out, nil
}

// scalarString renders a scalar's string form for substitution.
func scalarString(v Scalar) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
