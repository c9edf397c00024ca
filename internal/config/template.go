package config

import (
	"fmt"
	"regexp"
	"strings"
)

// TemplateError reports a placeholder with no binding.
type TemplateError struct {
	Placeholder string
	Template    string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: no value for {%s}", e.Template, e.Placeholder)
}

// placeholderRe matches {name} tokens. ${name} is shell syntax, not a
// template reference, so the alternation swallows it whole and Expand
// leaves it alone.
var placeholderRe = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand substitutes {name} placeholders in s from vars. Every
// placeholder must be bound or the result is a TemplateError.
func Expand(s string, vars map[string]string) (string, error) {
	var missing *TemplateError
	out := placeholderRe.ReplaceAllStringFunc(s, func(tok string) string {
		if strings.HasPrefix(tok, "$") {
			return tok
		}
		name := tok[1 : len(tok)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		if missing == nil {
			missing = &TemplateError{Placeholder: name, Template: s}
		}
		return tok
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

func placeholders(s string) []string {
	var refs []string
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		if m[1] != "" {
			refs = append(refs, m[1])
		}
	}
	return refs
}
