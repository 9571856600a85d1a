package types

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TemplateVariables lists the placeholders a campaign message may use.
var TemplateVariables = map[string]bool{
	"nome":          true,
	"primeiro_nome": true,
	"email":         true,
	"turma":         true,
}

var templateVariable = regexp.MustCompile(`\{(\w+)\}`)

// ValidateTemplate rejects message templates that reference unknown variables.
func ValidateTemplate(template string) error {
	var unknown []string
	seen := make(map[string]bool)
	for _, groups := range templateVariable.FindAllStringSubmatch(template, -1) {
		name := groups[1]
		if !TemplateVariables[name] && !seen[name] {
			seen[name] = true
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	allowed := make([]string, 0, len(TemplateVariables))
	for name := range TemplateVariables {
		allowed = append(allowed, name)
	}
	sort.Strings(allowed)
	return fmt.Errorf("unknown template variables %v (allowed: %v)", unknown, allowed)
}

// TemplateVars builds the substitution map for one recipient.
func TemplateVars(name, email, course string) map[string]string {
	first := ""
	if fields := strings.Fields(name); len(fields) > 0 {
		first = fields[0]
	}
	return map[string]string{
		"nome":          name,
		"primeiro_nome": first,
		"email":         email,
		"turma":         course,
	}
}

// ResolveTemplate substitutes known variables. Known variables with no value
// become empty; unknown placeholders are left untouched.
func ResolveTemplate(template string, vars map[string]string) string {
	return templateVariable.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if !TemplateVariables[name] {
			return match
		}
		return vars[name]
	})
}
