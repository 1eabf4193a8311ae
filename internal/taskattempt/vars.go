package taskattempt

import "regexp"

var varNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

var varRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandVars substitutes $VAR and ${VAR} references in text using vars,
// built by resolving up the parent chain and expanding leaves-last so a
// child's own definitions override an ancestor's. Undefined variables are
// left verbatim; their names are returned in undefined for the caller to
// report.
func ExpandVars(text string, vars map[string]string) (expanded string, undefined []string) {
	seen := make(map[string]bool)
	expanded = varRefPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := varRefPattern.FindStringSubmatch(match)[1]
		if name == "" {
			name = varRefPattern.FindStringSubmatch(match)[2]
		}
		if !varNamePattern.MatchString(name) {
			return match
		}
		if val, ok := vars[name]; ok {
			return val
		}
		if !seen[name] {
			seen[name] = true
			undefined = append(undefined, name)
		}
		return match
	})
	return expanded, undefined
}

// MergeVarChain resolves ancestor-to-descendant variable maps into one map,
// where a descendant's entry for a given key wins over an ancestor's
// (leaves-last expansion). chain must be ordered root-first.
func MergeVarChain(chain []map[string]string) map[string]string {
	out := make(map[string]string)
	for _, level := range chain {
		for k, v := range level {
			if !varNamePattern.MatchString(k) {
				continue
			}
			out[k] = v
		}
	}
	return out
}
