package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} in input.
//
// A set, non-empty variable wins; otherwise the default is used; otherwise
// the reference expands to "". Missing secrets surface later, when the
// key or URL they fed is validated.
func ExpandEnv(input string) string {
	out, _ := expand(input)
	return out
}

// expand is ExpandEnv that also reports variables that were unset and had
// no default, in order of first appearance.
func expand(input string) (string, []string) {
	var missing []string
	seen := make(map[string]bool)

	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]

		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if def != "" {
			return def
		}
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
		return ""
	})
	return out, missing
}
