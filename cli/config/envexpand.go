package config

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} with the variable's value and ${VAR:-default}
// with the value or, when unset or empty, the default.
//
// Unset variables without a default expand to the empty string; a missing
// API key then fails provider validation with a clearer message.
func ExpandEnv(input string) string {
	matches := envVarPattern.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input))
	last := 0
	for _, m := range matches {
		b.WriteString(input[last:m[0]])
		name := input[m[2]:m[3]]
		if value, ok := os.LookupEnv(name); ok && value != "" {
			b.WriteString(value)
		} else if m[4] >= 0 {
			b.WriteString(input[m[4]:m[5]])
		}
		last = m[1]
	}
	b.WriteString(input[last:])
	return b.String()
}
