package cache

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternToRegexp compiles a wildcard pattern into an anchored regular expression.
// '*' matches any run of characters; every other character is literal.
//
// Example:
//
//	market:*      -> ^market:.*$
//	*:BTC-USD     -> ^.*:BTC-USD$
func PatternToRegexp(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return re, nil
}

// MatchPattern reports whether s matches the wildcard pattern.
func MatchPattern(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	re, err := PatternToRegexp(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// redisPattern converts a wildcard pattern to a Redis MATCH glob.
// Glob metacharacters other than '*' are escaped.
func redisPattern(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
