package patmux

import (
	"regexp"
	"strings"
)

// matchKind classifies how a compiled pattern matches incoming patterns.
type matchKind int

const (
	// matchExact patterns have no matcher and are resolved by direct map
	// lookup on the literal pattern string.
	matchExact matchKind = iota

	// matchWildcard patterns contain at least one '*' and are compiled to
	// an anchored regular expression.
	matchWildcard

	// matchRegex patterns are written as /body/flags and compiled as-is.
	matchRegex

	// matchAny patterns ({any} or .*) match every incoming pattern.
	matchAny
)

// PatternAny is the sentinel pattern that matches every incoming pattern.
const PatternAny = "{any}"

// matcher is the compiled form of a registered pattern. For exact patterns
// re is nil and the registry resolves them by map lookup instead.
type matcher struct {
	kind matchKind
	re   *regexp.Regexp

	// specificity ranks non-exact matches: among all wildcard/regex
	// entries matching an incoming pattern the highest score wins.
	// Exact matches never compete on specificity.
	specificity int
}

// compilePattern converts a pattern string into its matchable form.
//
// The accepted grammar:
//
//	"{any}" or ".*"   matches everything, specificity 0
//	"/body/flags"     regular expression with optional flags (i, m, s)
//	"users.*"         wildcard; '*' matches any sequence of characters
//	"users.created"   exact string, matched by map lookup
//
// A wildcard is not segment-bounded: '*' compiles to ".*" and matches
// across '.' delimiters, so "users.*" also matches "users.profile.updated".
func compilePattern(pattern string) (matcher, error) {
	if pattern == PatternAny || pattern == ".*" {
		return matcher{kind: matchAny}, nil
	}

	if body, flags, ok := splitRegexPattern(pattern); ok {
		re, err := regexp.Compile(regexFlagPrefix(flags) + body)
		if err != nil {
			return matcher{}, err
		}
		return matcher{
			kind:        matchRegex,
			re:          re,
			specificity: len(strings.ReplaceAll(body, "*", "")),
		}, nil
	}

	if strings.Contains(pattern, "*") {
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
		re, err := regexp.Compile(expr)
		if err != nil {
			return matcher{}, err
		}
		return matcher{
			kind:        matchWildcard,
			re:          re,
			specificity: len(pattern) - strings.Count(pattern, "*"),
		}, nil
	}

	return matcher{kind: matchExact}, nil
}

// splitRegexPattern reports whether the pattern has the /body/flags form and
// returns the body and flags. The body runs from the first '/' to the last,
// so bodies may themselves contain '/'.
func splitRegexPattern(pattern string) (body, flags string, ok bool) {
	if len(pattern) < 2 || pattern[0] != '/' {
		return "", "", false
	}
	last := strings.LastIndex(pattern, "/")
	if last == 0 {
		return "", "", false
	}
	return pattern[1:last], pattern[last+1:], true
}

// regexFlagPrefix maps pattern flags onto a Go regexp group prefix.
// Unknown flags are ignored.
func regexFlagPrefix(flags string) string {
	var set strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			set.WriteRune(f)
		}
	}
	if set.Len() == 0 {
		return ""
	}
	return "(?" + set.String() + ")"
}

// match reports whether the compiled matcher accepts the incoming pattern.
// Exact matchers never match here; the registry handles them separately.
func (m matcher) match(pattern string) bool {
	switch m.kind {
	case matchAny:
		return true
	case matchWildcard, matchRegex:
		return m.re.MatchString(pattern)
	default:
		return false
	}
}
