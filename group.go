package patmux

// Group scopes guards and middleware to patterns matching a prefix rule.
// Groups are created on demand with Registry.Group (or Service.Group) and
// cached by prefix string, so repeated lookups return the same group.
//
// A pattern belongs to a group when:
//   - the prefix is "{any}": always
//   - the prefix contains a wildcard or is a /regex/: the compiled matcher
//     accepts the pattern
//   - otherwise: the pattern starts with the prefix
type Group struct {
	prefix  string
	matcher matcher

	guards     []Guard
	middleware []Middleware
}

// Guard appends a guard to the group, returning the group for chaining.
// Group guards run after global guards, in group-creation order, and within
// a group in registration order.
func (g *Group) Guard(guards ...Guard) *Group {
	g.guards = append(g.guards, guards...)
	return g
}

// Middleware appends middleware to the group, returning the group for
// chaining. Before phases run in registration order after global middleware;
// After phases run in reverse.
func (g *Group) Middleware(mw ...Middleware) *Group {
	g.middleware = append(g.middleware, mw...)
	return g
}

// Prefix returns the prefix rule the group was created with.
func (g *Group) Prefix() string { return g.prefix }

// matches reports whether a pattern falls under the group's prefix rule.
func (g *Group) matches(pattern string) bool {
	switch g.matcher.kind {
	case matchAny:
		return true
	case matchWildcard, matchRegex:
		return g.matcher.re.MatchString(pattern)
	default:
		return len(pattern) >= len(g.prefix) && pattern[:len(g.prefix)] == g.prefix
	}
}

// newGroup compiles the prefix rule. An invalid regex prefix degrades to a
// plain startsWith prefix rather than failing registration.
func newGroup(prefix string) *Group {
	m, err := compilePattern(prefix)
	if err != nil {
		m = matcher{kind: matchExact}
	}
	return &Group{prefix: prefix, matcher: m}
}
