package patmux

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Msg is the unit of execution state passed through the dispatch pipeline.
// One Msg is created per dispatch invocation and is owned exclusively by
// that invocation; it is never shared across concurrent dispatches.
type Msg struct {
	// Pattern is the matched pattern. For exact and wildcard/regex matches
	// this is the incoming pattern; for fallback execution it is the
	// incoming pattern as well, with Incoming set to preserve the original
	// unmatched pattern distinctly.
	Pattern string

	// Matched is the registered pattern the resolver selected, when one
	// did ("users.*" for an incoming "users.created"). Empty for fallback.
	Matched string

	// Incoming is set only for fallback execution and holds the original
	// pattern no entry matched.
	Incoming string

	// Data is the opaque payload.
	Data json.RawMessage

	// Meta carries transport-supplied metadata such as auth tokens.
	Meta json.RawMessage

	// values is the enrichment bag middleware Before phases extend.
	values map[string]any
}

// Set stores an enrichment value on the message.
func (m *Msg) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	m.values[key] = value
}

// Get returns an enrichment value previously stored by Set or merged from
// a middleware Before phase.
func (m *Msg) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Values returns the enrichment bag. The returned map is the live bag,
// not a copy; it is safe to read and write only from the invocation that
// owns the message.
func (m *Msg) Values() map[string]any {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	return m.values
}

// merge shallow-merges a middleware enrichment bag into the message.
func (m *Msg) merge(bag map[string]any) {
	if len(bag) == 0 {
		return
	}
	if m.values == nil {
		m.values = make(map[string]any, len(bag))
	}
	for k, v := range bag {
		m.values[k] = v
	}
}

// HasMeta reports whether the path exists in the message metadata.
func (m *Msg) HasMeta(path string) bool {
	return gjson.GetBytes(m.Meta, path).Exists()
}

// MetaString returns the string value at path in the message metadata,
// or false if the path is missing or not a string.
func (m *Msg) MetaString(path string) (string, bool) {
	r := gjson.GetBytes(m.Meta, path)
	if !r.Exists() || r.Type != gjson.String {
		return "", false
	}
	return r.String(), true
}

// Unmarshal decodes the message payload into v.
func (m *Msg) Unmarshal(v any) error {
	return json.Unmarshal(m.Data, v)
}
