package topic

import (
	"strings"
)

// Builder constructs MQTT topic strings of the form {root}/{segment}/{id}.
type Builder struct {
	// root is the base namespace for all topics (e.g., "coop/v1").
	root string
}

// NewBuilder creates a Builder for the given root namespace.
// Leading and trailing slashes are trimmed.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Root returns the namespace the builder was created with.
func (b *Builder) Root() string {
	return b.root
}

// Build returns {root}/{segment}/{id}.
func (b *Builder) Build(segment, id string) string {
	return b.root + "/" + strings.Trim(segment, "/") + "/" + id
}

// BuildWildcard returns the filter matching segment for every identifier.
func (b *Builder) BuildWildcard(segment string) string {
	return b.Build(segment, Wildcard)
}

// Shared wraps a filter in an MQTT v5 shared subscription for group.
func Shared(group, filter string) string {
	return "$share/" + group + "/" + filter
}
