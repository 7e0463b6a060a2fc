package event

// Type is a tag naming something that happened to a domain entity.
type Type string

const (
	ArticleCreated   Type = "article_created"
	ArticleUpdated   Type = "article_updated"
	ArticleDestroyed Type = "article_destroyed"
)

// All is the closed set of event types an endpoint may subscribe to.
var All = []Type{ArticleCreated, ArticleUpdated, ArticleDestroyed}

// Known reports whether tag is one of the supported event types
func Known(tag string) bool {
	for _, t := range All {
		if string(t) == tag {
			return true
		}
	}
	return false
}

// Filter keeps the known tags of requested, in order and without duplicates.
// Unknown tags are returned separately so callers can report them.
func Filter(requested []string) (kept []Type, dropped []string) {
	seen := make(map[string]bool, len(requested))
	for _, tag := range requested {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		if Known(tag) {
			kept = append(kept, Type(tag))
		} else {
			dropped = append(dropped, tag)
		}
	}
	return kept, dropped
}

// Strings converts a slice of types to plain strings (for storage)
func Strings(types []Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
