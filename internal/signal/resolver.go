package signal

import (
	"sort"
	"strings"
)

// PathRule maps a repo file path prefix to a component id.
type PathRule struct {
	Prefix      string
	ComponentID string
}

// EndpointRule maps a repo file path prefix to an API endpoint id.
type EndpointRule struct {
	Prefix     string
	EndpointID string
}

// EntityResolver turns payload metadata into graph entity ids. It is pure
// configuration: the same payload always resolves to the same refs, so
// at-least-once delivery is safe.
type EntityResolver struct {
	paths     []PathRule
	endpoints []EndpointRule
	channels  map[string]string // slack channel -> service id
	docs      map[string]string // doc path -> doc node id
}

func NewEntityResolver(paths []PathRule, endpoints []EndpointRule, channels, docs map[string]string) *EntityResolver {
	r := &EntityResolver{
		paths:     append([]PathRule(nil), paths...),
		endpoints: append([]EndpointRule(nil), endpoints...),
		channels:  make(map[string]string, len(channels)),
		docs:      make(map[string]string, len(docs)),
	}
	for k, v := range channels {
		r.channels[k] = v
	}
	for k, v := range docs {
		r.docs[k] = v
	}
	// Longest prefix wins, so order rules by descending prefix length once.
	sort.SliceStable(r.paths, func(i, j int) bool {
		return len(r.paths[i].Prefix) > len(r.paths[j].Prefix)
	})
	sort.SliceStable(r.endpoints, func(i, j int) bool {
		return len(r.endpoints[i].Prefix) > len(r.endpoints[j].Prefix)
	})
	return r
}

// ComponentForPath resolves a repo file path to a component id, or "".
func (r *EntityResolver) ComponentForPath(path string) string {
	for _, rule := range r.paths {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule.ComponentID
		}
	}
	return ""
}

// EndpointForPath resolves a repo file path to an API endpoint id, or "".
func (r *EntityResolver) EndpointForPath(path string) string {
	for _, rule := range r.endpoints {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule.EndpointID
		}
	}
	return ""
}

// ServiceForChannel resolves a slack channel name to a service id, or "".
func (r *EntityResolver) ServiceForChannel(channel string) string {
	return r.channels[strings.TrimPrefix(channel, "#")]
}

// DocForPath resolves a documentation path to its doc node id. Unknown
// paths get the canonical "doc:<path>" id so doc evidence is always
// addressable.
func (r *EntityResolver) DocForPath(path string) string {
	if id, ok := r.docs[path]; ok {
		return id
	}
	return DocEvidenceID(path)
}

// refsForFiles resolves a set of touched files to component and endpoint
// ids, deduplicated in first-seen order.
func (r *EntityResolver) refsForFiles(files []string) []string {
	var refs []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			refs = append(refs, id)
		}
	}
	for _, f := range files {
		add(r.ComponentForPath(f))
		add(r.EndpointForPath(f))
	}
	return refs
}
