// Package identity reconciles repository naming across the three source
// systems. The issue tracker's dev panel, the source-control host, and
// the code-quality service each refer to the same repository differently;
// the resolver maps any of those surface forms to the quality service's
// canonical project key.
package identity

import (
	"strings"

	"github.com/devpulse/sprintmetrics/internal/sonarapi"
)

// Resolver maps repository references to canonical project keys. It is
// built once per fetch session from a single catalog call and is
// read-only afterwards, so it may be shared across concurrent fetches.
type Resolver struct {
	byForm     map[string]string
	strategies []strategy
}

// strategy is one reference transformation tried in priority order.
type strategy struct {
	name      string
	transform func(ref string) string
}

// NewResolver builds the surface-form lookup table from a project
// catalog. Each project is indexed under its lower-cased key, its
// lower-cased display name, and the slash/underscore variants of the key.
func NewResolver(catalog []sonarapi.Project) *Resolver {
	byForm := make(map[string]string, len(catalog)*4)
	for _, project := range catalog {
		key := strings.ToLower(strings.TrimSpace(project.Key))
		if key == "" {
			continue
		}
		byForm[key] = project.Key
		if name := strings.ToLower(strings.TrimSpace(project.Name)); name != "" {
			byForm[name] = project.Key
		}
		byForm[strings.Replace(key, "_", "/", 1)] = project.Key
		byForm[strings.Replace(key, "/", "_", 1)] = project.Key
	}

	return &Resolver{
		byForm: byForm,
		strategies: []strategy{
			{name: "exact", transform: func(ref string) string {
				return ref
			}},
			{name: "slash_to_underscore", transform: func(ref string) string {
				return strings.Replace(ref, "/", "_", 1)
			}},
			{name: "bare_name", transform: func(ref string) string {
				if idx := strings.LastIndex(ref, "/"); idx >= 0 {
					return ref[idx+1:]
				}
				return ""
			}},
		},
	}
}

// Resolve maps one repository reference to its canonical project key.
// Strategies run in priority order and the first table hit wins. A miss
// is a normal outcome: many repositories have no quality-service
// counterpart.
func (r *Resolver) Resolve(ref string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(ref))
	if normalized == "" {
		return "", false
	}

	for _, s := range r.strategies {
		form := s.transform(normalized)
		if form == "" {
			continue
		}
		if key, ok := r.byForm[form]; ok {
			return key, true
		}
	}
	return "", false
}

// ResolveAll resolves a set of references, deduplicating hits. Order of
// the result follows the input order of first resolution.
func (r *Resolver) ResolveAll(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	var keys []string
	for _, ref := range refs {
		key, ok := r.Resolve(ref)
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}
