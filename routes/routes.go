// Package routes compiles and matches the HTTP API route patterns a
// service publishes to the mesh. Publishing is a batch operation: the
// whole set is replaced atomically on every RegisterRoutes call, never
// patched incrementally, mirroring the router's own route-table-as-a-
// single-unit treatment.
package routes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hydra-mesh/hydra/coordinator"
)

// SelfRoutes are always injected into a service's route set, backing
// the default health/probe endpoints every instance answers.
func SelfRoutes(service string) []string {
	return []string{
		fmt.Sprintf("[get]/%s", service),
		fmt.Sprintf("[get]/%s/", service),
		fmt.Sprintf("[get]/%s/:rest", service),
	}
}

// Matcher is one compiled route pattern: a bracketed HTTP method
// (lowercased) plus a path template using ":param" and "*rest"
// wildcards.
type Matcher struct {
	Pattern string
	Method  string
	segs    []segment
}

type segment struct {
	literal  string
	param    string // non-empty for ":param" segments
	wildcard bool   // true for a trailing "*rest" segment
}

// Compile parses a raw pattern like "[get]/auth/:id" into a Matcher.
func Compile(pattern string) (*Matcher, error) {
	method := ""
	path := pattern
	if strings.HasPrefix(pattern, "[") {
		end := strings.IndexByte(pattern, ']')
		if end < 0 {
			return nil, fmt.Errorf("routes: unclosed '[' in pattern %q", pattern)
		}
		method = strings.ToLower(pattern[1:end])
		path = pattern[end+1:]
	}

	var segs []segment
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		switch {
		case part == "":
			continue
		case strings.HasPrefix(part, "*"):
			segs = append(segs, segment{param: strings.TrimPrefix(part, "*"), wildcard: true})
		case strings.HasPrefix(part, ":"):
			segs = append(segs, segment{param: strings.TrimPrefix(part, ":")})
		default:
			segs = append(segs, segment{literal: part})
		}
	}
	return &Matcher{Pattern: pattern, Method: method, segs: segs}, nil
}

// Match reports whether path satisfies this Matcher. Wildcard segments
// must appear last and consume the remainder of the path.
func (m *Matcher) Match(path string) bool {
	var parts []string
	for _, p := range strings.Split(strings.Trim(path, "/"), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	for i, seg := range m.segs {
		if seg.wildcard {
			return true
		}
		if i >= len(parts) {
			return false
		}
		if seg.param == "" && seg.literal != parts[i] {
			return false
		}
	}
	return len(parts) == len(m.segs)
}

// Table holds one service's compiled route set. RegisterRoutes replaces
// the whole table atomically; MatchRoute never observes a partially
// updated set.
type Table struct {
	coord       coordinator.Coordinator
	keyPrefix   string
	serviceName string
	isRouter    bool

	mu       sync.RWMutex
	matchers []*Matcher
}

// New creates a Table for serviceName. isRouter should be true only for
// the instance named "hydra-router"; every other service's
// RegisterRoutes broadcasts a refresh notice to it.
func New(coord coordinator.Coordinator, keyPrefix, serviceName string) *Table {
	return &Table{
		coord:       coord,
		keyPrefix:   keyPrefix,
		serviceName: serviceName,
		isRouter:    serviceName == "hydra-router",
	}
}

func (t *Table) routesKey() string {
	return fmt.Sprintf("%s:%s:service:routes", t.keyPrefix, t.serviceName)
}

// RefreshNotifier is invoked after a successful RegisterRoutes when this
// service is not the router itself, so the bus can publish the
// "hydra-router:/refresh" notice without routes importing bus.
type RefreshNotifier func(ctx context.Context) error

// RegisterRoutes atomically replaces the route set with patterns plus
// the three self-routes, compiles the result, and (unless this Table
// belongs to hydra-router itself) invokes notify to tell the router to
// refresh its table.
func (t *Table) RegisterRoutes(ctx context.Context, patterns []string, notify RefreshNotifier) error {
	all := append(append([]string{}, patterns...), SelfRoutes(t.serviceName)...)

	key := t.routesKey()
	batch := t.coord.Multi()
	batch.Del(key)
	for _, p := range all {
		batch.SAdd(key, p)
	}
	if err := batch.Exec(ctx); err != nil {
		return err
	}

	stored, err := t.coord.SMembers(ctx, key)
	if err != nil {
		return err
	}

	compiled := make([]*Matcher, 0, len(stored))
	for _, p := range stored {
		m, err := Compile(p)
		if err != nil {
			return fmt.Errorf("routes: compiling %q: %w", p, err)
		}
		compiled = append(compiled, m)
	}
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].Pattern < compiled[j].Pattern })

	t.mu.Lock()
	t.matchers = compiled
	t.mu.Unlock()

	if !t.isRouter && notify != nil {
		return notify(ctx)
	}
	return nil
}

// MatchRoute reports whether any compiled matcher accepts path, trying
// them in the pattern-sorted order RegisterRoutes stores them in.
func (t *Table) MatchRoute(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.matchers {
		if m.Match(path) {
			return true
		}
	}
	return false
}

// ServiceRoutes is the per-service result of GetAllServiceRoutes.
type ServiceRoutes struct {
	ServiceName string
	Patterns    []string
}

// GetAllServiceRoutes scans every "*:routes" key and returns each
// service's raw pattern set, keyed by the service name embedded in the
// key (segment index 2: "{prefix}:{serviceName}:service:routes" has the
// prefix itself split across indices 0-1).
func GetAllServiceRoutes(ctx context.Context, coord coordinator.Coordinator, keyPrefix string) (map[string][]string, error) {
	keys, err := coord.Keys(ctx, keyPrefix+":*:service:routes")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(keys))
	prefixParts := strings.Split(keyPrefix, ":")
	serviceIdx := len(prefixParts)

	for _, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) <= serviceIdx {
			continue
		}
		serviceName := parts[serviceIdx]
		members, err := coord.SMembers(ctx, key)
		if err != nil {
			continue
		}
		out[serviceName] = members
	}
	return out, nil
}
