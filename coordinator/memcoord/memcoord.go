// Package memcoord is an in-process implementation of coordinator.Coordinator,
// used for tests and single-process development. Expiry is enforced lazily
// by wall-clock check at lookup rather than swept by a background janitor,
// mirroring the registry's TTL-check-on-read fallback for cache entries.
package memcoord

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hydra-mesh/hydra/coordinator"
)

type strVal struct {
	value   string
	expires time.Time // zero means no expiry
}

func (v strVal) expired() bool {
	return !v.expires.IsZero() && time.Now().After(v.expires)
}

// keyExpired reports whether key carries an Expire TTL (set on a hash,
// set, or list key) that has lapsed. Callers must hold c.mu.
func (c *Coordinator) keyExpired(key string) bool {
	t, ok := c.expires[key]
	return ok && time.Now().After(t)
}

// Coordinator is the in-memory Coordinator.
type Coordinator struct {
	mu sync.RWMutex

	strings map[string]strVal
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	expires map[string]time.Time // hash/set/list keys with an Expire TTL; zero/absent means no expiry

	subsMu sync.RWMutex
	subs   map[string]map[*subscription]struct{}

	events chan coordinator.Event
}

var _ coordinator.Coordinator = (*Coordinator)(nil)

// New creates an empty in-memory coordinator.
func New() *Coordinator {
	return &Coordinator{
		strings: make(map[string]strVal),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][]string),
		expires: make(map[string]time.Time),
		subs:    make(map[string]map[*subscription]struct{}),
		events:  make(chan coordinator.Event, 16),
	}
}

// ----------------------------------------------------
// Strings
// ----------------------------------------------------

func (c *Coordinator) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.strings[key]
	if !ok || v.expired() {
		return "", coordinator.ErrNotFound
	}
	return v.value, nil
}

func (c *Coordinator) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strings[key] = strVal{value: value}
	return nil
}

func (c *Coordinator) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strings[key] = strVal{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (c *Coordinator) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.strings, key)
	delete(c.hashes, key)
	delete(c.sets, key)
	delete(c.lists, key)
	delete(c.expires, key)
	return nil
}

// Expire sets or refreshes key's TTL regardless of which underlying type
// backs it. String keys carry their expiry on the strVal entry itself
// (as Get/Set already check); hash/set/list keys share the expires map,
// checked by HGet/HGetAll/HKeys/SMembers/LRange/Keys the same way
// strings already check strVal.expired().
func (c *Coordinator) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(ttl)
	if v, ok := c.strings[key]; ok {
		v.expires = deadline
		c.strings[key] = v
	}
	c.expires[key] = deadline
	return nil
}

// ----------------------------------------------------
// Hashes
// ----------------------------------------------------

func (c *Coordinator) HGet(_ context.Context, key, field string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[key]
	if !ok || c.keyExpired(key) {
		return "", coordinator.ErrNotFound
	}
	v, ok := h[field]
	if !ok {
		return "", coordinator.ErrNotFound
	}
	return v, nil
}

func (c *Coordinator) HSet(_ context.Context, key, field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.hashes[key]
	if !ok {
		h = make(map[string]string)
		c.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (c *Coordinator) HGetAll(_ context.Context, key string) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[key]
	if !ok || c.keyExpired(key) {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (c *Coordinator) HDel(_ context.Context, key, field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.hashes[key]; ok {
		delete(h, field)
		if len(h) == 0 {
			delete(c.hashes, key)
		}
	}
	return nil
}

func (c *Coordinator) HKeys(_ context.Context, key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashes[key]
	if !ok || c.keyExpired(key) {
		return nil, nil
	}
	out := make([]string, 0, len(h))
	for k := range h {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// ----------------------------------------------------
// Sets
// ----------------------------------------------------

func (c *Coordinator) SAdd(_ context.Context, key, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sets[key]
	if !ok {
		s = make(map[string]struct{})
		c.sets[key] = s
	}
	s[member] = struct{}{}
	return nil
}

func (c *Coordinator) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sets[key]
	if !ok || c.keyExpired(key) {
		return nil, nil
	}
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// ----------------------------------------------------
// Lists
// ----------------------------------------------------

func (c *Coordinator) LPush(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[key] = append([]string{value}, c.lists[key]...)
	return nil
}

func (c *Coordinator) RPush(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[key] = append(c.lists[key], value)
	return nil
}

func (c *Coordinator) RPopLPush(_ context.Context, src, dst string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.lists[src]
	if len(l) == 0 {
		return "", coordinator.ErrNotFound
	}
	v := l[len(l)-1]
	c.lists[src] = l[:len(l)-1]
	c.lists[dst] = append([]string{v}, c.lists[dst]...)
	return v, nil
}

func (c *Coordinator) LRange(_ context.Context, key string, start, stop int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keyExpired(key) {
		return nil, nil
	}
	l := c.lists[key]
	start, stop = clampRange(len(l), start, stop)
	if start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, l[start:stop+1])
	return out, nil
}

func (c *Coordinator) LRem(_ context.Context, key string, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.lists[key]
	out := l[:0:0]
	removed := false
	for _, v := range l {
		if !removed && v == value {
			removed = true
			continue
		}
		out = append(out, v)
	}
	c.lists[key] = out
	return nil
}

func (c *Coordinator) LTrim(_ context.Context, key string, start, stop int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.lists[key]
	start, stop = clampRange(len(l), start, stop)
	if start > stop {
		c.lists[key] = nil
		return nil
	}
	c.lists[key] = append([]string(nil), l[start:stop+1]...)
	return nil
}

func clampRange(n, start, stop int) (int, int) {
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

// ----------------------------------------------------
// Key scanning
// ----------------------------------------------------

func (c *Coordinator) Keys(_ context.Context, pattern string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	match := globMatcher(pattern)
	var out []string
	for k, v := range c.strings {
		if !v.expired() && match(k) {
			out = append(out, k)
		}
	}
	for k := range c.hashes {
		if !c.keyExpired(k) && match(k) {
			out = append(out, k)
		}
	}
	for k := range c.sets {
		if !c.keyExpired(k) && match(k) {
			out = append(out, k)
		}
	}
	for k := range c.lists {
		if !c.keyExpired(k) && match(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// globMatcher compiles a redis-style key pattern (only "*" is a
// recognized wildcard, matching any run of characters including ":")
// into a predicate. Patterns with no "*" match only the exact key.
func globMatcher(pattern string) func(string) bool {
	if !strings.Contains(pattern, "*") {
		return func(k string) bool { return k == pattern }
	}
	segments := strings.Split(pattern, "*")
	return func(k string) bool {
		rest := k
		for i, seg := range segments {
			switch {
			case i == 0:
				if !strings.HasPrefix(rest, seg) {
					return false
				}
				rest = rest[len(seg):]
			case i == len(segments)-1:
				return strings.HasSuffix(rest, seg)
			default:
				idx := strings.Index(rest, seg)
				if idx < 0 {
					return false
				}
				rest = rest[idx+len(seg):]
			}
		}
		return true
	}
}

// Scan behaves like Keys for the in-memory implementation: there is no
// cursor state worth paginating over a process-local map.
func (c *Coordinator) Scan(ctx context.Context, pattern string, _ int) ([]string, error) {
	return c.Keys(ctx, pattern)
}

// ----------------------------------------------------
// Batch
// ----------------------------------------------------

type batchOp func(*Coordinator)

type batch struct {
	c  *Coordinator
	ops []batchOp
}

func (c *Coordinator) Multi() coordinator.Batch {
	return &batch{c: c}
}

func (b *batch) Set(key, value string) {
	b.ops = append(b.ops, func(c *Coordinator) { c.strings[key] = strVal{value: value} })
}

func (b *batch) SetEX(key, value string, ttl time.Duration) {
	b.ops = append(b.ops, func(c *Coordinator) {
		c.strings[key] = strVal{value: value, expires: time.Now().Add(ttl)}
	})
}

func (b *batch) Del(key string) {
	b.ops = append(b.ops, func(c *Coordinator) {
		delete(c.strings, key)
		delete(c.hashes, key)
		delete(c.sets, key)
		delete(c.lists, key)
		delete(c.expires, key)
	})
}

func (b *batch) Expire(key string, ttl time.Duration) {
	b.ops = append(b.ops, func(c *Coordinator) {
		deadline := time.Now().Add(ttl)
		if v, ok := c.strings[key]; ok {
			v.expires = deadline
			c.strings[key] = v
		}
		c.expires[key] = deadline
	})
}

func (b *batch) HSet(key, field, value string) {
	b.ops = append(b.ops, func(c *Coordinator) {
		h, ok := c.hashes[key]
		if !ok {
			h = make(map[string]string)
			c.hashes[key] = h
		}
		h[field] = value
	})
}

func (b *batch) HDel(key, field string) {
	b.ops = append(b.ops, func(c *Coordinator) {
		if h, ok := c.hashes[key]; ok {
			delete(h, field)
		}
	})
}

func (b *batch) SAdd(key, member string) {
	b.ops = append(b.ops, func(c *Coordinator) {
		s, ok := c.sets[key]
		if !ok {
			s = make(map[string]struct{})
			c.sets[key] = s
		}
		s[member] = struct{}{}
	})
}

func (b *batch) LPush(key, value string) {
	b.ops = append(b.ops, func(c *Coordinator) {
		c.lists[key] = append([]string{value}, c.lists[key]...)
	})
}

func (b *batch) LTrim(key string, start, stop int) {
	b.ops = append(b.ops, func(c *Coordinator) {
		l := c.lists[key]
		s, e := clampRange(len(l), start, stop)
		if s > e {
			c.lists[key] = nil
			return
		}
		c.lists[key] = append([]string(nil), l[s:e+1]...)
	})
}

// Exec applies every queued operation under a single lock acquisition,
// the in-process analogue of a pipelined MULTI/EXEC.
func (b *batch) Exec(_ context.Context) error {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	for _, op := range b.ops {
		op(b.c)
	}
	return nil
}

// ----------------------------------------------------
// Pub/sub
// ----------------------------------------------------

// subscription delivers messages through a buffered queue drained by one
// dedicated goroutine, so a subscriber always observes messages in the
// order Publish was called for its subject -- fan-out to other
// subscriptions happens independently, matching spec.md §5(b)'s
// per-channel (not cross-channel) ordering guarantee.
type subscription struct {
	c       *Coordinator
	subject string
	handler func(coordinator.Message)
	queue   chan coordinator.Message
	done    chan struct{}
}

func newSubscription(c *Coordinator, subject string, handler func(coordinator.Message)) *subscription {
	s := &subscription{c: c, subject: subject, handler: handler, queue: make(chan coordinator.Message, 256), done: make(chan struct{})}
	go s.drain()
	return s
}

func (s *subscription) drain() {
	for {
		select {
		case m := <-s.queue:
			s.handler(m)
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Unsubscribe() error {
	s.c.subsMu.Lock()
	defer s.c.subsMu.Unlock()
	if set, ok := s.c.subs[s.subject]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.c.subs, s.subject)
		}
	}
	close(s.done)
	return nil
}

func (c *Coordinator) Publish(_ context.Context, subject string, data []byte) error {
	c.subsMu.RLock()
	var targets []*subscription
	for sub := range c.subs[subject] {
		targets = append(targets, sub)
	}
	c.subsMu.RUnlock()

	msg := coordinator.Message{Subject: subject, Data: append([]byte(nil), data...)}
	for _, sub := range targets {
		sub.queue <- msg
	}
	return nil
}

func (c *Coordinator) Subscribe(subject string, handler func(coordinator.Message)) (coordinator.Subscription, error) {
	sub := newSubscription(c, subject, handler)
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	set, ok := c.subs[subject]
	if !ok {
		set = make(map[*subscription]struct{})
		c.subs[subject] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Duplicate returns the same process-local coordinator: there is nothing
// physical to duplicate when the backing store is a Go map.
func (c *Coordinator) Duplicate() (coordinator.Coordinator, error) {
	return c, nil
}

func (c *Coordinator) Events() <-chan coordinator.Event {
	return c.events
}

func (c *Coordinator) Close() error {
	return nil
}
