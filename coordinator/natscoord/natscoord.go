// Package natscoord implements coordinator.Coordinator over a real NATS
// connection: pub/sub rides directly on NATS subjects, and the keyed
// operations (strings, hashes, sets, lists) are backed by a JetStream
// key/value bucket. Entries that carry a TTL are wrapped in an envelope
// and checked by wall-clock at lookup time, since the KV bucket's own
// TTL is configured bucket-wide rather than per key in the client
// version this module targets.
package natscoord

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hydra-mesh/hydra/coordinator"
)

// Options configures how the natscoord connects.
type Options struct {
	// Servers is a comma-separated list of NATS server URLs. When empty
	// and Embedded is true, an in-process server is started instead.
	Servers string
	// Embedded starts an in-process nats-server, for zero-config dev
	// and test runs that don't want an external dependency.
	Embedded bool
	Bucket   string
}

// Coordinator is the NATS-backed Coordinator.
type Coordinator struct {
	opts Options

	nc *nats.Conn
	ns *server.Server // only set when embedded
	js jetstream.JetStream
	kv jetstream.KeyValue

	events chan coordinator.Event
}

var _ coordinator.Coordinator = (*Coordinator)(nil)

type envelope struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires"`
}

func (e envelope) expired() bool {
	return !e.Expires.IsZero() && time.Now().After(e.Expires)
}

// Connect dials (or embeds) a NATS server and opens the coordinator's
// backing key/value bucket.
func Connect(ctx context.Context, opts Options) (*Coordinator, error) {
	if opts.Bucket == "" {
		opts.Bucket = "hydra_kv"
	}

	c := &Coordinator{opts: opts, events: make(chan coordinator.Event, 16)}

	var url string
	if opts.Embedded {
		ns, err := server.NewServer(&server.Options{JetStream: true})
		if err != nil {
			return nil, fmt.Errorf("natscoord: embedded server init: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(5 * time.Second) {
			return nil, fmt.Errorf("natscoord: embedded server not ready")
		}
		c.ns = ns
		url = ns.ClientURL()
	} else {
		url = opts.Servers
	}

	nc, err := nats.Connect(url,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.emit("warning", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.emit("reconnecting", nil)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.emit("end", nil)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natscoord: connect: %w", err)
	}
	c.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("natscoord: jetstream: %w", err)
	}
	c.js = js

	kv, err := js.KeyValue(ctx, opts.Bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: opts.Bucket})
		if err != nil {
			return nil, fmt.Errorf("natscoord: kv bucket: %w", err)
		}
	}
	c.kv = kv

	return c, nil
}

func (c *Coordinator) emit(kind string, err error) {
	select {
	case c.events <- coordinator.Event{Kind: kind, Err: err}:
	default:
	}
}

// kvKey maps a coordinator key onto a JetStream-legal key (dots and
// colons are valid; but stray whitespace and '*' are not, so we
// conservatively substitute them).
func kvKey(key string) string {
	r := strings.NewReplacer(" ", "_", "*", "_", ">", "_")
	return r.Replace(key)
}

func (c *Coordinator) getEnvelope(ctx context.Context, key string) (envelope, bool, error) {
	entry, err := c.kv.Get(ctx, kvKey(key))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return envelope{}, false, nil
		}
		return envelope{}, false, err
	}
	var e envelope
	if err := json.Unmarshal(entry.Value(), &e); err != nil {
		return envelope{}, false, err
	}
	if e.expired() {
		_ = c.kv.Delete(ctx, kvKey(key))
		return envelope{}, false, nil
	}
	return e, true, nil
}

func (c *Coordinator) putEnvelope(ctx context.Context, key string, e envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = c.kv.Put(ctx, kvKey(key), data)
	return err
}

// ----------------------------------------------------
// Strings
// ----------------------------------------------------

func (c *Coordinator) Get(ctx context.Context, key string) (string, error) {
	e, ok, err := c.getEnvelope(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", coordinator.ErrNotFound
	}
	return e.Value, nil
}

func (c *Coordinator) Set(ctx context.Context, key, value string) error {
	return c.putEnvelope(ctx, key, envelope{Value: value})
}

func (c *Coordinator) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.putEnvelope(ctx, key, envelope{Value: value, Expires: time.Now().Add(ttl)})
}

func (c *Coordinator) Del(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, kvKey(key))
}

func (c *Coordinator) Expire(ctx context.Context, key string, ttl time.Duration) error {
	e, ok, err := c.getEnvelope(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return coordinator.ErrNotFound
	}
	e.Expires = time.Now().Add(ttl)
	return c.putEnvelope(ctx, key, e)
}

// ----------------------------------------------------
// Hashes (stored as a single JSON map under the key)
// ----------------------------------------------------

func (c *Coordinator) loadHash(ctx context.Context, key string) (map[string]string, error) {
	e, ok, err := c.getEnvelope(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]string{}, nil
	}
	h := make(map[string]string)
	if err := json.Unmarshal([]byte(e.Value), &h); err != nil {
		return nil, err
	}
	return h, nil
}

func (c *Coordinator) saveHash(ctx context.Context, key string, h map[string]string) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return c.putEnvelope(ctx, key, envelope{Value: string(data)})
}

func (c *Coordinator) HGet(ctx context.Context, key, field string) (string, error) {
	h, err := c.loadHash(ctx, key)
	if err != nil {
		return "", err
	}
	v, ok := h[field]
	if !ok {
		return "", coordinator.ErrNotFound
	}
	return v, nil
}

func (c *Coordinator) HSet(ctx context.Context, key, field, value string) error {
	h, err := c.loadHash(ctx, key)
	if err != nil {
		return err
	}
	h[field] = value
	return c.saveHash(ctx, key, h)
}

func (c *Coordinator) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.loadHash(ctx, key)
}

func (c *Coordinator) HDel(ctx context.Context, key, field string) error {
	h, err := c.loadHash(ctx, key)
	if err != nil {
		return err
	}
	delete(h, field)
	return c.saveHash(ctx, key, h)
}

func (c *Coordinator) HKeys(ctx context.Context, key string) ([]string, error) {
	h, err := c.loadHash(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(h))
	for k := range h {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// ----------------------------------------------------
// Sets (stored as a single JSON array under the key)
// ----------------------------------------------------

func (c *Coordinator) loadSet(ctx context.Context, key string) (map[string]struct{}, error) {
	e, ok, err := c.getEnvelope(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	if !ok {
		return out, nil
	}
	var members []string
	if err := json.Unmarshal([]byte(e.Value), &members); err != nil {
		return nil, err
	}
	for _, m := range members {
		out[m] = struct{}{}
	}
	return out, nil
}

func (c *Coordinator) saveSet(ctx context.Context, key string, s map[string]struct{}) error {
	members := make([]string, 0, len(s))
	for m := range s {
		members = append(members, m)
	}
	sort.Strings(members)
	data, err := json.Marshal(members)
	if err != nil {
		return err
	}
	return c.putEnvelope(ctx, key, envelope{Value: string(data)})
}

func (c *Coordinator) SAdd(ctx context.Context, key, member string) error {
	s, err := c.loadSet(ctx, key)
	if err != nil {
		return err
	}
	s[member] = struct{}{}
	return c.saveSet(ctx, key, s)
}

func (c *Coordinator) SMembers(ctx context.Context, key string) ([]string, error) {
	s, err := c.loadSet(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// ----------------------------------------------------
// Lists (stored as a single JSON array under the key)
// ----------------------------------------------------

func (c *Coordinator) loadList(ctx context.Context, key string) ([]string, error) {
	e, ok, err := c.getEnvelope(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var l []string
	if err := json.Unmarshal([]byte(e.Value), &l); err != nil {
		return nil, err
	}
	return l, nil
}

func (c *Coordinator) saveList(ctx context.Context, key string, l []string) error {
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return c.putEnvelope(ctx, key, envelope{Value: string(data)})
}

func (c *Coordinator) LPush(ctx context.Context, key, value string) error {
	l, err := c.loadList(ctx, key)
	if err != nil {
		return err
	}
	return c.saveList(ctx, key, append([]string{value}, l...))
}

func (c *Coordinator) RPush(ctx context.Context, key, value string) error {
	l, err := c.loadList(ctx, key)
	if err != nil {
		return err
	}
	return c.saveList(ctx, key, append(l, value))
}

func (c *Coordinator) RPopLPush(ctx context.Context, src, dst string) (string, error) {
	l, err := c.loadList(ctx, src)
	if err != nil {
		return "", err
	}
	if len(l) == 0 {
		return "", coordinator.ErrNotFound
	}
	v := l[len(l)-1]
	if err := c.saveList(ctx, src, l[:len(l)-1]); err != nil {
		return "", err
	}
	d, err := c.loadList(ctx, dst)
	if err != nil {
		return "", err
	}
	if err := c.saveList(ctx, dst, append([]string{v}, d...)); err != nil {
		return "", err
	}
	return v, nil
}

func (c *Coordinator) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	l, err := c.loadList(ctx, key)
	if err != nil {
		return nil, err
	}
	start, stop = clampRange(len(l), start, stop)
	if start > stop {
		return nil, nil
	}
	return append([]string(nil), l[start:stop+1]...), nil
}

func (c *Coordinator) LRem(ctx context.Context, key string, value string) error {
	l, err := c.loadList(ctx, key)
	if err != nil {
		return err
	}
	out := l[:0:0]
	removed := false
	for _, v := range l {
		if !removed && v == value {
			removed = true
			continue
		}
		out = append(out, v)
	}
	return c.saveList(ctx, key, out)
}

func (c *Coordinator) LTrim(ctx context.Context, key string, start, stop int) error {
	l, err := c.loadList(ctx, key)
	if err != nil {
		return err
	}
	s, e := clampRange(len(l), start, stop)
	if s > e {
		return c.saveList(ctx, key, nil)
	}
	return c.saveList(ctx, key, append([]string(nil), l[s:e+1]...))
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

func (c *Coordinator) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.Scan(ctx, pattern, 100)
}

// Scan lists every KV key matching pattern in one pass over the bucket's
// key lister. The count argument is not used: there is no cursor and no
// batch size, and keys whose envelope has expired are not filtered out.
func (c *Coordinator) Scan(ctx context.Context, pattern string, _ int) ([]string, error) {
	match := globMatcher(pattern)
	lister, err := c.kv.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for k := range lister.Keys() {
		if match(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// globMatcher compiles a redis-style key pattern (only "*" is a
// recognized wildcard) into a predicate over sanitized KV keys. Each
// literal segment is passed through kvKey so it matches what was
// actually stored.
func globMatcher(pattern string) func(string) bool {
	segments := strings.Split(pattern, "*")
	for i, s := range segments {
		segments[i] = kvKey(s)
	}
	if len(segments) == 1 {
		return func(k string) bool { return k == segments[0] }
	}
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

// ----------------------------------------------------
// Batch
// ----------------------------------------------------

type batchOp func(context.Context, *Coordinator) error

type batch struct {
	c   *Coordinator
	ops []batchOp
}

func (c *Coordinator) Multi() coordinator.Batch {
	return &batch{c: c}
}

func (b *batch) Set(key, value string) {
	b.ops = append(b.ops, func(ctx context.Context, c *Coordinator) error { return c.Set(ctx, key, value) })
}

func (b *batch) SetEX(key, value string, ttl time.Duration) {
	b.ops = append(b.ops, func(ctx context.Context, c *Coordinator) error { return c.SetEX(ctx, key, value, ttl) })
}

func (b *batch) Del(key string) {
	b.ops = append(b.ops, func(ctx context.Context, c *Coordinator) error { return c.Del(ctx, key) })
}

func (b *batch) Expire(key string, ttl time.Duration) {
	b.ops = append(b.ops, func(ctx context.Context, c *Coordinator) error { return c.Expire(ctx, key, ttl) })
}

func (b *batch) HSet(key, field, value string) {
	b.ops = append(b.ops, func(ctx context.Context, c *Coordinator) error { return c.HSet(ctx, key, field, value) })
}

func (b *batch) HDel(key, field string) {
	b.ops = append(b.ops, func(ctx context.Context, c *Coordinator) error { return c.HDel(ctx, key, field) })
}

func (b *batch) SAdd(key, member string) {
	b.ops = append(b.ops, func(ctx context.Context, c *Coordinator) error { return c.SAdd(ctx, key, member) })
}

func (b *batch) LPush(key, value string) {
	b.ops = append(b.ops, func(ctx context.Context, c *Coordinator) error { return c.LPush(ctx, key, value) })
}

func (b *batch) LTrim(key string, start, stop int) {
	b.ops = append(b.ops, func(ctx context.Context, c *Coordinator) error { return c.LTrim(ctx, key, start, stop) })
}

// Exec runs every queued operation in order. JetStream KV does not
// expose a cross-key transaction primitive in the client version this
// module targets, so atomicity here means "applied in one call, in
// order," not isolation from concurrent writers — callers that need
// a true compare-and-swap should use the KV entry's revision directly.
func (b *batch) Exec(ctx context.Context) error {
	for _, op := range b.ops {
		if err := op(ctx, b.c); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------------------------------
// Pub/sub
// ----------------------------------------------------

type subWrapper struct{ sub *nats.Subscription }

func (s *subWrapper) Unsubscribe() error { return s.sub.Unsubscribe() }

func (c *Coordinator) Publish(_ context.Context, subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c *Coordinator) Subscribe(subject string, handler func(coordinator.Message)) (coordinator.Subscription, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		handler(coordinator.Message{Subject: m.Subject, Data: m.Data})
	})
	if err != nil {
		return nil, err
	}
	return &subWrapper{sub: sub}, nil
}

// Duplicate opens a second, independent connection to the same NATS
// servers, matching the teacher's pooled-connection-per-channel model.
func (c *Coordinator) Duplicate() (coordinator.Coordinator, error) {
	return Connect(context.Background(), c.opts)
}

func (c *Coordinator) Events() <-chan coordinator.Event {
	return c.events
}

func (c *Coordinator) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	if c.ns != nil {
		c.ns.Shutdown()
	}
	return nil
}
