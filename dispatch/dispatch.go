// Package dispatch implements the HTTP dispatch engine: a UMF "to"
// field is parsed into a logical route, resolved against the live
// presence roster, and issued as an HTTP request with cross-instance
// failover on a frozen snapshot of the resolved instances.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hydra-mesh/hydra/constant"
	"github.com/hydra-mesh/hydra/coordinator"
	"github.com/hydra-mesh/hydra/discovery"
	"github.com/hydra-mesh/hydra/logger"
	"github.com/hydra-mesh/hydra/umf"
)

// Request is the wire-neutral shape of a single HTTP attempt, built by
// the dispatcher and executed through the injected HTTPClient.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// RawResponse is what an HTTPClient returns for a single attempt.
type RawResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// HTTPClient is the injectable physical HTTP transport. The default
// implementation (NewDefaultClient) wraps net/http.Client; spec.md
// keeps the physical client out of core scope, so this is a contract
// plus one reference implementation rather than a hard dependency.
type HTTPClient interface {
	Do(ctx context.Context, req *Request) (*RawResponse, error)
}

// Response is the synthetic, never-rejected result envelope: routing and
// availability failures resolve as data (a populated StatusCode) rather
// than a returned error, per spec.md §7's propagation policy.
type Response struct {
	StatusCode int            `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       map[string]any `json:"body,omitempty"`
	Result     any            `json:"result,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// MetricEmitter receives one string per dispatch metric event
// ("service:unavailable|svc|instance", "attempts:exhausted|svc").
type MetricEmitter func(metric string)

// SendOptions tunes a single MakeAPIRequest call.
type SendOptions struct {
	// Deadline overrides umfmsg.Timeout as the per-attempt socket
	// timeout when non-zero.
	Deadline time.Duration
}

// Dispatcher resolves UMF routes to live instances and issues HTTP
// requests against them, failing over across instances on error.
type Dispatcher struct {
	finder     *discovery.Finder
	coord      coordinator.Coordinator
	client     HTTPClient
	log        logger.ILogger
	keyPrefix  string
	onMetric   MetricEmitter
}

// New creates a Dispatcher. client defaults to NewDefaultClient() when nil.
func New(finder *discovery.Finder, coord coordinator.Coordinator, client HTTPClient, log logger.ILogger, keyPrefix string, onMetric MetricEmitter) *Dispatcher {
	if keyPrefix == "" {
		keyPrefix = constant.DefaultKeyPrefix
	}
	if client == nil {
		client = NewDefaultClient()
	}
	if onMetric == nil {
		onMetric = func(string) {}
	}
	if log == nil {
		log = logger.NewLogger("dispatch", "warn")
	}
	return &Dispatcher{finder: finder, coord: coord, client: client, log: log, keyPrefix: keyPrefix, onMetric: onMetric}
}

var bodyMethods = map[string]bool{"POST": true, "PUT": true}
var jsonContentMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true}

// MakeAPIRequest validates msg, parses its route, and dispatches: either
// directly (legacy http-prefixed passthrough) or via instance resolution
// and failover. Routing and availability failures are returned as
// populated Response envelopes with a nil error; only unexpected
// internal errors (a body JSON-marshal failure, or a coordinator error
// while resolving or re-checking instances) are returned as error.
func (d *Dispatcher) MakeAPIRequest(ctx context.Context, msg *umf.Message, opts *SendOptions) (*Response, error) {
	if err := msg.Validate(); err != nil {
		return &Response{StatusCode: constant.StatusRoutingError, Reason: "UMF message requires 'to', 'from' and 'body' fields"}, nil
	}

	route, err := umf.ParseRoute(msg.To)
	if err != nil {
		return &Response{StatusCode: constant.StatusRoutingError, Reason: err.Error()}, nil
	}
	if route.HTTPMethod == "" {
		return &Response{StatusCode: constant.StatusRoutingError, Reason: "HTTP method not specified in `to` field"}, nil
	}
	if route.APIRoute == "" {
		return &Response{StatusCode: constant.StatusRoutingError, Reason: "empty API route in `to` field"}, nil
	}

	if strings.HasPrefix(route.Subject, "http") {
		return d.passthrough(ctx, route, msg, opts)
	}

	nodes, err := d.finder.GetServicePresence(ctx, route.Subject)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return &Response{StatusCode: constant.StatusServiceUnavailable, Reason: "Unavailable " + route.Subject + " instances"}, nil
	}

	return d.tryAPIRequest(ctx, nodes, route, msg, opts)
}

// passthrough issues the request directly against an http(s)-prefixed
// serviceName, bypassing instance resolution entirely.
func (d *Dispatcher) passthrough(ctx context.Context, route *umf.ParsedRoute, msg *umf.Message, opts *SendOptions) (*Response, error) {
	req := &Request{
		Method:  strings.ToUpper(route.HTTPMethod),
		URL:     route.Subject + route.APIRoute,
		Headers: mergeHeaders(msg, route.HTTPMethod),
		Timeout: attemptTimeout(msg, opts),
	}
	if bodyMethods[req.Method] {
		body, err := json.Marshal(msg.Body)
		if err != nil {
			return nil, err
		}
		req.Body = body
	}

	raw, err := d.client.Do(ctx, req)
	if err != nil {
		return &Response{StatusCode: constant.StatusServiceUnavailable, Reason: err.Error()}, nil
	}
	return decodeResponse(raw), nil
}

// tryAPIRequest implements the failover loop: pick the pinned instance
// if the route named one still present in the frozen snapshot (else the
// first, already-shuffled entry), re-verify its presence/nodes-hash
// entries, issue the request, and on any failure shift that instance
// off the list and recurse. The snapshot itself is never re-resolved
// mid-failover, matching spec.md §4.6/§5's "retry MUST NOT re-resolve
// presence" rule.
func (d *Dispatcher) tryAPIRequest(ctx context.Context, instances []*discovery.NodeInfo, route *umf.ParsedRoute, msg *umf.Message, opts *SendOptions) (*Response, error) {
	remaining := instances
	for len(remaining) > 0 {
		idx := 0
		if route.Instance != "" {
			for i, n := range remaining {
				if n.InstanceID == route.Instance {
					idx = i
					break
				}
			}
		}
		node := remaining[idx]
		remaining = append(append([]*discovery.NodeInfo{}, remaining[:idx]...), remaining[idx+1:]...)

		if alive, err := d.verifyInstance(ctx, route.Subject, node); err != nil {
			return nil, err
		} else if !alive {
			d.onMetric(fmt.Sprintf("service:unavailable|%s|%s", route.Subject, node.InstanceID))
			continue
		}

		req := &Request{
			Method:  strings.ToUpper(route.HTTPMethod),
			URL:     fmt.Sprintf("http://%s:%d%s", node.IP, node.Port, route.APIRoute),
			Headers: mergeHeaders(msg, route.HTTPMethod),
			Timeout: attemptTimeout(msg, opts),
		}
		if bodyMethods[req.Method] {
			body, err := json.Marshal(msg.Body)
			if err != nil {
				return nil, err
			}
			req.Body = body
		}

		raw, err := d.client.Do(ctx, req)
		if err != nil {
			d.log.Warn("dispatch: attempt against " + node.InstanceID + " failed: " + err.Error())
			d.onMetric(fmt.Sprintf("service:unavailable|%s|%s", route.Subject, node.InstanceID))
			continue
		}
		return decodeResponse(raw), nil
	}

	d.log.Warn("dispatch: attempts exhausted for " + route.Subject)
	d.onMetric("attempts:exhausted|" + route.Subject)
	return &Response{StatusCode: constant.StatusServiceUnavailable, Reason: "An instance of " + route.Subject + " is unavailable"}, nil
}

// verifyInstance re-checks the presence key and nodes-hash entry for
// node, guarding against a stale snapshot entry whose instance vanished
// between resolution and this attempt.
func (d *Dispatcher) verifyInstance(ctx context.Context, service string, node *discovery.NodeInfo) (bool, error) {
	presenceKey := fmt.Sprintf("%s:%s:%s:presence", d.keyPrefix, service, node.InstanceID)
	if _, err := d.coord.Get(ctx, presenceKey); err != nil {
		if err == coordinator.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	nodesKey := fmt.Sprintf("%s:nodes", d.keyPrefix)
	if _, err := d.coord.HGet(ctx, nodesKey, node.InstanceID); err != nil {
		if err == coordinator.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func attemptTimeout(msg *umf.Message, opts *SendOptions) time.Duration {
	if opts != nil && opts.Deadline > 0 {
		return opts.Deadline
	}
	if msg.Timeout > 0 {
		return time.Duration(msg.Timeout) * time.Second
	}
	return 0
}

func mergeHeaders(msg *umf.Message, method string) map[string]string {
	headers := map[string]string{}
	if jsonContentMethods[strings.ToUpper(method)] {
		headers["content-type"] = "application/json"
	}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if msg.Authorization != "" {
		headers["Authorization"] = msg.Authorization
	}
	return headers
}

// decodeResponse builds the Response envelope from a RawResponse. A
// JSON content-type body is parsed and merged into the envelope (and
// the raw payload dropped); anything else is returned as opaque bytes.
func decodeResponse(raw *RawResponse) *Response {
	resp := &Response{StatusCode: raw.StatusCode, Headers: raw.Headers}

	ct := raw.Headers["content-type"]
	if strings.Contains(strings.ToLower(ct), "json") && len(raw.Body) > 0 {
		var parsed any
		if err := json.Unmarshal(raw.Body, &parsed); err == nil {
			resp.Result = parsed
			return resp
		}
	}
	if len(raw.Body) > 0 {
		resp.Body = map[string]any{"raw": string(raw.Body)}
	}
	return resp
}
