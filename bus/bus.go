// Package bus implements the mesh's message transport: direct and
// broadcast subscription channels per service, reply correlation via
// UMF's rmid field, and a publisher-pool that amortizes one duplicated
// Coordinator connection per channel rather than opening one per send.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hydra-mesh/hydra/constant"
	"github.com/hydra-mesh/hydra/coordinator"
	"github.com/hydra-mesh/hydra/discovery"
	"github.com/hydra-mesh/hydra/logger"
	"github.com/hydra-mesh/hydra/umf"
	"github.com/hydra-mesh/hydra/util"
)

// Response is the synthetic, never-rejected result of a send that found
// no live instance to deliver to.
type Response struct {
	StatusCode int
	Reason     string
}

// Handler receives every message delivered to this instance, already
// decoded into long-form UMF.
type Handler func(msg *umf.Message)

// pendingReply is a waiter for a specific mid's rmid-correlated
// response, mirroring context.Conversation's done-channel pattern.
type pendingReply struct {
	done chan *umf.Message
}

// Bus owns one service instance's pub/sub subscriptions and publisher
// pool.
type Bus struct {
	coord       coordinator.Coordinator
	finder      *discovery.Finder
	log         logger.ILogger
	keyPrefix   string
	serviceName string
	instanceID  string

	directSub    coordinator.Subscription
	broadcastSub coordinator.Subscription

	handlersMu sync.RWMutex
	handlers   []Handler

	poolMu sync.Mutex
	pool   map[uint32]coordinator.Coordinator

	pendingMu sync.Mutex
	pending   map[string]*pendingReply
}

// New creates a Bus for one registered instance. finder resolves target
// instances for sendMessage/sendBroadcastMessage.
func New(coord coordinator.Coordinator, finder *discovery.Finder, log logger.ILogger, keyPrefix, serviceName, instanceID string) *Bus {
	if keyPrefix == "" {
		keyPrefix = constant.DefaultKeyPrefix
	}
	return &Bus{
		coord:       coord,
		finder:      finder,
		log:         log,
		keyPrefix:   keyPrefix,
		serviceName: serviceName,
		instanceID:  instanceID,
		pool:        make(map[uint32]coordinator.Coordinator),
		pending:     make(map[string]*pendingReply),
	}
}

func (b *Bus) broadcastChannel(service string) string {
	return fmt.Sprintf("%s:mc:%s", b.keyPrefix, service)
}

func (b *Bus) directChannel(service, instanceID string) string {
	return fmt.Sprintf("%s:mc:%s:%s", b.keyPrefix, service, instanceID)
}

// OnMessage registers a listener invoked for every inbound message, in
// registration order.
func (b *Bus) OnMessage(h Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Start opens the two dedicated subscription channels for this instance.
func (b *Bus) Start() error {
	direct, err := b.coord.Subscribe(b.directChannel(b.serviceName, b.instanceID), b.deliver)
	if err != nil {
		return fmt.Errorf("bus: direct subscribe: %w", err)
	}
	b.directSub = direct

	broadcast, err := b.coord.Subscribe(b.broadcastChannel(b.serviceName), b.deliver)
	if err != nil {
		_ = direct.Unsubscribe()
		return fmt.Errorf("bus: broadcast subscribe: %w", err)
	}
	b.broadcastSub = broadcast
	return nil
}

// deliver decodes one wire payload and either resolves a pending reply
// waiter (when rmid correlates to an outstanding sendRequest) or fans it
// out to every registered Handler.
func (b *Bus) deliver(m coordinator.Message) {
	msg, err := umf.UnmarshalShort(m.Data)
	if err != nil {
		b.log.Warn("bus: discarding undecodable message: " + err.Error())
		return
	}

	if msg.RMID != "" {
		b.pendingMu.Lock()
		waiter, ok := b.pending[msg.RMID]
		b.pendingMu.Unlock()
		if ok {
			waiter.done <- msg
			return
		}
	}

	b.handlersMu.RLock()
	handlers := append([]Handler(nil), b.handlers...)
	b.handlersMu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

// publisherFor returns the pooled Coordinator connection for channel,
// opening and caching a duplicated connection on first use.
func (b *Bus) publisherFor(channel string) (coordinator.Coordinator, error) {
	key := util.StringHash(channel)

	b.poolMu.Lock()
	defer b.poolMu.Unlock()
	if conn, ok := b.pool[key]; ok {
		return conn, nil
	}
	conn, err := b.coord.Duplicate()
	if err != nil {
		return nil, err
	}
	b.pool[key] = conn
	return conn, nil
}

func (b *Bus) publish(ctx context.Context, channel string, msg *umf.Message) error {
	data, err := umf.MarshalShort(msg)
	if err != nil {
		return err
	}
	conn, err := b.publisherFor(channel)
	if err != nil {
		return err
	}
	return conn.Publish(ctx, channel, data)
}

// SendMessage validates msg, resolves live instances of the target
// service, and publishes to the pinned instance (if the route names one
// that is still alive) or to the first entry of the shuffled roster.
// Absence of any instance never fails the call: it returns a 503-shaped
// Response instead.
func (b *Bus) SendMessage(ctx context.Context, msg *umf.Message) (*Response, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	route, err := umf.ParseRoute(msg.To)
	if err != nil {
		return nil, err
	}

	nodes, err := b.finder.GetServicePresence(ctx, route.Subject)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return &Response{StatusCode: constant.StatusServiceUnavailable, Reason: "no instances of " + route.Subject}, nil
	}

	target := nodes[0].InstanceID
	if route.Instance != "" {
		for _, n := range nodes {
			if n.InstanceID == route.Instance {
				target = n.InstanceID
				break
			}
		}
	}

	return nil, b.publish(ctx, b.directChannel(route.Subject, target), msg)
}

// SendBroadcastMessage publishes to the service-wide channel. If the
// target is hydra-router and no instances exist, this succeeds silently
// since routers are optional infrastructure.
func (b *Bus) SendBroadcastMessage(ctx context.Context, msg *umf.Message) (*Response, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	route, err := umf.ParseRoute(msg.To)
	if err != nil {
		return nil, err
	}

	has, err := b.finder.HasServicePresence(ctx, route.Subject)
	if err != nil {
		return nil, err
	}
	if !has {
		if route.Subject == "hydra-router" {
			return nil, nil
		}
		return &Response{StatusCode: constant.StatusServiceUnavailable, Reason: "no instances of " + route.Subject}, nil
	}

	return nil, b.publish(ctx, b.broadcastChannel(route.Subject), msg)
}

// SendReplyMessage builds and publishes a correlated reply: to/from are
// swapped, rmid is set to the original mid, and the reply is routed to
// "via" when the original message carried one.
func (b *Bus) SendReplyMessage(ctx context.Context, original, response *umf.Message) error {
	reply := umf.Reply(original, b.serviceName, response.Body)
	reply.ForwardedHistory = original.ForwardedHistory

	target := reply.To
	if original.Via != "" {
		target = original.Via
	}

	route, err := umf.ParseRoute(target)
	if err != nil {
		return err
	}
	nodes, err := b.finder.GetServicePresence(ctx, route.Subject)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("bus: no instances of %s to reply to", route.Subject)
	}
	return b.publish(ctx, b.directChannel(route.Subject, nodes[0].InstanceID), reply)
}

// SendRequest publishes msg and blocks until a reply correlated by rmid
// arrives or timeout elapses.
func (b *Bus) SendRequest(ctx context.Context, msg *umf.Message, timeout time.Duration) (*umf.Message, error) {
	waiter := &pendingReply{done: make(chan *umf.Message, 1)}
	b.pendingMu.Lock()
	b.pending[msg.MID] = waiter
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, msg.MID)
		b.pendingMu.Unlock()
	}()

	if _, err := b.SendMessage(ctx, msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-waiter.done:
		return reply, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("bus: request %s timed out waiting for reply", msg.MID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown closes both subscriptions and every pooled publisher
// connection.
func (b *Bus) Shutdown() error {
	var firstErr error
	if b.directSub != nil {
		if err := b.directSub.Unsubscribe(); err != nil {
			firstErr = err
		}
	}
	if b.broadcastSub != nil {
		if err := b.broadcastSub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.poolMu.Lock()
	for _, conn := range b.pool {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.pool = make(map[uint32]coordinator.Coordinator)
	b.poolMu.Unlock()
	return firstErr
}
