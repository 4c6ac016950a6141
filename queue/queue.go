// Package queue implements the mesh's durable, best-effort message
// queues: three ordered lists per service (received, in-progress,
// incomplete) backed by the coordinator's list operations.
package queue

import (
	"context"
	"fmt"

	"github.com/hydra-mesh/hydra/constant"
	"github.com/hydra-mesh/hydra/coordinator"
	"github.com/hydra-mesh/hydra/umf"
)

// Engine wraps the three coordinator lists for one service's queue.
type Engine struct {
	coord       coordinator.Coordinator
	keyPrefix   string
	serviceName string
}

// New creates an Engine for serviceName. keyPrefix defaults to
// constant.DefaultKeyPrefix when empty.
func New(coord coordinator.Coordinator, keyPrefix, serviceName string) *Engine {
	if keyPrefix == "" {
		keyPrefix = constant.DefaultKeyPrefix
	}
	return &Engine{coord: coord, keyPrefix: keyPrefix, serviceName: serviceName}
}

func (e *Engine) receivedKey() string {
	return fmt.Sprintf("%s:%s:%s", e.keyPrefix, e.serviceName, constant.QueueReceived)
}

func (e *Engine) inProgressKey() string {
	return fmt.Sprintf("%s:%s:%s", e.keyPrefix, e.serviceName, constant.QueueInProgress)
}

func (e *Engine) incompleteKey() string {
	return fmt.Sprintf("%s:%s:%s", e.keyPrefix, e.serviceName, constant.QueueIncomplete)
}

// QueueMessage validates msg and left-pushes its short-form encoding
// onto the service's received inbox.
func (e *Engine) QueueMessage(ctx context.Context, msg *umf.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := umf.MarshalShort(msg)
	if err != nil {
		return err
	}
	return e.coord.LPush(ctx, e.receivedKey(), string(data))
}

// GetQueuedMessage atomically moves the tail of the received inbox to
// the head of the in-progress list (a single RPOPLPUSH), returning the
// decoded message, or nil with no error when the inbox is empty.
func (e *Engine) GetQueuedMessage(ctx context.Context) (*umf.Message, error) {
	raw, err := e.coord.RPopLPush(ctx, e.receivedKey(), e.inProgressKey())
	if err != nil {
		if err == coordinator.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return umf.UnmarshalShort([]byte(raw))
}

// MarkQueueMessage finalizes msg's claim. When completed is true the
// message is simply dropped from the in-progress list. Otherwise, per
// spec.md §9's resolution of the JS/TypeScript ambiguity, the reason is
// annotated onto the body *before* the list move: the body's "reason"
// field is set (falling back to "reason not provided" when reason is
// empty), the message is re-encoded, removed from in-progress, and
// pushed onto the incomplete list.
func (e *Engine) MarkQueueMessage(ctx context.Context, msg *umf.Message, completed bool, reason string) error {
	original, err := umf.MarshalShort(msg)
	if err != nil {
		return err
	}

	if completed {
		return e.coord.LRem(ctx, e.inProgressKey(), string(original))
	}

	if reason == "" {
		reason = "reason not provided"
	}
	annotated := msg.Copy()
	if annotated.Body == nil {
		annotated.Body = make(map[string]any)
	}
	annotated.Body["reason"] = reason

	annotatedData, err := umf.MarshalShort(annotated)
	if err != nil {
		return err
	}

	if err := e.coord.LRem(ctx, e.inProgressKey(), string(original)); err != nil {
		return err
	}
	return e.coord.RPush(ctx, e.incompleteKey(), string(annotatedData))
}
