// file: constant/constant.go
package constant

import (
	"errors"
	"time"
)

// ----------------------------------------------------
// Standard errors
// ----------------------------------------------------

var (
	ErrNotInitialized   = errors.New("hydra: facade not initialized")
	ErrNoAvailableNodes = errors.New("hydra: no service instance available")
	ErrServiceNotFound  = errors.New("hydra: service not found")
	ErrInvalidRoute     = errors.New("hydra: invalid route")
	ErrEmptyNodeList    = errors.New("hydra: at least one node is required")
)

// ----------------------------------------------------
// Keyspace
// ----------------------------------------------------

const (
	DefaultKeyPrefix = "hydra:service"

	// KeyExpirationTTL is the TTL applied to presence and health keys.
	KeyExpirationTTL = 3 * time.Second

	// PresenceTickInterval is how often the presence key is refreshed.
	PresenceTickInterval = 1 * time.Second

	// HealthTickInterval is how often the health key/log is refreshed.
	HealthTickInterval = 5 * time.Second

	// MaxEntriesInHealthLog caps the health log list length.
	MaxEntriesInHealthLog = 64

	// HealthLogTTL is the TTL applied to the health log key.
	HealthLogTTL = 7 * 24 * time.Hour
)

// Queue list suffixes, appended to a service's keyspace prefix.
const (
	QueueReceived   = "mqrecieved"
	QueueInProgress = "mqinprogress"
	QueueIncomplete = "mqincomplete"
)

// ----------------------------------------------------
// Message / route types
// ----------------------------------------------------

const (
	MessageTypeRequest  = "request"
	MessageTypeResponse = "response"
	MessageTypePublish  = "publish"
)

// ----------------------------------------------------
// Health status
// ----------------------------------------------------

const (
	StatusOK       = 0
	StatusWarning  = 1
	StatusCritical = 2
)

const (
	MemoryWarningKey  = "memory_warning"
	MemoryCriticalKey = "memory_critical"
	LoadWarningKey    = "load_warning"
	LoadCriticalKey   = "load_critical"
)

// ----------------------------------------------------
// Synthetic HTTP-shaped statuses used on the resolved (not rejected) path
// ----------------------------------------------------

const (
	StatusRoutingError        = 400
	StatusServiceUnavailable  = 503
)
