// Package audit provides an optional, durable forensic trail of
// presence/health/registration events, recorded alongside (never instead
// of) the coordinator's own TTL-bound state. A facade that runs without
// an audit trail configured behaves identically; this package only adds
// an observer.
package audit

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DbType selects the backing SQL dialect.
type DbType string

const (
	DbSqlite   DbType = "sqlite"
	DbPostgres DbType = "postgres"
)

// Config configures the audit trail's storage.
type Config struct {
	Type DbType
	DSN  string
}

// Event is one row in the audit trail.
type Event struct {
	ID          uint `gorm:"primaryKey"`
	OccurredAt  time.Time
	ServiceName string
	InstanceID  string
	Kind        string // "register", "deregister", "health"
	Status      int
}

// Trail is the gorm-backed audit sink.
type Trail struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the Event table.
func Open(cfg Config) (*Trail, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case DbPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, err
	}
	return &Trail{db: db}, nil
}

func (t *Trail) record(ctx context.Context, serviceName, instanceID, kind string, status int) {
	if t == nil {
		return
	}
	_ = t.db.WithContext(ctx).Create(&Event{
		OccurredAt:  time.Now(),
		ServiceName: serviceName,
		InstanceID:  instanceID,
		Kind:        kind,
		Status:      status,
	}).Error
}

// RecordRegister logs a successful registration.
func (t *Trail) RecordRegister(ctx context.Context, serviceName, instanceID string) {
	t.record(ctx, serviceName, instanceID, "register", 0)
}

// RecordDeregister logs a deregistration.
func (t *Trail) RecordDeregister(ctx context.Context, serviceName, instanceID string) {
	t.record(ctx, serviceName, instanceID, "deregister", 0)
}

// RecordHealth logs a health tick's resulting status, letting forensic
// queries span beyond the health log's one-week TTL.
func (t *Trail) RecordHealth(ctx context.Context, serviceName, instanceID string, status int) {
	t.record(ctx, serviceName, instanceID, "health", status)
}

// RecentEvents returns the most recent n events for a service, newest
// first.
func (t *Trail) RecentEvents(ctx context.Context, serviceName string, n int) ([]Event, error) {
	var events []Event
	err := t.db.WithContext(ctx).
		Where("service_name = ?", serviceName).
		Order("occurred_at desc").
		Limit(n).
		Find(&events).Error
	return events, err
}

// Close releases the underlying SQL connection.
func (t *Trail) Close() error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
