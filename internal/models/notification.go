package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	NotificationChannelSMS   = "sms"
	NotificationChannelEmail = "email"
)

const (
	NotificationStatusQueued    = "queued"
	NotificationStatusSent      = "sent"
	NotificationStatusDelivered = "delivered"
	NotificationStatusFailed    = "failed"
)

// Eventos de notificación (claves de plantilla).
const (
	NotificationEventPackageAnnounced = "package_announced"
	NotificationEventPackageReceived  = "package_received"
	NotificationEventPackageDelivered = "package_delivered"
	NotificationEventPackageCancelled = "package_cancelled"
	NotificationEventPaymentDue       = "payment_due"
)

// Notification is one outbound message. EventID is unique so a package
// event triggers at most one notification no matter how often dispatch is
// retried. Delivery outcome fields are filled in asynchronously from
// provider reports; the triggering PackageEvent is never touched.
type Notification struct {
	ID        uuid.UUID
	PackageID *uint64
	EventID   *uuid.UUID

	Channel   string
	EventType string

	Recipient  string
	Message    string
	TemplateID string

	Status           string
	ProviderID       *string
	ProviderResponse *string
	CostCents        int32
	ErrorMessage     *string

	RetryCount    int32
	MaxRetries    int32
	NextAttemptAt time.Time

	SentAt      *time.Time
	DeliveredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SMSTemplate is a stored message template. Bodies contain literal
// {placeholder} variables substituted at render time.
type SMSTemplate struct {
	ID         uuid.UUID
	TemplateID string
	Name       string
	EventType  string
	Language   string
	Body       string
	IsActive   bool
	IsDefault  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
