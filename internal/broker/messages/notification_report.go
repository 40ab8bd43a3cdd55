package messages

import (
	"time"

	"github.com/google/uuid"
)

// NotificationReport is the worker's account of one SMS send attempt,
// published to Kafka and folded back into the notifications table by the
// API side consumer.
type NotificationReport struct {
	NotificationID uuid.UUID `json:"notification_id"`
	PackageID      *uint64   `json:"package_id,omitempty"`

	AttemptedAt time.Time `json:"attempted_at"`
	Success     bool      `json:"success"`

	ProviderID       *string `json:"provider_id,omitempty"`
	ProviderResponse *string `json:"provider_response,omitempty"`
	CostCents        int32   `json:"cost_cents,omitempty"`

	Error *string `json:"error,omitempty"`
}
