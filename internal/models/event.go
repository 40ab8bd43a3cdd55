package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tipos de evento del ciclo de vida.
const (
	EventTypeAnuncio        = "ANUNCIO"
	EventTypeRecepcion      = "RECEPCION"
	EventTypeEntrega        = "ENTREGA"
	EventTypeCancelacion    = "CANCELACION"
	EventTypeModificacion   = "MODIFICACION"
	EventTypeImagenAgregada = "IMAGEN_AGREGADA"
	EventTypeNotaAgregada   = "NOTA_AGREGADA"
)

// EventTypeForStatus maps the status a package transitions into to the
// event recorded for that transition.
func EventTypeForStatus(status string) string {
	switch status {
	case PackageStatusAnunciado:
		return EventTypeAnuncio
	case PackageStatusRecibido:
		return EventTypeRecepcion
	case PackageStatusEntregado:
		return EventTypeEntrega
	case PackageStatusCancelado:
		return EventTypeCancelacion
	default:
		return EventTypeModificacion
	}
}

// PackageEvent is the append-only audit record. Rows are written exactly
// once, inside the same transaction as the status change they describe,
// and are never updated or deleted. Package and customer fields are value
// copies taken at event time so history stays accurate regardless of later
// edits or package purges (package_id goes NULL on purge, the row stays).
type PackageEvent struct {
	ID        uuid.UUID
	PackageID *uint64

	EventType string
	EventTime time.Time

	TrackingNumber string
	GuideNumber    *string
	ConsultCode    *string

	StatusBefore *string
	StatusAfter  string

	PackageType string
	Condition   *string
	Posicion    *string

	CustomerName  *string
	CustomerPhone *string

	BaseFee     decimal.Decimal
	StorageFee  decimal.Decimal
	StorageDays int32
	TotalAmount decimal.Decimal

	PaymentMethod *string
	PaymentAmount *decimal.Decimal

	Operator           string
	CancellationReason *string
	FileID             *string
	Observations       *string

	CreatedAt time.Time
}
