package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados del ciclo de vida del paquete.
const (
	PackageStatusAnunciado = "ANUNCIADO"
	PackageStatusRecibido  = "RECIBIDO"
	PackageStatusEntregado = "ENTREGADO"
	PackageStatusCancelado = "CANCELADO"
)

const (
	PackageTypeNormal            = "NORMAL"
	PackageTypeExtraDimensionado = "EXTRA_DIMENSIONADO"
)

const (
	PackageConditionBueno   = "BUENO"
	PackageConditionAbierto = "ABIERTO"
	PackageConditionRegular = "REGULAR"
)

// allowedTransitions is the full transition graph. Terminal states map to
// an empty list.
var allowedTransitions = map[string][]string{
	PackageStatusAnunciado: {PackageStatusRecibido, PackageStatusCancelado},
	PackageStatusRecibido:  {PackageStatusEntregado, PackageStatusCancelado},
	PackageStatusEntregado: {},
	PackageStatusCancelado: {},
}

func CanTransition(from, to string) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(status string) bool {
	return len(allowedTransitions[status]) == 0 && (status == PackageStatusEntregado || status == PackageStatusCancelado)
}

func ValidPackageStatus(status string) bool {
	_, ok := allowedTransitions[status]
	return ok
}

type PackageCreateInput struct {
	TrackingNumber string
	GuideNumber    *string
	ConsultCode    *string
	CustomerName   *string
	CustomerPhone  *string
	PackageType    string
	Status         string
	Condition      string
	Posicion       *string
	Operator       string
	Observations   *string
}

type Package struct {
	ID             uint64
	TrackingNumber string
	GuideNumber    *string
	ConsultCode    *string

	CustomerName  *string
	CustomerPhone *string

	PackageType string
	Status      string
	Condition   string
	Posicion    *string

	BaseFee     decimal.Decimal
	StorageFee  decimal.Decimal
	TotalAmount decimal.Decimal

	AnnouncedAt time.Time
	ReceivedAt  *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
