package packages

import (
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/elclub/paqclub/internal/models"
)

const defaultOperator = "system"

const (
	PaymentMethodEfectivo      = "EFECTIVO"
	PaymentMethodTarjeta       = "TARJETA"
	PaymentMethodTransferencia = "TRANSFERENCIA"
)

// consultCodeAlphabet omits 0/O/1/I/L so codes survive being read over the
// phone.
const consultCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const consultCodeLen = 6

// NewConsultCode generates the short code customers use for public
// lookups.
func NewConsultCode() (string, error) {
	buf := make([]byte, consultCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate consult code")
	}
	for i, b := range buf {
		buf[i] = consultCodeAlphabet[int(b)%len(consultCodeAlphabet)]
	}
	return string(buf), nil
}

func validPackageType(pt string) bool {
	return pt == models.PackageTypeNormal || pt == models.PackageTypeExtraDimensionado
}

func validCondition(c string) bool {
	switch c {
	case models.PackageConditionBueno, models.PackageConditionAbierto, models.PackageConditionRegular:
		return true
	}
	return false
}

func validPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodEfectivo, PaymentMethodTarjeta, PaymentMethodTransferencia:
		return true
	}
	return false
}

// validPosicion accepts the two-digit shelf coordinates 00..99.
func validPosicion(p string) bool {
	if len(p) != 2 {
		return false
	}
	return p[0] >= '0' && p[0] <= '9' && p[1] >= '0' && p[1] <= '9'
}
