package sms

import (
	"context"
)

// SendResult is the provider's answer to one send attempt.
type SendResult struct {
	ProviderID  string
	RawResponse string
	CostCents   int32
}

type Client interface {
	Send(ctx context.Context, phone, message string) (SendResult, error)
}
