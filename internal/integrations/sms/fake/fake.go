package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"github.com/elclub/paqclub/internal/integrations/sms"
)

// FakeClient stands in for the SMS gateway in dev and test environments.
// Outcomes are deterministic per phone number so failure handling can be
// exercised without a real provider.
type FakeClient struct {
	seq     atomic.Uint64
	failMod uint32
}

func New() *FakeClient {
	// Every 10th number (by hash) fails.
	return &FakeClient{failMod: 10}
}

// NewAlwaysOK never fails; for tests that only care about the happy path.
func NewAlwaysOK() *FakeClient {
	return &FakeClient{failMod: 0}
}

func (f *FakeClient) Send(ctx context.Context, phone, message string) (sms.SendResult, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(phone))
	if f.failMod > 0 && h.Sum32()%f.failMod == 0 {
		return sms.SendResult{}, fmt.Errorf("fake provider rejected %s", phone)
	}

	id := f.seq.Add(1)
	return sms.SendResult{
		ProviderID:  fmt.Sprintf("fake-%d", id),
		RawResponse: `{"success":true}`,
		CostCents:   0,
	}, nil
}
