package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elclub/paqclub/config"
	"github.com/elclub/paqclub/internal/integrations/sms"
	"github.com/elclub/paqclub/internal/integrations/sms/fake"
	"github.com/elclub/paqclub/internal/integrations/sms/liwahttp"
	"github.com/elclub/paqclub/internal/models"
	"github.com/elclub/paqclub/internal/services/dispatch"
)

type fakeRepo struct{}

func (r *fakeRepo) ClaimDueNotifications(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Notification, error) {
	return []*models.Notification{}, nil
}

type noopProducer struct{}

func (p noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

func TestDefaultWorkerFactories_SelectSMSClient(t *testing.T) {
	f := defaultWorkerFactories()

	cfgLiwa := &config.Config{
		PaqClub: config.PaqClubConfig{
			SMSProvider: "liwa",
			SMSAccount:  "acct",
			SMSPassword: "secret",
			SMSAPIToken: "token",
		},
	}
	c1 := f.newSMSClient(cfgLiwa)
	_, ok := c1.(*liwahttp.Client)
	require.True(t, ok)

	// Sin credenciales se usa el cliente falso, aunque pidan liwa.
	cfgNoCreds := &config.Config{
		PaqClub: config.PaqClubConfig{SMSProvider: "liwa"},
	}
	c2 := f.newSMSClient(cfgNoCreds)
	_, ok = c2.(*fake.FakeClient)
	require.True(t, ok)

	cfgDefault := &config.Config{}
	c3 := f.newSMSClient(cfgDefault)
	_, ok = c3.(*fake.FakeClient)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_ProducerAndRateLimiter_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
}

func TestRunPaqWorker_ContextCanceled(t *testing.T) {
	calledClose := false

	f := workerFactories{
		newStorage: func(cfg *config.Config) (repo dispatch.Repository, closeFn func(), err error) {
			return &fakeRepo{}, func() { calledClose = true }, nil
		},
		newProducer: func(cfg *config.Config) dispatch.Producer {
			return noopProducer{}
		},
		newRateLimiter: func(cfg *config.Config) dispatch.RateLimiter {
			return nil
		},
		newSMSClient: func(cfg *config.Config) sms.Client {
			return fake.NewAlwaysOK()
		},
	}

	cfg := &config.Config{
		Kafka:   config.KafkaConfig{NotificationReportTopicName: "t"},
		PaqClub: config.PaqClubConfig{WorkerPollIntervalSeconds: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunPaqWorker(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}
