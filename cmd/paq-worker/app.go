package main

import (
	"context"
	"fmt"
	"time"

	"github.com/elclub/paqclub/config"
	"github.com/elclub/paqclub/internal/broker/kafka"
	"github.com/elclub/paqclub/internal/cache/rediscache"
	"github.com/elclub/paqclub/internal/integrations/sms"
	"github.com/elclub/paqclub/internal/integrations/sms/fake"
	"github.com/elclub/paqclub/internal/integrations/sms/liwahttp"
	"github.com/elclub/paqclub/internal/services/dispatch"
	"github.com/elclub/paqclub/internal/storage/pgpaquetes"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo dispatch.Repository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) dispatch.Producer
	newRateLimiter func(cfg *config.Config) dispatch.RateLimiter
	newSMSClient   func(cfg *config.Config) sms.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (dispatch.Repository, func(), error) {
			st, err := pgpaquetes.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) dispatch.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) dispatch.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newSMSClient: func(cfg *config.Config) sms.Client {
			// Dev environments run against the fake unless Liwa credentials
			// are configured.
			if cfg.PaqClub.SMSProvider == "liwa" && cfg.PaqClub.SMSAccount != "" {
				return liwahttp.New(
					cfg.PaqClub.SMSBaseURL,
					cfg.PaqClub.SMSAccount,
					cfg.PaqClub.SMSPassword,
					cfg.PaqClub.SMSAPIToken,
				)
			}
			return fake.New()
		},
	}
}

func buildWorker(cfg *config.Config, f workerFactories) (*dispatch.Worker, func(), error) {
	topic := cfg.Kafka.NotificationReportTopicName
	if topic == "" {
		topic = "notification.report"
	}

	pollInterval := time.Duration(cfg.PaqClub.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	batchSize := cfg.PaqClub.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	concurrency := cfg.PaqClub.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	lease := time.Duration(cfg.PaqClub.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(cfg.PaqClub.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 60
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	smsClient := f.newSMSClient(cfg)

	w := dispatch.New(repo, smsClient, producer, rl, topic).
		WithSettings(pollInterval, batchSize, concurrency, lease, rlPerMin)
	return w, closeFn, nil
}

func RunPaqWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	w, closeFn, err := buildWorker(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return w.Run(ctx)
}
