package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elclub/paqclub/config"
	"github.com/elclub/paqclub/internal/broker/kafka"
	"github.com/elclub/paqclub/internal/cache/rediscache"
	"github.com/elclub/paqclub/internal/services/fees"
	"github.com/elclub/paqclub/internal/services/notifier"
	"github.com/elclub/paqclub/internal/services/packages"
	"github.com/elclub/paqclub/internal/services/rates"
	"github.com/elclub/paqclub/internal/storage/pgpaquetes"
)

type paqAPIApp struct {
	ctx        context.Context
	cancel     context.CancelFunc
	opts       paqAPIOpts
	packages   *packages.Service
	rates      *rates.Service
	dispatcher *notifier.Dispatcher
	consumer   *kafka.Consumer
	closeDB    func()
}

func mustBootstrapPaqAPI() *paqAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.PaqClub.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.PaqClub.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "paq-api"
	}
	topic := cfg.Kafka.NotificationReportTopicName
	if topic == "" {
		topic = "notification.report"
	}
	cacheTTL := time.Duration(cfg.PaqClub.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	rateSvc := rates.New(st)
	calc := fees.New(rateSvc)
	dispatcher := notifier.New(st, cfg.PaqClub.TrackingBaseURL, int32(cfg.PaqClub.NotificationMaxRetries), nil)
	pkgSvc := packages.New(st, calc, dispatcher, rc, cacheTTL, nil)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &paqAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: paqAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		packages:   pkgSvc,
		rates:      rateSvc,
		dispatcher: dispatcher,
		consumer:   consumer,
		closeDB:    st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgpaquetes.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgpaquetes.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *paqAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *paqAPIApp) Run() error {
	return runPaqAPI(a.ctx, a.opts, a.packages, a.rates, a.dispatcher, a.consumer)
}
