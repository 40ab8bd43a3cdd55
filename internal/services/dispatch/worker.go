package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/elclub/paqclub/internal/broker/messages"
	"github.com/elclub/paqclub/internal/integrations/sms"
	"github.com/elclub/paqclub/internal/models"
)

type Repository interface {
	ClaimDueNotifications(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Notification, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Worker drains the notification queue: it claims due rows, pushes them
// through the SMS gateway and reports every attempt to Kafka. The API
// side owns the row updates; the worker never writes notification state
// directly, so a crashed worker at worst re-sends after the lease runs
// out.
type Worker struct {
	repo     Repository
	sms      sms.Client
	producer Producer
	rl       RateLimiter

	topic string

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalSent           atomic.Int64
	totalFailed         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, smsc sms.Client, producer Producer, rl RateLimiter, topic string) *Worker {
	return &Worker{
		repo: repo, sms: smsc, producer: producer, rl: rl, topic: topic,
		pollInterval:       5 * time.Second,
		batchSize:          50,
		concurrency:        5,
		lease:              120 * time.Second,
		rateLimitPerMinute: 60,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (w *Worker) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Worker {
	if pollInterval > 0 {
		w.pollInterval = pollInterval
	}
	if batchSize > 0 {
		w.batchSize = batchSize
	}
	if concurrency > 0 {
		w.concurrency = concurrency
	}
	if lease > 0 {
		w.lease = lease
	}
	if rlPerMin > 0 {
		w.rateLimitPerMinute = rlPerMin
	}
	return w
}

// Trigger forces an immediate dispatch cycle (best-effort, non-blocking).
func (w *Worker) Trigger() {
	w.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed  int64      `json:"totalClaimed"`
	TotalSent     int64      `json:"totalSent"`
	TotalFailed   int64      `json:"totalFailed"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (w *Worker) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, w.startedAtUnixNano).UTC(),
		TotalClaimed: w.totalClaimed.Load(),
		TotalSent:    w.totalSent.Load(),
		TotalFailed:  w.totalFailed.Load(),
		InFlight:     w.inFlight.Load(),
	}
	if n := w.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := w.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	w.lastErrorMu.Lock()
	st.LastError = w.lastError
	w.lastErrorMu.Unlock()
	return st
}

func (w *Worker) Run(ctx context.Context) error {
	t := time.NewTicker(w.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.runOnce(ctx)
		case <-w.triggerCh:
			w.runOnce(ctx)
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	w.lastCycleUnixNano.Store(now.UnixNano())

	items, err := w.repo.ClaimDueNotifications(ctx, now, w.batchSize, w.lease)
	if err != nil {
		slog.Error("claim due notifications", "error", err.Error())
		w.setLastError(err)
		return
	}
	w.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for _, n := range items {
		sem <- struct{}{}
		wg.Add(1)
		nCopy := n
		w.inFlight.Add(1)
		go func() {
			defer func() {
				w.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := w.processOne(ctx, nCopy); err != nil {
				w.setLastError(err)
				slog.Error("process notification", "notification_id", nCopy.ID, "error", err.Error())
			}
		}()
	}
	wg.Wait()
}

func (w *Worker) setLastError(err error) {
	w.lastErrorMu.Lock()
	w.lastError = err.Error()
	w.lastErrorMu.Unlock()
}

func (w *Worker) processOne(ctx context.Context, n *models.Notification) error {
	now := time.Now().UTC()

	if w.rl != nil && w.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:sms:%s", now.Format("200601021504"))
		allowed, count, err := w.rl.Allow(ctx, minuteKey, w.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Provider quota for this minute is gone. Back off briefly;
			// the lease keeps the row out of other workers' hands.
			slog.Warn("sms rate limit exceeded", "count", count)
			time.Sleep(500 * time.Millisecond)
		}
	}

	res, sendErr := w.sms.Send(ctx, n.Recipient, n.Message)

	report := messages.NotificationReport{
		NotificationID: n.ID,
		PackageID:      n.PackageID,
		AttemptedAt:    now,
		Success:        sendErr == nil,
	}
	if sendErr != nil {
		e := sendErr.Error()
		report.Error = &e
		w.totalFailed.Add(1)
	} else {
		if res.ProviderID != "" {
			report.ProviderID = &res.ProviderID
		}
		if res.RawResponse != "" {
			report.ProviderResponse = &res.RawResponse
		}
		report.CostCents = res.CostCents
		w.totalSent.Add(1)
	}

	b, err := json.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}

	key := []byte(n.ID.String())
	// The broker may lag behind the worker after a cold start; retry the
	// publish a few times before giving up on the attempt.
	var pubErr error
	for i := 0; i < 10; i++ {
		if pubErr = w.producer.Publish(ctx, w.topic, key, b); pubErr == nil {
			break
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	return pubErr
}
