package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/elclub/paqclub/internal/broker/messages"
	"github.com/elclub/paqclub/internal/models"
	"github.com/elclub/paqclub/internal/storage/pgpaquetes"
)

const defaultLanguage = "es"

// RetryDelays staggers redelivery attempts: quick first retry, then
// progressively longer waits.
var RetryDelays = []time.Duration{5 * time.Minute, 30 * time.Minute, 2 * time.Hour}

// RetryDelay returns the wait before the given attempt number (1-based).
// Attempts past the table reuse the last delay.
func RetryDelay(attempt int32) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if int(attempt) > len(RetryDelays) {
		return RetryDelays[len(RetryDelays)-1]
	}
	return RetryDelays[attempt-1]
}

type Repository interface {
	GetTemplateForEvent(ctx context.Context, eventType, language string) (*models.SMSTemplate, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotificationByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	ApplyNotificationOutcome(ctx context.Context, out pgpaquetes.NotificationOutcome) error
	MarkNotificationDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Dispatcher turns committed lifecycle events into queued SMS rows and
// folds the worker's delivery reports back into them. It runs strictly
// after the triggering transaction commits and never affects it.
type Dispatcher struct {
	repo        Repository
	trackingURL string
	maxRetries  int32
	log         *slog.Logger
}

func New(repo Repository, trackingURL string, maxRetries int32, log *slog.Logger) *Dispatcher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{repo: repo, trackingURL: trackingURL, maxRetries: maxRetries, log: log}
}

// notificationEvent maps a lifecycle event to its template key. Events
// without a key (notes, images, edits) do not notify.
func notificationEvent(eventType string) (string, bool) {
	switch eventType {
	case models.EventTypeAnuncio:
		return models.NotificationEventPackageAnnounced, true
	case models.EventTypeRecepcion:
		return models.NotificationEventPackageReceived, true
	case models.EventTypeEntrega:
		return models.NotificationEventPackageDelivered, true
	case models.EventTypeCancelacion:
		return models.NotificationEventPackageCancelled, true
	}
	return "", false
}

// OnEvent enqueues at most one notification for the event. Re-invocation
// with the same event is a no-op thanks to the event_id uniqueness in
// storage. A template failure is recorded as a failed notification row;
// the lifecycle change itself stays committed either way.
func (d *Dispatcher) OnEvent(ctx context.Context, pkg *models.Package, ev *models.PackageEvent) error {
	eventKey, ok := notificationEvent(ev.EventType)
	if !ok {
		return nil
	}
	if pkg.CustomerPhone == nil || *pkg.CustomerPhone == "" {
		d.log.Debug("no recipient phone, skipping notification",
			"tracking_number", pkg.TrackingNumber, "event_type", ev.EventType)
		return nil
	}

	tmpl, err := d.repo.GetTemplateForEvent(ctx, eventKey, defaultLanguage)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return errors.Errorf("no active template for event %s", eventKey)
		}
		return err
	}

	body, renderErr := Render(tmpl, d.templateVars(pkg, ev))

	n := &models.Notification{
		PackageID:     &pkg.ID,
		EventID:       &ev.ID,
		Channel:       models.NotificationChannelSMS,
		EventType:     eventKey,
		Recipient:     *pkg.CustomerPhone,
		Message:       body,
		TemplateID:    tmpl.TemplateID,
		Status:        models.NotificationStatusQueued,
		MaxRetries:    d.maxRetries,
		NextAttemptAt: time.Now().UTC(),
	}
	if renderErr != nil {
		msg := renderErr.Error()
		n.Status = models.NotificationStatusFailed
		n.ErrorMessage = &msg
	}

	if err := d.repo.CreateNotification(ctx, n); err != nil {
		return err
	}
	return renderErr
}

func (d *Dispatcher) templateVars(pkg *models.Package, ev *models.PackageEvent) map[string]string {
	vars := map[string]string{
		"tracking_number": pkg.TrackingNumber,
		"amount":          ev.TotalAmount.StringFixed(2),
		"storage_days":    strconv.Itoa(int(ev.StorageDays)),
	}
	if pkg.GuideNumber != nil {
		vars["guide_number"] = *pkg.GuideNumber
	} else {
		// Guides trail announcements; the tracking number stands in.
		vars["guide_number"] = pkg.TrackingNumber
	}
	if pkg.ConsultCode != nil {
		vars["consult_code"] = *pkg.ConsultCode
	}
	if pkg.CustomerName != nil {
		vars["customer_name"] = *pkg.CustomerName
	}
	if pkg.Posicion != nil {
		vars["posicion"] = *pkg.Posicion
	}
	if d.trackingURL != "" && pkg.ConsultCode != nil {
		vars["tracking_url"] = fmt.Sprintf("%s/consulta/%s", d.trackingURL, *pkg.ConsultCode)
	}
	return vars
}

// ApplyReport folds one worker send report into the notification row.
// Failed attempts requeue with a staggered delay until the retry budget
// runs out; reports for rows already terminal are dropped.
func (d *Dispatcher) ApplyReport(ctx context.Context, msg messages.NotificationReport) error {
	if msg.NotificationID == uuid.Nil {
		return errors.New("notification_id is required")
	}
	if msg.AttemptedAt.IsZero() {
		msg.AttemptedAt = time.Now().UTC()
	}

	n, err := d.repo.GetNotificationByID(ctx, msg.NotificationID)
	if errors.Is(err, models.ErrNotFound) {
		d.log.Warn("report for unknown notification", "notification_id", msg.NotificationID)
		return nil
	}
	if err != nil {
		return err
	}

	attempt := n.RetryCount + 1
	out := pgpaquetes.NotificationOutcome{
		ID:               n.ID,
		ProviderID:       msg.ProviderID,
		ProviderResponse: msg.ProviderResponse,
		CostCents:        msg.CostCents,
		ErrorMessage:     msg.Error,
		RetryCount:       attempt,
		NextAttemptAt:    msg.AttemptedAt,
	}

	switch {
	case msg.Success:
		out.Status = models.NotificationStatusSent
		at := msg.AttemptedAt
		out.SentAt = &at
	case attempt >= n.MaxRetries:
		out.Status = models.NotificationStatusFailed
	default:
		out.Status = models.NotificationStatusQueued
		out.NextAttemptAt = msg.AttemptedAt.Add(RetryDelay(attempt))
	}

	err = d.repo.ApplyNotificationOutcome(ctx, out)
	if errors.Is(err, models.ErrNotFound) {
		// Row reached a terminal state before this report landed.
		return nil
	}
	return err
}

// MarkDelivered folds a provider delivery receipt into the notification
// row. Only sent rows advance; receipts for anything else are dropped,
// a handset confirmation cannot resurrect a failed or requeued message.
func (d *Dispatcher) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	if id == uuid.Nil {
		return errors.New("notification id is required")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	n, err := d.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return err
	}
	if n.Status != models.NotificationStatusSent {
		d.log.Warn("delivery receipt for non-sent notification",
			"notification_id", id, "status", n.Status)
		return nil
	}
	return d.repo.MarkNotificationDelivered(ctx, id, at)
}
