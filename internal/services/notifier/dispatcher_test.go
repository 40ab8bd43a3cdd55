package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/elclub/paqclub/internal/broker/messages"
	"github.com/elclub/paqclub/internal/models"
	"github.com/elclub/paqclub/internal/storage/pgpaquetes"
)

type fakeRepo struct {
	templates map[string]*models.SMSTemplate
	rows      map[uuid.UUID]*models.Notification

	created   []*models.Notification
	outcomes  []pgpaquetes.NotificationOutcome
	delivered []uuid.UUID

	outcomeErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		templates: map[string]*models.SMSTemplate{},
		rows:      map[uuid.UUID]*models.Notification{},
	}
}

func (r *fakeRepo) GetTemplateForEvent(ctx context.Context, eventType, language string) (*models.SMSTemplate, error) {
	if t, ok := r.templates[eventType]; ok {
		return t, nil
	}
	return nil, models.ErrNotFound
}

func (r *fakeRepo) CreateNotification(ctx context.Context, n *models.Notification) error {
	r.created = append(r.created, n)
	return nil
}

func (r *fakeRepo) GetNotificationByID(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	if n, ok := r.rows[id]; ok {
		return n, nil
	}
	return nil, models.ErrNotFound
}

func (r *fakeRepo) ApplyNotificationOutcome(ctx context.Context, out pgpaquetes.NotificationOutcome) error {
	if r.outcomeErr != nil {
		return r.outcomeErr
	}
	r.outcomes = append(r.outcomes, out)
	return nil
}

func (r *fakeRepo) MarkNotificationDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.delivered = append(r.delivered, id)
	if n, ok := r.rows[id]; ok {
		n.Status = models.NotificationStatusDelivered
		n.DeliveredAt = &at
	}
	return nil
}

func strPtr(s string) *string { return &s }

func testPackage() *models.Package {
	code := "ABC234"
	return &models.Package{
		ID:             7,
		TrackingNumber: "TN-1",
		ConsultCode:    &code,
		CustomerPhone:  strPtr("+573001112233"),
		CustomerName:   strPtr("Ana"),
		PackageType:    models.PackageTypeNormal,
		Status:         models.PackageStatusRecibido,
	}
}

func testEvent(eventType string) *models.PackageEvent {
	return &models.PackageEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		TotalAmount: decimal.RequireFromString("1500.00"),
		StorageDays: 2,
	}
}

func TestOnEvent_QueuesNotification(t *testing.T) {
	repo := newFakeRepo()
	repo.templates[models.NotificationEventPackageReceived] = &models.SMSTemplate{
		TemplateID: "package_received",
		Body:       "Llegó {guide_number}, código {consult_code}, ver {tracking_url}",
	}
	d := New(repo, "https://paqclub.co", 3, nil)

	ev := testEvent(models.EventTypeRecepcion)
	require.NoError(t, d.OnEvent(context.Background(), testPackage(), ev))

	require.Len(t, repo.created, 1)
	n := repo.created[0]
	require.Equal(t, models.NotificationStatusQueued, n.Status)
	require.Equal(t, ev.ID, *n.EventID)
	require.Equal(t, "+573001112233", n.Recipient)
	require.Equal(t, "Llegó TN-1, código ABC234, ver https://paqclub.co/consulta/ABC234", n.Message)
	require.Equal(t, int32(3), n.MaxRetries)
}

func TestOnEvent_RenderFailureRecordsFailedRow(t *testing.T) {
	repo := newFakeRepo()
	repo.templates[models.NotificationEventPackageDelivered] = &models.SMSTemplate{
		TemplateID: "package_delivered",
		Body:       "Entregado, pagaste {amount} con {payment_code}",
	}
	d := New(repo, "", 3, nil)

	err := d.OnEvent(context.Background(), testPackage(), testEvent(models.EventTypeEntrega))
	var renderErr *models.TemplateRenderError
	require.ErrorAs(t, err, &renderErr)
	require.Equal(t, "payment_code", renderErr.Variable)

	// The failure still leaves an audit row behind.
	require.Len(t, repo.created, 1)
	n := repo.created[0]
	require.Equal(t, models.NotificationStatusFailed, n.Status)
	require.NotNil(t, n.ErrorMessage)
	require.Contains(t, *n.ErrorMessage, "payment_code")
}

func TestOnEvent_NoPhoneSkips(t *testing.T) {
	repo := newFakeRepo()
	d := New(repo, "", 3, nil)

	pkg := testPackage()
	pkg.CustomerPhone = nil
	require.NoError(t, d.OnEvent(context.Background(), pkg, testEvent(models.EventTypeAnuncio)))
	require.Empty(t, repo.created)
}

func TestOnEvent_NonNotifyingEventsSkip(t *testing.T) {
	repo := newFakeRepo()
	d := New(repo, "", 3, nil)

	for _, et := range []string{models.EventTypeNotaAgregada, models.EventTypeImagenAgregada, models.EventTypeModificacion} {
		require.NoError(t, d.OnEvent(context.Background(), testPackage(), testEvent(et)))
	}
	require.Empty(t, repo.created)
}

func TestOnEvent_MissingTemplate(t *testing.T) {
	repo := newFakeRepo()
	d := New(repo, "", 3, nil)

	err := d.OnEvent(context.Background(), testPackage(), testEvent(models.EventTypeAnuncio))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no active template")
	require.Empty(t, repo.created)
}

func TestRetryDelay(t *testing.T) {
	require.Equal(t, 5*time.Minute, RetryDelay(0))
	require.Equal(t, 5*time.Minute, RetryDelay(1))
	require.Equal(t, 30*time.Minute, RetryDelay(2))
	require.Equal(t, 2*time.Hour, RetryDelay(3))
	require.Equal(t, 2*time.Hour, RetryDelay(9))
}

func queuedRow(retryCount int32) *models.Notification {
	return &models.Notification{
		ID:         uuid.New(),
		Status:     models.NotificationStatusQueued,
		RetryCount: retryCount,
		MaxRetries: 3,
	}
}

func TestApplyReport_Success(t *testing.T) {
	repo := newFakeRepo()
	row := queuedRow(0)
	repo.rows[row.ID] = row
	d := New(repo, "", 3, nil)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := d.ApplyReport(context.Background(), messages.NotificationReport{
		NotificationID: row.ID,
		AttemptedAt:    at,
		Success:        true,
		ProviderID:     strPtr("msg-1"),
		CostCents:      120,
	})
	require.NoError(t, err)

	require.Len(t, repo.outcomes, 1)
	out := repo.outcomes[0]
	require.Equal(t, models.NotificationStatusSent, out.Status)
	require.Equal(t, int32(1), out.RetryCount)
	require.Equal(t, at, *out.SentAt)
	require.Equal(t, "msg-1", *out.ProviderID)
	require.Equal(t, int32(120), out.CostCents)
}

func TestApplyReport_FailureRequeuesWithBackoff(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		retryCount int32
		wantDelay  time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 30 * time.Minute},
	}
	for _, tc := range cases {
		repo := newFakeRepo()
		row := queuedRow(tc.retryCount)
		repo.rows[row.ID] = row
		d := New(repo, "", 3, nil)

		err := d.ApplyReport(context.Background(), messages.NotificationReport{
			NotificationID: row.ID,
			AttemptedAt:    at,
			Success:        false,
			Error:          strPtr("provider timeout"),
		})
		require.NoError(t, err)

		out := repo.outcomes[0]
		require.Equal(t, models.NotificationStatusQueued, out.Status)
		require.Equal(t, tc.retryCount+1, out.RetryCount)
		require.Equal(t, at.Add(tc.wantDelay), out.NextAttemptAt)
		require.Nil(t, out.SentAt)
	}
}

func TestApplyReport_RetryBudgetExhausted(t *testing.T) {
	repo := newFakeRepo()
	row := queuedRow(2) // third attempt is the last one
	repo.rows[row.ID] = row
	d := New(repo, "", 3, nil)

	err := d.ApplyReport(context.Background(), messages.NotificationReport{
		NotificationID: row.ID,
		AttemptedAt:    time.Now().UTC(),
		Success:        false,
		Error:          strPtr("still down"),
	})
	require.NoError(t, err)
	require.Equal(t, models.NotificationStatusFailed, repo.outcomes[0].Status)
}

func TestApplyReport_UnknownNotification(t *testing.T) {
	repo := newFakeRepo()
	d := New(repo, "", 3, nil)

	err := d.ApplyReport(context.Background(), messages.NotificationReport{
		NotificationID: uuid.New(),
		AttemptedAt:    time.Now().UTC(),
	})
	require.NoError(t, err, "stale reports are dropped, not retried")
	require.Empty(t, repo.outcomes)
}

func TestApplyReport_TerminalRowDrops(t *testing.T) {
	repo := newFakeRepo()
	row := queuedRow(0)
	repo.rows[row.ID] = row
	repo.outcomeErr = models.ErrNotFound
	d := New(repo, "", 3, nil)

	err := d.ApplyReport(context.Background(), messages.NotificationReport{
		NotificationID: row.ID,
		AttemptedAt:    time.Now().UTC(),
		Success:        true,
	})
	require.NoError(t, err)
}

func TestApplyReport_MissingID(t *testing.T) {
	d := New(newFakeRepo(), "", 3, nil)
	require.Error(t, d.ApplyReport(context.Background(), messages.NotificationReport{}))
}

func TestMarkDelivered_SentRowAdvances(t *testing.T) {
	repo := newFakeRepo()
	row := queuedRow(1)
	row.Status = models.NotificationStatusSent
	repo.rows[row.ID] = row
	d := New(repo, "", 3, nil)

	at := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, d.MarkDelivered(context.Background(), row.ID, at))
	require.Equal(t, []uuid.UUID{row.ID}, repo.delivered)
	require.Equal(t, models.NotificationStatusDelivered, row.Status)
	require.Equal(t, at, *row.DeliveredAt)
}

func TestMarkDelivered_NonSentRowIgnored(t *testing.T) {
	repo := newFakeRepo()
	row := queuedRow(0)
	repo.rows[row.ID] = row
	d := New(repo, "", 3, nil)

	require.NoError(t, d.MarkDelivered(context.Background(), row.ID, time.Now().UTC()))
	require.Empty(t, repo.delivered)
	require.Equal(t, models.NotificationStatusQueued, row.Status)
}

func TestMarkDelivered_UnknownNotification(t *testing.T) {
	d := New(newFakeRepo(), "", 3, nil)
	err := d.MarkDelivered(context.Background(), uuid.New(), time.Now().UTC())
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMarkDelivered_MissingID(t *testing.T) {
	d := New(newFakeRepo(), "", 3, nil)
	require.Error(t, d.MarkDelivered(context.Background(), uuid.Nil, time.Time{}))
}
