package pgpaquetes

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/elclub/paqclub/internal/models"
)

func startStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "paqclub_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/paqclub_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func strPtr(s string) *string { return &s }

func TestPGPaquetes_PackageFlow(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	// Las tarifas y plantillas por defecto se siembran con el esquema.
	seeded, err := st.ListEffectiveRates(ctx, models.RateTypePackageType, "NORMAL", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, seeded, 1)
	require.True(t, seeded[0].BasePrice.Equal(decimal.RequireFromString("1500.00")))

	tmpl, err := st.GetTemplateForEvent(ctx, models.NotificationEventPackageReceived, "es")
	require.NoError(t, err)
	require.Equal(t, "package_received", tmpl.TemplateID)

	code := "ABC234"
	created, err := st.CreatePackage(ctx, models.PackageCreateInput{
		TrackingNumber: "TN-1",
		ConsultCode:    &code,
		CustomerPhone:  strPtr("+573001112233"),
		PackageType:    models.PackageTypeNormal,
		Status:         models.PackageStatusAnunciado,
		Condition:      models.PackageConditionBueno,
		Operator:       "system",
	}, &models.PackageEvent{
		EventType:      models.EventTypeAnuncio,
		EventTime:      time.Now().UTC(),
		TrackingNumber: "TN-1",
		ConsultCode:    &code,
		StatusAfter:    models.PackageStatusAnunciado,
		PackageType:    models.PackageTypeNormal,
		Operator:       "system",
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Equal(t, models.PackageStatusAnunciado, created.Status)

	byCode, err := st.GetPackageByConsultCode(ctx, code)
	require.NoError(t, err)
	require.Equal(t, created.ID, byCode.ID)

	_, err = st.GetPackageByTrackingNumber(ctx, "TN-NOPE")
	require.ErrorIs(t, err, models.ErrNotFound)

	// Recepción: fila actualizada y evento en la misma transacción.
	now := time.Now().UTC()
	before := models.PackageStatusAnunciado
	posicion := "42"
	received, err := st.ExecTransition(ctx, TransitionUpdate{
		PackageID:    created.ID,
		StatusBefore: models.PackageStatusAnunciado,
		NewStatus:    models.PackageStatusRecibido,
		Posicion:     &posicion,
		BaseFee:      decimal.RequireFromString("1500.00"),
		TotalAmount:  decimal.RequireFromString("1500.00"),
		Now:          now,
		Event: &models.PackageEvent{
			EventType:      models.EventTypeRecepcion,
			EventTime:      now,
			TrackingNumber: "TN-1",
			StatusBefore:   &before,
			StatusAfter:    models.PackageStatusRecibido,
			PackageType:    models.PackageTypeNormal,
			Posicion:       &posicion,
			BaseFee:        decimal.RequireFromString("1500.00"),
			TotalAmount:    decimal.RequireFromString("1500.00"),
			Operator:       "maria",
		},
	})
	require.NoError(t, err)
	require.Equal(t, models.PackageStatusRecibido, received.Status)
	require.Equal(t, "42", *received.Posicion)
	require.NotNil(t, received.ReceivedAt)
	require.True(t, received.BaseFee.Equal(decimal.RequireFromString("1500.00")))

	// Una transición concurrente ya cambió el estado: conflicto.
	_, err = st.ExecTransition(ctx, TransitionUpdate{
		PackageID:    created.ID,
		StatusBefore: models.PackageStatusAnunciado,
		NewStatus:    models.PackageStatusRecibido,
		Now:          time.Now().UTC(),
		Event:        &models.PackageEvent{EventType: models.EventTypeRecepcion, StatusAfter: models.PackageStatusRecibido},
	})
	require.ErrorIs(t, err, models.ErrConflict)

	evs, err := st.ListPackageEvents(ctx, created.ID, 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, models.EventTypeRecepcion, evs[0].EventType)
	require.Equal(t, models.EventTypeAnuncio, evs[1].EventType)

	listed, err := st.ListPackagesByStatus(ctx, models.PackageStatusRecibido, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestPGPaquetes_RateVersioning(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	cutover := time.Now().UTC().Add(time.Hour)
	newRate, err := st.CreateRate(ctx, models.RateCreateInput{
		RateType:         models.RateTypePackageType,
		Name:             "NORMAL",
		BasePrice:        decimal.RequireFromString("1800.00"),
		DailyStorageRate: decimal.RequireFromString("1000.00"),
		Multiplier:       decimal.RequireFromString("1.00"),
		ValidFrom:        cutover,
	})
	require.NoError(t, err)
	require.Nil(t, newRate.ValidTo)

	// El predecesor abierto quedó cerrado en el corte.
	after, err := st.ListEffectiveRates(ctx, models.RateTypePackageType, "NORMAL", cutover.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, newRate.ID, after[0].ID)

	beforeCut, err := st.ListEffectiveRates(ctx, models.RateTypePackageType, "NORMAL", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, beforeCut, 1)
	require.True(t, beforeCut[0].BasePrice.Equal(decimal.RequireFromString("1500.00")))

	require.NoError(t, st.DeactivateRate(ctx, newRate.ID))
	require.ErrorIs(t, st.DeactivateRate(ctx, uuid.New()), models.ErrNotFound)

	gone, err := st.ListEffectiveRates(ctx, models.RateTypePackageType, "NORMAL", cutover.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, gone)
}

func TestPGPaquetes_NotificationQueue(t *testing.T) {
	st := startStorage(t)
	ctx := context.Background()

	eventID := uuid.New()
	first := &models.Notification{
		EventID:    &eventID,
		Channel:    models.NotificationChannelSMS,
		EventType:  models.NotificationEventPackageReceived,
		Recipient:  "+573001112233",
		Message:    "Su paquete llegó",
		TemplateID: "package_received",
		Status:     models.NotificationStatusQueued,
		MaxRetries: 3,
	}
	require.NoError(t, st.CreateNotification(ctx, first))

	// El mismo evento no encola dos veces.
	dup := &models.Notification{
		EventID:   &eventID,
		Channel:   models.NotificationChannelSMS,
		EventType: models.NotificationEventPackageReceived,
		Recipient: "+573001112233",
		Message:   "Su paquete llegó",
		Status:    models.NotificationStatusQueued,
	}
	require.NoError(t, st.CreateNotification(ctx, dup))
	_, err := st.GetNotificationByID(ctx, dup.ID)
	require.ErrorIs(t, err, models.ErrNotFound)

	future := &models.Notification{
		Channel:       models.NotificationChannelSMS,
		EventType:     models.NotificationEventPaymentDue,
		Recipient:     "+573009998877",
		Message:       "Pago pendiente",
		Status:        models.NotificationStatusQueued,
		MaxRetries:    3,
		NextAttemptAt: time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, st.CreateNotification(ctx, future))

	now := time.Now().UTC()
	lease := 90 * time.Second
	claimed, err := st.ClaimDueNotifications(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, first.ID, claimed[0].ID)
	require.WithinDuration(t, now.Add(lease), claimed[0].NextAttemptAt, 2*time.Second)

	// Mientras dura el lease nadie más reclama la fila.
	again, err := st.ClaimDueNotifications(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Empty(t, again)

	sentAt := time.Now().UTC()
	require.NoError(t, st.ApplyNotificationOutcome(ctx, NotificationOutcome{
		ID:            first.ID,
		Status:        models.NotificationStatusSent,
		ProviderID:    strPtr("msg-1"),
		CostCents:     120,
		RetryCount:    1,
		NextAttemptAt: sentAt,
		SentAt:        &sentAt,
	}))

	got, err := st.GetNotificationByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, models.NotificationStatusSent, got.Status)
	require.Equal(t, "msg-1", *got.ProviderID)
	require.Equal(t, int32(1), got.RetryCount)
	require.NotNil(t, got.SentAt)

	require.NoError(t, st.MarkNotificationDelivered(ctx, first.ID, time.Now().UTC()))

	// Una fila terminal no retrocede con reportes tardíos.
	err = st.ApplyNotificationOutcome(ctx, NotificationOutcome{
		ID:            first.ID,
		Status:        models.NotificationStatusQueued,
		RetryCount:    2,
		NextAttemptAt: time.Now().UTC(),
	})
	require.ErrorIs(t, err, models.ErrNotFound)

	rows, err := st.ListNotificationsByPackage(ctx, 12345)
	require.NoError(t, err)
	require.Empty(t, rows)
}
