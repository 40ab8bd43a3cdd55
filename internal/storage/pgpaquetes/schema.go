package pgpaquetes

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS packages (
  id BIGSERIAL PRIMARY KEY,
  tracking_number TEXT NOT NULL,
  guide_number TEXT NULL,
  consult_code TEXT NULL,
  customer_name TEXT NULL,
  customer_phone TEXT NULL,
  package_type TEXT NOT NULL DEFAULT 'NORMAL',
  status TEXT NOT NULL,
  condition TEXT NOT NULL DEFAULT 'BUENO',
  posicion TEXT NULL,
  base_fee NUMERIC(10,2) NOT NULL DEFAULT 0,
  storage_fee NUMERIC(10,2) NOT NULL DEFAULT 0,
  total_amount NUMERIC(10,2) NOT NULL DEFAULT 0,
  announced_at TIMESTAMPTZ NOT NULL,
  received_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  cancelled_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (tracking_number)
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_packages_guide_number ON packages(guide_number) WHERE guide_number IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_packages_consult_code ON packages(consult_code) WHERE consult_code IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_packages_status ON packages(status)`,
		`
CREATE TABLE IF NOT EXISTS rates (
  id UUID PRIMARY KEY,
  rate_type TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT NULL,
  base_price NUMERIC(10,2) NOT NULL,
  daily_storage_rate NUMERIC(10,2) NOT NULL DEFAULT 0,
  delivery_rate NUMERIC(10,2) NOT NULL DEFAULT 0,
  multiplier NUMERIC(10,2) NOT NULL DEFAULT 1,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  valid_from TIMESTAMPTZ NOT NULL,
  valid_to TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_rates_lookup ON rates(rate_type, name, is_active, valid_from)`,
		`
CREATE TABLE IF NOT EXISTS package_events (
  id UUID PRIMARY KEY,
  package_id BIGINT NULL REFERENCES packages(id) ON DELETE SET NULL,
  event_type TEXT NOT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  tracking_number TEXT NOT NULL DEFAULT '',
  guide_number TEXT NULL,
  consult_code TEXT NULL,
  status_before TEXT NULL,
  status_after TEXT NOT NULL,
  package_type TEXT NOT NULL DEFAULT 'NORMAL',
  condition TEXT NULL,
  posicion TEXT NULL,
  customer_name TEXT NULL,
  customer_phone TEXT NULL,
  base_fee NUMERIC(10,2) NOT NULL DEFAULT 0,
  storage_fee NUMERIC(10,2) NOT NULL DEFAULT 0,
  storage_days INT NOT NULL DEFAULT 0,
  total_amount NUMERIC(10,2) NOT NULL DEFAULT 0,
  payment_method TEXT NULL,
  payment_amount NUMERIC(10,2) NULL,
  operator TEXT NOT NULL DEFAULT 'system',
  cancellation_reason TEXT NULL,
  file_id TEXT NULL,
  observations TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_package_events_package_id_event_time ON package_events(package_id, event_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_package_events_event_type ON package_events(event_type)`,
		`
CREATE TABLE IF NOT EXISTS notifications (
  id UUID PRIMARY KEY,
  package_id BIGINT NULL REFERENCES packages(id) ON DELETE SET NULL,
  event_id UUID NULL,
  channel TEXT NOT NULL DEFAULT 'sms',
  event_type TEXT NOT NULL,
  recipient TEXT NOT NULL,
  message TEXT NOT NULL,
  template_id TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'queued',
  provider_id TEXT NULL,
  provider_response TEXT NULL,
  cost_cents INT NOT NULL DEFAULT 0,
  error_message TEXT NULL,
  retry_count INT NOT NULL DEFAULT 0,
  max_retries INT NOT NULL DEFAULT 3,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  sent_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// One notification per package event, no matter how often the
		// dispatcher fires for it.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_notifications_event_id ON notifications(event_id) WHERE event_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications(status, next_attempt_at)`,
		`
CREATE TABLE IF NOT EXISTS sms_templates (
  id UUID PRIMARY KEY,
  template_id TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  event_type TEXT NOT NULL,
  language TEXT NOT NULL DEFAULT 'es',
  body TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  is_default BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_sms_templates_event ON sms_templates(event_type, language, is_active)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}

	if err := s.seedRates(ctx); err != nil {
		return err
	}
	return s.seedTemplates(ctx)
}

// seedRates installs the default fee schedule on an empty database. Prices
// match the operation's configured defaults: NORMAL 1500.00,
// EXTRA_DIMENSIONADO 2000.00, storage 1000.00/day, delivery included in the
// base price.
func (s *Storage) seedRates(ctx context.Context) error {
	seed := []struct {
		name      string
		basePrice string
	}{
		{"NORMAL", "1500.00"},
		{"EXTRA_DIMENSIONADO", "2000.00"},
	}

	for _, r := range seed {
		_, err := s.db.Exec(ctx, `
INSERT INTO rates (id, rate_type, name, description, base_price, daily_storage_rate, delivery_rate, multiplier, is_active, valid_from, created_at, updated_at)
SELECT gen_random_uuid(), 'package_type', $1, 'Tarifa inicial', $2::numeric, 1000.00, 0.00, 1.00, TRUE, now(), now(), now()
WHERE NOT EXISTS (
  SELECT 1 FROM rates WHERE rate_type = 'package_type' AND name = $1
)
`, r.name, r.basePrice)
		if err != nil {
			return errors.Wrap(err, "seed rates")
		}
	}
	return nil
}

func (s *Storage) seedTemplates(ctx context.Context) error {
	seed := []struct {
		templateID string
		name       string
		eventType  string
		body       string
	}{
		{
			"package_announced", "Paquete Anunciado", "package_announced",
			"PAQUETES EL CLUB: Su paquete con guía {guide_number} ha sido anunciado. Código: {consult_code}. Más info: {tracking_url}",
		},
		{
			"package_received", "Paquete Recibido", "package_received",
			"PAQUETES EL CLUB: Su paquete {guide_number} ha sido RECIBIDO en nuestras instalaciones. Código: {consult_code}. Procesaremos su entrega pronto.",
		},
		{
			"package_delivered", "Paquete Entregado", "package_delivered",
			"PAQUETES EL CLUB: ¡Su paquete {guide_number} ha sido ENTREGADO exitosamente! Código: {consult_code}. Gracias por confiar en nosotros.",
		},
		{
			"package_cancelled", "Paquete Cancelado", "package_cancelled",
			"PAQUETES EL CLUB: Su paquete {guide_number} ha sido CANCELADO. Código: {consult_code}. Contacte con nosotros para más información.",
		},
		{
			"payment_due", "Pago Pendiente", "payment_due",
			"PAQUETES EL CLUB: Tiene un pago pendiente por ${amount} COP para el paquete {guide_number}. Realice el pago para continuar con la entrega.",
		},
	}

	for _, t := range seed {
		_, err := s.db.Exec(ctx, `
INSERT INTO sms_templates (id, template_id, name, event_type, language, body, is_active, is_default, created_at, updated_at)
VALUES (gen_random_uuid(), $1, $2, $3, 'es', $4, TRUE, TRUE, now(), now())
ON CONFLICT (template_id) DO NOTHING
`, t.templateID, t.name, t.eventType, t.body)
		if err != nil {
			return errors.Wrap(err, "seed templates")
		}
	}
	return nil
}
