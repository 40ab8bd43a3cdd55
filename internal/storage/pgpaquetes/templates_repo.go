package pgpaquetes

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/elclub/paqclub/internal/models"
)

const templateColumns = `
  id, template_id, name, event_type, language, body,
  is_active, is_default, created_at, updated_at
`

func scanTemplate(row rowScanner) (*models.SMSTemplate, error) {
	var t models.SMSTemplate
	err := row.Scan(
		&t.ID, &t.TemplateID, &t.Name, &t.EventType, &t.Language, &t.Body,
		&t.IsActive, &t.IsDefault, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTemplateForEvent resolves the template used for an event type and
// language, preferring the default when several are active.
func (s *Storage) GetTemplateForEvent(ctx context.Context, eventType, language string) (*models.SMSTemplate, error) {
	t, err := scanTemplate(s.db.QueryRow(ctx, `
SELECT `+templateColumns+`
FROM sms_templates
WHERE event_type = $1 AND language = $2 AND is_active
ORDER BY is_default DESC, updated_at DESC
LIMIT 1
`, eventType, language))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select template")
	}
	return t, nil
}

func (s *Storage) GetTemplateByTemplateID(ctx context.Context, templateID string) (*models.SMSTemplate, error) {
	t, err := scanTemplate(s.db.QueryRow(ctx, `
SELECT `+templateColumns+` FROM sms_templates WHERE template_id = $1
`, templateID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select template")
	}
	return t, nil
}
