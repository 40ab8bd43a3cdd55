package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  notification_report_topic_name: "notification.report"
redis:
  host: "localhost"
  port: 6379
paqclub:
  http_addr: ":8080"
  kafka_consumer_group: "paq-api"
  current_status_ttl_seconds: 600
  tracking_base_url: "https://paqclub.example"
  notification_max_retries: 3
  sms_provider: "fake"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "notification.report", cfg.Kafka.NotificationReportTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.PaqClub.HTTPAddr)
	require.Equal(t, 3, cfg.PaqClub.NotificationMaxRetries)
	require.Equal(t, "fake", cfg.PaqClub.SMSProvider)
}

func TestDatabaseConfig_ConnString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Username: "u", Password: "p", DBName: "paqclub"}
	require.Equal(t, "postgres://u:p@db:5432/paqclub?sslmode=disable", d.ConnString())

	d.SSLMode = "require"
	require.Equal(t, "postgres://u:p@db:5432/paqclub?sslmode=require", d.ConnString())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
