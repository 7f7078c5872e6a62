package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("UPLOAD_MAX_BYTES", "")
	t.Setenv("AUTH_ADMIN_PASSWORD", "")
	t.Setenv("SMTP_HOST", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Postgres.DSN)
	assert.Equal(t, StorageDriverLocal, cfg.Storage.Driver)
	assert.Equal(t, int64(10<<20), cfg.Storage.MaxUploadBytes)
	assert.Empty(t, cfg.Auth.AdminPassword)
	assert.False(t, cfg.Notification.EmailEnabled())
	assert.Empty(t, cfg.Redis.Addr)
	assert.False(t, cfg.Notification.KafkaEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "MINIO")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("UPLOAD_MAX_BYTES", "2048")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("HTTP_REQUEST_TIMEOUT_SECONDS", "5")
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_ENCODING", "console")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Logger.Development)
	assert.Equal(t, "console", cfg.Logger.Encoding)

	assert.Equal(t, StorageDriverMinio, cfg.Storage.Driver)
	assert.True(t, cfg.Storage.MinioUseSSL)
	assert.Equal(t, int64(2048), cfg.Storage.MaxUploadBytes)
	assert.True(t, cfg.Notification.EmailEnabled())
	assert.Equal(t, 2525, cfg.Notification.SMTPPort)
	assert.Equal(t, 5*time.Second, cfg.App.RequestTimeout())
	assert.True(t, cfg.Notification.KafkaEnabled())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notification.KafkaBrokers)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "ftp")

	_, err := Load()
	assert.Error(t, err)
}

func TestGetEnvHelpersFallBack(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	t.Setenv("SOME_BOOL", "maybe")

	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))
	assert.True(t, getEnvAsBool("SOME_BOOL", true))
	assert.Equal(t, "x", getEnv("UNSET_VALUE_FOR_TEST", "x"))
}
