package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, BackendPostgres, cfg.StoreBackend)
	require.Equal(t, []string{"attendance_events"}, cfg.ConsumerTopics)
	require.Equal(t, 8*time.Hour, cfg.RequiredDaily())
	require.Equal(t, 36*time.Second, cfg.SyncTolerance)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("REQUIRED_DAILY_HOURS", "7.5")
	t.Setenv("OUTBOX_BATCH_SIZE", "not-a-number")
	t.Setenv("SYNC_STALENESS_THRESHOLD", "90s")

	cfg := Load()
	require.Equal(t, BackendMemory, cfg.StoreBackend)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 7*time.Hour+30*time.Minute, cfg.RequiredDaily())
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.Equal(t, 90*time.Second, cfg.SyncStalenessThreshold)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := Load()
	cfg.StoreBackend = "sqlite"
	require.Error(t, cfg.Validate())

	cfg = Load()
	cfg.RequiredDailyHours = 0
	require.Error(t, cfg.Validate())

	cfg = Load()
	cfg.JWTSecret = " "
	require.Error(t, cfg.Validate())
}
