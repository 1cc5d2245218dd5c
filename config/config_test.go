package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "KAFKA_BROKERS", "RESERVATION_TTL_MINUTES", "ORDERS_PAGE_SIZE"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "payment-callbacks", cfg.Kafka.TopicPaymentCallbacks)
	assert.Equal(t, 30*time.Minute, cfg.Business.ReservationTTL())
	assert.Equal(t, 10, cfg.Business.OrdersPageSize)
	assert.Equal(t, 24*time.Hour, cfg.Business.IdempotencyTTL())
	assert.False(t, cfg.Database.InMemory())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", MemoryDatabaseURL)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "15")
	t.Setenv("PAYMENT_TIMEOUT_SECONDS", "3")

	cfg := Load()
	assert.True(t, cfg.Database.InMemory())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Second, cfg.Business.SweepInterval())
	assert.Equal(t, 3*time.Second, cfg.Gateway.Timeout())
}

func TestGetEnvIntFallsBack(t *testing.T) {
	t.Setenv("SWEEP_BATCH_SIZE", "lots")
	assert.Equal(t, 100, getEnvInt("SWEEP_BATCH_SIZE", 100))

	t.Setenv("SWEEP_BATCH_SIZE", "-4")
	assert.Equal(t, 100, getEnvInt("SWEEP_BATCH_SIZE", 100))
}
