package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingJWTSecret)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("SEQUENCE_START", "100")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("BCRYPT_COST", "not-a-number")
	t.Setenv("SEQUENCE_BACKEND", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, uint64(100), cfg.SequenceStart)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, SequenceBackendMySQL, cfg.SequenceBackend)
}

func TestValidateSequenceBackend(t *testing.T) {
	cfg := &Config{JWTSecret: "x", SequenceBackend: SequenceBackendRedis}
	assert.Error(t, cfg.Validate())

	cfg.RedisAddr = "127.0.0.1:6379"
	assert.NoError(t, cfg.Validate())

	cfg.SequenceBackend = "etcd"
	assert.Error(t, cfg.Validate())
}
