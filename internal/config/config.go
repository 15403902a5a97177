package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

const (
	SequenceBackendMySQL = "mysql"
	SequenceBackendRedis = "redis"
)

type Config struct {
	HTTPAddr       string
	RequestTimeout time.Duration

	MySQLDSN string

	// RedisAddr 为空时不启用会话校验、身份缓存
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int

	SequenceStart   uint64
	SequenceBackend string

	KafkaBrokers []string
	KafkaTopic   string

	OutboxInterval    time.Duration
	ReconcileInterval time.Duration

	AuthRateLimit float64
	AuthRateBurst int

	EnrichConcurrency int
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

// Load 先尝试加载 .env（不存在也没关系），再读取环境变量
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:          GetEnvAsString("HTTP_ADDR", ":5000"),
		RequestTimeout:    GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		MySQLDSN:          GetEnvAsString("MYSQL_DSN", "user:password@tcp(127.0.0.1:3306)/signalcad?charset=utf8mb4&parseTime=True"),
		RedisAddr:         GetEnvAsString("REDIS_ADDR", ""),
		RedisPassword:     GetEnvAsString("REDIS_PASSWORD", ""),
		RedisDB:           GetEnvAsInt("REDIS_DB", 0),
		JWTSecret:         GetEnvAsString("JWT_SECRET", ""),
		TokenTTL:          GetEnvAsDuration("TOKEN_TTL", time.Hour),
		BcryptCost:        GetEnvAsInt("BCRYPT_COST", 10),
		SequenceStart:     GetEnvAsUint64("SEQUENCE_START", 16200),
		SequenceBackend:   GetEnvAsString("SEQUENCE_BACKEND", SequenceBackendMySQL),
		KafkaBrokers:      GetEnvAsList("KAFKA_BROKERS"),
		KafkaTopic:        GetEnvAsString("KAFKA_TOPIC", "signalcad.membership"),
		OutboxInterval:    GetEnvAsDuration("OUTBOX_INTERVAL", time.Second),
		ReconcileInterval: GetEnvAsDuration("RECONCILE_INTERVAL", 5*time.Minute),
		AuthRateLimit:     GetEnvAsFloat("AUTH_RATE_LIMIT", 5),
		AuthRateBurst:     GetEnvAsInt("AUTH_RATE_BURST", 10),
		EnrichConcurrency: GetEnvAsInt("ENRICH_CONCURRENCY", 8),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	switch c.SequenceBackend {
	case SequenceBackendMySQL:
	case SequenceBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("SEQUENCE_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown SEQUENCE_BACKEND %q", c.SequenceBackend)
	}
	return nil
}
