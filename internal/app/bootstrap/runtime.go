package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/ashgrovepsych/practice-sync/internal/config"
	"github.com/ashgrovepsych/practice-sync/internal/pms"
	"github.com/ashgrovepsych/practice-sync/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, webhook dedupe disabled", "error", err)
		return nil
	}
	return client
}

// BuildPool opens a pgx connection pool and verifies connectivity.
func BuildPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// BuildPMSClient constructs the remote client, or nil when the PM system
// credentials are absent.
func BuildPMSClient(cfg *appconfig.Config, logger *logging.Logger) *pms.Client {
	if cfg.ValidatePMS() != nil {
		if logger != nil {
			logger.Warn("PM system credentials not configured, sync disabled")
		}
		return nil
	}
	client, err := pms.New(pms.Config{
		BaseURL:        cfg.PMSBaseURL,
		TokenURL:       cfg.PMSTokenURL,
		ClientID:       cfg.PMSClientID,
		ClientSecret:   cfg.PMSClientSecret,
		OrganizationID: cfg.PMSOrganizationID,
		Timeout:        cfg.PMSTimeout,
		MaxRetries:     cfg.PMSMaxRetries,
	})
	if err != nil {
		if logger != nil {
			logger.Error("PM system client construction failed", "error", err)
		}
		return nil
	}
	return client
}
