package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicebridge-backend/pkg/logger"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisClient wraps the go-redis client with degraded mode tracking. The
// registry, call sessions, and the broker all live here, so losing Redis
// degrades the whole realtime plane; the gauge makes that visible.
type RedisClient struct {
	Client *redis.Client

	degradedMode   bool
	degradedModeMu sync.RWMutex
	healthCheckMu  sync.Mutex
}

var (
	redisDegradedGauge prometheus.Gauge
	redisMetricsOnce   sync.Once
)

func degradedGauge() prometheus.Gauge {
	redisMetricsOnce.Do(func() {
		redisDegradedGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "redis_degraded_mode",
			Help: "Indicates if Redis is in degraded mode (1 = degraded, 0 = healthy)",
		})
	})
	return redisDegradedGauge
}

// NewRedisDB creates a new Redis client from config
func NewRedisDB(cfg *RedisConfig) (*RedisClient, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})

	return &RedisClient{Client: client}, nil
}

// Close closes the Redis client connection
func (r *RedisClient) Close() {
	r.Client.Close()
}

// StartHealthCheck starts a background goroutine that periodically checks Redis health
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.HealthCheck(ctx); err != nil {
					logger.Warn("redis health check failed", zap.Error(err))
				}
			}
		}
	}()
}

// IsDegraded returns true if Redis is in degraded mode
func (r *RedisClient) IsDegraded() bool {
	r.degradedModeMu.RLock()
	defer r.degradedModeMu.RUnlock()
	return r.degradedMode
}

func (r *RedisClient) setDegradedState(degraded bool) {
	r.degradedModeMu.Lock()
	defer r.degradedModeMu.Unlock()

	if r.degradedMode != degraded {
		r.degradedMode = degraded
		if degraded {
			degradedGauge().Set(1)
		} else {
			degradedGauge().Set(0)
		}
	}
}

// HealthCheck pings Redis and updates degraded mode. A mutex prevents
// concurrent health checks from piling up on a slow instance.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.healthCheckMu.Lock()
	defer r.healthCheckMu.Unlock()

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.Client.Ping(healthCtx).Err(); err != nil {
		r.setDegradedState(true)
		return fmt.Errorf("redis health check failed: %w", err)
	}

	r.setDegradedState(false)
	return nil
}
