// Package ratelimit implements connection and message rate limiting
// using Redis (when the bus is enabled) or an in-memory store otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/harmonicarena/roomsrv/internal/config"
	"github.com/harmonicarena/roomsrv/internal/logging"
	"github.com/harmonicarena/roomsrv/internal/metrics"
)

// RateLimiter holds the rate limiter instances for the HTTP surface
// (health/admin endpoints) and the WebSocket hub (connection and
// per-user message rate).
type RateLimiter struct {
	apiGlobal *limiter.Limiter
	wsIP      *limiter.Limiter
	wsUser    *limiter.Limiter
	store     limiter.Store
}

// New creates a new RateLimiter instance.
func New(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	apiGlobalRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIGlobal)
	if err != nil {
		return nil, fmt.Errorf("invalid API global rate: %w", err)
	}

	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWSIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	wsUserRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWSUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS User rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "roomsrv:limiter:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store (Redis disabled)")
	}

	return &RateLimiter{
		apiGlobal: limiter.New(store, apiGlobalRate),
		wsIP:      limiter.New(store, wsIPRate),
		wsUser:    limiter.New(store, wsUserRate),
		store:     store,
	}, nil
}

// GlobalMiddleware enforces a global per-IP rate limit on the HTTP
// surface (health checks and any future admin endpoints).
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		ctx := c.Request.Context()
		limitCtx, err := rl.apiGlobal.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(limitCtx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(limitCtx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(limitCtx.Reset, 10))

		if limitCtx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "ip").Inc()
			c.Header("Retry-After", strconv.FormatInt(limitCtx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": limitCtx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckWebSocketConnect enforces the per-IP connection rate limit before
// a WebSocket upgrade is attempted. Returns true if the connection
// should proceed.
func (rl *RateLimiter) CheckWebSocketConnect(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipCtx, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (ip)", zap.Error(err))
		return true
	}

	if ipCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipCtx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this address"})
		return false
	}

	return true
}

// CheckMessage enforces the per-user message rate limit for an
// established hub connection. Call this once per inbound RPC.
func (rl *RateLimiter) CheckMessage(ctx context.Context, userID string) error {
	userCtx, err := rl.wsUser.Get(ctx, userID)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (user)", zap.Error(err))
		return nil
	}

	if userCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("hub_message", "user").Inc()
		return fmt.Errorf("rate limit exceeded for user %s", userID)
	}

	return nil
}
