// Package ratelimit gates WebSocket connects and JSON-RPC calls, backed by
// Redis when configured and local memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/drophub/drophub/internal/v1/config"
	"github.com/drophub/drophub/internal/v1/logging"
	"github.com/drophub/drophub/internal/v1/metrics"
)

// Limiter holds the two budgets the service enforces: connection attempts
// per client IP, and RPC calls per peer once a connection is established.
// Store failures fail open; throttling is protection, not correctness.
type Limiter struct {
	connIP  *limiter.Limiter
	rpcPeer *limiter.Limiter
	store   limiter.Store
}

// New builds a limiter from the configured rate strings ("60-M" style).
// A nil redisClient selects the in-process memory store.
func New(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	connRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid connection rate: %w", err)
	}

	rpcRate, err := limiter.NewRateFromFormatted(cfg.RateLimitRPCPeer)
	if err != nil {
		return nil, fmt.Errorf("invalid rpc rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "drophub:limiter:",
		})
		if err != nil {
			return nil, fmt.Errorf("create redis limiter store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "Rate limiter using memory store")
	}

	return &Limiter{
		connIP:  limiter.New(store, connRate),
		rpcPeer: limiter.New(store, rpcRate),
		store:   store,
	}, nil
}

// AllowConnection gates a WebSocket upgrade by client IP. On rejection it
// writes the 429 response itself and reports false.
func (l *Limiter) AllowConnection(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	res, err := l.connIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.Error(err), zap.String("ip", ip))
		return true
	}

	c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(res.Reset, 10))

	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("connect", "ip").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "too many connections from this address",
			"retry_after": res.Reset,
		})
		return false
	}
	return true
}

// AllowRPC gates one JSON-RPC call. The key is the caller's peer id once
// subscribed, its remote address before that.
func (l *Limiter) AllowRPC(ctx context.Context, key string) bool {
	res, err := l.rpcPeer.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.Error(err), zap.String("key", key))
		return true
	}

	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("rpc", "peer").Inc()
		return false
	}
	return true
}
