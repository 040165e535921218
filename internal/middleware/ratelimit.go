package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/accessd/pkg/errors"
	"github.com/charlesng35/accessd/pkg/logger"
	"github.com/charlesng35/accessd/pkg/metrics"
	"github.com/charlesng35/accessd/pkg/response"
)

// RateStore counts requests per key within fixed windows.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, resetIn time.Duration, err error)
}

// MemoryRateStore is a process-local RateStore. Stale counters are pruned during
// increments, so it needs no background goroutine.
type MemoryRateStore struct {
	mu        sync.Mutex
	data      map[string]*memoryCounter
	now       func() time.Time
	nextPrune time.Time
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateStore constructs an in-memory rate store.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{
		data: make(map[string]*memoryCounter),
		now:  time.Now,
	}
}

// Increment records one hit for key and returns the count in the current window.
func (s *MemoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.After(s.nextPrune) {
		for k, counter := range s.data {
			if now.After(counter.windowEnd) {
				delete(s.data, k)
			}
		}
		s.nextPrune = now.Add(window)
	}

	counter, ok := s.data[key]
	if !ok || now.After(counter.windowEnd) {
		counter = &memoryCounter{windowEnd: now.Add(window)}
		s.data[key] = counter
	}
	counter.count++

	return counter.count, counter.windowEnd.Sub(now), nil
}

// Sweep drops counters whose window has closed and reports how many were removed.
func (s *MemoryRateStore) Sweep(context.Context) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k, counter := range s.data {
		if now.After(counter.windowEnd) {
			delete(s.data, k)
			removed++
		}
	}
	return removed, nil
}

// RateLimit limits requests per (client IP, route) to maxRequests per window. When the
// store fails the request is let through.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	log := logger.WithModule("ratelimit")
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		route := routeLabel(c)
		count, resetIn, err := store.Increment(c.Request.Context(), c.ClientIP()+"|"+route, window)
		if err != nil {
			log.Warn("rate store unavailable", zap.String("route", route), zap.Error(err))
			c.Next()
			return
		}

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			metrics.RateLimited.WithLabelValues(route).Inc()
			c.Header("Retry-After", strconv.Itoa(int(resetIn.Seconds())+1))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
