package http

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Request headers copied into event metadata.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderActor     = "X-Actor"

	requestIDKey = "request_id"
)

// RequestIDMiddleware assigns a request id unless the caller sent one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = gonanoid.Must()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// LoggingMiddleware prints request/response metrics.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infow("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start),
			"request_id", c.GetString(requestIDKey))
	}
}

// RateLimitMiddleware admits rps requests per second per client address,
// with bursts of up to burst. Rejected requests get 429 and a Retry-After
// hint in whole seconds.
func RateLimitMiddleware(rps, burst int) gin.HandlerFunc {
	l := newClientLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		ok, wait := l.allow(c.ClientIP())
		if !ok {
			if wait > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

const clientIdleTTL = 10 * time.Minute

type clientBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// clientLimiter keeps one token bucket per client. Buckets idle for longer
// than idleTTL are swept on the next call after the TTL has elapsed.
type clientLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*clientBucket
	swept   time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{
		limit:   limit,
		burst:   burst,
		idleTTL: clientIdleTTL,
		now:     time.Now,
		buckets: map[string]*clientBucket{},
	}
}

// allow takes a token for key. When none is available it reports how long
// until one would be; zero means never (burst 0).
func (l *clientLimiter) allow(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) >= l.idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.seen) >= l.idleTTL {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &clientBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, 0
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}
