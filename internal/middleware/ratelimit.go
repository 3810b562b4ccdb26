package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/charlesng35/accounts/pkg/errors"
	"github.com/charlesng35/accounts/pkg/metrics"
	"github.com/charlesng35/accounts/pkg/response"
)

// RateLimit applies one process-wide token bucket holding burst tokens that
// refill at burst per period. Requests without a token receive 429 and a
// Retry-After header, telling clients the overflow is temporary rather than
// a server failure.
func RateLimit(burst int, period time.Duration) gin.HandlerFunc {
	if burst <= 0 || period <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := rate.NewLimiter(rate.Limit(float64(burst)/period.Seconds()), burst)

	return func(c *gin.Context) {
		now := time.Now()
		reservation := limiter.ReserveN(now, 1)
		if delay := reservation.DelayFrom(now); delay > 0 {
			reservation.CancelAt(now)
			metrics.RateLimited.WithLabelValues("global").Inc()
			rejectRateLimited(c, delay)
			return
		}

		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	response.Error(c, errors.ErrRateLimit)
}
