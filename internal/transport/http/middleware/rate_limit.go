package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/storefront-signup/internal/core/domain"
)

const (
	// RateLimitNamespaceKey is the context key holding the namespace of the last admission check.
	RateLimitNamespaceKey = "rate_limit_namespace"

	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// ApplyRateLimitHeaders exposes an admission decision to the caller. Reset is
// the number of seconds until the namespace's window closes. Retry-After is
// only sent when the decision denied the request.
func ApplyRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Namespace == "" || decision.Limit <= 0 {
		return
	}

	c.Set(RateLimitNamespaceKey, decision.Namespace)

	headers := c.Writer.Header()
	headers.Set(headerRateLimitLimit, strconv.Itoa(decision.Limit))
	headers.Set(headerRateLimitRemaining, strconv.Itoa(max(decision.Remaining, 0)))
	headers.Set(headerRateLimitReset, strconv.Itoa(max(decision.ResetSeconds, 0)))

	if !decision.Allowed {
		headers.Set(headerRetryAfter, strconv.Itoa(max(decision.ResetSeconds, 0)))
	} else {
		headers.Del(headerRetryAfter)
	}
}
