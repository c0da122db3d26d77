package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

const limiterWindow = time.Minute

// newClientLimiter caps requests per remote IP with a sliding one-minute window. Every resolve
// or lyrics request can reach rate-limited upstreams, so one noisy client must not starve the
// rest. The returned middleware shares one counter set across every handler it wraps.
func newClientLimiter(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		limiterWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(limiterWindow.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}
