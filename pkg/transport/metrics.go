package transport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rhuss/gatehouse/pkg/observability"
)

// Metrics returns middleware that records request count, duration, and
// in-flight requests. The status label is the status class ("2xx",
// "4xx", ...), so responses written by the authentication gateway are
// counted as well.
func Metrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			observability.InflightRequests.Inc()
			defer observability.InflightRequests.Dec()

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			class := strconv.Itoa(rec.status/100) + "xx"
			observability.RequestsTotal.WithLabelValues(r.Method, class).Inc()
			observability.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		})
	}
}
