package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/mapthewalls/pkg/metrics"
)

// Route names used as the endpoint label.
const (
	routeHealth       = "healthz"
	routeReady        = "readyz"
	routeStats        = "stats"
	routeSpotsList    = "spots_list"
	routeSpotCreate   = "spots_create"
	routeSpotGet      = "spots_get"
	routeSpotUpdate   = "spots_update"
	routeSpotDelete   = "spots_delete"
	routeVotePut      = "votes_put"
	routeVoteSummary  = "votes_summary"
	routeVoteMine     = "votes_me"
	routePhotoUpload  = "photos"
	unclassifiedError = "unclassified"
)

// MetricsMiddleware records request count and latency for route. Failed
// requests are also counted under the API error code the handler wrote,
// so "invalid_rating" on votes_put is its own series.
func MetricsMiddleware(next http.HandlerFunc, route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		status := strconv.Itoa(rec.status)
		metrics.RecordHTTPRequest(route, r.Method, status)
		metrics.RecordHTTPRequestDuration(route, r.Method, status, float64(time.Since(start).Milliseconds()))

		if rec.status < http.StatusBadRequest {
			return
		}
		code := rec.code
		if code == "" {
			code = unclassifiedError
		}
		metrics.RecordErrorByEndpoint(route, r.Method, code)
		metrics.RecordErrorByType(code, severity(rec.status, code))
	}
}

// severity ranks a failure for alerting. Server faults page; rejected
// credentials are worth watching; bad input from devices is noise.
func severity(status int, code string) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "high"
	case code == "unauthorized", code == "forbidden":
		return "medium"
	default:
		return "low"
	}
}

// statusRecorder remembers the status and the error code of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	code   string
}

func (rw *statusRecorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// noteError tags w with an API error code when it is being recorded.
func noteError(w http.ResponseWriter, code string) {
	if rec, ok := w.(*statusRecorder); ok {
		rec.code = code
	}
}
