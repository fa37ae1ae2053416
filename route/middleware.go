package route

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const requestIDHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// panicCatcher recovers any panics, sets a 500, and returns an obvious error
func (r *Router) panicCatcher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rcvr := recover(); rcvr != nil {
				err, ok := rcvr.(error)
				if !ok {
					err = fmt.Errorf("caught panic: %v", rcvr)
				}
				r.handlerReturnWithError(w, ErrCaughtPanic, err)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// requestLogger tags each request with an id, echoing one the caller sent,
// and logs one debug line when it completes.
func (r *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		arrivalTime := time.Now()
		reqID := req.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		wrapped := statusRecorder{w, http.StatusOK}
		next.ServeHTTP(&wrapped, req)

		routeName := ""
		if route := mux.CurrentRoute(req); route != nil {
			routeName = route.GetName()
		}
		r.Metrics.Increment(metricRequests)
		r.Logger.Debug().WithFields(map[string]any{
			"request_id":  reqID,
			"route":       routeName,
			"method":      req.Method,
			"url":         req.URL.String(),
			"remote_addr": req.RemoteAddr,
			"duration_ms": float64(time.Since(arrivalTime)) / float64(time.Millisecond),
			"status":      wrapped.status,
		}).Logf("handled status request")
	})
}

func (r *Router) setResponseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// Set content type header early so it's before any calls to WriteHeader
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, req)
	})
}
