package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type httpCollector struct {
	requests *counterVec
	errors   *counterVec
	latency  *histogramVec
}

func newHTTPCollector() *httpCollector {
	return &httpCollector{
		requests: newCounterVec("dvn_http_requests_total",
			"Total number of HTTP requests processed.", "handler", "method", "code"),
		errors: newCounterVec("dvn_http_request_errors_total",
			"Total number of HTTP requests that resulted in a server error.", "handler", "method"),
		latency: newHistogramVec("dvn_http_request_duration_seconds",
			"HTTP request duration in seconds.", defaultBuckets, "handler", "method"),
	}
}

var api = newHTTPCollector()

// ObserveHTTPRequest records one API request. handler is the route name, not
// the raw path, so that path parameters do not explode label cardinality.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	api.requests.inc(handler, method, strconv.Itoa(status))
	if status >= http.StatusInternalServerError {
		api.errors.inc(handler, method)
	}
	api.latency.observe(duration.Seconds(), handler, method)
}

func (c *httpCollector) render(b *strings.Builder) {
	c.requests.write(b)
	c.errors.write(b)
	c.latency.write(b)
}

// Handler exposes API and verification metrics in the Prometheus text
// exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var b strings.Builder
		b.Grow(4096)
		api.render(&b)
		verification.render(&b)
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(b.String()))
	})
}

// StartServer serves /metrics on a dedicated listener until ctx is done.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
