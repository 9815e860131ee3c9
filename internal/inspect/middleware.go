package inspect

import (
	"bufio"
	"context"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/pilethost/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pilethost_http_requests_total",
			Help: "Inspector HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pilethost_http_request_duration_seconds",
			Help:    "Inspector HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration)
}

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middleware in order (first argument is outermost).
func Chain(handler http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// exchange is filled in by the chain as a request passes inward and read
// back by the logging middleware once the response is written. Inner
// middleware replace *http.Request, so values set on it would not be seen
// by outer ones.
type exchange struct {
	id      string
	client  string
	route   string // matched mux pattern, "" until routed
	subject string // token subject, "" when auth is off
}

type exchangeKey struct{}

func exchangeFrom(ctx context.Context) *exchange {
	x, _ := ctx.Value(exchangeKey{}).(*exchange)
	return x
}

// RequestID returns the request ID stored in ctx.
func RequestID(ctx context.Context) string {
	if x := exchangeFrom(ctx); x != nil {
		return x.id
	}
	return ""
}

// RequestIDMiddleware starts the exchange record: it propagates X-Request-ID
// or assigns a new UUID, and resolves the client address once.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		x := &exchange{id: r.Header.Get("X-Request-ID"), client: clientIP(r)}
		if x.id == "" {
			x.id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", x.id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), exchangeKey{}, x)))
	})
}

// routed records which mux pattern serves the request before dispatching.
func routed(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if x := exchangeFrom(r.Context()); x != nil {
			_, x.route = mux.Handler(r)
		}
		mux.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs each request and records request metrics. Paths
// in quiet are counted but not logged. Metrics are labelled with the route
// pattern so slot names and data keys do not create new series.
func LoggingMiddleware(logger *zap.Logger, quiet []string) Middleware {
	skip := pathSet(quiet)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)

			route := "unmatched"
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.Status()),
				zap.Duration("duration", elapsed),
			}
			if x := exchangeFrom(r.Context()); x != nil {
				if x.route != "" {
					route = x.route
				}
				fields = append(fields,
					zap.String("request_id", x.id),
					zap.String("client", x.client),
				)
				if x.subject != "" {
					fields = append(fields, zap.String("subject", x.subject))
				}
			}

			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.Status())).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
			if !skip[r.URL.Path] {
				logger.Info("http request", append(fields, zap.String("route", route))...)
			}
		})
	}
}

// apiCSP locks JSON responses down completely. The Swagger UI page loads
// its own bundle and inline bootstrap script.
const (
	apiCSP     = "default-src 'none'; frame-ancestors 'none'"
	swaggerCSP = "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:"
)

// HeadersMiddleware stamps every response with the security headers and the
// build version.
func HeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("X-Pilethost-Version", version.Short())
		if strings.HasPrefix(r.URL.Path, "/swagger/") {
			h.Set("Content-Security-Policy", swaggerCSP)
		} else {
			h.Set("Content-Security-Policy", apiCSP)
		}
		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware turns a panic in a handler, typically a pilet
// component misbehaving during render, into a 500 problem response.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestID(r.Context())),
				)
				InternalError(w, "an unexpected error occurred", r.URL.Path)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware gives every client a token bucket of rps requests per
// second with the given burst. Denied requests get 429 with Retry-After.
// Paths in exempt are never limited. A non-positive rps disables limiting.
func RateLimitMiddleware(rps float64, burst int, exempt []string) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	buckets := newClientBuckets(rate.Limit(rps), burst)
	skip := pathSet(exempt)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			client := clientIP(r)
			if x := exchangeFrom(r.Context()); x != nil {
				client = x.client
			}
			if wait, ok := buckets.take(client, time.Now()); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				RateLimited(w, "rate limit exceeded", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// maxTrackedClients is the bucket count above which full buckets, those of
// clients idle long enough to refill, are dropped.
const maxTrackedClients = 1024

type clientBuckets struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	byIP  map[string]*rate.Limiter
}

func newClientBuckets(limit rate.Limit, burst int) *clientBuckets {
	if burst < 1 {
		burst = 1
	}
	return &clientBuckets{limit: limit, burst: burst, byIP: make(map[string]*rate.Limiter)}
}

// take spends one token of client's bucket. When the bucket is empty it
// returns how long until a token is available.
func (b *clientBuckets) take(client string, now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lim, ok := b.byIP[client]
	if !ok {
		if len(b.byIP) >= maxTrackedClients {
			for ip, l := range b.byIP {
				if l.TokensAt(now) >= float64(b.burst) {
					delete(b.byIP, ip)
				}
			}
		}
		lim = rate.NewLimiter(b.limit, b.burst)
		b.byIP[client] = lim
	}

	res := lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

// clientIP is the first X-Forwarded-For address when it parses, otherwise
// the host part of RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.String()
		}
	}
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().String()
	}
	return r.RemoteAddr
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}

// responseRecorder remembers the status sent downstream.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

// Status is the status written so far; 200 if the handler only wrote a body.
func (rw *responseRecorder) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseRecorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets the event stream upgrade to a WebSocket through the chain.
func (rw *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if rw.status == 0 {
		rw.status = http.StatusSwitchingProtocols
	}
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}
