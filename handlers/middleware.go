package handlers

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Agent-Artificial/llama3/utils"
)

// Prometheus HTTP metrics.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llama3_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llama3_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
}

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// Middleware wraps a fasthttp handler.
type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// Chain applies middleware in order (first argument is outermost).
func Chain(handler fasthttp.RequestHandler, mw ...Middleware) fasthttp.RequestHandler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// RequestID returns the request id assigned by RequestIDMiddleware.
func RequestID(ctx *fasthttp.RequestCtx) string {
	if id, ok := ctx.UserValue(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestIDMiddleware generates or propagates X-Request-ID headers.
func RequestIDMiddleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		ctx.SetUserValue(requestIDKey, id)
		ctx.Response.Header.Set(RequestIDHeader, id)
		next(ctx)
	}
}

// RecoveryMiddleware catches panics and returns a 500 error response.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", string(ctx.Path())),
						zap.String("request_id", RequestID(ctx)),
					)
					ctx.Response.Reset()
					utils.RespondError(ctx, fasthttp.StatusInternalServerError, unexpectedErrorMessage)
				}
			}()
			next(ctx)
		}
	}
}

// AccessLogMiddleware logs each request with a colored status line and
// records Prometheus metrics. knownPaths bounds the path label; anything
// else is recorded as "other".
func AccessLogMiddleware(logger *zap.Logger, knownPaths []string) Middleware {
	known := make(map[string]bool, len(knownPaths))
	for _, p := range knownPaths {
		known[p] = true
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			duration := time.Since(start)

			path := string(ctx.Path())
			method := string(ctx.Method())
			statusCode := ctx.Response.StatusCode()

			logHTTPResponse(logger, statusCode, method, path, duration, RequestID(ctx))

			label := path
			if !known[path] {
				label = "other"
			}
			httpRequestsTotal.WithLabelValues(method, label, strconv.Itoa(statusCode)).Inc()
			httpRequestDuration.WithLabelValues(method, label).Observe(duration.Seconds())
		}
	}
}

// logHTTPResponse logs HTTP response with colored output
func logHTTPResponse(logger *zap.Logger, statusCode int, method, path string, duration time.Duration, requestID string) {
	var statusText string
	var colorCode string

	switch {
	case statusCode >= 200 && statusCode < 300:
		colorCode = "\033[32m" // Green
		statusText = "OK"
	case statusCode >= 300 && statusCode < 400:
		colorCode = "\033[33m" // Yellow
		statusText = "Redirect"
	case statusCode >= 400 && statusCode < 500:
		colorCode = "\033[33m" // Yellow
		statusText = "Client Error"
	case statusCode >= 500:
		colorCode = "\033[31m" // Red
		statusText = "Server Error"
	default:
		colorCode = "\033[37m" // White
		statusText = "Unknown"
	}

	resetCode := "\033[0m"
	msg := fmt.Sprintf("%s[%d %s]%s %s %s", colorCode, statusCode, statusText, resetCode, method, path)
	logger.Info(msg,
		zap.Duration("duration", duration),
		zap.String("request_id", requestID),
	)
}

// RateLimitMiddleware enforces per-client rate limiting. A non-positive rps
// disables it. Requests to paths in skipPaths are not rate limited.
// X-Forwarded-For is only honoured for connections from trusted proxies.
func RateLimitMiddleware(rps float64, burst int, skipPaths []string, trusted TrustedProxies) Middleware {
	if rps <= 0 {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler { return next }
	}

	rl := &ipRateLimiter{
		rateVal: rate.Limit(rps),
		burst:   burst,
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if skip[string(ctx.Path())] {
				next(ctx)
				return
			}
			if !rl.allow(trusted.ClientIP(ctx)) {
				utils.RespondError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next(ctx)
		}
	}
}

// ipRateLimiter tracks per-IP token-bucket rate limiters.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimitEntry
	rateVal  rate.Limit
	burst    int
}

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limiters == nil {
		l.limiters = make(map[string]*rateLimitEntry)
	}

	e, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= 10000 {
			l.cleanup()
		}
		e = &rateLimitEntry{limiter: rate.NewLimiter(l.rateVal, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = time.Now()

	return e.limiter.Allow()
}

// cleanup removes entries not seen in the last 10 minutes.
// Must be called with l.mu held.
func (l *ipRateLimiter) cleanup() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// TrustedProxies are the networks whose X-Forwarded-For header is believed.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies parses IP addresses and CIDR ranges.
func ParseTrustedProxies(list []string) (TrustedProxies, error) {
	out := make(TrustedProxies, 0, len(list))
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", entry)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (t TrustedProxies) contains(ip net.IP) bool {
	for _, n := range t {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the client. The connection address is
// used unless it belongs to a trusted proxy, in which case X-Forwarded-For
// is walked from the right and the first untrusted hop wins.
func (t TrustedProxies) ClientIP(ctx *fasthttp.RequestCtx) string {
	remote := ctx.RemoteIP()
	if len(t) == 0 || !t.contains(remote) {
		return remote.String()
	}

	xff := string(ctx.Request.Header.Peek("X-Forwarded-For"))
	if xff == "" {
		return remote.String()
	}
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			break
		}
		if !t.contains(ip) || i == 0 {
			return ip.String()
		}
	}
	return remote.String()
}
