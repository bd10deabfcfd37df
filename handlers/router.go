package handlers

import (
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/Agent-Artificial/llama3/engine"
	"github.com/Agent-Artificial/llama3/service"
	"github.com/Agent-Artificial/llama3/utils"
)

// Options configures the HTTP handler.
type Options struct {
	Logger         *zap.Logger
	Service        *service.GenerationService
	Fingerprint    string
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies lists proxy IPs or CIDR ranges whose X-Forwarded-For
	// header identifies the client for rate limiting.
	TrustedProxies []string
}

// Route is one method/path pair served by the router.
type Route struct {
	Method  string
	Path    string
	Handler fasthttp.RequestHandler
}

// Routes builds the route table.
func Routes(opts Options) []Route {
	reporter, _ := engine.AsHealthReporter(opts.Service.Engine())

	healthHandler := NewHealthHandler(opts.Logger, reporter)
	modelsHandler := NewModelsHandler(opts.Logger, opts.Service.ModelID(), opts.Service.Template().Name(), reporter)
	chatHandler := NewChatHandler(opts.Logger, opts.Service, opts.Fingerprint, opts.Timeout)

	routes := []Route{
		{fasthttp.MethodGet, "/health", healthHandler.Check},
		{fasthttp.MethodGet, "/v1/models", modelsHandler.List},
		{fasthttp.MethodGet, "/get_model_info", modelsHandler.GetModelInfo},
		{fasthttp.MethodGet, "/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())},
	}
	for _, p := range ChatPaths {
		routes = append(routes, Route{fasthttp.MethodPost, p, chatHandler.HandleChatCompletion})
	}
	return routes
}

// NewRouter dispatches on path, then method. Unknown paths get 404 and
// known paths with the wrong method get 405 with an Allow header.
func NewRouter(routes []Route) fasthttp.RequestHandler {
	table := make(map[string]map[string]fasthttp.RequestHandler)
	for _, r := range routes {
		if table[r.Path] == nil {
			table[r.Path] = make(map[string]fasthttp.RequestHandler)
		}
		table[r.Path][r.Method] = r.Handler
	}

	return func(ctx *fasthttp.RequestCtx) {
		methods, ok := table[string(ctx.Path())]
		if !ok {
			utils.RespondError(ctx, fasthttp.StatusNotFound, "not found")
			return
		}
		if h, ok := methods[string(ctx.Method())]; ok {
			h(ctx)
			return
		}

		allowed := make([]string, 0, len(methods))
		for m := range methods {
			allowed = append(allowed, m)
		}
		sort.Strings(allowed)
		ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
		utils.RespondError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
	}
}

// NewHandler builds the complete server handler: routes plus middleware.
func NewHandler(opts Options) fasthttp.RequestHandler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	routes := Routes(opts)
	paths := make([]string, 0, len(routes))
	for _, r := range routes {
		paths = append(paths, r.Path)
	}

	trusted, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		opts.Logger.Warn("Ignoring trusted proxies", zap.Error(err))
		trusted = nil
	}

	return Chain(NewRouter(routes),
		RequestIDMiddleware,
		AccessLogMiddleware(opts.Logger, paths),
		RecoveryMiddleware(opts.Logger),
		RateLimitMiddleware(opts.RateLimitRPS, opts.RateLimitBurst, []string{"/health", "/metrics"}, trusted),
	)
}

// NewErrorHandler reports requests fasthttp fails to parse (oversized
// bodies, oversized headers, read timeouts) as JSON errors. Use it as
// fasthttp.Server.ErrorHandler.
func NewErrorHandler(logger *zap.Logger) func(*fasthttp.RequestCtx, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx *fasthttp.RequestCtx, err error) {
		logger.Debug("Rejected unparsable request", zap.Error(err))

		var small *fasthttp.ErrSmallBuffer
		var netErr net.Error
		switch {
		case errors.Is(err, fasthttp.ErrBodyTooLarge):
			utils.RespondError(ctx, fasthttp.StatusRequestEntityTooLarge, "request body too large")
		case errors.As(err, &small):
			utils.RespondError(ctx, fasthttp.StatusRequestHeaderFieldsTooLarge, "request headers too large")
		case errors.As(err, &netErr) && netErr.Timeout():
			utils.RespondError(ctx, fasthttp.StatusRequestTimeout, "request timeout")
		default:
			utils.RespondError(ctx, fasthttp.StatusBadRequest, "malformed request")
		}
	}
}
