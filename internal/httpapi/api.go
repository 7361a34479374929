// Package httpapi is the authcored HTTP surface: JSON handlers over the
// engine, mounted on a net/http ServeMux with the middleware chain applied.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

// Options configures the handler chain. Zero throttle values disable the
// per-IP flood guard.
type Options struct {
	Logger  *slog.Logger
	Version string
	// TrustedProxies is the number of proxies appending X-Forwarded-For.
	TrustedProxies int
	ThrottleRPS    float64
	ThrottleBurst  int
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	// Ready backs /readyz; nil reports ready.
	Ready func(context.Context) error
}

// API routes requests to the engine.
type API struct {
	engine *authcore.Engine
	logger *slog.Logger
	opts   Options
	mux    *http.ServeMux
}

// New registers every route.
func New(engine *authcore.Engine, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	a := &API{
		engine: engine,
		logger: opts.Logger,
		opts:   opts,
		mux:    http.NewServeMux(),
	}

	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.HandleFunc("GET /readyz", a.readyz)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		a.mux.Handle("GET "+path, opts.Metrics)
	}

	a.registerAuthRoutes()
	a.registerRBACRoutes()
	return a
}

// Handler returns the mux wrapped in logging, client info and throttling.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	if a.opts.ThrottleRPS > 0 && a.opts.ThrottleBurst > 0 {
		h = middleware.Throttle(a.opts.ThrottleRPS, a.opts.ThrottleBurst)(h)
	}
	h = middleware.ClientInfo(a.opts.TrustedProxies)(h)
	return a.logging(h)
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authcored",
		"version": a.opts.Version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		if err := a.opts.Ready(r.Context()); err != nil {
			a.logger.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// logging records method, path, status and duration. Server errors are
// logged at error level; bodies and headers never are.
func (a *API) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		if sw.code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		a.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.code,
			"duration", time.Since(start),
			"ip", authcore.ClientIP(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON object of at most 64 KiB. Failures wrap
// [authcore.ErrInvalidInput].
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 64<<10)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", authcore.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %v", authcore.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON body", authcore.ErrInvalidInput)
	}
	return nil
}

// fail writes err through the shared error encoder, logging anything that
// is not a client mistake.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	if middleware.StatusCode(err) >= http.StatusInternalServerError {
		a.logger.Error("request failed", "path", r.URL.Path, "code", authcore.ErrorCode(err), "error", err)
	}
	middleware.WriteError(w, err)
}
