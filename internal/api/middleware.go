package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/markcam/internal/logging"
)

// pollPaths are requested by the preview page on a timer.
var pollPaths = map[string]bool{
	"/api/health":    true,
	"/api/session":   true,
	"/api/recording": true,
}

// HTTPLoggingMiddleware logs one line per API request. Failures are logged
// at warn or error, polling and preflight requests at debug.
func HTTPLoggingMiddleware(ctx huma.Context, next func(huma.Context)) {
	start := time.Now()
	next(ctx)

	method, path := ctx.Method(), ctx.URL().Path
	status := ctx.Status()
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
		slog.String("remote_addr", ctx.RemoteAddr()),
	}
	if q := ctx.URL().RawQuery; q != "" {
		attrs = append(attrs, slog.String("query", q))
	}
	if ua := ctx.Header("User-Agent"); ua != "" && status >= 400 {
		attrs = append(attrs, slog.String("user_agent", ua))
	}

	logging.GetLogger("http").LogAttrs(ctx.Context(), requestLevel(method, path, status), "HTTP request completed", attrs...)
}

func requestLevel(method, path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case method == http.MethodOptions:
		return slog.LevelDebug
	case method == http.MethodGet && (pollPaths[path] || strings.HasPrefix(path, "/api/artifacts/")):
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
