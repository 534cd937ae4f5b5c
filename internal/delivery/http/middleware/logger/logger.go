package logger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/davstore/davstore/pkg/logger"
)

// New returns request-logging middleware. DAV verbs carry a Depth
// header that changes the shape of the response, so it is logged
// alongside the usual request fields.
func New(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		log := log.With(
			slog.String("component", "middleware/logger"),
		)

		log.Info("request logging enabled")

		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				attrs := []any{
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("status", statusLabel(ww.Status())),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("elapsed", time.Since(start)),
				}
				if depth := r.Header.Get("Depth"); depth != "" {
					attrs = append(attrs, slog.String("depth", depth))
				}
				log.Info(r.Method+" "+r.URL.RequestURI(), attrs...)
			}()

			next.ServeHTTP(ww, r)
		}

		return http.HandlerFunc(fn)
	}
}

func statusLabel(code int) string {
	return color.New(statusColor(code)).Sprint(strconv.Itoa(code))
}

func statusColor(code int) color.Attribute {
	switch {
	case code >= 500:
		return color.FgRed
	case code >= 400:
		return color.FgYellow
	case code >= 300:
		return color.FgCyan
	case code >= 200:
		return color.FgGreen
	default:
		return color.FgBlue
	}
}
