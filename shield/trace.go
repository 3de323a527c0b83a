package shield

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/shimmer/idgen"
	"github.com/hazyhaar/shimmer/kit"
)

// TraceHeader carries the trace ID in both directions.
const TraceHeader = "X-Trace-ID"

// TraceID tags each request with a trace ID, reusing a well-formed inbound
// X-Trace-ID. The ID goes into the context, the response headers and a
// per-request logger stored with kit.WithLogger. Completion is logged with
// status and duration.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, err := idgen.Parse(idgen.TracePrefix, r.Header.Get(TraceHeader))
		if err != nil {
			traceID = idgen.Trace()
		}
		w.Header().Set(TraceHeader, traceID)

		remote := ExtractIP(r)
		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", remote,
		)
		ctx := kit.WithTraceID(r.Context(), traceID)
		ctx = kit.WithTransport(ctx, kit.TransportHTTP)
		ctx = kit.WithRemoteAddr(ctx, remote)
		ctx = kit.WithLogger(ctx, logger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.Info("request", "status", status, "bytes", ww.BytesWritten(), "elapsed", time.Since(start))
	})
}
