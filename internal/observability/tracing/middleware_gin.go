package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/expertly/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request, named after the matched
// route. Failed requests record the first line of the last handler error.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("expertly/http")
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("request_id", obscontext.RequestIDFromContext(ctx)),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		actorType, actorID := obscontext.ActorFromContext(c.Request.Context())
		span.SetAttributes(SafeAttributes(
			attribute.Int("http.status_code", status),
			attribute.String("actor_type", actorType),
			attribute.String("actor_id", actorID),
		)...)
		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			if err := SafeError(last.Err); err != nil {
				span.RecordError(err)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
