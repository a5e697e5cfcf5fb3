package tracing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/expertly/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGinMiddlewareNamesSpanAfterRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	r := gin.New()
	r.Use(GinMiddleware())
	r.POST("/v1/payments/:orderId/cancel", func(c *gin.Context) {
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "member", "7"))
		_ = c.Error(errors.New("ledger write failed\npayment_key=pk_secret"))
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/payments/ord_1/cancel", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "POST /v1/payments/:orderId/cancel", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, int64(500), attrs["http.status_code"].AsInt64())
	assert.Equal(t, "7", attrs["actor_id"].AsString())

	require.Len(t, span.Events(), 1)
	for _, kv := range span.Events()[0].Attributes {
		assert.NotContains(t, kv.Value.Emit(), "pk_secret")
	}
}
