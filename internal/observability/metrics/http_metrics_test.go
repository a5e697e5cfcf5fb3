package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestGinMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := newHTTPMetrics(registry, Config{ServiceName: "expertly-test"})

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/payments/:paymentType/:referenceId", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/PROJECT/42", nil))
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counter := findMetric(families, "expertly_http_requests_total")
	if counter == nil {
		t.Fatalf("expected request counter to be registered")
	}
	if got := counter.GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected 3 requests, got %v", got)
	}
	for _, label := range counter.GetLabel() {
		if label.GetName() == "route" && label.GetValue() != "/payments/:paymentType/:referenceId" {
			t.Fatalf("expected route template label, got %q", label.GetValue())
		}
	}
}

func findMetric(families []*dto.MetricFamily, name string) *dto.Metric {
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		if len(family.GetMetric()) == 0 {
			return nil
		}
		return family.GetMetric()[0]
	}
	return nil
}
