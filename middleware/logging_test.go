package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetTraceID(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("Expected empty trace id, got %q", id)
	}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	if id := GetTraceID(ctx); id != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("Expected trace id from context, got %q", id)
	}
}

func TestLoggerMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(LoggerMiddleware(zap.New(core)))
	router.GET("/products/getAllProduct", func(c *gin.Context) {
		c.Status(http.StatusTeapot)
	})

	req := httptest.NewRequest("GET", "/products/getAllProduct?x=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	entries := logs.FilterMessage("HTTP Request").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Errorf("Expected status %d, got %v", http.StatusTeapot, fields["status"])
	}
	if fields["path"] != "/products/getAllProduct" {
		t.Errorf("Expected path to be logged, got %v", fields["path"])
	}
	if fields["query"] != "x=1" {
		t.Errorf("Expected query to be logged, got %v", fields["query"])
	}
}
