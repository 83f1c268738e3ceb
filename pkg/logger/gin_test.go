package logger

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	var fromCtx, fromGin *slog.Logger
	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		fromCtx = From(c.Request.Context())
		fromGin = FromGin(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if fromCtx == nil || fromCtx != fromGin {
		t.Fatalf("expected the same request logger on gin and request context")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"rid-1"`)) {
		t.Fatalf("expected request_id in log line, got %s", buf.String())
	}
}

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected generated request id")
	}
}
