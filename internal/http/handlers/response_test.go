package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-registration-backend/internal/apperror"
	"github.com/tbourn/go-registration-backend/internal/http/middleware"
)

func Test_fail_RenderedByErrorHandler_AndLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// capture logs from LoggerFrom(c)
	var buf bytes.Buffer
	lg := zerolog.New(&buf)

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &lg)
		c.Next()
	})
	r.Use(middleware.ErrorHandler(middleware.ErrorOptions{}))

	reached := false
	r.GET("/boom", func(c *gin.Context) {
		fail(c, errors.New("kaboom"))
	}, func(c *gin.Context) { reached = true })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if reached {
		t.Fatalf("fail must abort the chain")
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Error.Code != "UNKNOWN_ERROR" || resp.Success {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), "kaboom") {
		t.Fatalf("expected error log with cause, got: %s", buf.String())
	}
}

func Test_Fail_404_And_ok(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-404")
		c.Next()
	})
	r.Use(middleware.ErrorHandler(middleware.ErrorOptions{}))

	r.GET("/missing", func(c *gin.Context) { Fail(c, apperror.New(apperror.ResourceNotFound)) })
	r.GET("/ok", func(c *gin.Context) { ok(c, http.StatusCreated, gin.H{"ok": true, "n": 1}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json 404: %v", err)
	}
	if er.RequestID != "rid-404" || er.Error.Code != "RESOURCE_NOT_FOUND" || er.Error.Message != "Resource not found" {
		t.Fatalf("unexpected 404 body: %+v", er)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d", w.Code)
	}
	var okBody struct {
		Data      map[string]any `json:"data"`
		Success   bool           `json:"success"`
		RequestID string         `json:"request_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &okBody); err != nil {
		t.Fatalf("json 201: %v", err)
	}
	if !okBody.Success || okBody.RequestID != "rid-404" || okBody.Data["ok"] != true || int(okBody.Data["n"].(float64)) != 1 {
		t.Fatalf("unexpected ok body: %#v", okBody)
	}
}

func Test_bindError(t *testing.T) {
	var syn json.SyntaxError
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"unsupported", errUnsupportedMedia, "BAD_REQUEST"},
		{"eof", io.EOF, "BAD_REQUEST"},
		{"syntax", &syn, "BAD_REQUEST"},
		{"too large", &http.MaxBytesError{Limit: 10}, "PAYLOAD_TOO_LARGE"},
		{"other", errors.New("invalid request"), "BAD_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := apperror.As(bindError(tc.err))
			if !ok || got.Code != tc.code {
				t.Fatalf("bindError(%v) = %v; want %s", tc.err, got, tc.code)
			}
			if !errors.Is(got.Unwrap(), tc.err) {
				t.Fatalf("cause not kept")
			}
		})
	}
}
