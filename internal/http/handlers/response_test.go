package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-alerts-backend/internal/services"
)

func Test_fail_500_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != ErrCodeInternal || resp.Message != "kaboom" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}
}

func Test_fail_4xx_NotLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/nf", func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrCodeNotFound, "nope") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nf", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	if buf.Len() != 0 {
		t.Fatalf("4xx should not log, got %s", buf.String())
	}
}

func Test_failService_StatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err      error
		wantCode string
		want     int
	}{
		{&services.RuleError{Code: services.CodeQuotaExceeded, Message: "m"}, services.CodeQuotaExceeded, http.StatusPaymentRequired},
		{&services.RuleError{Code: services.CodeRuleLimitReached, Message: "m"}, services.CodeRuleLimitReached, http.StatusPaymentRequired},
		{&services.RuleError{Code: services.CodeChannelNotAllowed, Message: "m"}, services.CodeChannelNotAllowed, http.StatusForbidden},
		{&services.RuleError{Code: services.CodeInvalidChannel, Message: "m"}, services.CodeInvalidChannel, http.StatusUnprocessableEntity},
		{&services.RuleError{Code: services.CodeTooManyChannels, Message: "m"}, services.CodeTooManyChannels, http.StatusUnprocessableEntity},
		{&services.RuleError{Code: services.CodeInvalidRule, Message: "m"}, services.CodeInvalidRule, http.StatusUnprocessableEntity},
		{&services.RuleError{Code: services.CodeRuleArchived, Message: "m"}, services.CodeRuleArchived, http.StatusConflict},
		{&services.RuleError{Code: "something_new", Message: "m"}, "something_new", http.StatusUnprocessableEntity},
		{fmt.Errorf("wrap: %w", services.ErrRuleNotFound), ErrCodeNotFound, http.StatusNotFound},
		{services.ErrOwnerRequired, ErrCodeUnauthorized, http.StatusUnauthorized},
		{errors.New("db down"), ErrCodeListFailed, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) { failService(c, tc.err, ErrCodeListFailed) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

		if w.Code != tc.want {
			t.Fatalf("%v: status=%d want %d", tc.err, w.Code, tc.want)
		}
		var resp ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("json: %v", err)
		}
		if resp.Code != tc.wantCode {
			t.Fatalf("%v: code=%q want %q", tc.err, resp.Code, tc.wantCode)
		}
	}
}

func Test_weakETag_Format(t *testing.T) {
	ts := time.Unix(10, 5)
	if got := weakETag("alerts", "u1", 3, &ts); got != `W/"alerts:u1:3:10000000005"` {
		t.Fatalf("etag=%s", got)
	}
	if got := weakETag("alerts", "u1", 0, nil); got != `W/"alerts:u1:0:0"` {
		t.Fatalf("etag=%s", got)
	}
}

func Test_notModified(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const tag = `W/"alerts:u1:1:1"`

	cases := []struct {
		inm  string
		want int
	}{
		{"", http.StatusOK},
		{`W/"other"`, http.StatusOK},
		{`W/"other", ` + tag, http.StatusNotModified},
		{"*", http.StatusNotModified},
	}
	for _, tc := range cases {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) {
			if notModified(c, tag) {
				return
			}
			ok(c, http.StatusOK, gin.H{"ok": true})
		})
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tc.inm != "" {
			req.Header.Set("If-None-Match", tc.inm)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("If-None-Match %q: status=%d want %d", tc.inm, w.Code, tc.want)
		}
		if w.Header().Get("ETag") != tag {
			t.Fatalf("missing ETag header")
		}
	}
}
