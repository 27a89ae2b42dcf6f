package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/whatsub/notifications/pkg/logger"
)

func serveWithRequestID(t *testing.T, inbound string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})

	handler := RequestID(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logg.Info(r.Context(), "handled")
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	if inbound != "" {
		req.Header.Set(RequestIDHeader, inbound)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp, buf.String()
}

func TestRequestIDKeepsWellFormedInboundID(t *testing.T) {
	resp, logs := serveWithRequestID(t, "billing-fn:7f3a.2")
	if got := resp.Header().Get(RequestIDHeader); got != "billing-fn:7f3a.2" {
		t.Fatalf("expected inbound id echoed, got %q", got)
	}
	if !strings.Contains(logs, `"request_id":"billing-fn:7f3a.2"`) {
		t.Fatalf("expected request_id in log line, got %s", logs)
	}
}

func TestRequestIDReplacesMissingOrUnsafeID(t *testing.T) {
	for name, inbound := range map[string]string{
		"missing":    "",
		"separator":  "abc def",
		"newline":    "abc\r\nx-injected: 1",
		"too long":   strings.Repeat("a", maxRequestIDLen+1),
		"json quote": `abc"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp, logs := serveWithRequestID(t, inbound)
			got := resp.Header().Get(RequestIDHeader)
			if _, err := uuid.Parse(got); err != nil {
				t.Fatalf("expected generated uuid, got %q", got)
			}
			if !strings.Contains(logs, `"request_id":"`+got+`"`) {
				t.Fatalf("expected generated id in log line, got %s", logs)
			}
		})
	}
}

func TestRecovererResponseCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})
	handler := RequestID(logg)(Recoverer(logg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if got := resp.Header().Get(RequestIDHeader); got != "req-42" {
		t.Fatalf("expected request id on panic response, got %q", got)
	}
	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Fatalf("expected request id in panic log, got %s", buf.String())
	}
}
