package httputil

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, map[string]int{"count": 3})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %q", ct)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"count":3}` {
		t.Errorf("Expected body {\"count\":3}, got %q", got)
	}
}

func TestDecodeJSONBody(t *testing.T) {
	var v struct {
		Query string `json:"query"`
	}

	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"query":"SELECT 1","extra":true}`))
	if err := DecodeJSONBody(req, &v); err != nil {
		t.Fatalf("Expected unknown fields to be ignored, got %v", err)
	}
	if v.Query != "SELECT 1" {
		t.Errorf("Expected query SELECT 1, got %q", v.Query)
	}

	req = httptest.NewRequest("POST", "/", strings.NewReader("{"))
	if err := DecodeJSONBody(req, &v); err == nil {
		t.Error("Expected error for malformed body, got nil")
	}
}
