package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"status": "ok"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestDecodeJSONRejectsBadBody(t *testing.T) {
	var v struct{ Name string }

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	if DecodeJSON(rec, req, &v) {
		t.Fatal("malformed body accepted")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDecodeJSONAcceptsValidBody(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ana"}`))
	rec := httptest.NewRecorder()
	if !DecodeJSON(rec, req, &v) {
		t.Fatalf("valid body rejected: %s", rec.Body.String())
	}
	if v.Name != "ana" {
		t.Fatalf("name = %q", v.Name)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("hello world"), 5)
	if err != nil {
		t.Fatal(err)
	}
	if !truncated || string(data) != "hello" {
		t.Fatalf("data = %q truncated = %v", data, truncated)
	}

	data, truncated, err = ReadAllWithLimit(strings.NewReader("hi"), 5)
	if err != nil {
		t.Fatal(err)
	}
	if truncated || string(data) != "hi" {
		t.Fatalf("data = %q truncated = %v", data, truncated)
	}
}

func TestReadAllStrictErrorsOnOverflow(t *testing.T) {
	if _, err := ReadAllStrict(strings.NewReader("too long"), 3); err == nil {
		t.Fatal("overflow accepted")
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"remote addr", "192.0.2.1:5000", "", "", "192.0.2.1"},
		{"x-forwarded-for single", "10.0.0.1:80", "203.0.113.7", "", "203.0.113.7"},
		{"x-forwarded-for chain", "10.0.0.1:80", "203.0.113.7, 10.0.0.2", "", "203.0.113.7"},
		{"x-real-ip", "10.0.0.1:80", "", "203.0.113.8", "203.0.113.8"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}
			if got := ClientIP(req); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
