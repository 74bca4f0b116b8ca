package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/loykin/vigil/internal/counter"
	"github.com/loykin/vigil/internal/escalation"
	"github.com/loykin/vigil/internal/notify"
)

func setupRouter(t *testing.T, base string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := counter.NewFileStore(filepath.Join(t.TempDir(), "failures"))
	ctrl := escalation.NewController(store, notify.NewDispatcher())
	r := NewRouter(ctrl, Config{Service: "demo", BasePath: base})
	return r.Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, "/api")
	rec := doReq(t, h, http.MethodGet, "/api/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCounterStartsAtZero(t *testing.T) {
	h := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/counter")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp counterResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Failures != 0 || resp.Service != "demo" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestEscalateFailureThenSuccess(t *testing.T) {
	h := setupRouter(t, "")

	rec := doReq(t, h, http.MethodPost, "/escalate/failure")
	if rec.Code != http.StatusOK {
		t.Fatalf("failure: %d %s", rec.Code, rec.Body.String())
	}
	var fail escalateResp
	if err := json.Unmarshal(rec.Body.Bytes(), &fail); err != nil {
		t.Fatal(err)
	}
	if fail.Failures != 1 || fail.Tier != "silent" {
		t.Fatalf("first failure resp = %+v", fail)
	}

	rec = doReq(t, h, http.MethodPost, "/escalate/failure")
	_ = json.Unmarshal(rec.Body.Bytes(), &fail)
	if fail.Failures != 2 || fail.Tier != "warning" {
		t.Fatalf("second failure resp = %+v", fail)
	}

	rec = doReq(t, h, http.MethodGet, "/counter")
	var cnt counterResp
	_ = json.Unmarshal(rec.Body.Bytes(), &cnt)
	if cnt.Failures != 2 {
		t.Fatalf("counter = %+v", cnt)
	}

	rec = doReq(t, h, http.MethodPost, "/escalate/success")
	if rec.Code != http.StatusOK {
		t.Fatalf("success: %d %s", rec.Code, rec.Body.String())
	}
	var succ escalateResp
	_ = json.Unmarshal(rec.Body.Bytes(), &succ)
	if succ.Failures != 2 {
		t.Fatalf("success should report cleared streak, got %+v", succ)
	}

	rec = doReq(t, h, http.MethodGet, "/counter")
	_ = json.Unmarshal(rec.Body.Bytes(), &cnt)
	if cnt.Failures != 0 {
		t.Fatalf("counter after reset = %+v", cnt)
	}
}

func TestStatusWithoutRecord(t *testing.T) {
	h := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp statusResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Running || resp.LastRun != nil {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupRouter(t, "")
	rec := doReq(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q) = %q want %q", c.in, got, c.want)
		}
	}
}
