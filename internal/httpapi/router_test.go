package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"casetriage/internal/domain"
	"casetriage/internal/integrations/llm"
)

type staticHealth []llm.ProviderHealth

func (h staticHealth) HealthStatus() []llm.ProviderHealth { return h }

func get(t *testing.T, r *gin.Engine, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s response: %v (%s)", path, err, w.Body.String())
	}
	return w.Code, body
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(staticHealth(nil), nil)

	code, body := get(t, r, "/healthz")
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected /healthz: %d %v", code, body)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected /stats to be absent without a stats func, got %d", w.Code)
	}
}

func TestProvidersHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name      string
		providers staticHealth
		want      string
	}{
		{name: "all healthy", providers: staticHealth{{Provider: "anthropic", Status: llm.HealthHealthy}, {Provider: "openai", Status: llm.HealthHealthy}}, want: "ok"},
		{name: "one open", providers: staticHealth{{Provider: "anthropic", Status: llm.HealthUnavailable}, {Provider: "openai", Status: llm.HealthHealthy}}, want: "degraded"},
		{name: "all open", providers: staticHealth{{Provider: "anthropic", Status: llm.HealthUnavailable}, {Provider: "openai", Status: llm.HealthUnavailable}}, want: "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, NewRouter(tt.providers, nil), "/providers/health")
			if code != http.StatusOK || body["status"] != tt.want {
				t.Fatalf("got %d %v, want status %q", code, body, tt.want)
			}
			providers, ok := body["providers"].([]any)
			if !ok || len(providers) != len(tt.providers) {
				t.Fatalf("unexpected providers payload %v", body["providers"])
			}
		})
	}
}

func TestStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var gotSince time.Time
	stats := func(since time.Time) (domain.ClassificationStats, error) {
		gotSince = since
		return domain.ClassificationStats{TotalClassifications: 4, NeedsReview: 1, AvgConfidence: 0.6, Bucket90Plus: 2}, nil
	}
	r := NewRouter(staticHealth(nil), stats)

	code, body := get(t, r, "/stats?days=30")
	if code != http.StatusOK || body["total_classifications"] != float64(4) || body["days"] != float64(30) {
		t.Fatalf("unexpected /stats: %d %v", code, body)
	}
	if d := time.Since(gotSince); d < 29*24*time.Hour || d > 31*24*time.Hour {
		t.Fatalf("since should be ~30 days ago, got %s", d)
	}

	code, _ = get(t, r, "/stats?days=abc")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad days, got %d", code)
	}

	failing := NewRouter(staticHealth(nil), func(time.Time) (domain.ClassificationStats, error) {
		return domain.ClassificationStats{}, errors.New("db closed")
	})
	code, body = get(t, failing, "/stats")
	if code != http.StatusInternalServerError || body["error"] != "db closed" {
		t.Fatalf("unexpected error response: %d %v", code, body)
	}
}
