//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusConflict, "busy")

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "busy" {
		t.Errorf("Expected error=busy, got %v", got["error"])
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDB     string
	}{
		{"healthy", nil, http.StatusOK, "ok"},
		{"database down", errors.New("closed"), http.StatusServiceUnavailable, "unreachable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(fakePinger{err: tt.err}).Health(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			var got struct {
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if got.Checks["database"] != tt.wantDB {
				t.Errorf("Expected database=%s, got %v", tt.wantDB, got.Checks["database"])
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	if !rl.Allow("user-1") || !rl.Allow("user-1") {
		t.Fatal("expected first two requests to pass")
	}
	if rl.Allow("user-1") {
		t.Fatal("expected third request to be limited")
	}
	if !rl.Allow("user-2") {
		t.Fatal("limits must be per user")
	}

	rl.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if !rl.Allow("user-1") {
		t.Fatal("expected window to slide")
	}
}

func TestRateLimiterNonPositiveWindow(t *testing.T) {
	rl := NewRateLimiter(1, 0)
	defer rl.Close()

	if rl.window != defaultRateWindow {
		t.Fatalf("window = %s, want %s", rl.window, defaultRateWindow)
	}
	if !rl.Allow("user-1") {
		t.Fatal("expected first request to pass")
	}
	if rl.Allow("user-1") {
		t.Fatal("expected second request to be limited")
	}
}
