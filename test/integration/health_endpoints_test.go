package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestHealthLiveAndReadyEndpoints(t *testing.T) {
	ts := newAuthTestServer(t)

	t.Run("live endpoint stable 200 payload", func(t *testing.T) {
		resp, env := doJSON(t, ts.Client, http.MethodGet, ts.URL+"/health/live", nil, nil)
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("health live failed: status=%d success=%v", resp.StatusCode, env.Success)
		}
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode live data: %v", err)
		}
		if got, _ := data["status"].(string); got != "ok" {
			t.Fatalf("expected status=ok, got %+v", data)
		}
	})

	t.Run("ready endpoint reports database and redis", func(t *testing.T) {
		resp, env := doJSON(t, ts.Client, http.MethodGet, ts.URL+"/health/ready", nil, nil)
		if resp.StatusCode != http.StatusOK || !env.Success {
			t.Fatalf("health ready failed: status=%d success=%v", resp.StatusCode, env.Success)
		}
		var data struct {
			Status string `json:"status"`
			Checks []struct {
				Name    string `json:"name"`
				Healthy bool   `json:"healthy"`
			} `json:"checks"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode ready data: %v", err)
		}
		if data.Status != "ready" || len(data.Checks) != 2 {
			t.Fatalf("expected two healthy checks, got %+v", data)
		}
	})

	t.Run("ready endpoint fails once redis is gone", func(t *testing.T) {
		ts.Redis.Close()
		resp, env := doJSON(t, ts.Client, http.MethodGet, ts.URL+"/health/ready", nil, nil)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", resp.StatusCode)
		}
		if env.Error == nil || env.Error.Code != "DEPENDENCY_UNREADY" {
			t.Fatalf("expected DEPENDENCY_UNREADY, got %+v", env.Error)
		}
	})
}
