package integration

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
)

type sessionView struct {
	ID        uint   `json:"id"`
	IsCurrent bool   `json:"is_current"`
	UserAgent string `json:"user_agent"`
	IP        string `json:"ip"`
}

func listSessions(t *testing.T, ts *testServer) []sessionView {
	t.Helper()
	resp, env := doJSON(t, ts.Client, http.MethodGet, ts.URL+"/api/v1/me/sessions", nil, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("list sessions failed: status=%d env=%+v", resp.StatusCode, env)
	}
	var data struct {
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	return data.Sessions
}

func TestSessionManagementListAndRevokeByDevice(t *testing.T) {
	ts := newAuthTestServer(t)
	register(t, ts, "session-mgmt", "Valid#Pass1234")

	first := login(t, ts, ts.Client, "session-mgmt", "Valid#Pass1234")
	csrfA := cookieValue(t, ts.Client, ts.URL, "/", security.CSRFCookieName)
	login(t, ts, ts.Client, "session-mgmt", "Valid#Pass1234")
	csrfB := cookieValue(t, ts.Client, ts.URL, "/", security.CSRFCookieName)

	sessions := listSessions(t, ts)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(sessions))
	}
	var currentCount int
	var oldSessionID uint
	for _, s := range sessions {
		if s.IsCurrent {
			currentCount++
			continue
		}
		oldSessionID = s.ID
	}
	if currentCount != 1 || oldSessionID == 0 {
		t.Fatalf("expected one current and one other session, got %+v", sessions)
	}

	resp, env := doJSON(t, ts.Client, http.MethodDelete, ts.URL+"/api/v1/me/sessions/"+strconv.FormatUint(uint64(oldSessionID), 10), nil, map[string]string{
		security.CSRFHeaderName: csrfB,
	})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("revoke session failed: status=%d env=%+v", resp.StatusCode, env)
	}

	resp, _ = doRaw(t, newClient(t), http.MethodPost, ts.URL+"/api/v1/auth/refresh", nil, map[string]string{
		security.CSRFHeaderName: csrfA,
	}, []*http.Cookie{
		{Name: security.RefreshCookieName, Value: first.RefreshToken},
		{Name: security.CSRFCookieName, Value: csrfA},
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked session refresh to fail with 401, got %d", resp.StatusCode)
	}

	if remaining := listSessions(t, ts); len(remaining) != 1 || !remaining[0].IsCurrent {
		t.Fatalf("expected only the current session to remain, got %+v", remaining)
	}
}

func TestSessionManagementLogoutAllEndsEverySession(t *testing.T) {
	ts := newAuthTestServer(t)
	register(t, ts, "logout-all", "Valid#Pass1234")
	other := newClient(t)
	otherSession := login(t, ts, other, "logout-all", "Valid#Pass1234")
	login(t, ts, ts.Client, "logout-all", "Valid#Pass1234")

	resp, env := doJSON(t, ts.Client, http.MethodPost, ts.URL+"/api/v1/auth/logout-all", nil, map[string]string{
		security.CSRFHeaderName: cookieValue(t, ts.Client, ts.URL, "/", security.CSRFCookieName),
	})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("logout-all failed: status=%d env=%+v", resp.StatusCode, env)
	}

	resp, env = doJSON(t, other, http.MethodGet, ts.URL+"/api/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + otherSession.AccessToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected other device access token to be refused, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, other, http.MethodPost, ts.URL+"/api/v1/auth/refresh", map[string]string{
		"refresh_token": otherSession.RefreshToken,
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected other device refresh to fail with 401, got %d", resp.StatusCode)
	}
}

func TestSessionManagementRevokeErrors(t *testing.T) {
	ts := newAuthTestServer(t)
	register(t, ts, "session-errors", "Valid#Pass1234")
	login(t, ts, ts.Client, "session-errors", "Valid#Pass1234")
	csrf := cookieValue(t, ts.Client, ts.URL, "/", security.CSRFCookieName)

	resp, _ := doJSON(t, ts.Client, http.MethodDelete, ts.URL+"/api/v1/me/sessions/not-a-number", nil, map[string]string{
		security.CSRFHeaderName: csrf,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed session id, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts.Client, http.MethodDelete, ts.URL+"/api/v1/me/sessions/999999", nil, map[string]string{
		security.CSRFHeaderName: csrf,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session id, got %d", resp.StatusCode)
	}
}
