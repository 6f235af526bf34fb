package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/sandeepkv93/newsroom-auth-service/internal/config"
	"github.com/sandeepkv93/newsroom-auth-service/internal/di"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	URL    string
	Client *http.Client
	Redis  *miniredis.Miniredis
}

// newAuthTestServer boots the fully wired service over an in-memory sqlite
// database and a miniredis instance.
func newAuthTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	env := map[string]string{
		"APP_ENV":             "test",
		"DATABASE_DRIVER":     "sqlite",
		"DATABASE_URL":        "file:it_" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared",
		"REDIS_ENABLED":       "true",
		"REDIS_ADDR":          mr.Addr(),
		"JWT_ACCESS_SECRET":   "access-secret-0123456789abcdef0123",
		"JWT_REFRESH_SECRET":  "refresh-secret-0123456789abcdef012",
		"JWT_ACTION_SECRET":   "action-secret-0123456789abcdef0123",
		"JWT_API_SECRET":      "api-secret-0123456789abcdef0123456",
		"TOKEN_HASH_PEPPER":   "pepper-0123456789abcdef",
		"ARGON2_MEMORY_KIB":   "1024",
		"ARGON2_ITERATIONS":   "1",
		"ARGON2_PARALLELISM":  "1",
		"COOKIE_SECURE":       "false",
		"AUTH_RATE_LIMIT_RPM": "1000",
		"API_RATE_LIMIT_RPM":  "1000",
	}
	cfg, err := config.FromLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	a, cleanup, err := di.InitializeApp(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(func() {
		srv.Close()
		cleanup()
	})
	return &testServer{URL: srv.URL, Client: newClient(t), Redis: mr}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, apiEnvelope) {
	t.Helper()
	return doRaw(t, client, method, target, body, headers, nil)
}

func doRaw(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string, cookies []*http.Cookie) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(resp.Body)
	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v body=%s", err, raw)
		}
	}
	return resp, env
}

func cookieValue(t *testing.T, client *http.Client, baseURL, path, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL + path)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	t.Fatalf("cookie %s not found for %s", name, path)
	return ""
}

type session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func register(t *testing.T, ts *testServer, username, password string) {
	t.Helper()
	resp, env := doJSON(t, ts.Client, http.MethodPost, ts.URL+"/api/v1/auth/register", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed: status=%d env=%+v", resp.StatusCode, env)
	}
}

func login(t *testing.T, ts *testServer, client *http.Client, username, password string) session {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/auth/login", map[string]string{
		"identifier": username,
		"password":   password,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d env=%+v", resp.StatusCode, env)
	}
	var s session
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return s
}
