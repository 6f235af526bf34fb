package security

import (
	"net/http"
	"time"
)

const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"
	CSRFCookieName    = "csrf_token"
	CSRFHeaderName    = "X-CSRF-Token"
	OAuthStateCookie  = "oauth_state"
)

type CookieManager struct {
	domain string
	secure bool
}

func NewCookieManager(domain string, secure bool) *CookieManager {
	return &CookieManager{domain: domain, secure: secure}
}

// SetTokenCookies writes the session cookies. The refresh cookie is scoped to
// the auth routes; the CSRF cookie is readable by scripts so clients can echo
// it in the X-CSRF-Token header.
func (c *CookieManager) SetTokenCookies(w http.ResponseWriter, access, refresh, csrf string, refreshTTL time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookieName,
		Value:    access,
		Path:     "/",
		Domain:   c.domain,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(refreshTTL.Seconds()),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refresh,
		Path:     "/api/v1/auth",
		Domain:   c.domain,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(refreshTTL.Seconds()),
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    csrf,
		Path:     "/",
		Domain:   c.domain,
		HttpOnly: false,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(refreshTTL.Seconds()),
	})
}

func (c *CookieManager) ClearTokenCookies(w http.ResponseWriter) {
	for _, ck := range []struct {
		name     string
		path     string
		httpOnly bool
	}{
		{AccessCookieName, "/", true},
		{RefreshCookieName, "/api/v1/auth", true},
		{CSRFCookieName, "/", false},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     ck.name,
			Value:    "",
			Path:     ck.path,
			Domain:   c.domain,
			HttpOnly: ck.httpOnly,
			Secure:   c.secure,
			SameSite: http.SameSiteStrictMode,
			MaxAge:   -1,
		})
	}
}

func (c *CookieManager) SetOAuthState(w http.ResponseWriter, state string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookie,
		Value:    state,
		Path:     "/api/v1/auth/google",
		Domain:   c.domain,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func (c *CookieManager) ClearOAuthState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookie,
		Value:    "",
		Path:     "/api/v1/auth/google",
		Domain:   c.domain,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
