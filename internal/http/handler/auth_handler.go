package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/response"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
	"github.com/sandeepkv93/newsroom-auth-service/internal/service"
)

const oauthStateTTL = 10 * time.Minute

type AuthHandler struct {
	auth    service.AuthServiceInterface
	cookies *security.CookieManager
	logger  *slog.Logger
}

func NewAuthHandler(auth service.AuthServiceInterface, cookies *security.CookieManager, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, cookies: cookies, logger: logger}
}

// Password strength is left to the service so it surfaces as WEAK_PASSWORD.
type registerRequest struct {
	Username    string `json:"username" validate:"required"`
	Email       string `json:"email" validate:"required"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"display_name" validate:"max=128"`
	AccountType string `json:"account_type" validate:"omitempty,oneof=standard creator"`
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required_without_all=Username Email"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password" validate:"required,max=1024"`
	TOTPCode   string `json:"totp_code" validate:"max=16"`
	BackupCode string `json:"backup_code" validate:"max=32"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"max=4096"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required,max=4096"`
	NewPassword string `json:"new_password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type sessionResponse struct {
	*service.TokenPair
	User *userView `json:"user,omitempty"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	user, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		AccountType: domain.AccountType(req.AccountType),
	}, clientMetadata(r))
	if err != nil {
		observability.Audit(r, "auth.register", "failure", "reason", service.ErrorReason(err))
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.register", "success", "user_id", user.ID)
	response.JSON(w, r, http.StatusCreated, newUserView(user, nil))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	identifier := firstNonEmpty(req.Identifier, req.Username, req.Email)
	res, err := h.auth.Login(r.Context(), service.LoginInput{
		Identifier: identifier,
		Password:   req.Password,
		TOTPCode:   req.TOTPCode,
		BackupCode: req.BackupCode,
	}, clientMetadata(r))
	if err != nil {
		observability.Audit(r, "auth.login", "failure", "reason", service.ErrorReason(err))
		writeServiceError(w, r, err)
		return
	}
	h.setSessionCookies(w, res.Pair)
	observability.Audit(r, "auth.login", "success", "user_id", res.User.ID, "backup_code_used", res.UsedBackupCode)
	response.Credential(w, r, http.StatusOK, sessionResponse{TokenPair: res.Pair, User: newUserView(res.User, nil)})
}

// Refresh prefers a token in the body; the refresh cookie is the fallback and
// is covered by the CSRF middleware.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptionalValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	raw, fromCookie := req.RefreshToken, false
	if raw == "" {
		raw, fromCookie = security.GetCookie(r, security.RefreshCookieName), true
	}
	if raw == "" {
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_INVALID", "missing refresh token", nil)
		return
	}
	pair, err := h.auth.Refresh(r.Context(), raw, clientMetadata(r))
	if err != nil {
		if fromCookie {
			h.cookies.ClearTokenCookies(w)
		}
		observability.Audit(r, "auth.refresh", "failure", "reason", service.ErrorReason(err))
		writeServiceError(w, r, err)
		return
	}
	h.setSessionCookies(w, pair)
	observability.Audit(r, "auth.refresh", "success")
	response.Credential(w, r, http.StatusOK, sessionResponse{TokenPair: pair})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	var req refreshRequest
	if err := decodeOptionalValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	raw := req.RefreshToken
	if raw == "" {
		raw = security.GetCookie(r, security.RefreshCookieName)
	}
	if err := h.auth.Logout(r.Context(), p, raw, clientMetadata(r)); err != nil {
		observability.Audit(r, "auth.logout", "failure", "user_id", p.UserID, "reason", service.ErrorReason(err))
		writeServiceError(w, r, err)
		return
	}
	h.cookies.ClearTokenCookies(w)
	observability.Audit(r, "auth.logout", "success", "user_id", p.UserID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	revoked, err := h.auth.LogoutAll(r.Context(), p, clientMetadata(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.cookies.ClearTokenCookies(w)
	observability.Audit(r, "auth.logout_all", "success", "user_id", p.UserID, "revoked", revoked)
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "logged_out", "revoked_tokens": revoked})
}

// PasswordForgot answers 202 whether or not the email is known.
func (h *AuthHandler) PasswordForgot(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email, clientMetadata(r)); err != nil {
		h.logger.ErrorContext(r.Context(), "password reset request failed", "error", err)
		observability.CaptureError(r.Context(), err)
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := h.auth.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword, clientMetadata(r)); err != nil {
		observability.Audit(r, "auth.password_reset", "failure", "reason", service.ErrorReason(err))
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.password_reset", "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_reset"})
}

func (h *AuthHandler) PasswordChange(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword, clientMetadata(r)); err != nil {
		observability.Audit(r, "auth.password_change", "failure", "user_id", p.UserID, "reason", service.ErrorReason(err))
		writeServiceError(w, r, err)
		return
	}
	h.cookies.ClearTokenCookies(w)
	observability.Audit(r, "auth.password_change", "success", "user_id", p.UserID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "password_changed"})
}

func (h *AuthHandler) EmailVerifyRequest(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	if err := h.auth.RequestEmailVerification(r.Context(), p.UserID, clientMetadata(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *AuthHandler) EmailVerifyConfirm(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := h.auth.ConfirmEmailVerification(r.Context(), req.Token, clientMetadata(r)); err != nil {
		observability.Audit(r, "auth.email_verify", "failure", "reason", service.ErrorReason(err))
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.email_verify", "success")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "email_verified"})
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := security.RandomString(32)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	url, err := h.auth.GoogleLoginURL(state)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.cookies.SetOAuthState(w, state, oauthStateTTL)
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	expected := security.GetCookie(r, security.OAuthStateCookie)
	h.cookies.ClearOAuthState(w)
	state := q.Get("state")
	if expected == "" || state == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		observability.Audit(r, "auth.google", "failure", "reason", "state_mismatch")
		response.Error(w, r, http.StatusBadRequest, "OAUTH_STATE_INVALID", "oauth state mismatch", nil)
		return
	}
	if providerErr := q.Get("error"); providerErr != "" {
		observability.Audit(r, "auth.google", "failure", "reason", "provider_denied")
		response.Error(w, r, http.StatusUnauthorized, "OAUTH_DENIED", "provider denied the request", map[string]string{"error": providerErr})
		return
	}
	code := q.Get("code")
	if code == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "code is required", nil)
		return
	}
	res, err := h.auth.LoginWithGoogle(r.Context(), code, clientMetadata(r))
	if err != nil {
		observability.Audit(r, "auth.google", "failure", "reason", service.ErrorReason(err))
		writeServiceError(w, r, err)
		return
	}
	h.setSessionCookies(w, res.Pair)
	observability.Audit(r, "auth.google", "success", "user_id", res.User.ID)
	response.Credential(w, r, http.StatusOK, sessionResponse{TokenPair: res.Pair, User: newUserView(res.User, nil)})
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, pair *service.TokenPair) {
	if h.cookies == nil || pair == nil {
		return
	}
	h.cookies.SetTokenCookies(w, pair.AccessToken, pair.RefreshToken, pair.CSRFToken, time.Duration(pair.RefreshExpiresIn)*time.Second)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
