package handler

import (
	"net/http"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/response"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/service"
)

// MeHandler serves the caller's own account: profile, sessions, security
// log, two-factor settings and API tokens.
type MeHandler struct {
	auth      service.AuthServiceInterface
	twoFactor service.TwoFactorServiceInterface
	apiTokens service.APITokenServiceInterface
}

func NewMeHandler(auth service.AuthServiceInterface, twoFactor service.TwoFactorServiceInterface, apiTokens service.APITokenServiceInterface) *MeHandler {
	return &MeHandler{auth: auth, twoFactor: twoFactor, apiTokens: apiTokens}
}

type userView struct {
	ID               uint               `json:"id"`
	Username         string             `json:"username"`
	Email            string             `json:"email"`
	DisplayName      string             `json:"display_name,omitempty"`
	AccountType      domain.AccountType `json:"account_type"`
	Status           string             `json:"status"`
	EmailVerified    bool               `json:"email_verified"`
	TwoFactorEnabled bool               `json:"two_factor_enabled"`
	CreatedAt        time.Time          `json:"created_at"`
	AuthenticatedBy  string             `json:"authenticated_by,omitempty"`
	TokenName        string             `json:"token_name,omitempty"`
}

func newUserView(u *domain.User, p *service.Principal) *userView {
	if u == nil {
		return nil
	}
	v := &userView{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AccountType: u.AccountType,
		Status:      u.Status,
		CreatedAt:   u.CreatedAt,
	}
	if c := u.Credential; c != nil {
		v.EmailVerified = c.EmailVerified
		v.TwoFactorEnabled = c.TwoFactorEnabled
	}
	if p != nil {
		v.AuthenticatedBy = string(p.Kind)
		v.TokenName = p.TokenName
	}
	return v
}

type codeRequest struct {
	Code       string `json:"code" validate:"required_without=BackupCode,max=16"`
	BackupCode string `json:"backup_code" validate:"max=32"`
}

type createAPITokenRequest struct {
	Name       string `json:"name" validate:"required,max=128"`
	UsageLimit *int64 `json:"usage_limit" validate:"omitempty,gt=0"`
	TTLSeconds int64  `json:"ttl_seconds" validate:"gte=0"`
}

type apiTokenView struct {
	ID                 uint       `json:"id"`
	Name               string     `json:"name"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	UsageCount         int64      `json:"usage_count"`
	UsageLimit         *int64     `json:"usage_limit,omitempty"`
	DeactivationReason *string    `json:"deactivation_reason,omitempty"`
}

func newAPITokenView(t domain.Token) apiTokenView {
	return apiTokenView{
		ID:                 t.ID,
		Name:               t.Name,
		Status:             string(t.Status),
		CreatedAt:          t.CreatedAt,
		ExpiresAt:          t.ExpiresAt,
		LastUsedAt:         t.LastUsedAt,
		UsageCount:         t.UsageCount,
		UsageLimit:         t.UsageLimit,
		DeactivationReason: t.DeactivationReason,
	}
}

func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	user, err := h.auth.GetUser(r.Context(), p.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, newUserView(user, p))
}

func (h *MeHandler) SecurityLog(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	query := repository.SecurityLogQuery{
		PageRequest: pageRequest(r),
		Event:       domain.SecurityEvent(r.URL.Query().Get("event")),
	}
	page, err := h.auth.SecurityLog(r.Context(), p, query)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *MeHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	sessions, err := h.auth.ListSessions(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *MeHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	changed, err := h.auth.RevokeSession(r.Context(), p, id, clientMetadata(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "me.session_revoke", "success", "user_id", p.UserID, "session_id", id, "changed", changed)
	response.JSON(w, r, http.StatusOK, map[string]any{"id": id, "revoked": changed})
}

func (h *MeHandler) TwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	setup, err := h.twoFactor.Setup(r.Context(), p, clientMetadata(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Credential(w, r, http.StatusOK, map[string]any{
		"secret":      setup.Secret,
		"otpauth_url": setup.OTPAuthURL,
		"expires_at":  setup.ExpiresAt,
	})
}

func (h *MeHandler) TwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	codes, err := h.twoFactor.VerifySetup(r.Context(), p, req.Code, clientMetadata(r))
	if err != nil {
		observability.Audit(r, "me.2fa_enable", "failure", "user_id", p.UserID, "reason", service.ErrorReason(err))
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "me.2fa_enable", "success", "user_id", p.UserID)
	response.Credential(w, r, http.StatusOK, map[string]any{"enabled": true, "backup_codes": codes})
}

func (h *MeHandler) TwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := h.twoFactor.Disable(r.Context(), p, req.Code, req.BackupCode, clientMetadata(r)); err != nil {
		observability.Audit(r, "me.2fa_disable", "failure", "user_id", p.UserID, "reason", service.ErrorReason(err))
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "me.2fa_disable", "success", "user_id", p.UserID)
	response.JSON(w, r, http.StatusOK, map[string]any{"enabled": false})
}

func (h *MeHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	codes, err := h.twoFactor.RegenerateBackupCodes(r.Context(), p, req.Code, clientMetadata(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.Credential(w, r, http.StatusOK, map[string]any{"backup_codes": codes})
}

func (h *MeHandler) CreateAPIToken(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	var req createAPITokenRequest
	if err := decodeValid(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	created, err := h.apiTokens.Create(r.Context(), p, service.CreateAPITokenInput{
		Name:       req.Name,
		UsageLimit: req.UsageLimit,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	}, clientMetadata(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "me.api_token_create", "success", "user_id", p.UserID, "token_id", created.ID)
	response.Credential(w, r, http.StatusCreated, created)
}

func (h *MeHandler) ListAPITokens(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	page, err := h.apiTokens.List(r.Context(), p, pageRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, repository.MapPage(page, newAPITokenView))
}

func (h *MeHandler) RevokeAPIToken(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrAbort(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	changed, err := h.apiTokens.Revoke(r.Context(), p, id, clientMetadata(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"id": id, "revoked": changed})
}
