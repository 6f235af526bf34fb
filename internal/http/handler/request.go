package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/middleware"
	"github.com/sandeepkv93/newsroom-auth-service/internal/http/response"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/service"
	"github.com/sandeepkv93/newsroom-auth-service/internal/validation"
)

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads one JSON object into dst. Unknown fields are rejected.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// decodeValid decodes like decodeJSON and then runs dst's validate tags.
func decodeValid(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil {
		return err
	}
	return validation.Struct(dst)
}

func decodeOptionalValid(r *http.Request, dst any) error {
	if err := decodeOptionalJSON(r, dst); err != nil {
		return err
	}
	return validation.Struct(dst)
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := decodeJSON(r, dst); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		response.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
		return
	}
	if fields := validation.Fields(err); fields != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", validation.Message(err), fields)
		return
	}
	response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", map[string]string{"reason": err.Error()})
}

func clientMetadata(r *http.Request) domain.ClientMetadata {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return domain.ClientMetadata{IP: host, UserAgent: r.UserAgent()}
}

func principalOrAbort(w http.ResponseWriter, r *http.Request) (*service.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return nil, false
	}
	return p, true
}

func pathID(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return uint(id), nil
}

func pageRequest(r *http.Request) repository.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return repository.PageRequest{Page: page, PageSize: size}
}

// writeServiceError maps service failures onto the HTTP error contract.
// Anything unrecognised is a 500 and goes to Sentry.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *service.AccountLockedError
	switch {
	case errors.As(err, &locked):
		seconds := response.RetryAfter(w, locked.RetryAfter(time.Now()))
		response.Error(w, r, http.StatusLocked, "ACCOUNT_LOCKED", "account temporarily locked", map[string]any{"retry_after_seconds": seconds})
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials", nil)
	case errors.Is(err, service.ErrTwoFactorRequired):
		response.Error(w, r, http.StatusUnauthorized, "TWO_FACTOR_REQUIRED", "two-factor code required", nil)
	case errors.Is(err, service.ErrTwoFactorInvalid):
		response.Error(w, r, http.StatusUnauthorized, "TWO_FACTOR_INVALID", "two-factor code invalid", nil)
	case errors.Is(err, service.ErrTokenExpired):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "token expired", nil)
	case errors.Is(err, service.ErrTokenRevoked):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_REVOKED", "token revoked", nil)
	case errors.Is(err, service.ErrTokenInvalid):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_INVALID", "invalid token", nil)
	case errors.Is(err, service.ErrAccountDisabled):
		response.Error(w, r, http.StatusForbidden, "ACCOUNT_DISABLED", "account disabled", nil)
	case errors.Is(err, service.ErrOAuthEmailNotVerified):
		response.Error(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "provider email not verified", nil)
	case errors.Is(err, service.ErrUsageLimitExceeded):
		response.Error(w, r, http.StatusTooManyRequests, "USAGE_LIMIT_EXCEEDED", "token usage limit exceeded", nil)
	case errors.Is(err, service.ErrWeakPassword):
		response.Error(w, r, http.StatusBadRequest, "WEAK_PASSWORD", "password must be 8 to 128 characters and not blank", nil)
	case validation.Fields(err) != nil:
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", validation.Message(err), validation.Fields(err))
	case errors.Is(err, service.ErrInvalidInput):
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": "), nil)
	case errors.Is(err, service.ErrAccountExists), errors.Is(err, service.ErrDuplicateToken):
		response.Error(w, r, http.StatusConflict, "CONFLICT", "resource already exists", nil)
	case errors.Is(err, service.ErrTwoFactorAlreadyEnabled):
		response.Error(w, r, http.StatusConflict, "TWO_FACTOR_ALREADY_ENABLED", "two-factor authentication already enabled", nil)
	case errors.Is(err, service.ErrTwoFactorNotEnabled):
		response.Error(w, r, http.StatusConflict, "TWO_FACTOR_NOT_ENABLED", "two-factor authentication not enabled", nil)
	case errors.Is(err, service.ErrTwoFactorSetupMissing):
		response.Error(w, r, http.StatusNotFound, "TWO_FACTOR_SETUP_MISSING", "no pending two-factor setup", nil)
	case errors.Is(err, service.ErrNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, service.ErrOAuthUnavailable):
		response.Error(w, r, http.StatusServiceUnavailable, "OAUTH_UNAVAILABLE", "oauth login unavailable", nil)
	default:
		observability.CaptureError(r.Context(), err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
