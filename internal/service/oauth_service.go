package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var errMissingUserInfoFields = errors.New("missing required userinfo fields")

type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}

type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

type GoogleOAuthProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

func NewGoogleOAuthProvider(clientID, clientSecret, redirectURL string) *GoogleOAuthProvider {
	return &GoogleOAuthProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.cfg.Exchange(ctx, code)
}

func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status: %d", resp.StatusCode)
	}
	var body struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if body.Sub == "" || body.Email == "" {
		return nil, errMissingUserInfoFields
	}
	return &OAuthUserInfo{
		ProviderUserID: body.Sub,
		Email:          body.Email,
		EmailVerified:  body.EmailVerified,
		Name:           body.Name,
	}, nil
}

// OAuthService resolves a Google identity to a local account, creating an
// oauth account on first login.
type OAuthService struct {
	provider OAuthProvider
	users    repository.UserRepository
	logger   *slog.Logger
	timeout  time.Duration
}

func NewOAuthService(provider OAuthProvider, users repository.UserRepository, logger *slog.Logger, timeout time.Duration) *OAuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OAuthService{provider: provider, users: users, logger: logger, timeout: timeout}
}

func (s *OAuthService) AuthCodeURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

func (s *OAuthService) HandleGoogleCallback(ctx context.Context, code string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.logger.WarnContext(ctx, "oauth code exchange failed", "reason", classifyOAuthError(err), "error", err)
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	info, err := s.provider.FetchUserInfo(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "oauth userinfo failed", "reason", classifyOAuthError(err), "error", err)
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	if !info.EmailVerified {
		return nil, ErrOAuthEmailNotVerified
	}
	if s.users == nil {
		return nil, ErrOAuthUnavailable
	}

	user, err := s.users.FindByEmail(ctx, info.Email)
	switch {
	case err == nil:
		// An unverified local account could belong to someone else who
		// registered the address first.
		if user.Credential == nil || !user.Credential.EmailVerified {
			return nil, ErrAccountExists
		}
		return user, nil
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, err
	}
	return s.createUser(ctx, info)
}

func (s *OAuthService) createUser(ctx context.Context, info *OAuthUserInfo) (*domain.User, error) {
	base := usernameFromEmail(info.Email)
	now := time.Now().UTC()
	for attempt := 0; attempt < 5; attempt++ {
		username := base
		if attempt > 0 {
			suffix, err := security.RandomString(4)
			if err != nil {
				return nil, err
			}
			username = fmt.Sprintf("%s-%s", base, strings.ToLower(suffix))
		}
		user := &domain.User{
			Username:    username,
			Email:       info.Email,
			DisplayName: info.Name,
			AccountType: domain.AccountTypeOAuth,
			Status:      domain.UserStatusActive,
			Credential: &domain.Credential{
				EmailVerified:   true,
				EmailVerifiedAt: &now,
			},
		}
		err := s.users.Create(ctx, user)
		if err == nil {
			s.logger.InfoContext(ctx, "oauth account created", "user_id", user.ID)
			return user, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		// The email may have been taken concurrently.
		if existing, findErr := s.users.FindByEmail(ctx, info.Email); findErr == nil {
			if existing.Credential == nil || !existing.Credential.EmailVerified {
				return nil, ErrAccountExists
			}
			return existing, nil
		}
	}
	return nil, fmt.Errorf("allocate username: %w", ErrAccountExists)
}

func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > 48 {
		name = name[:48]
	}
	for len(name) < 3 {
		name += "_"
	}
	return name
}

func classifyOAuthError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrOAuthEmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, ErrAccountExists):
		return "account_exists"
	case strings.Contains(err.Error(), "userinfo status"):
		return "userinfo_status"
	case errors.Is(err, errMissingUserInfoFields), strings.Contains(err.Error(), "missing required userinfo fields"):
		return "invalid_userinfo"
	default:
		return "oauth2_exchange"
	}
}
