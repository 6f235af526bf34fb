package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/newsroom-auth-service/internal/domain"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
	"github.com/sandeepkv93/newsroom-auth-service/internal/repository"
	"github.com/sandeepkv93/newsroom-auth-service/internal/security"
	"github.com/sandeepkv93/newsroom-auth-service/internal/validation"
)

type RegisterInput struct {
	Username    string             `json:"username" validate:"username"`
	Email       string             `json:"email" validate:"required,email,max=254"`
	Password    string             `json:"-"`
	DisplayName string             `json:"display_name" validate:"max=128"`
	AccountType domain.AccountType `json:"account_type" validate:"oneof=standard creator admin oauth"`
}

// normalized trims the input, defaults the account type and validates the
// result. The password is left to the credential policy.
func (in RegisterInput) normalized() (RegisterInput, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if in.AccountType == "" {
		in.AccountType = domain.AccountTypeStandard
	}
	if err := validation.Struct(in); err != nil {
		return in, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return in, nil
}

type LoginInput struct {
	Identifier string
	Password   string
	TOTPCode   string
	BackupCode string
}

type LoginResult struct {
	Pair           *TokenPair
	User           *domain.User
	UsedBackupCode bool
}

// SessionView is one active refresh family head as shown to its owner.
type SessionView struct {
	ID         uint       `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UserAgent  string     `json:"user_agent"`
	IP         string     `json:"ip"`
	IsCurrent  bool       `json:"is_current"`
}

// AuthService orchestrates login, refresh, logout and account recovery over
// the credential store, the token ledger and the security log.
type AuthService struct {
	users       repository.UserRepository
	credentials repository.CredentialRepository
	uow         repository.UnitOfWork
	ledger      *TokenLedger
	tokens      *TokenService
	creds       *CredentialService
	issuer      *security.TokenIssuer
	verifier    *security.TokenVerifier
	events      *SecurityEventRecorder
	notifier    Notifier
	oauth       *OAuthService
	logger      *slog.Logger
	now         func() time.Time
}

func NewAuthService(
	repos repository.Repositories,
	uow repository.UnitOfWork,
	ledger *TokenLedger,
	tokens *TokenService,
	creds *CredentialService,
	issuer *security.TokenIssuer,
	verifier *security.TokenVerifier,
	events *SecurityEventRecorder,
	notifier Notifier,
	oauth *OAuthService,
	logger *slog.Logger,
	now func() time.Time,
) *AuthService {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		users:       repos.Users,
		credentials: repos.Credentials,
		uow:         uow,
		ledger:      ledger,
		tokens:      tokens,
		creds:       creds,
		issuer:      issuer,
		verifier:    verifier,
		events:      events,
		notifier:    notifier,
		oauth:       oauth,
		logger:      logger,
		now:         now,
	}
}

func (s *AuthService) clock() time.Time { return s.now().UTC() }

func (s *AuthService) Register(ctx context.Context, in RegisterInput, client domain.ClientMetadata) (*domain.User, error) {
	in, err := in.normalized()
	if err != nil {
		return nil, err
	}
	if in.AccountType != domain.AccountTypeStandard && in.AccountType != domain.AccountTypeCreator {
		return nil, fmt.Errorf("%w: account type %q cannot be self-registered", ErrInvalidInput, in.AccountType)
	}
	hash, err := s.creds.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Username:    in.Username,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		AccountType: in.AccountType,
		Status:      domain.UserStatusActive,
		Credential:  &domain.Credential{PasswordHash: hash},
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAccountExists
		}
		return nil, err
	}
	s.audit(ctx, &user.ID, domain.SecurityEventRegister, domain.OutcomeSuccess, "", client)
	if err := s.RequestEmailVerification(ctx, user.ID, client); err != nil {
		s.logger.WarnContext(ctx, "initial email verification request failed", "user_id", user.ID, "error", err)
	}
	return user, nil
}

// Login authenticates by username or email. Unknown identifiers cost the
// same as a wrong password, and a disabled account answers like any other
// account until the password has been verified.
func (s *AuthService) Login(ctx context.Context, in LoginInput, client domain.ClientMetadata) (*LoginResult, error) {
	ctx, span := observability.StartSpan(ctx, "auth.login")
	defer span.End()

	user, err := s.users.FindByIdentifier(ctx, in.Identifier)
	if errors.Is(err, repository.ErrUserNotFound) {
		s.creds.DummyVerify(in.Password)
		observability.RecordAuthLogin(ctx, "password", "invalid_credentials")
		s.audit(ctx, nil, domain.SecurityEventLoginFailed, domain.OutcomeFailure, "unknown_user", client)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	cred, err := s.credentialOf(ctx, user)
	if err != nil {
		return nil, err
	}

	wasLocked := cred.IsLocked(s.clock())
	if err := s.creds.VerifyPassword(ctx, s.credentials, cred, in.Password); err != nil {
		s.loginFailed(ctx, user.ID, err, wasLocked, client)
		return nil, err
	}
	// Status is only revealed to a caller holding the password.
	if !user.IsActive() {
		observability.RecordAuthLogin(ctx, "password", "disabled")
		s.audit(ctx, &user.ID, domain.SecurityEventLoginFailed, domain.OutcomeFailure, "account_disabled", client)
		return nil, ErrAccountDisabled
	}
	usedBackup := false
	if cred.TwoFactorEnabled {
		usedBackup, err = s.creds.VerifySecondFactor(ctx, s.credentials, cred, in.TOTPCode, in.BackupCode)
		if errors.Is(err, ErrTwoFactorRequired) {
			observability.RecordAuthLogin(ctx, "password", "two_factor_required")
			return nil, err
		}
		if err != nil {
			s.loginFailed(ctx, user.ID, err, false, client)
			return nil, err
		}
		if usedBackup {
			s.audit(ctx, &user.ID, domain.SecurityEventBackupCodeUsed, domain.OutcomeSuccess, "", client)
		}
	}
	s.creds.UpgradeHashIfNeeded(ctx, s.credentials, cred, in.Password)

	pair, err := s.startSession(ctx, user, client)
	if err != nil {
		observability.RecordAuthLogin(ctx, "password", "error")
		return nil, err
	}
	observability.RecordAuthLogin(ctx, "password", "success")
	s.audit(ctx, &user.ID, domain.SecurityEventLogin, domain.OutcomeSuccess, "", client)
	return &LoginResult{Pair: pair, User: user, UsedBackupCode: usedBackup}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, userID uint, err error, wasLocked bool, client domain.ClientMetadata) {
	reason := "invalid_password"
	status := "invalid_credentials"
	switch {
	case errors.Is(err, ErrAccountLocked) && wasLocked:
		reason, status = "account_locked", "locked"
	case errors.Is(err, ErrAccountLocked):
		reason, status = "lockout_triggered", "locked"
		s.audit(ctx, &userID, domain.SecurityEventAccountLocked, domain.OutcomeSuccess, "", client)
	case errors.Is(err, ErrTwoFactorInvalid):
		reason, status = "two_factor_invalid", "two_factor_invalid"
	case !errors.Is(err, ErrInvalidCredentials):
		reason, status = "error", "error"
	}
	observability.RecordAuthLogin(ctx, "password", status)
	s.audit(ctx, &userID, domain.SecurityEventLoginFailed, domain.OutcomeFailure, reason, client)
}

// startSession resets failure counters and records a new refresh family in
// one unit of work.
func (s *AuthService) startSession(ctx context.Context, user *domain.User, client domain.ClientMetadata) (*TokenPair, error) {
	var pair *TokenPair
	err := s.uow.Do(ctx, func(tx repository.Repositories) error {
		if err := tx.Credentials.RecordSuccess(ctx, user.ID, s.clock()); err != nil {
			return err
		}
		p, err := s.tokens.IssueSession(ctx, s.ledger.WithRepository(tx.Tokens), user, client)
		if err != nil {
			return err
		}
		pair = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return pair, nil
}

// LoginWithGoogle completes the OAuth code flow and starts a session for the
// linked or newly created account.
func (s *AuthService) LoginWithGoogle(ctx context.Context, code string, client domain.ClientMetadata) (*LoginResult, error) {
	if s.oauth == nil {
		return nil, ErrOAuthUnavailable
	}
	user, err := s.oauth.HandleGoogleCallback(ctx, code)
	if err != nil {
		s.audit(ctx, nil, domain.SecurityEventOAuthLogin, domain.OutcomeFailure, classifyOAuthError(err), client)
		return nil, err
	}
	if !user.IsActive() {
		observability.RecordAuthLogin(ctx, "google", "disabled")
		s.audit(ctx, &user.ID, domain.SecurityEventOAuthLogin, domain.OutcomeFailure, "account_disabled", client)
		return nil, ErrAccountDisabled
	}
	pair, err := s.startSession(ctx, user, client)
	if err != nil {
		observability.RecordAuthLogin(ctx, "google", "error")
		return nil, err
	}
	observability.RecordAuthLogin(ctx, "google", "success")
	s.audit(ctx, &user.ID, domain.SecurityEventOAuthLogin, domain.OutcomeSuccess, "", client)
	return &LoginResult{Pair: pair, User: user}, nil
}

func (s *AuthService) GoogleLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrOAuthUnavailable
	}
	return s.oauth.AuthCodeURL(state), nil
}

func (s *AuthService) Refresh(ctx context.Context, raw string, client domain.ClientMetadata) (*TokenPair, error) {
	ctx, span := observability.StartSpan(ctx, "auth.refresh")
	defer span.End()

	pair, user, err := s.tokens.Rotate(ctx, raw, s.loadUser, client)
	if err != nil {
		var reuse *RefreshReuseError
		switch {
		case errors.As(err, &reuse):
			observability.RecordAuthRefresh(ctx, "reuse_detected")
			s.audit(ctx, &reuse.UserID, domain.SecurityEventRefreshReuse, domain.OutcomeFailure, "family_revoked", client)
		case errors.Is(err, ErrTokenExpired):
			observability.RecordAuthRefresh(ctx, "expired")
		case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenRevoked):
			observability.RecordAuthRefresh(ctx, "rejected")
		default:
			observability.RecordAuthRefresh(ctx, "error")
		}
		return nil, err
	}
	observability.RecordAuthRefresh(ctx, "success")
	s.audit(ctx, &user.ID, domain.SecurityEventRefresh, domain.OutcomeSuccess, "", client)
	return pair, nil
}

func (s *AuthService) loadUser(ctx context.Context, id uint) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrTokenRevoked
	}
	return user, err
}

// AuthenticateAccess resolves the principal of a bearer access token.
func (s *AuthService) AuthenticateAccess(ctx context.Context, raw string) (*Principal, error) {
	claims, userID, err := s.tokens.AuthenticateAccess(ctx, raw)
	if err != nil {
		return nil, err
	}
	return principalFromAccessClaims(userID, claims), nil
}

// Logout ends the caller's session: the presented refresh token, or the
// session named by the access token, is revoked and the access token is
// denied until it expires.
func (s *AuthService) Logout(ctx context.Context, p *Principal, refreshRaw string, client domain.ClientMetadata) error {
	if refreshRaw != "" {
		row, err := s.ledger.Lookup(ctx, refreshRaw)
		switch {
		case err == nil && row.UserID == p.UserID && row.Type == domain.TokenTypeRefresh:
			if _, err := s.ledger.Revoke(ctx, refreshRaw, domain.ReasonLogout); err != nil {
				observability.RecordAuthLogout(ctx, "error")
				return err
			}
		case err != nil && !errors.Is(err, repository.ErrTokenNotFound):
			observability.RecordAuthLogout(ctx, "error")
			return err
		}
	}
	if p.Kind == PrincipalAccessToken {
		if _, err := s.ledger.RevokeByJTI(ctx, p.UserID, p.SessionID, domain.ReasonLogout); err != nil {
			observability.RecordAuthLogout(ctx, "error")
			return err
		}
		if err := s.tokens.DenyAccessToken(ctx, p.JTI, p.ExpiresAt); err != nil {
			observability.RecordAuthLogout(ctx, "error")
			return fmt.Errorf("deny access token: %w", err)
		}
	}
	observability.RecordAuthLogout(ctx, "success")
	s.audit(ctx, &p.UserID, domain.SecurityEventLogout, domain.OutcomeSuccess, "", client)
	return nil
}

// LogoutAll revokes every refresh and API token of the caller and refuses
// access tokens issued up to now.
func (s *AuthService) LogoutAll(ctx context.Context, p *Principal, client domain.ClientMetadata) (int64, error) {
	n, err := s.ledger.RevokeAll(ctx, p.UserID, []domain.TokenType{domain.TokenTypeRefresh, domain.TokenTypeAPI}, domain.ReasonLogoutAll)
	if err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return 0, err
	}
	if err := s.tokens.CutOffSubject(ctx, p.UserID); err != nil {
		observability.RecordAuthLogout(ctx, "error")
		return n, fmt.Errorf("set token cutoff: %w", err)
	}
	observability.RecordAuthLogout(ctx, "success")
	s.audit(ctx, &p.UserID, domain.SecurityEventLogoutAll, domain.OutcomeSuccess, "", client)
	return n, nil
}

func (s *AuthService) GetUser(ctx context.Context, id uint) (*domain.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrNotFound
	}
	return user, err
}

func (s *AuthService) ListSessions(ctx context.Context, p *Principal) ([]SessionView, error) {
	rows, err := s.ledger.ListActive(ctx, p.UserID, domain.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, SessionView{
			ID:         row.ID,
			CreatedAt:  row.CreatedAt,
			ExpiresAt:  row.ExpiresAt,
			LastUsedAt: row.LastUsedAt,
			UserAgent:  row.UserAgent,
			IP:         row.IPAddress,
			IsCurrent:  p.SessionID != "" && deref(row.JTI) == p.SessionID,
		})
	}
	return views, nil
}

// RevokeSession revokes one of the caller's refresh tokens by ledger id.
// Revoking the current session also denies the caller's access token.
func (s *AuthService) RevokeSession(ctx context.Context, p *Principal, id uint, client domain.ClientMetadata) (bool, error) {
	row, err := s.ledger.FindByID(ctx, p.UserID, id)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	changed, err := s.ledger.RevokeByID(ctx, p.UserID, id, []domain.TokenType{domain.TokenTypeRefresh}, domain.ReasonUserRevoked)
	if err != nil {
		return false, err
	}
	if p.Kind == PrincipalAccessToken && p.SessionID != "" && deref(row.JTI) == p.SessionID {
		if err := s.tokens.DenyAccessToken(ctx, p.JTI, p.ExpiresAt); err != nil {
			return changed, fmt.Errorf("deny access token: %w", err)
		}
	}
	if changed {
		s.audit(ctx, &p.UserID, domain.SecurityEventSessionRevoked, domain.OutcomeSuccess, "", client)
	}
	return changed, nil
}

func (s *AuthService) SecurityLog(ctx context.Context, p *Principal, query repository.SecurityLogQuery) (repository.PageResult[domain.SecurityLog], error) {
	return s.events.List(ctx, p.UserID, query)
}

func (s *AuthService) credentialOf(ctx context.Context, user *domain.User) (*domain.Credential, error) {
	if user.Credential != nil {
		return user.Credential, nil
	}
	cred, err := s.credentials.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	user.Credential = cred
	return cred, nil
}

func (s *AuthService) audit(ctx context.Context, userID *uint, event domain.SecurityEvent, outcome, reason string, client domain.ClientMetadata) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, SecurityEventInput{UserID: userID, Event: event, Outcome: outcome, Reason: reason, Client: client})
}
