package service

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/metrics"
	"github.com/prn-tf/quill/internal/pkg/crypto"
	"github.com/prn-tf/quill/internal/repository"
)

// SessionService owns authentication, registration and the session
// lifecycle, including the reserved administrator bootstrap.
type SessionService struct {
	repo     *repository.Repository
	notifier domain.Notifier
	cfg      config.SessionConfig
	admin    config.AdminConfig
	logger   zerolog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(repo *repository.Repository, notifier domain.Notifier, cfg config.SessionConfig, admin config.AdminConfig, logger zerolog.Logger) *SessionService {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &SessionService{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		admin:    admin,
		logger:   logger.With().Str("service", "session").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// Admin bootstrap
// =============================================================================

// EnsureAdminAccount makes the user table hold exactly one privileged
// account under the reserved username. Idempotent: running it twice in a
// row performs no second write. Three normalizations are applied:
//   - privileged accounts under any other username are demoted away
//     (removed, they predate the reserved-name rule),
//   - a missing admin record is appended,
//   - a present admin record is patched only when it drifted (wrong
//     password digest, lost admin flag, or missing fields).
func (s *SessionService) EnsureAdminAccount(ctx context.Context) error {
	s.repo.ReloadUsers(ctx)

	// Drop stray privileged accounts.
	for _, u := range s.repo.Users() {
		if u.IsAdmin && !u.IsReservedAdmin() {
			s.logger.Warn().Str("username", u.Username).Msg("removing stray privileged account")
			s.repo.RemoveUser(ctx, u.ID)
		}
	}

	admin, found := s.repo.UserByUsername(domain.AdminUsername)
	if !found {
		digest, err := crypto.HashPassword(s.admin.Password)
		if err != nil {
			return fmt.Errorf("%w: hashing admin password: %v", domain.ErrInitializationFailure, err)
		}
		admin = domain.NewUser(uuid.NewString(), domain.AdminUsername, s.admin.Email, digest)
		admin.IsAdmin = true
		if !s.repo.AddUser(ctx, admin) {
			s.logger.Warn().Msg("admin record not persisted, continuing in-memory")
		}
		s.logger.Info().Msg("administrator account created")
		return nil
	}

	// Patch drift without touching a healthy record.
	patched := *admin
	changed := false
	if !patched.IsAdmin {
		patched.IsAdmin = true
		changed = true
	}
	if patched.Email == "" {
		patched.Email = s.admin.Email
		changed = true
	}
	if patched.IsLocked || patched.LockedUntil != nil {
		patched.IsLocked = false
		patched.LockedUntil = nil
		patched.LoginAttempts = 0
		changed = true
	}
	if !crypto.VerifyPassword(patched.PasswordDigest, s.admin.Password) {
		digest, err := crypto.HashPassword(s.admin.Password)
		if err != nil {
			return fmt.Errorf("%w: hashing admin password: %v", domain.ErrInitializationFailure, err)
		}
		patched.PasswordDigest = digest
		changed = true
	}

	if changed {
		s.repo.UpdateUser(ctx, &patched)
		s.logger.Info().Msg("administrator account repaired")
	}
	return nil
}

// =============================================================================
// Login / logout
// =============================================================================

// LoginInput carries login credentials.
type LoginInput struct {
	Username string
	Password string
}

// Login authenticates the user and installs a session. On success the
// session expiry is exactly the login time plus the configured TTL.
func (s *SessionService) Login(ctx context.Context, input LoginInput) (*domain.Session, error) {
	if input.Username == "" || input.Password == "" {
		s.notifier.Notify(domain.Notification{
			Message: "Username and password are required", Kind: domain.NotifyError,
			DurationMs: 4000, AutoClose: true,
		})
		return nil, domain.ErrInvalidInput
	}
	// Too short to ever be a stored password; reject before touching
	// storage so a malformed submission cannot advance the failure counter.
	if len(input.Password) < minPasswordLength {
		s.notifier.Notify(domain.Notification{
			Message: "Password must be at least 6 characters", Kind: domain.NotifyError,
			DurationMs: 4000, AutoClose: true,
		})
		return nil, domain.ErrInvalidInput
	}

	// Authenticate against the freshest table another instance may have
	// written.
	s.repo.ReloadUsers(ctx)

	user, found := s.repo.UserByUsername(input.Username)
	if !found {
		s.notifier.Notify(domain.Notification{
			Message: "User not found", Kind: domain.NotifyError,
			DurationMs: 4000, AutoClose: true,
		})
		return nil, domain.ErrUserNotFound
	}

	now := s.now()
	if locked, remaining := user.LockedOut(now); locked {
		minutes := int(remaining.Minutes()) + 1
		s.notifier.Notify(domain.Notification{
			Message: fmt.Sprintf("Account locked. Try again in %d minutes", minutes),
			Kind:    domain.NotifyError, AutoClose: false,
		})
		return nil, domain.NewDomainError(domain.ErrAccountLocked,
			fmt.Sprintf("%d minutes remaining", minutes), user.Username)
	}

	if !crypto.VerifyPassword(user.PasswordDigest, input.Password) {
		return nil, s.recordFailure(ctx, user, now)
	}

	user.LoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = now
	s.repo.UpdateUser(ctx, user)

	expiry := now.Add(s.cfg.TTL)
	session := &domain.Session{
		ID:            uuid.NewString(),
		Username:      user.Username,
		IsAdmin:       user.IsAdmin,
		Email:         user.Email,
		LoginTime:     now,
		SessionExpiry: &expiry,
	}
	s.repo.SetSession(ctx, session)

	s.logger.Info().Str("username", user.Username).Bool("is_admin", user.IsAdmin).Msg("user logged in")
	s.notifier.Notify(domain.Notification{
		Message: "Welcome back, " + user.Username, Kind: domain.NotifySuccess,
		DurationMs: 3000, AutoClose: true,
	})
	return session, nil
}

// recordFailure increments the failure counter and locks the account when
// the threshold is reached. The user record is persisted either way.
func (s *SessionService) recordFailure(ctx context.Context, user *domain.User, now time.Time) error {
	metrics.LoginFailures.Inc()
	user.LoginAttempts++

	if user.LoginAttempts >= s.cfg.FailureThreshold && !user.IsReservedAdmin() {
		until := now.Add(s.cfg.LockoutDuration)
		user.LockedUntil = &until
		s.repo.UpdateUser(ctx, user)

		metrics.Lockouts.Inc()
		s.logger.Warn().Str("username", user.Username).Msg("account locked after repeated failures")
		s.notifier.Notify(domain.Notification{
			Message: fmt.Sprintf("Too many failed attempts. Account locked for %d minutes",
				int(s.cfg.LockoutDuration.Minutes())),
			Kind: domain.NotifyError, AutoClose: false,
		})
		return domain.NewDomainError(domain.ErrAccountLocked, "lockout threshold reached", user.Username)
	}

	s.repo.UpdateUser(ctx, user)
	remaining := s.cfg.FailureThreshold - user.LoginAttempts
	s.notifier.Notify(domain.Notification{
		Message: fmt.Sprintf("Wrong password. %d attempts remaining", remaining),
		Kind:    domain.NotifyError, DurationMs: 4000, AutoClose: true,
	})
	return domain.ErrInvalidCredentials
}

// Logout clears the session from memory and storage. Always succeeds.
func (s *SessionService) Logout(ctx context.Context) {
	s.repo.ClearSession(ctx)
	s.logger.Info().Msg("user logged out")
}

// =============================================================================
// Session validation
// =============================================================================

// ValidateSession checks a candidate session's structural integrity and
// age. A session older than the configured maximum is rejected regardless
// of its recorded expiry.
func (s *SessionService) ValidateSession(candidate *domain.Session) bool {
	if candidate == nil {
		return false
	}
	if candidate.Username == "" {
		return false
	}
	if candidate.LoginTime.IsZero() {
		return false
	}
	if s.now().Sub(candidate.LoginTime) > s.cfg.MaxAge {
		return false
	}
	return true
}

// CheckLoginStatus resolves the startup login state: bootstrap the admin
// account, then accept the persisted session only if it is structurally
// valid, unexpired and still names an existing user. Any failed check
// clears the session and yields the logged-out state (nil, nil).
func (s *SessionService) CheckLoginStatus(ctx context.Context) (*domain.Session, error) {
	s.repo.ReloadUsers(ctx)
	if err := s.EnsureAdminAccount(ctx); err != nil {
		return nil, err
	}

	s.repo.ReloadSession(ctx)
	session := s.repo.Session()
	if session == nil {
		return nil, nil
	}

	if !s.ValidateSession(session) {
		s.logger.Warn().Msg("persisted session failed validation, clearing")
		s.repo.ClearSession(ctx)
		return nil, nil
	}

	if session.Expired(s.now()) {
		s.repo.ClearSession(ctx)
		s.notifier.Notify(domain.Notification{
			Message: "Session expired, please log in again", Kind: domain.NotifyWarning,
			DurationMs: 5000, AutoClose: true,
		})
		return nil, nil
	}

	if _, found := s.repo.UserByUsername(session.Username); !found {
		s.logger.Warn().Str("username", session.Username).Msg("session names a missing user, clearing")
		s.repo.ClearSession(ctx)
		return nil, nil
	}

	return session, nil
}

// =============================================================================
// Registration
// =============================================================================

// RegisterInput carries new-account fields.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Register creates a non-admin account and logs it in. The auto-created
// session carries no expiry; it falls to the age ceiling instead.
func (s *SessionService) Register(ctx context.Context, input RegisterInput) (*domain.Session, error) {
	if err := s.validateRegisterInput(input); err != nil {
		s.notifier.Notify(domain.Notification{
			Message: err.Error(), Kind: domain.NotifyError,
			DurationMs: 4000, AutoClose: true,
		})
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	s.repo.ReloadUsers(ctx)

	if _, taken := s.repo.UserByUsername(input.Username); taken {
		s.notifier.Notify(domain.Notification{
			Message: "Username already taken", Kind: domain.NotifyError,
			DurationMs: 4000, AutoClose: true,
		})
		return nil, domain.ErrUserAlreadyExists
	}
	if s.repo.EmailTaken(input.Email) {
		s.notifier.Notify(domain.Notification{
			Message: "Email already in use", Kind: domain.NotifyError,
			DurationMs: 4000, AutoClose: true,
		})
		return nil, fmt.Errorf("%w: %w", domain.ErrUserAlreadyExists, ErrEmailAlreadyTaken)
	}

	digest, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := domain.NewUser(uuid.NewString(), input.Username, input.Email, digest)
	s.repo.AddUser(ctx, user)

	session := &domain.Session{
		ID:        uuid.NewString(),
		Username:  user.Username,
		Email:     user.Email,
		LoginTime: s.now(),
	}
	s.repo.SetSession(ctx, session)

	s.logger.Info().Str("username", user.Username).Msg("user registered")
	s.notifier.Notify(domain.Notification{
		Message: "Welcome, " + user.Username, Kind: domain.NotifySuccess,
		DurationMs: 3000, AutoClose: true,
	})
	return session, nil
}

func (s *SessionService) validateRegisterInput(input RegisterInput) error {
	if !domain.ValidUsername(input.Username) {
		return ErrInvalidUsername
	}
	if input.Username == domain.AdminUsername {
		return ErrReservedUsername
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return ErrInvalidEmail
	}
	if !validPassword(input.Password) {
		return ErrInvalidPassword
	}
	if input.Password != input.ConfirmPassword {
		return ErrPasswordMismatch
	}
	return nil
}

// minPasswordLength is the floor shared by registration and the login
// precondition.
const minPasswordLength = 6

// validPassword requires at least 6 characters including a letter and a
// digit.
func validPassword(password string) bool {
	if len(password) < minPasswordLength {
		return false
	}
	hasLetter, hasDigit := false, false
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
	}
	return hasLetter && hasDigit
}
