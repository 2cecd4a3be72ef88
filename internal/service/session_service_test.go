package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/kvstore"
	"github.com/prn-tf/quill/internal/pkg/crypto"
	"github.com/prn-tf/quill/internal/repository"
	"github.com/prn-tf/quill/internal/store"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		TTL:              24 * time.Hour,
		MaxAge:           30 * 24 * time.Hour,
		FailureThreshold: 5,
		LockoutDuration:  30 * time.Minute,
	}
}

func testAdminConfig() config.AdminConfig {
	return config.AdminConfig{Password: "admin123", Email: "admin@quill.local"}
}

func newSessionStack(t *testing.T) (*repository.Repository, *SessionService) {
	t.Helper()
	backend := kvstore.NewMemoryStore()
	t.Cleanup(func() { backend.Close() })
	repo := repository.NewRepository(store.NewAdapter(backend, zerolog.Nop()), zerolog.Nop())
	svc := NewSessionService(repo, nil, testSessionConfig(), testAdminConfig(), zerolog.Nop())
	return repo, svc
}

func addUser(t *testing.T, repo *repository.Repository, username, password string) *domain.User {
	t.Helper()
	digest, err := crypto.HashPassword(password)
	require.NoError(t, err)
	user := domain.NewUser("id-"+username, username, username+"@example.com", digest)
	require.True(t, repo.AddUser(context.Background(), user))
	return user
}

// =============================================================================
// Login
// =============================================================================

func TestLoginSessionExpiryIsLoginTimePlusTTL(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)
	addUser(t, repo, "alice", "hunter42")

	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	session, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "hunter42"})
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, fixed, session.LoginTime)
	require.NotNil(t, session.SessionExpiry)
	require.Equal(t, fixed.Add(24*time.Hour), *session.SessionExpiry)
	require.True(t, svc.ValidateSession(session))

	// The session is persisted, not just returned.
	repo.ReloadSession(ctx)
	require.NotNil(t, repo.Session())

	// Last login is stamped and the failure counter cleared.
	user, found := repo.UserByUsername("alice")
	require.True(t, found)
	require.Equal(t, fixed, user.LastLogin)
	require.Zero(t, user.LoginAttempts)
}

func TestLoginRejectsEmptyInput(t *testing.T) {
	ctx := context.Background()
	_, svc := newSessionStack(t)

	_, err := svc.Login(ctx, LoginInput{Username: "", Password: "x"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Login(ctx, LoginInput{Username: "alice", Password: ""})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoginShortPasswordFailsValidationWithoutCountingAttempt(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)
	addUser(t, repo, "alice", "hunter42")

	// Shorter than any stored password can be: rejected as input, not as
	// credentials, so it never advances the failure counter.
	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "abc"})
		require.ErrorIs(t, err, domain.ErrInvalidInput)
		require.NotErrorIs(t, err, domain.ErrInvalidCredentials)
	}

	user, found := repo.UserByUsername("alice")
	require.True(t, found)
	require.Zero(t, user.LoginAttempts)
	require.Nil(t, user.LockedUntil)

	session, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "hunter42"})
	require.NoError(t, err)
	require.NotNil(t, session)
}

func TestLoginUnknownUser(t *testing.T) {
	ctx := context.Background()
	_, svc := newSessionStack(t)

	_, err := svc.Login(ctx, LoginInput{Username: "nobody", Password: "whatever1"})
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestLoginLegacyDigestStillWorks(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)

	user := domain.NewUser("id-old", "olduser", "old@example.com",
		crypto.LegacyPrefix+crypto.LegacyDigest("imported1"))
	require.True(t, repo.AddUser(ctx, user))

	session, err := svc.Login(ctx, LoginInput{Username: "olduser", Password: "imported1"})
	require.NoError(t, err)
	require.Equal(t, "olduser", session.Username)
}

func TestLockoutAfterThresholdAndRecovery(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)
	addUser(t, repo, "alice", "hunter42")

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		_, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong99"})
		require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	}

	// The fifth failure trips the lockout.
	_, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong99"})
	require.ErrorIs(t, err, domain.ErrAccountLocked)

	// Even the correct password is refused while locked.
	_, err = svc.Login(ctx, LoginInput{Username: "alice", Password: "hunter42"})
	require.ErrorIs(t, err, domain.ErrAccountLocked)

	// The lockout survives a reload from storage.
	user, found := repo.UserByUsername("alice")
	require.True(t, found)
	require.NotNil(t, user.LockedUntil)
	require.Equal(t, now.Add(30*time.Minute), *user.LockedUntil)

	// Once the lockout elapses, login succeeds and state resets.
	now = now.Add(31 * time.Minute)
	session, err := svc.Login(ctx, LoginInput{Username: "alice", Password: "hunter42"})
	require.NoError(t, err)
	require.NotNil(t, session)

	user, _ = repo.UserByUsername("alice")
	require.Zero(t, user.LoginAttempts)
	require.Nil(t, user.LockedUntil)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidateSession(t *testing.T) {
	_, svc := newSessionStack(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	tests := []struct {
		name    string
		session *domain.Session
		want    bool
	}{
		{name: "nil session", session: nil, want: false},
		{name: "empty username", session: &domain.Session{ID: "s", LoginTime: now}, want: false},
		{name: "zero login time", session: &domain.Session{ID: "s", Username: "alice"}, want: false},
		{
			name:    "thirty-one days old",
			session: &domain.Session{ID: "s", Username: "alice", LoginTime: now.Add(-31 * 24 * time.Hour)},
			want:    false,
		},
		{
			name:    "just under the ceiling",
			session: &domain.Session{ID: "s", Username: "alice", LoginTime: now.Add(-29 * 24 * time.Hour)},
			want:    true,
		},
		{
			name:    "fresh",
			session: &domain.Session{ID: "s", Username: "alice", LoginTime: now},
			want:    true,
		},
		{
			name:    "no expiry set is acceptable",
			session: &domain.Session{ID: "s", Username: "alice", LoginTime: now.Add(-time.Hour)},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, svc.ValidateSession(tt.session))
		})
	}
}

// =============================================================================
// Admin bootstrap
// =============================================================================

func TestEnsureAdminAccountCreatesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)

	require.NoError(t, svc.EnsureAdminAccount(ctx))

	admin, found := repo.UserByUsername(domain.AdminUsername)
	require.True(t, found)
	require.True(t, admin.IsAdmin)
	firstDigest := admin.PasswordDigest

	// The second run finds a healthy record and writes nothing.
	require.NoError(t, svc.EnsureAdminAccount(ctx))
	again, _ := repo.UserByUsername(domain.AdminUsername)
	require.Equal(t, firstDigest, again.PasswordDigest)
	require.Len(t, repo.Users(), 1)

	// The bootstrap password authenticates.
	_, err := svc.Login(ctx, LoginInput{Username: domain.AdminUsername, Password: "admin123"})
	require.NoError(t, err)
}

func TestEnsureAdminAccountRemovesStrayPrivilegedAccounts(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)

	stray := domain.NewUser("id-stray", "superuser", "s@example.com", "digest")
	stray.IsAdmin = true
	require.True(t, repo.AddUser(ctx, stray))

	require.NoError(t, svc.EnsureAdminAccount(ctx))

	_, found := repo.UserByUsername("superuser")
	require.False(t, found)
	admin, found := repo.UserByUsername(domain.AdminUsername)
	require.True(t, found)
	require.True(t, admin.IsAdmin)
}

func TestEnsureAdminAccountRepairsDrift(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)
	require.NoError(t, svc.EnsureAdminAccount(ctx))

	// Strip the flag and lock the account behind the service's back.
	admin, _ := repo.UserByUsername(domain.AdminUsername)
	admin.IsAdmin = false
	admin.IsLocked = true
	until := time.Now().Add(time.Hour)
	admin.LockedUntil = &until
	require.True(t, repo.UpdateUser(ctx, admin))

	require.NoError(t, svc.EnsureAdminAccount(ctx))

	repaired, _ := repo.UserByUsername(domain.AdminUsername)
	require.True(t, repaired.IsAdmin)
	require.False(t, repaired.IsLocked)
	require.Nil(t, repaired.LockedUntil)
}

// =============================================================================
// Startup status
// =============================================================================

func TestCheckLoginStatusClearsExpiredSession(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)
	addUser(t, repo, "alice", "hunter42")

	past := time.Now().UTC().Add(-time.Hour)
	require.True(t, repo.SetSession(ctx, &domain.Session{
		ID: "s1", Username: "alice",
		LoginTime:     past.Add(-23 * time.Hour),
		SessionExpiry: &past,
	}))

	session, err := svc.CheckLoginStatus(ctx)
	require.NoError(t, err)
	require.Nil(t, session)
	require.Nil(t, repo.Session())
}

func TestCheckLoginStatusClearsSessionForMissingUser(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)

	require.True(t, repo.SetSession(ctx, &domain.Session{
		ID: "s1", Username: "ghost", LoginTime: time.Now().UTC(),
	}))

	session, err := svc.CheckLoginStatus(ctx)
	require.NoError(t, err)
	require.Nil(t, session)
	require.Nil(t, repo.Session())
}

func TestCheckLoginStatusKeepsValidSession(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)
	addUser(t, repo, "alice", "hunter42")

	expiry := time.Now().UTC().Add(12 * time.Hour)
	require.True(t, repo.SetSession(ctx, &domain.Session{
		ID: "s1", Username: "alice",
		LoginTime:     time.Now().UTC().Add(-12 * time.Hour),
		SessionExpiry: &expiry,
	}))

	session, err := svc.CheckLoginStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, "alice", session.Username)
}

// =============================================================================
// Registration
// =============================================================================

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{name: "username too short", input: RegisterInput{Username: "ab", Email: "a@b.co", Password: "pass12", ConfirmPassword: "pass12"}},
		{name: "username bad characters", input: RegisterInput{Username: "a b!", Email: "a@b.co", Password: "pass12", ConfirmPassword: "pass12"}},
		{name: "reserved username", input: RegisterInput{Username: "admin", Email: "a@b.co", Password: "pass12", ConfirmPassword: "pass12"}},
		{name: "bad email", input: RegisterInput{Username: "alice", Email: "not-an-email", Password: "pass12", ConfirmPassword: "pass12"}},
		{name: "password too short", input: RegisterInput{Username: "alice", Email: "a@b.co", Password: "ab1", ConfirmPassword: "ab1"}},
		{name: "password no digit", input: RegisterInput{Username: "alice", Email: "a@b.co", Password: "abcdef", ConfirmPassword: "abcdef"}},
		{name: "password no letter", input: RegisterInput{Username: "alice", Email: "a@b.co", Password: "123456", ConfirmPassword: "123456"}},
		{name: "confirmation mismatch", input: RegisterInput{Username: "alice", Email: "a@b.co", Password: "pass12", ConfirmPassword: "pass13"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, svc := newSessionStack(t)
			_, err := svc.Register(ctx, tt.input)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestRegisterSuccessCreatesSessionWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)

	session, err := svc.Register(ctx, RegisterInput{
		Username: "alice", Email: "alice@example.com",
		Password: "pass12", ConfirmPassword: "pass12",
	})
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Equal(t, "alice", session.Username)
	require.False(t, session.IsAdmin)
	require.Nil(t, session.SessionExpiry)
	require.True(t, svc.ValidateSession(session))

	user, found := repo.UserByUsername("alice")
	require.True(t, found)
	require.False(t, user.IsAdmin)
	require.True(t, crypto.VerifyPassword(user.PasswordDigest, "pass12"))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo, svc := newSessionStack(t)
	addUser(t, repo, "alice", "hunter42")

	_, err := svc.Register(ctx, RegisterInput{
		Username: "alice", Email: "other@example.com",
		Password: "pass12", ConfirmPassword: "pass12",
	})
	require.ErrorIs(t, err, domain.ErrUserAlreadyExists)

	_, err = svc.Register(ctx, RegisterInput{
		Username: "alice2", Email: "alice@example.com",
		Password: "pass12", ConfirmPassword: "pass12",
	})
	require.ErrorIs(t, err, domain.ErrUserAlreadyExists)
}
