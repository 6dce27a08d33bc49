package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/notify"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/idx"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
	"go.opentelemetry.io/otel/attribute"
)

type JoinInput struct {
	Email       string
	Username    string
	DisplayName string
	Password    string
}

type LoginInput struct {
	// Identifier is an email address or a username.
	Identifier string
	Password   string

	// OTP is a TOTP code or a backup code. Only consulted when MFA is enabled.
	OTP string
}

// Join registers a new member account and starts its first session.
//
// When email verification is required the account starts pending and a
// verification message is queued once the transaction has committed.
func (m *Manager) Join(ctx context.Context, in JoinInput, client ClientInfo) (out AccountWithToken, err error) {
	ctx, span := tracer.Start(ctx, "service.Join")
	defer func() { endSpan(span, err) }()

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return AccountWithToken{}, err
	}
	username, err := validateUsername(in.Username)
	if err != nil {
		return AccountWithToken{}, err
	}
	if err := validatePassword("password", in.Password); err != nil {
		return AccountWithToken{}, err
	}
	displayName, err := validateDisplayName(in.DisplayName)
	if err != nil {
		return AccountWithToken{}, err
	}

	if err := m.checkAvailable(ctx, email, username); err != nil {
		if KindOf(err) == KindConflict {
			m.metrics.RecordJoin(metrics.OutcomeConflict)
		}
		return AccountWithToken{}, err
	}

	// Hashing is slow; keep it outside the write transaction.
	digest, err := m.hasher.Hash(in.Password)
	if err != nil {
		return AccountWithToken{}, internalErr("PASSWORD_HASH_FAILED", err)
	}

	now := m.now().UTC()
	status := domain.StatusActive
	if m.policy.RequireEmailVerification {
		status = domain.StatusPendingVerification
	}
	acct := domain.Account{
		ID:           idx.New().String(),
		Email:        email,
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: digest,
		Role:         domain.RoleMember,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var (
		pair        domain.TokenPair
		verifyToken string
		verifyExp   time.Time
	)
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		if err := m.createAccount(ctx, tx, acct); err != nil {
			return err
		}
		if m.policy.RequireEmailVerification {
			var err error
			verifyToken, verifyExp, err = m.newActionToken(ctx, tx, acct.ID, domain.PurposeVerifyEmail, m.policy.VerifyTokenTTL, now)
			if err != nil {
				return err
			}
		}
		var err error
		pair, err = m.startSession(ctx, tx, acct, []string{jwtx.AMRPassword}, client, now)
		return err
	})
	if err != nil {
		if KindOf(err) == KindConflict {
			m.metrics.RecordJoin(metrics.OutcomeConflict)
		}
		return AccountWithToken{}, err
	}

	if verifyToken != "" {
		m.enqueue(ctx, notify.Message{
			Kind:      notify.KindVerifyEmail,
			AccountID: acct.ID,
			To:        acct.Email,
			Token:     verifyToken,
			ExpiresAt: verifyExp,
		})
	}

	m.metrics.RecordJoin(metrics.OutcomeSuccess)
	span.SetAttributes(attribute.String("account.id", acct.ID))
	slogx.FromContext(ctx).Info("account joined",
		slog.String("account_id", acct.ID),
		slog.String("status", string(acct.Status)),
		slog.String("session_id", pair.SessionID))

	return AccountWithToken{Account: acct, Token: pair}, nil
}

// checkAvailable gives a field-specific conflict before any write. The
// unique indexes remain the authoritative check.
func (m *Manager) checkAvailable(ctx context.Context, email, username string) error {
	_, err := m.store.Accounts().GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrEmailTaken
	case !errors.Is(err, store.ErrNotFound):
		return internalErr("ACCOUNT_LOOKUP_FAILED", err)
	}

	if username == "" {
		return nil
	}
	_, err = m.store.Accounts().GetAccountByUsername(ctx, username)
	switch {
	case err == nil:
		return ErrUsernameTaken
	case !errors.Is(err, store.ErrNotFound):
		return internalErr("ACCOUNT_LOOKUP_FAILED", err)
	}
	return nil
}

func (m *Manager) createAccount(ctx context.Context, q store.Store, acct domain.Account) error {
	err := q.Accounts().CreateAccount(ctx, acct)
	if errors.Is(err, store.ErrAlreadyExists) {
		return ErrAccountExists
	}
	if err != nil {
		return internalErr("ACCOUNT_CREATE_FAILED", err, "account_id", acct.ID)
	}
	return nil
}

// Login verifies credentials and starts a new session.
//
// Unknown identifiers, wrong passwords and locked accounts all yield
// ErrInvalidCredentials after a password verification of similar cost.
// Suspension is only disclosed once the password has verified.
func (m *Manager) Login(ctx context.Context, in LoginInput, client ClientInfo) (out AccountWithToken, err error) {
	ctx, span := tracer.Start(ctx, "service.Login")
	defer func() { endSpan(span, err) }()

	logger := slogx.FromContext(ctx)
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" {
		return AccountWithToken{}, validationError("identifier", "identifier is required")
	}
	if in.Password == "" {
		return AccountWithToken{}, validationError("password", "password is required")
	}

	acct, err := m.lookupIdentifier(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		m.verifyDummy(in.Password)
		m.metrics.RecordLogin(metrics.OutcomeInvalidCredentials)
		logger.Info("login failed", slog.String("reason", "unknown_identifier"))
		return AccountWithToken{}, ErrInvalidCredentials
	}
	if err != nil {
		return AccountWithToken{}, internalErr("ACCOUNT_LOOKUP_FAILED", err)
	}
	logger = logger.With(slog.String("account_id", acct.ID))

	now := m.now().UTC()
	if acct.IsLocked(now) {
		m.verifyPassword(acct, in.Password)
		m.metrics.RecordLogin(metrics.OutcomeLocked)
		logger.Warn("login rejected", slog.String("reason", "locked"))
		return AccountWithToken{}, ErrInvalidCredentials
	}

	if !m.verifyPassword(acct, in.Password) {
		if err := m.recordFailure(ctx, acct, now); err != nil {
			return AccountWithToken{}, err
		}
		m.metrics.RecordLogin(metrics.OutcomeInvalidCredentials)
		logger.Info("login failed", slog.String("reason", "bad_password"))
		return AccountWithToken{}, ErrInvalidCredentials
	}

	if acct.Status == domain.StatusSuspended {
		m.metrics.RecordLogin(metrics.OutcomeSuspended)
		logger.Warn("login rejected", slog.String("reason", "suspended"))
		return AccountWithToken{}, ErrAccountSuspended
	}

	amr := []string{jwtx.AMRPassword}
	if acct.MFAEnabled() {
		if in.OTP == "" {
			m.metrics.RecordLogin(metrics.OutcomeMFARequired)
			return AccountWithToken{}, ErrMFARequired
		}
		ok, err := m.checkSecondFactor(ctx, acct, in.OTP, now)
		if err != nil {
			return AccountWithToken{}, err
		}
		if !ok {
			if err := m.recordFailure(ctx, acct, now); err != nil {
				return AccountWithToken{}, err
			}
			m.metrics.RecordLogin(metrics.OutcomeMFARequired)
			logger.Info("login failed", slog.String("reason", "bad_otp"))
			return AccountWithToken{}, ErrMFARequired
		}
		amr = append(amr, jwtx.AMROTP)
	}

	var rehash string
	if m.hasher.NeedsRehash(acct.PasswordHash) {
		if rehash, err = m.hasher.Hash(in.Password); err != nil {
			logger.Warn("password rehash failed", slog.Any("error", err))
			rehash = ""
		}
	}

	var pair domain.TokenPair
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		switch {
		case rehash != "":
			// Also clears the lockout counters.
			if err := tx.Accounts().UpdatePasswordHash(ctx, acct.ID, rehash); err != nil {
				return internalErr("PASSWORD_UPDATE_FAILED", err, "account_id", acct.ID)
			}
		case acct.FailedLogins > 0 || acct.LockedUntil != nil:
			if err := tx.Accounts().ClearLockout(ctx, acct.ID); err != nil {
				return internalErr("LOCKOUT_RESET_FAILED", err, "account_id", acct.ID)
			}
		}
		var err error
		pair, err = m.startSession(ctx, tx, acct, amr, client, now)
		return err
	})
	if err != nil {
		return AccountWithToken{}, err
	}

	if rehash != "" {
		acct.PasswordHash = rehash
	}
	acct.FailedLogins, acct.LastFailedLoginAt, acct.LockedUntil = 0, nil, nil

	m.metrics.RecordLogin(metrics.OutcomeSuccess)
	span.SetAttributes(attribute.String("account.id", acct.ID))
	logger.Info("login succeeded",
		slog.String("session_id", pair.SessionID),
		slog.Bool("mfa", len(amr) > 1),
		slog.Bool("rehashed", rehash != ""))

	return AccountWithToken{Account: acct, Token: pair}, nil
}

func (m *Manager) recordFailure(ctx context.Context, acct domain.Account, now time.Time) error {
	l, err := m.store.Accounts().RecordLoginFailure(ctx, acct.ID, now, m.policy.LockoutThreshold, m.policy.LockoutWindow)
	if err != nil {
		return internalErr("LOCKOUT_UPDATE_FAILED", err, "account_id", acct.ID)
	}
	if l.LockedUntil != nil && l.FailedLogins == m.policy.LockoutThreshold {
		slogx.FromContext(ctx).Warn("account locked",
			slog.String("account_id", acct.ID),
			slog.Time("locked_until", *l.LockedUntil))
	}
	return nil
}

// Refresh exchanges a refresh token for a new pair. In persistent mode the
// presented token must be the one currently recorded for its session;
// anything else is treated as replay and revokes the session.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (out AccountWithToken, err error) {
	ctx, span := tracer.Start(ctx, "service.Refresh")
	defer func() { endSpan(span, err) }()

	logger := slogx.FromContext(ctx)
	claims, err := m.tokens.Verify(refreshToken, jwtx.TokenTypeRefresh)
	if err != nil {
		m.metrics.RecordRefresh(metrics.OutcomeInvalid)
		logger.Debug("refresh token rejected", slog.Any("error", err))
		return AccountWithToken{}, ErrUnauthorized
	}
	logger = logger.With(slog.String("account_id", claims.Subject), slog.String("session_id", claims.SID))

	acct, err := m.store.Accounts().GetAccountByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		m.metrics.RecordRefresh(metrics.OutcomeInvalid)
		return AccountWithToken{}, ErrUnauthorized
	}
	if err != nil {
		return AccountWithToken{}, internalErr("ACCOUNT_LOOKUP_FAILED", err, "account_id", claims.Subject)
	}
	if !domain.IsActive(acct) {
		m.metrics.RecordRefresh(metrics.OutcomeSuspended)
		return AccountWithToken{}, ErrUnauthorized
	}

	if !m.policy.persistent() {
		pair, err := m.issuePair(acct, "", claims.AMR)
		if err != nil {
			return AccountWithToken{}, err
		}
		m.metrics.RecordRefresh(metrics.OutcomeSuccess)
		return AccountWithToken{Account: acct, Token: pair}, nil
	}

	if claims.SID == "" {
		m.metrics.RecordRefresh(metrics.OutcomeInvalid)
		return AccountWithToken{}, ErrUnauthorized
	}

	pair, err := m.issuePair(acct, claims.SID, claims.AMR)
	if err != nil {
		return AccountWithToken{}, err
	}

	now := m.now().UTC()
	err = m.store.Sessions().RotateSession(ctx, claims.SID,
		cryptox.FingerprintToken(refreshToken), cryptox.FingerprintToken(pair.Refresh),
		pair.RefreshableUntil, now)
	if errors.Is(err, store.ErrNotFound) {
		m.revokeReplayed(ctx, claims.SID, now)
		m.metrics.RecordRefresh(metrics.OutcomeReplay)
		logger.Warn("refresh token replay detected, session revoked")
		return AccountWithToken{}, ErrUnauthorized
	}
	if err != nil {
		return AccountWithToken{}, internalErr("SESSION_ROTATE_FAILED", err, "session_id", claims.SID)
	}

	m.metrics.RecordRefresh(metrics.OutcomeSuccess)
	logger.Debug("session rotated")
	return AccountWithToken{Account: acct, Token: pair}, nil
}

func (m *Manager) revokeReplayed(ctx context.Context, sid string, now time.Time) {
	err := m.store.Sessions().RevokeSession(ctx, sid, now)
	switch {
	case err == nil:
		m.metrics.RecordSessionsRevoked(1)
	case !errors.Is(err, store.ErrNotFound):
		slogx.FromContext(ctx).Error("failed to revoke replayed session",
			slog.String("session_id", sid), slog.Any("error", err))
	}
}

// Logout revokes the caller's current session. It succeeds when the session
// is already gone and is a no-op in stateless mode.
func (m *Manager) Logout(ctx context.Context, p Principal) (err error) {
	ctx, span := tracer.Start(ctx, "service.Logout")
	defer func() { endSpan(span, err) }()

	if !m.policy.persistent() || p.SessionID == "" {
		return nil
	}
	err = m.store.Sessions().RevokeSession(ctx, p.SessionID, m.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return internalErr("SESSION_REVOKE_FAILED", err, "session_id", p.SessionID)
	}
	m.metrics.RecordSessionsRevoked(1)
	slogx.FromContext(ctx).Info("logged out",
		slog.String("account_id", p.ID), slog.String("session_id", p.SessionID))
	return nil
}

// LogoutAll revokes every session of the caller, including the current one.
func (m *Manager) LogoutAll(ctx context.Context, p Principal) (err error) {
	ctx, span := tracer.Start(ctx, "service.LogoutAll")
	defer func() { endSpan(span, err) }()

	if err := m.revokeOthers(ctx, m.store, p.ID, "", m.now().UTC()); err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("logged out everywhere", slog.String("account_id", p.ID))
	return nil
}

// RevokeSession revokes one session owned by the caller.
func (m *Manager) RevokeSession(ctx context.Context, p Principal, sessionID string) (err error) {
	ctx, span := tracer.Start(ctx, "service.RevokeSession")
	defer func() { endSpan(span, err) }()

	if !m.policy.persistent() {
		return ErrSessionNotFound
	}

	s, err := m.store.Sessions().GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return internalErr("SESSION_LOOKUP_FAILED", err, "session_id", sessionID)
	}
	if err := m.guard.RequireOwner(p, s.AccountID); err != nil {
		return err
	}
	if s.RevokedAt != nil {
		return ErrSessionNotFound
	}

	err = m.store.Sessions().RevokeSession(ctx, sessionID, m.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return internalErr("SESSION_REVOKE_FAILED", err, "session_id", sessionID)
	}
	m.metrics.RecordSessionsRevoked(1)
	return nil
}

// ListSessions returns the caller's active sessions, newest first. It is
// always empty in stateless mode.
func (m *Manager) ListSessions(ctx context.Context, p Principal) ([]domain.Session, error) {
	if !m.policy.persistent() {
		return []domain.Session{}, nil
	}
	sessions, err := m.store.Sessions().ListActiveSessions(ctx, p.ID, m.now().UTC())
	if err != nil {
		return nil, internalErr("SESSION_LIST_FAILED", err, "account_id", p.ID)
	}
	return sessions, nil
}
