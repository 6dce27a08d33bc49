package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/notify"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/idx"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/aussiebroadwan/accounts/internal/accounts/service")

// ClientInfo is request metadata recorded on new sessions.
type ClientInfo struct {
	UserAgent string
	IP        string
}

// AccountWithToken is the result of every operation that authenticates.
type AccountWithToken struct {
	Account domain.Account
	Token   domain.TokenPair
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Store    store.Store
	Hasher   *cryptox.Hasher
	Tokens   *jwtx.Issuer
	Policy   Policy
	Notifier notify.Enqueuer  // optional
	Metrics  metrics.Recorder // optional
	Now      func() time.Time // optional

	// BootstrapToken enables Bootstrap while no accounts exist.
	BootstrapToken string
}

// Manager runs the account and session lifecycle: join, login, refresh,
// logout and the account maintenance flows built on them.
type Manager struct {
	store          store.Store
	hasher         *cryptox.Hasher
	tokens         *jwtx.Issuer
	policy         Policy
	notifier       notify.Enqueuer
	metrics        metrics.Recorder
	now            func() time.Time
	bootstrapToken string
	guard          *Guard

	dummyOnce   sync.Once
	dummyDigest string
}

func NewManager(d Deps) *Manager {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	var rec metrics.Recorder = metrics.Nop{}
	if d.Metrics != nil {
		rec = d.Metrics
	}
	var n notify.Enqueuer = discard{}
	if d.Notifier != nil {
		n = d.Notifier
	}
	return &Manager{
		store:          d.Store,
		hasher:         d.Hasher,
		tokens:         d.Tokens,
		policy:         d.Policy,
		notifier:       n,
		metrics:        rec,
		now:            now,
		bootstrapToken: d.BootstrapToken,
		guard:          NewGuard(d.Store, d.Tokens, d.Policy, now),
	}
}

// Guard returns the authorization guard sharing this manager's store,
// verifier and policy.
func (m *Manager) Guard() *Guard { return m.guard }

// Policy returns the active policy.
func (m *Manager) Policy() Policy { return m.policy }

type discard struct{}

func (discard) Enqueue(notify.Message) bool { return false }

// verifyDummy spends the same time as a real verification so unknown
// identifiers cannot be told apart by latency.
func (m *Manager) verifyDummy(password string) {
	m.dummyOnce.Do(func() {
		raw, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err == nil {
			m.dummyDigest, _ = m.hasher.Hash(raw)
		}
	})
	_ = m.hasher.Verify(password, m.dummyDigest)
}

// lookupIdentifier resolves a login identifier: anything containing "@" is
// an email, everything else a username.
func (m *Manager) lookupIdentifier(ctx context.Context, identifier string) (domain.Account, error) {
	if strings.Contains(identifier, "@") {
		return m.store.Accounts().GetAccountByEmail(ctx, strings.ToLower(identifier))
	}
	return m.store.Accounts().GetAccountByUsername(ctx, identifier)
}

// loadAccount fetches a live account by id, mapping absence to NotFound.
func (m *Manager) loadAccount(ctx context.Context, id string) (domain.Account, error) {
	a, err := m.store.Accounts().GetAccountByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, internalErr("ACCOUNT_LOOKUP_FAILED", err, "account_id", id)
	}
	return a, nil
}

// issuePair signs a new access/refresh pair bound to sid.
func (m *Manager) issuePair(a domain.Account, sid string, amr []string) (domain.TokenPair, error) {
	opts := []jwtx.ClaimOption{jwtx.WithSession(sid), jwtx.WithAMR(amr...)}

	access, err := m.tokens.IssueAccess(a.ID, string(a.Role), m.policy.AccessTTL(a.Role), opts...)
	if err != nil {
		return domain.TokenPair{}, internalErr("TOKEN_SIGN_FAILED", err, "account_id", a.ID)
	}
	refresh, err := m.tokens.IssueRefresh(a.ID, m.policy.RefreshTokenTTL, opts...)
	if err != nil {
		return domain.TokenPair{}, internalErr("TOKEN_SIGN_FAILED", err, "account_id", a.ID)
	}
	return domain.TokenPair{
		Access:           access.Token,
		Refresh:          refresh.Token,
		ExpiredAt:        access.ExpiresAt,
		RefreshableUntil: refresh.ExpiresAt,
		SessionID:        sid,
	}, nil
}

// startSession issues a token pair and, in persistent mode, records the
// session through q so it can join the caller's transaction.
func (m *Manager) startSession(ctx context.Context, q store.Store, a domain.Account, amr []string, client ClientInfo, now time.Time) (domain.TokenPair, error) {
	sid := ""
	if m.policy.persistent() {
		sid = idx.New().String()
	}

	pair, err := m.issuePair(a, sid, amr)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if sid == "" {
		return pair, nil
	}

	err = q.Sessions().CreateSession(ctx, domain.Session{
		ID:          sid,
		AccountID:   a.ID,
		RefreshHash: cryptox.FingerprintToken(pair.Refresh),
		UserAgent:   truncate(client.UserAgent, 256),
		IP:          client.IP,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   pair.RefreshableUntil,
	})
	if err != nil {
		return domain.TokenPair{}, internalErr("SESSION_CREATE_FAILED", err, "account_id", a.ID)
	}
	return pair, nil
}

// revokeOthers revokes every session of the account except keepID.
func (m *Manager) revokeOthers(ctx context.Context, q store.Store, accountID, keepID string, now time.Time) error {
	if !m.policy.persistent() {
		return nil
	}
	n, err := q.Sessions().RevokeAccountSessions(ctx, accountID, keepID, now)
	if err != nil {
		return internalErr("SESSION_REVOKE_FAILED", err, "account_id", accountID)
	}
	m.metrics.RecordSessionsRevoked(n)
	return nil
}

// newActionToken invalidates earlier tokens of the same purpose and stores a
// fresh one. The raw token is returned for delivery and never stored.
func (m *Manager) newActionToken(ctx context.Context, q store.Store, accountID string, purpose domain.ActionPurpose, ttl time.Duration, now time.Time) (string, time.Time, error) {
	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", time.Time{}, internalErr("TOKEN_GENERATE_FAILED", err)
	}
	if err := q.ActionTokens().InvalidateActionTokens(ctx, accountID, purpose, now); err != nil {
		return "", time.Time{}, internalErr("ACTION_TOKEN_INVALIDATE_FAILED", err, "account_id", accountID)
	}
	expires := now.Add(ttl)
	err = q.ActionTokens().CreateActionToken(ctx, domain.ActionToken{
		ID:        idx.New().String(),
		AccountID: accountID,
		Purpose:   purpose,
		TokenHash: cryptox.FingerprintToken(raw),
		ExpiresAt: expires,
		CreatedAt: now,
	})
	if err != nil {
		return "", time.Time{}, internalErr("ACTION_TOKEN_CREATE_FAILED", err, "account_id", accountID)
	}
	return raw, expires, nil
}

func (m *Manager) enqueue(ctx context.Context, msg notify.Message) {
	if !m.notifier.Enqueue(msg) {
		slogx.FromContext(ctx).Debug("notification not queued",
			slog.String("kind", string(msg.Kind)), slog.String("account_id", msg.AccountID))
	}
}

func (m *Manager) verifyPassword(a domain.Account, password string) bool {
	return m.hasher.Verify(password, a.PasswordHash)
}

// endSpan records internal failures on the span; expected outcomes such as
// bad credentials are not span errors.
func endSpan(span trace.Span, err error) {
	if err != nil && KindOf(err) == KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
