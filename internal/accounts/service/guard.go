package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
)

// Principal is the authenticated caller behind an access token.
type Principal struct {
	ID        string
	Role      domain.Role
	SessionID string
	AMR       []string
	Account   domain.Account
}

// HasAMR reports whether the caller authenticated with method.
func (p Principal) HasAMR(method string) bool { return slices.Contains(p.AMR, method) }

// Guard resolves access tokens into principals and answers authorization
// questions about them.
type Guard struct {
	store  store.Store
	tokens jwtx.Verifier
	policy Policy
	now    func() time.Time
}

func NewGuard(s store.Store, v jwtx.Verifier, policy Policy, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{store: s, tokens: v, policy: policy, now: now}
}

// ResolvePrincipal verifies an access token and loads the account behind it.
// The role is taken from the store, not the token, so a demotion applies
// immediately.
func (g *Guard) ResolvePrincipal(ctx context.Context, token string) (p Principal, err error) {
	ctx, span := tracer.Start(ctx, "service.ResolvePrincipal")
	defer func() { endSpan(span, err) }()

	claims, err := g.tokens.Verify(token, jwtx.TokenTypeAccess)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}

	if g.policy.persistent() {
		if claims.SID == "" {
			return Principal{}, ErrUnauthorized
		}
		s, err := g.store.Sessions().GetSession(ctx, claims.SID)
		if errors.Is(err, store.ErrNotFound) {
			return Principal{}, ErrUnauthorized
		}
		if err != nil {
			return Principal{}, internalErr("SESSION_LOOKUP_FAILED", err, "session_id", claims.SID)
		}
		if s.AccountID != claims.Subject || !s.Usable(g.now().UTC()) {
			return Principal{}, ErrUnauthorized
		}
	}

	acct, err := g.store.Accounts().GetAccountByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return Principal{}, ErrUnauthorized
	}
	if err != nil {
		return Principal{}, internalErr("ACCOUNT_LOOKUP_FAILED", err, "account_id", claims.Subject)
	}
	if acct.Status == domain.StatusSuspended {
		return Principal{}, ErrAccountSuspended
	}
	if !domain.IsActive(acct) {
		return Principal{}, ErrUnauthorized
	}

	return Principal{
		ID:        acct.ID,
		Role:      acct.Role,
		SessionID: claims.SID,
		AMR:       claims.AMR,
		Account:   acct,
	}, nil
}

// RequireOwner fails unless p is ownerID. Elevated roles do not bypass it.
func (g *Guard) RequireOwner(p Principal, ownerID string) error {
	if p.ID == "" || p.ID != ownerID {
		return ErrForbidden
	}
	return nil
}

// RequireRole fails unless p holds at least role. Roles whose policy demands
// a second factor also need otp in the token's amr.
func (g *Guard) RequireRole(p Principal, role domain.Role) error {
	if !p.Role.AtLeast(role) {
		return ErrForbidden
	}
	if g.policy.RequiresMFA(p.Role) && !p.HasAMR(jwtx.AMROTP) {
		return ErrSecondFactor
	}
	return nil
}
