package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HS256 secret NewIssuer accepts.
const MinSecretLength = 32

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")
	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrWrongType    = errors.New("jwtx: unexpected token type")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// Verifier validates a token for an expected use and returns its claims.
type Verifier interface {
	Verify(token string, want TokenType) (Claims, error)
}

// Options configures an Issuer.
type Options struct {
	// Secret is the HS256 key. Rotating it invalidates every outstanding token.
	Secret []byte

	// Issuer is written to iss and required on verify.
	Issuer string

	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Issued is a freshly signed token together with the expiry written into it.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// Issuer signs and verifies HS256 tokens for a single issuer.
type Issuer struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

var _ Verifier = (*Issuer)(nil)

func NewIssuer(opts Options) (*Issuer, error) {
	if len(opts.Secret) < MinSecretLength {
		return nil, fmt.Errorf("jwtx: secret must be at least %d bytes", MinSecretLength)
	}
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: issuer is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	i := &Issuer{
		secret: append([]byte(nil), opts.Secret...),
		issuer: opts.Issuer,
		leeway: opts.Leeway,
		now:    now,
	}
	i.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(opts.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithTimeFunc(now),
	)
	return i, nil
}

// Name returns the configured issuer string.
func (i *Issuer) Name() string { return i.issuer }

// IssueAccess signs an access token carrying subject and role.
func (i *Issuer) IssueAccess(subject, role string, ttl time.Duration, opts ...ClaimOption) (Issued, error) {
	c := i.claims(TokenTypeAccess, subject, ttl)
	c.Role = role
	return i.sign(c, opts)
}

// IssueRefresh signs a refresh token carrying only the subject.
func (i *Issuer) IssueRefresh(subject string, ttl time.Duration, opts ...ClaimOption) (Issued, error) {
	return i.sign(i.claims(TokenTypeRefresh, subject, ttl), opts)
}

func (i *Issuer) claims(typ TokenType, subject string, ttl time.Duration) Claims {
	// exp has second precision; truncating here keeps the reported expiry
	// identical to the signed one.
	now := i.now().UTC().Truncate(time.Second)
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TokenType: typ,
	}
}

func (i *Issuer) sign(c Claims, opts []ClaimOption) (Issued, error) {
	if c.Subject == "" {
		return Issued{}, fmt.Errorf("%w: empty subject", ErrInvalidClaim)
	}
	if !c.ExpiresAt.After(c.IssuedAt.Time) {
		return Issued{}, fmt.Errorf("%w: non-positive ttl", ErrInvalidClaim)
	}
	for _, opt := range opts {
		opt(&c)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("jwtx: sign: %w", err)
	}
	return Issued{Token: token, ID: c.ID, ExpiresAt: c.ExpiresAtTime()}, nil
}

// Verify checks signature, issuer, expiry and the token type marker. The
// returned errors are distinct for logging; callers collapse them into one
// outward failure.
func (i *Issuer) Verify(tokenStr string, want TokenType) (Claims, error) {
	var c Claims
	_, err := i.parser.ParseWithClaims(tokenStr, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return Claims{}, mapParseError(err)
	}

	if c.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing sub", ErrInvalidClaim)
	}
	if c.TokenType != want {
		return Claims{}, ErrWrongType
	}
	return c, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSig, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuer
	default:
		return fmt.Errorf("%w: %w", ErrInvalidClaim, err)
	}
}
