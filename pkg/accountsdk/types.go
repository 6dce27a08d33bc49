package accountsdk

import "time"

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is a stable machine-readable code (e.g. "invalid_credentials")
	Error string `json:"error"`

	// ErrorDescription is a human-readable message safe to show to users
	ErrorDescription string `json:"error_description"`

	// Details carries per-field messages for validation failures
	Details map[string]string `json:"details,omitempty"`
}

// ============================================================================
// Account & Token Types
// ============================================================================

// Token is the access/refresh pair returned by join, login and refresh.
// Both expiry values equal the exp claim of the respective token.
type Token struct {
	Access           string    `json:"access"`
	Refresh          string    `json:"refresh"`
	ExpiredAt        time.Time `json:"expired_at"`
	RefreshableUntil time.Time `json:"refreshable_until"`
}

// Account is the public view of an account. Secrets never appear here.
type Account struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username,omitempty"`
	DisplayName   string    `json:"display_name"`
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	EmailVerified bool      `json:"email_verified"`
	MFAEnabled    bool      `json:"mfa_enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AccountWithToken is an Account with a freshly issued token pair.
type AccountWithToken struct {
	Account
	Token Token `json:"token"`
}

// SessionInfo describes one active login.
type SessionInfo struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

type SessionList struct {
	Sessions []SessionInfo `json:"sessions"`
}

// ============================================================================
// Request Types
// ============================================================================

type JoinRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password"`
}

// LoginRequest authenticates with an email or username. OTP is required once
// the account has MFA enabled and accepts a TOTP or backup code.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	OTP        string `json:"otp,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// PasswordRequest re-confirms the caller's password for destructive actions.
type PasswordRequest struct {
	Password string `json:"password"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type SetRoleRequest struct {
	Role string `json:"role"`
}

// BootstrapRequest describes the first admin account.
type BootstrapRequest = JoinRequest

// ============================================================================
// MFA Types
// ============================================================================

type MFAEnrollResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
	Issuer     string `json:"issuer"`
	Account    string `json:"account"`
}

type MFACodeRequest struct {
	Code string `json:"code"`
}

// BackupCodesResponse is shown once; only fingerprints are kept server side.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// ============================================================================
// Misc Types
// ============================================================================

// AcceptedResponse is returned by endpoints that queue work (202).
type AcceptedResponse struct {
	Status string `json:"status"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Database string `json:"database"`
}
