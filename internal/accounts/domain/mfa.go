package domain

// MFAEnrollment is returned when a TOTP secret is provisioned, before the
// first code confirms it.
type MFAEnrollment struct {
	Secret  string // base32
	URL     string // otpauth:// URL for QR rendering
	Issuer  string
	Account string
}

// BackupCodeCount is how many single-use recovery codes are issued at once.
const BackupCodeCount = 10
