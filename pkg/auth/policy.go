package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultSpecialCharacters is the set a password must draw at least one character from
const DefaultSpecialCharacters = `!@#$%^&*(),.?":{}|<>`

// bcrypt ignores everything past 72 bytes, so longer passwords are refused outright
const maxBcryptPasswordBytes = 72

// PasswordPolicy describes the strength rules enforced at registration
type PasswordPolicy struct {
	MinLength         int
	MaxLength         int
	RequireUpper      bool
	RequireLower      bool
	RequireDigit      bool
	RequireSpecial    bool
	SpecialCharacters string
}

// DefaultPasswordPolicy returns the policy used when nothing is configured
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:         8,
		MaxLength:         maxBcryptPasswordBytes,
		RequireUpper:      true,
		RequireLower:      true,
		RequireDigit:      true,
		RequireSpecial:    true,
		SpecialCharacters: DefaultSpecialCharacters,
	}
}

// PasswordPolicyError lists every rule the password broke
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password " + strings.Join(e.Violations, "; ")
}

// Validate checks password against the policy and reports all failing rules at once
func (p PasswordPolicy) Validate(password string) error {
	violations := make([]string, 0)

	maxLen := p.MaxLength
	if maxLen <= 0 || maxLen > maxBcryptPasswordBytes {
		maxLen = maxBcryptPasswordBytes
	}

	if len([]rune(password)) < p.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if len(password) > maxLen {
		violations = append(violations, fmt.Sprintf("must be at most %d bytes", maxLen))
	}

	specials := p.SpecialCharacters
	if specials == "" {
		specials = DefaultSpecialCharacters
	}

	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(specials, r):
			hasSpecial = true
		}
	}

	if p.RequireUpper && !hasUpper {
		violations = append(violations, "must contain at least one uppercase letter")
	}
	if p.RequireLower && !hasLower {
		violations = append(violations, "must contain at least one lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		violations = append(violations, "must contain at least one digit")
	}
	if p.RequireSpecial && !hasSpecial {
		violations = append(violations, fmt.Sprintf("must contain at least one special character (%s)", specials))
	}

	if len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}

	return nil
}
