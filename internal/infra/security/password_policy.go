package security

const defaultMinPasswordLength = 8

// PasswordPolicyConfig selects which rules the registration flow applies.
type PasswordPolicyConfig struct {
	MinLength int
	// MinStrengthScore enables the zxcvbn check when greater than zero.
	MinStrengthScore int
}

// PasswordPolicy validates a candidate password with the email and name as
// extra dictionary inputs for the strength estimator.
type PasswordPolicy struct {
	cfg PasswordPolicyConfig
}

// NewPasswordPolicy applies defaults to cfg.
func NewPasswordPolicy(cfg PasswordPolicyConfig) *PasswordPolicy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = defaultMinPasswordLength
	}
	return &PasswordPolicy{cfg: cfg}
}

// MinLength returns the configured minimum.
func (p *PasswordPolicy) MinLength() int {
	return p.cfg.MinLength
}

// Validate returns a *PasswordValidationError describing the first violated rule.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	rules := []PasswordRule{MinLengthRule(p.cfg.MinLength)}
	if p.cfg.MinStrengthScore > 0 {
		rules = append(rules, RequirePasswordStrengthRule(p.cfg.MinStrengthScore, userInputs...))
	}
	return NewPasswordValidator(rules...).Validate(password)
}
