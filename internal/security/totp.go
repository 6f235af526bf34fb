package security

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

// TOTP wraps RFC 6238 generation and validation with fixed parameters:
// six digits, SHA1, a 30 second period and one step of drift either way.
type TOTP struct {
	issuer string
	now    func() time.Time
}

func NewTOTP(issuer string, opts ...Option) *TOTP {
	o := applyOptions(opts)
	if strings.TrimSpace(issuer) == "" {
		issuer = "Newsroom"
	}
	return &TOTP{issuer: issuer, now: o.now}
}

type TOTPKey struct {
	Secret string
	URL    string
}

func (t *TOTP) Generate(accountName string) (TOTPKey, error) {
	if strings.TrimSpace(accountName) == "" {
		return TOTPKey{}, errors.New("totp account name is required")
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  20,
	})
	if err != nil {
		return TOTPKey{}, fmt.Errorf("generate totp key: %w", err)
	}
	return TOTPKey{Secret: key.Secret(), URL: key.URL()}, nil
}

// Validate reports whether code is valid for secret at the current time.
// Malformed input is simply invalid.
func (t *TOTP) Validate(secret, code string) bool {
	_, ok := t.Match(secret, code)
	return ok
}

// Match returns the time step code belongs to, checking the current step and
// totpSkew steps either side. Callers persist the step to refuse a replay of
// the same code while it is still inside the window.
func (t *TOTP) Match(secret, code string) (int64, bool) {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != otp.DigitsSix.Length() {
		return 0, false
	}
	current := t.now().UTC().Unix() / totpPeriod
	for offset := int64(-totpSkew); offset <= totpSkew; offset++ {
		step := current + offset
		if step < 0 {
			continue
		}
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*totpPeriod, 0).UTC(), validateOpts())
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}

// Code returns the code for secret at the given instant.
func (t *TOTP) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), validateOpts())
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}
