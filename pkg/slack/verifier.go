package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
)

const (
	// DefaultMaxClockSkew is how far a request timestamp may be from now.
	DefaultMaxClockSkew = 5 * time.Minute

	signatureVersion = "v0"
)

// Verifier checks Slack request signatures. The error messages never
// include the expected signature.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithVerifierClock replaces time.Now
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithMaxClockSkew overrides DefaultMaxClockSkew; zero keeps it.
func WithMaxClockSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.maxSkew = d
		}
	}
}

func NewVerifier(signingSecret string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret:  []byte(signingSecret),
		maxSkew: DefaultMaxClockSkew,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Sign returns the signature header value for timestamp and body.
func (v *Verifier) Sign(timestamp string, body []byte) string {
	return signatureVersion + "=" + hex.EncodeToString(v.mac(timestamp, body))
}

func (v *Verifier) mac(timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return mac.Sum(nil)
}

// Verify returns nil when signature is the HMAC of "v0:<timestamp>:<body>"
// and timestamp is within the allowed skew.
func (v *Verifier) Verify(timestamp, signature string, body []byte) error {
	if err := v.verify(timestamp, signature, body); err != nil {
		return apperrors.New(apperrors.ErrCodeAuthFailed, "request signature rejected", err)
	}
	return nil
}

func (v *Verifier) verify(timestamp, signature string, body []byte) error {
	if len(v.secret) == 0 {
		return errors.New("signing secret is empty")
	}
	if timestamp == "" || signature == "" {
		return errors.New("missing timestamp or signature")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return fmt.Errorf("timestamp outside the allowed window of %s", v.maxSkew)
	}

	hexSignature, ok := strings.CutPrefix(signature, signatureVersion+"=")
	if !ok {
		return errors.New("unsupported signature version")
	}
	got, err := hex.DecodeString(hexSignature)
	if err != nil {
		return fmt.Errorf("invalid hex signature: %w", err)
	}
	if subtle.ConstantTimeCompare(v.mac(timestamp, body), got) != 1 {
		return errors.New("signature mismatch")
	}
	return nil
}
