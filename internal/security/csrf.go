package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danproc/qrverify/pkg/crypto"
)

// CSRFVerifier issues and checks anti-forgery tokens. A token is bound to a
// (session, action) pair and a deadline; it stays valid for any number of
// submissions inside its window, so re-rendering a form does not invalidate
// an earlier copy.
type CSRFVerifier interface {
	Issue(sessionID, action string) (string, error)
	Verify(sessionID, action, token string) error
}

// ErrCSRFMismatch is returned for tokens that fail signature or binding checks.
var ErrCSRFMismatch = errors.New("csrf: token mismatch")

// ErrCSRFExpired is returned for structurally valid tokens past their deadline.
var ErrCSRFExpired = errors.New("csrf: token expired")

// DefaultCSRFTTL bounds token validity when no TTL is configured.
const DefaultCSRFTTL = 2 * time.Hour

// MinCSRFKeyLen is the smallest accepted signing key length.
const MinCSRFKeyLen = 32

// HMACVerifier implements CSRFVerifier with HMAC-SHA256 over
// "session|action|expiry". Stateless: nothing is stored server-side.
type HMACVerifier struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// VerifierOption customises the HMACVerifier.
type VerifierOption func(*HMACVerifier)

// WithCSRFTTL overrides the token validity window.
func WithCSRFTTL(d time.Duration) VerifierOption {
	return func(v *HMACVerifier) {
		if d > 0 {
			v.ttl = d
		}
	}
}

// WithCSRFClock injects a custom time source.
func WithCSRFClock(clock func() time.Time) VerifierOption {
	return func(v *HMACVerifier) {
		if clock != nil {
			v.now = clock
		}
	}
}

// NewHMACVerifier builds a verifier from a signing key.
func NewHMACVerifier(key []byte, opts ...VerifierOption) (*HMACVerifier, error) {
	if len(key) < MinCSRFKeyLen {
		return nil, errors.New("csrf: signing key must be at least 32 bytes")
	}

	v := &HMACVerifier{
		key: key,
		ttl: DefaultCSRFTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Issue signs a token for the (session, action) pair valid until now+ttl.
// Token wire format: "<unix-expiry>.<signature>".
func (v *HMACVerifier) Issue(sessionID, action string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	action = strings.TrimSpace(action)
	if sessionID == "" {
		return "", errors.New("csrf: session id is required")
	}
	if action == "" {
		return "", errors.New("csrf: action is required")
	}

	expiry := v.now().Add(v.ttl).Unix()
	sig := crypto.SignHMAC(v.key, payload(sessionID, action, expiry))
	return fmt.Sprintf("%d.%s", expiry, sig), nil
}

// Verify checks the token's signature, binding and deadline.
func (v *HMACVerifier) Verify(sessionID, action, token string) error {
	sessionID = strings.TrimSpace(sessionID)
	action = strings.TrimSpace(action)
	token = strings.TrimSpace(token)
	if sessionID == "" || action == "" || token == "" {
		return ErrCSRFMismatch
	}

	dot := strings.IndexByte(token, '.')
	if dot <= 0 || dot == len(token)-1 {
		return ErrCSRFMismatch
	}

	expiry, err := strconv.ParseInt(token[:dot], 10, 64)
	if err != nil {
		return ErrCSRFMismatch
	}

	// Signature first: an attacker must not learn whether a forged token
	// carried a plausible deadline.
	if !crypto.VerifyHMAC(v.key, payload(sessionID, action, expiry), token[dot+1:]) {
		return ErrCSRFMismatch
	}

	if v.now().Unix() > expiry {
		return ErrCSRFExpired
	}

	return nil
}

func payload(sessionID, action string, expiry int64) string {
	return sessionID + "|" + action + "|" + strconv.FormatInt(expiry, 10)
}
