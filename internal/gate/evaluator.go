// Package gate combines the verification, acceptance, and usage subsystems
// into a single access decision. Evaluation itself is side-effect free; the
// one sanctioned write is RefreshStatus, which makes the evaluator the sole
// writer of the derived User.Status.
package gate

import (
	"context"
	"errors"

	"github.com/danproc/qrverify/internal/models"
	"github.com/danproc/qrverify/internal/services"
	apperrors "github.com/danproc/qrverify/pkg/errors"
	"github.com/danproc/qrverify/pkg/metrics"
)

// Reason identifies why access was granted or withheld. Ordered by priority:
// a user failing several gates sees the highest-priority reason only.
type Reason string

const (
	// ReasonSuspended is an administrative hold; nothing else matters.
	ReasonSuspended Reason = "SUSPENDED"
	// ReasonEmailUnverified blocks everything except resend and logout.
	ReasonEmailUnverified Reason = "EMAIL_UNVERIFIED"
	// ReasonTermsNotAccepted blocks everything except accept, support, logout.
	ReasonTermsNotAccepted Reason = "TOS_NOT_ACCEPTED"
	// ReasonOK grants account-wide access. Quota is deliberately absent
	// here: it gates only the generation action, at the point of action.
	ReasonOK Reason = "OK"
)

// Decision is the gate verdict for one user at one instant.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// Err maps a blocking decision onto its typed error, nil when allowed.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonSuspended:
		return apperrors.ErrAccountSuspended
	case ReasonEmailUnverified:
		return apperrors.ErrEmailUnverified
	case ReasonTermsNotAccepted:
		return apperrors.ErrTermsNotAccepted
	default:
		return nil
	}
}

// Evaluator queries the three subsystems and produces ordered decisions.
type Evaluator struct {
	users      *services.UserService
	acceptance *services.AcceptanceService
}

// NewEvaluator constructs an Evaluator instance.
func NewEvaluator(users *services.UserService, acceptance *services.AcceptanceService) (*Evaluator, error) {
	if users == nil {
		return nil, errors.New("gate: user service is required")
	}
	if acceptance == nil {
		return nil, errors.New("gate: acceptance service is required")
	}
	return &Evaluator{users: users, acceptance: acceptance}, nil
}

// Evaluate returns the access decision for a user. Read-only: repeated calls
// with unchanged state return identical decisions.
func (e *Evaluator) Evaluate(ctx context.Context, userID string) (Decision, error) {
	decision, _, err := e.evaluate(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	metrics.GateDecisions.WithLabelValues(string(decision.Reason)).Inc()
	return decision, nil
}

// RefreshStatus recomputes the derived status and persists it when changed.
// Returns the fresh decision.
func (e *Evaluator) RefreshStatus(ctx context.Context, userID string) (Decision, error) {
	decision, user, err := e.evaluate(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	derived := statusFor(decision.Reason)
	if derived != user.Status {
		if err := e.users.SetStatus(ctx, user.ID, derived); err != nil {
			return Decision{}, err
		}
	}

	metrics.GateDecisions.WithLabelValues(string(decision.Reason)).Inc()
	return decision, nil
}

func (e *Evaluator) evaluate(ctx context.Context, userID string) (Decision, *models.User, error) {
	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return Decision{}, nil, err
	}

	// Suspension is an administrative flag, not derived; it outranks the
	// compliance gates.
	if user.Status == models.StatusSuspended {
		return Decision{Allowed: false, Reason: ReasonSuspended}, user, nil
	}

	if user.EmailVerifiedAt == nil {
		return Decision{Allowed: false, Reason: ReasonEmailUnverified}, user, nil
	}

	compliant, err := e.acceptance.IsCompliant(ctx, user.ID)
	if err != nil {
		return Decision{}, nil, err
	}
	if !compliant {
		return Decision{Allowed: false, Reason: ReasonTermsNotAccepted}, user, nil
	}

	return Decision{Allowed: true, Reason: ReasonOK}, user, nil
}

func statusFor(reason Reason) models.UserStatus {
	switch reason {
	case ReasonSuspended:
		return models.StatusSuspended
	case ReasonEmailUnverified:
		return models.StatusUnverified
	case ReasonTermsNotAccepted:
		return models.StatusPendingTerms
	default:
		return models.StatusActive
	}
}
