package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

type ledgerEffect int

const (
	effectNone ledgerEffect = iota
	effectRelease
	effectPayout
	effectRefund
)

// transitionRequest is one attempted lifecycle action by an actor whose role
// on the session has already been resolved.
type transitionRequest struct {
	Action     models.SessionAction
	Role       models.ActorRole
	ActorID    string
	Reason     string
	Resolution models.SettleOutcome
	Note       string
	At         time.Time
}

// transitionPlan is the result of applying a request to a session snapshot.
type transitionPlan struct {
	Next   models.Session
	Effect ledgerEffect
	// Notify is empty when only a confirmation flag changed.
	Notify models.NotificationType
}

// planTransition is the lifecycle table. It never touches storage: it checks
// that the action is legal from the current status, then that the actor may
// perform it, then validates the payload, and returns the next snapshot.
func planTransition(current models.Session, req transitionRequest, minReason int) (*transitionPlan, error) {
	next := current
	plan := &transitionPlan{}

	switch req.Action {
	case models.ActionApprove:
		if err := requireStatus(current, req.Action, models.SessionPending); err != nil {
			return nil, err
		}
		if err := requireRole(req, models.ActorTeacher); err != nil {
			return nil, err
		}
		next.Status = models.SessionApproved
		plan.Notify = models.NotifySessionApproved

	case models.ActionReject:
		if err := requireStatus(current, req.Action, models.SessionPending); err != nil {
			return nil, err
		}
		if err := requireRole(req, models.ActorTeacher); err != nil {
			return nil, err
		}
		reason, err := validateReason(req.Reason, minReason, "rejection reason")
		if err != nil {
			return nil, err
		}
		next.Status = models.SessionRejected
		next.RejectionReason = &reason
		plan.Effect = effectRelease
		plan.Notify = models.NotifySessionRejected

	case models.ActionCancel:
		switch current.Status {
		case models.SessionPending:
			if err := requireRole(req, models.ActorStudent); err != nil {
				return nil, err
			}
		case models.SessionApproved:
			if err := requireRole(req, models.ActorStudent, models.ActorTeacher); err != nil {
				return nil, err
			}
		default:
			return nil, invalidTransition(current, req.Action)
		}
		reason, err := validateReason(req.Reason, minReason, "cancellation reason")
		if err != nil {
			return nil, err
		}
		next.Status = models.SessionCancelled
		next.CancellationReason = &reason
		plan.Effect = effectRelease
		plan.Notify = models.NotifySessionCancelled

	case models.ActionStart:
		if err := requireStatus(current, req.Action, models.SessionApproved); err != nil {
			return nil, err
		}
		if err := requireRole(req, models.ActorStudent, models.ActorTeacher, models.ActorSystem); err != nil {
			return nil, err
		}
		next.Status = models.SessionInProgress
		plan.Notify = models.NotifySessionStarted

	case models.ActionComplete:
		if err := requireStatus(current, req.Action, models.SessionInProgress); err != nil {
			return nil, err
		}
		if err := requireRole(req, models.ActorStudent, models.ActorTeacher); err != nil {
			return nil, err
		}
		if req.Role == models.ActorTeacher {
			if current.TeacherConfirmed {
				return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "teacher already confirmed completion")
			}
			next.TeacherConfirmed = true
		} else {
			if current.StudentConfirmed {
				return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "student already confirmed completion")
			}
			next.StudentConfirmed = true
		}
		if next.TeacherConfirmed && next.StudentConfirmed {
			next.Status = models.SessionCompleted
			plan.Effect = effectPayout
			plan.Notify = models.NotifySessionCompleted
		}

	case models.ActionDispute:
		if err := requireStatus(current, req.Action, models.SessionInProgress); err != nil {
			return nil, err
		}
		if err := requireRole(req, models.ActorStudent, models.ActorTeacher); err != nil {
			return nil, err
		}
		reason, err := validateReason(req.Reason, minReason, "dispute reason")
		if err != nil {
			return nil, err
		}
		next.Status = models.SessionDisputed
		next.DisputeReason = &reason
		plan.Notify = models.NotifySessionDisputed

	case models.ActionResolve:
		if current.Resolution != nil && (current.Status == models.SessionCompleted || current.Status == models.SessionCancelled) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, fmt.Sprintf("session was already resolved with %s", *current.Resolution))
		}
		if err := requireStatus(current, req.Action, models.SessionDisputed); err != nil {
			return nil, err
		}
		if err := requireRole(req, models.ActorAdmin); err != nil {
			return nil, err
		}
		if !req.Resolution.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "resolution must be payout or refund")
		}
		resolution := req.Resolution
		resolvedBy := req.ActorID
		resolvedAt := req.At
		next.Resolution = &resolution
		next.ResolvedBy = &resolvedBy
		next.ResolvedAt = &resolvedAt
		if note := strings.TrimSpace(req.Note); note != "" {
			next.ResolutionNote = &note
		}
		if resolution == models.SettlePayout {
			next.Status = models.SessionCompleted
			plan.Effect = effectPayout
		} else {
			next.Status = models.SessionCancelled
			plan.Effect = effectRefund
		}
		plan.Notify = models.NotifySessionResolved

	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown session action %q", req.Action))
	}

	if plan.Effect != effectNone {
		next.CreditHeld = false
	}
	plan.Next = next
	return plan, nil
}

func requireStatus(current models.Session, action models.SessionAction, allowed models.SessionStatus) error {
	if current.Status != allowed {
		return invalidTransition(current, action)
	}
	return nil
}

func invalidTransition(current models.Session, action models.SessionAction) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot %s a session that is %s", action, current.Status))
}

func requireRole(req transitionRequest, allowed ...models.ActorRole) error {
	for _, role := range allowed {
		if req.Role == role {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s may not %s this session", req.Role, req.Action))
}

func validateReason(reason string, minLength int, label string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	if len([]rune(trimmed)) < minLength {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be at least %d characters", label, minLength))
	}
	return trimmed, nil
}
