package services

import (
	"errors"
	"fmt"

	"github.com/cleaninghouse/escrow/internal/repositories"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrHoldNotFound           = fmt.Errorf("payment hold %w", ErrNotFound)
	ErrNotAuthorized          = errors.New("not authorized")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidHoldTransition  = errors.New("invalid payment hold transition")
	ErrDuplicateHold          = errors.New("order already has an active payment hold")
	ErrDuplicateInvitation    = errors.New("order already has an open invitation")
	ErrMaxRetriesExceeded     = errors.New("payout exceeded max retries")
	ErrBusy                   = errors.New("order is locked by another operation")
	// ErrRefundNotRecorded: the gateway returned the money but the hold row
	// was not updated. Needs manual reconciliation.
	ErrRefundNotRecorded = errors.New("refund accepted by gateway but not recorded")
)

// notFound turns a repository miss into ErrNotFound, naming what was missing.
func notFound(what string, err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func transitionErr(entity, from, to string) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidStateTransition, entity, from, to)
}
