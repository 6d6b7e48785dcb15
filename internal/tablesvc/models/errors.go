// Package models holds the domain records and the table state machine.
// Sentinel errors defined here are matched with errors.Is by the service
// and handler layers to decide the response code.
package models

import "errors"

var (
	// ErrNotFound is returned when a table, session or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller may not perform the action,
	// e.g. confirming a win in their own favour.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict signals that the resource is already in the desired or an
	// incompatible state: already queued, already seated, or a stale version
	// on a guarded update. Callers should re-read and retry.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState is returned when the action is not legal from the
	// table's or session's current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientFunds is returned by a ledger debit that would leave
	// the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPaymentVerification is returned for webhook signature or metadata
	// mismatches.
	ErrPaymentVerification = errors.New("payment verification failed")

	// ErrExternalService marks a failed call to a collaborator that the
	// action requires (gateway, ledger credit from webhook).
	ErrExternalService = errors.New("external service failure")
)
