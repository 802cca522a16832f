package recordmanager

import "errors"

var (
	// ErrStateInconsistency is returned when the recorded state and the
	// vector store disagree about which records exist for a source.
	ErrStateInconsistency = errors.New("record manager state inconsistent with vector store")

	// ErrInvalidTransition is returned when a session operation is called in
	// the wrong phase.
	ErrInvalidTransition = errors.New("invalid record manager transition")

	// ErrEmptySourceID is returned when a session is requested without a
	// source id.
	ErrEmptySourceID = errors.New("source id is required")
)
