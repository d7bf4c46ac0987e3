package core

import "errors"

var (
	// ErrNotFound is returned when a session, challenge, asset or VTXO id is unknown
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a session status change violates the state graph
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrExpired is returned when a session or challenge TTL has elapsed
	ErrExpired = errors.New("expired")

	// ErrSignatureInvalid is returned when a signature does not verify against the challenge context
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrChallengeAlreadyConsumed is returned when a consumed challenge is presented again
	ErrChallengeAlreadyConsumed = errors.New("challenge already consumed")

	// ErrNoActiveChallenge is returned when a session has no live challenge to verify against
	ErrNoActiveChallenge = errors.New("no active challenge")

	// ErrInsufficientBalance is returned when a transfer cannot be funded from unspent VTXOs
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyExists is returned on duplicate asset or contract ids
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when a concurrent mutation won the race for a VTXO or session
	ErrConflict = errors.New("concurrent mutation conflict")

	// ErrMalformedInput is returned for bad digests, amounts or intent payloads
	ErrMalformedInput = errors.New("malformed input")
)
