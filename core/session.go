package core

import "time"

// SessionStatus is a session's position in the ceremony state machine
type SessionStatus string

const (
	StatusCreated           SessionStatus = "created"
	StatusChallengeSent     SessionStatus = "challenge_sent"
	StatusAwaitingSignature SessionStatus = "awaiting_signature"
	StatusSigning           SessionStatus = "signing"
	StatusCompleted         SessionStatus = "completed"
	StatusFailed            SessionStatus = "failed"
	StatusExpired           SessionStatus = "expired"
)

// Terminal reports whether no further transitions are allowed from s
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// transitions is the forward edge set of the ceremony state graph.
// failed and expired are reachable from every non-terminal state and
// are handled in CanTransition rather than listed per state.
var transitions = map[SessionStatus][]SessionStatus{
	StatusCreated:           {StatusChallengeSent},
	StatusChallengeSent:     {StatusAwaitingSignature},
	StatusAwaitingSignature: {StatusSigning},
	StatusSigning:           {StatusCompleted},
}

// CanTransition reports whether the state graph allows from -> to
func CanTransition(from, to SessionStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusExpired {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusChange is one append-only history entry of a session
type StatusChange struct {
	Status SessionStatus `json:"status"`
	At     time.Time     `json:"at"`
	Reason string        `json:"reason,omitempty"`
}

// Session is one signing ceremony: an intent awaiting authorization by
// the holder of UserPubkey. Terminal sessions are retained for audit.
type Session struct {
	ID         string         `json:"id"`
	UserPubkey string         `json:"user_pubkey"`
	Type       SessionType    `json:"session_type"`
	Intent     *Intent        `json:"intent"`
	Status     SessionStatus  `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Result     map[string]any `json:"result_data,omitempty"`
	History    []StatusChange `json:"history"`
}

// Expired reports whether the session TTL has elapsed at now
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a deep-enough copy for handing out across the store
// boundary without aliasing mutable fields
func (s *Session) Clone() *Session {
	dup := *s
	dup.History = append([]StatusChange(nil), s.History...)
	if s.Result != nil {
		dup.Result = make(map[string]any, len(s.Result))
		for k, v := range s.Result {
			dup.Result[k] = v
		}
	}
	return &dup
}
