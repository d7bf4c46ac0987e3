package ports

import "context"

// EventPublisher notifies other services of terminal ceremony outcomes
type EventPublisher interface {
	// PublishCeremonyCompleted announces a successfully applied intent
	PublishCeremonyCompleted(ctx context.Context, sessionID, userPubkey string, result map[string]any) error

	// PublishCeremonyFailed announces a terminal failure with its reason
	PublishCeremonyFailed(ctx context.Context, sessionID, userPubkey, reason string) error
}
