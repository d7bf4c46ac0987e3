package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/arkrelay/gateway/ports"
)

const (
	// CompletedTopic carries successfully finalized ceremonies
	CompletedTopic = "gateway.ceremony.completed"

	// FailedTopic carries terminally failed ceremonies
	FailedTopic = "gateway.ceremony.failed"
)

// CeremonyEvent is the published payload for both outcome topics
type CeremonyEvent struct {
	SessionID  string         `json:"session_id"`
	UserPubkey string         `json:"user_pubkey"`
	Result     map[string]any `json:"result,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishCeremonyCompleted publishes a completed-ceremony event
func (p *WatermillPublisher) PublishCeremonyCompleted(ctx context.Context, sessionID, userPubkey string, result map[string]any) error {
	return p.publish(CompletedTopic, CeremonyEvent{
		SessionID:  sessionID,
		UserPubkey: userPubkey,
		Result:     result,
	})
}

// PublishCeremonyFailed publishes a failed-ceremony event
func (p *WatermillPublisher) PublishCeremonyFailed(ctx context.Context, sessionID, userPubkey, reason string) error {
	return p.publish(FailedTopic, CeremonyEvent{
		SessionID:  sessionID,
		UserPubkey: userPubkey,
		Reason:     reason,
	})
}

func (p *WatermillPublisher) publish(topic string, event CeremonyEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(event.SessionID, payload)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
