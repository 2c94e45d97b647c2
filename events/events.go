// Package events names the MessagePipeline topics this platform
// publishes and provides typed helpers over pipeline.Pipeline so
// callers marshal/unmarshal a fixed set of event payloads instead of
// juggling raw bytes.
package events

import (
	"context"
	"encoding/json"

	"github.com/tracepost-larvae/agecred/apperr"
	"github.com/tracepost-larvae/agecred/models"
)

const (
	TopicIdentityVerified   = "identity.verified"
	TopicCredentialIssued   = "credential.issued"
	TopicCredentialVerified = "credential.verified"
)

// Publisher is the narrow surface events needs from pipeline.Pipeline.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Bus is a typed façade over a Publisher for the platform's three
// domain events.
type Bus struct {
	pub Publisher
}

func NewBus(pub Publisher) *Bus {
	return &Bus{pub: pub}
}

func (b *Bus) PublishIdentityVerified(ctx context.Context, evt models.IdentityVerifiedEvent) error {
	return b.publish(ctx, TopicIdentityVerified, evt)
}

func (b *Bus) PublishCredentialIssued(ctx context.Context, evt models.CredentialIssuedEvent) error {
	return b.publish(ctx, TopicCredentialIssued, evt)
}

func (b *Bus) PublishCredentialVerified(ctx context.Context, evt models.CredentialVerifiedEvent) error {
	return b.publish(ctx, TopicCredentialVerified, evt)
}

func (b *Bus) publish(ctx context.Context, topic string, evt interface{}) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return apperr.Wrap(apperr.SystemError, "marshaling event", err)
	}
	if b.pub == nil {
		return nil
	}
	return b.pub.Publish(ctx, topic, data)
}
