package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Routing keys of the events published after a QR operation.
const (
	EventQRGenerated = "qr.generated"
	EventQRRead      = "qr.read"
)

// QREvent is the audit message published after a generate or read. It carries
// the content length rather than the content itself.
type QREvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	RecordID      uint      `json:"recordId"`
	Username      string    `json:"username,omitempty"`
	ContentLength int       `json:"contentLength"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// PNGCache stores rendered symbols keyed by content. Get returns nil, nil on
// a miss.
type PNGCache interface {
	Get(ctx context.Context, content string) ([]byte, error)
	Set(ctx context.Context, content string, png []byte) error
}

// ImageArchive keeps a copy of every generated symbol.
type ImageArchive interface {
	Put(ctx context.Context, key string, png []byte) error
}

// EventPublisher is satisfied by *rabbitmq.Client.
type EventPublisher interface {
	Publish(routingKey string, body []byte) error
}

func newQREvent(eventType string, recordID uint, username string, contentLength int, now time.Time) QREvent {
	return QREvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		RecordID:      recordID,
		Username:      username,
		ContentLength: contentLength,
		OccurredAt:    now.UTC(),
	}
}

func (e QREvent) marshal() ([]byte, error) {
	return json.Marshal(e)
}
