// Package notify publishes best-effort "record stored" events.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/govbrnews/harvester/internal/harvest"
)

// eventVersion tags every message with the payload schema revision.
const eventVersion = "1.0"

// Transport delivers one raw message. Implementations must be safe for
// concurrent use.
type Transport interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// Notifier publishes one event per newly stored record. A nil transport
// makes every call a no-op; failures never propagate to the caller.
type Notifier struct {
	transport Transport
	logger    *zap.Logger
	now       func() time.Time
}

// New constructs a Notifier. transport may be nil to disable publishing.
func New(transport Transport, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{transport: transport, logger: logger, now: time.Now}
}

// Enabled reports whether a transport is configured.
func (n *Notifier) Enabled() bool {
	return n.transport != nil
}

type scrapedEvent struct {
	UniqueID    string `json:"unique_id"`
	AgencyKey   string `json:"agency_key"`
	PublishedAt string `json:"published_at"`
	ScrapedAt   string `json:"scraped_at"`
}

// Notify publishes one message per stored record and returns how many
// were delivered. All messages in one call share a correlation id; a
// single publish failure is logged and the rest still go out.
func (n *Notifier) Notify(ctx context.Context, stored []harvest.StoredRecord) int {
	if n.transport == nil || len(stored) == 0 {
		return 0
	}

	correlationID := uuid.NewString()
	attributes := map[string]string{
		"correlation_id": correlationID,
		"event_version":  eventVersion,
	}

	published := 0
	for _, rec := range stored {
		event := scrapedEvent{
			UniqueID:    rec.UniqueID,
			AgencyKey:   rec.Agency,
			PublishedAt: harvest.ISOTime(rec.PublishedAt),
			ScrapedAt:   n.now().UTC().Format(time.RFC3339),
		}
		data, err := json.Marshal(event)
		if err != nil {
			n.logger.Warn("marshal event failed",
				zap.String("unique_id", rec.UniqueID),
				zap.Error(err),
			)
			continue
		}
		if _, err := n.transport.Publish(ctx, data, attributes); err != nil {
			n.logger.Warn("publish event failed",
				zap.String("unique_id", rec.UniqueID),
				zap.String("correlation_id", correlationID),
				zap.Error(err),
			)
			continue
		}
		published++
	}

	if published > 0 {
		n.logger.Info("events published",
			zap.Int("published", published),
			zap.Int("total", len(stored)),
			zap.String("correlation_id", correlationID),
		)
	}
	return published
}
