package memory

import (
	"context"
	"log/slog"
	"sync"

	appoutbox "chatgate/internal/app/outbox"
)

// Outbox keeps events in memory until flushed. Flushed records are logged
// and dropped; it stands in for the broker when Kafka is not configured.
type Outbox struct {
	mu      sync.Mutex
	records []appoutbox.EventRecord
	logger  *slog.Logger
}

func NewOutbox(logger *slog.Logger) *Outbox {
	return &Outbox{logger: logger}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, record)
	return nil
}

func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	records := o.records
	o.records = nil
	o.mu.Unlock()
	if o.logger == nil {
		return nil
	}
	for _, rec := range records {
		o.logger.DebugContext(ctx, "domain event", "id", rec.ID, "name", rec.Name, "aggregate", rec.Aggregate)
	}
	return nil
}

// Pending returns a copy of the records not flushed yet.
func (o *Outbox) Pending() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]appoutbox.EventRecord(nil), o.records...)
}

var _ appoutbox.Outbox = (*Outbox)(nil)
