package workflow

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"go.opentelemetry.io/otel/attribute"
)

func TestObserverNotification(t *testing.T) {
	var seen []int
	RegisterObserver(func(record models.OutboxRecord) {
		seen = append(seen, record.ID)
	})

	notifyObservers(models.OutboxRecord{ID: 7})
	notifyObservers(models.OutboxRecord{ID: 8})

	if len(seen) != 2 || seen[0] != 7 || seen[1] != 8 {
		t.Errorf("observer saw %v, want [7 8]", seen)
	}
}

func TestBatchSpanWithoutTracerProvider(t *testing.T) {
	// The dispatcher starts before any tracer provider is installed; the
	// global no-op tracer must carry the batch span without blowing up.
	_, span := tracer.Start(context.Background(), "outbox.dispatch_batch")
	span.SetAttributes(attribute.Int("outbox.batch_size", 0))
	span.End()
}
