package workflow

import (
	"context"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
	"bitbucket.org/mmdatafocus/poultry_backend/models"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("poultry-pos")

// OutboxDispatcher drains PENDING outbox rows after commit. When Pub/Sub is
// configured, events go to the configured topic; otherwise they are delivered
// to in-process observers only. Either way the row is marked SENT exactly
// once per successful delivery.
//
// Claiming uses FOR UPDATE SKIP LOCKED plus a LockedAt staleness window, so
// multiple instances can run the dispatcher without double-publishing.

type Observer func(record models.OutboxRecord)

var (
	observersMu sync.RWMutex
	observers   []Observer
)

// RegisterObserver adds an in-process callback invoked for every dispatched
// event. Observers must not block; they run on the dispatcher goroutine.
func RegisterObserver(fn Observer) {
	observersMu.Lock()
	defer observersMu.Unlock()
	observers = append(observers, fn)
}

func notifyObservers(record models.OutboxRecord) {
	observersMu.RLock()
	defer observersMu.RUnlock()
	for _, fn := range observers {
		fn(record)
	}
}

type OutboxDispatcher struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	BatchSize int
	Interval  time.Duration
	// StaleLock is how long a claimed row may sit before another instance may
	// steal it (crashed dispatcher recovery).
	StaleLock time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:        db,
		Logger:    logger,
		BatchSize: 50,
		Interval:  5 * time.Second,
		StaleLock: 5 * time.Minute,
	}
}

// Run polls until the context is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.ProcessOnce(ctx); err != nil {
				config.LogError(d.Logger, "workflow", "OutboxDispatcher", "process batch", nil, err)
			}
		}
	}
}

// ProcessOnce claims one batch and dispatches it. Exported so tests and the
// CLI can drain the outbox deterministically.
func (d *OutboxDispatcher) ProcessOnce(ctx context.Context) error {
	records, err := d.claimBatch(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "outbox.dispatch_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("outbox.batch_size", len(records)))
	for _, record := range records {
		d.dispatch(ctx, record)
	}
	return nil
}

func (d *OutboxDispatcher) claimBatch(ctx context.Context) ([]models.OutboxRecord, error) {
	var claimed []models.OutboxRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		staleBefore := time.Now().Add(-d.StaleLock)
		var records []models.OutboxRecord
		err := tx.Raw(`
			SELECT * FROM outbox_records
			WHERE publish_status = ? AND (locked_at IS NULL OR locked_at < ?)
			ORDER BY id
			LIMIT ?
			FOR UPDATE SKIP LOCKED`,
			models.OutboxPublishStatusPending, staleBefore, d.BatchSize).
			Scan(&records).Error
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		ids := make([]int, len(records))
		for i, record := range records {
			ids[i] = record.ID
		}
		now := time.Now()
		if err := tx.Model(&models.OutboxRecord{}).Where("id IN ?", ids).
			Update("locked_at", now).Error; err != nil {
			return err
		}
		claimed = records
		return nil
	})
	return claimed, err
}

func (d *OutboxDispatcher) dispatch(ctx context.Context, record models.OutboxRecord) {
	var publishErr error
	if config.PubSubConfigured() {
		publishErr = d.publishToPubSub(ctx, record)
	}
	if publishErr != nil {
		d.markFailed(ctx, record, publishErr)
		return
	}
	notifyObservers(record)
	d.markSent(ctx, record)
}

func (d *OutboxDispatcher) publishToPubSub(ctx context.Context, record models.OutboxRecord) error {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}
	topic := client.Topic(config.GetPubSubEventsTopic())
	result := topic.Publish(ctx, &pubsub.Message{
		Data: record.Payload,
		Attributes: map[string]string{
			"event_type":     string(record.EventType),
			"reference_type": record.ReferenceType,
			"correlation_id": record.CorrelationId,
		},
	})
	_, err = result.Get(ctx)
	return err
}

func (d *OutboxDispatcher) markSent(ctx context.Context, record models.OutboxRecord) {
	now := time.Now()
	err := d.DB.WithContext(ctx).Model(&models.OutboxRecord{}).Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"publish_status": models.OutboxPublishStatusSent,
			"published_at":   now,
			"attempts":       record.Attempts + 1,
			"locked_at":      nil,
		}).Error
	if err != nil {
		config.LogError(d.Logger, "workflow", "OutboxDispatcher", "mark sent", record.ID, err)
	}
}

func (d *OutboxDispatcher) markFailed(ctx context.Context, record models.OutboxRecord, cause error) {
	config.LogError(d.Logger, "workflow", "OutboxDispatcher", "publish", record.ID, cause)
	attempts := record.Attempts + 1
	updates := map[string]interface{}{
		"attempts":  attempts,
		"locked_at": nil,
	}
	// Leave PENDING for retry until the attempts are used up.
	if attempts >= 10 {
		updates["publish_status"] = models.OutboxPublishStatusFailed
	}
	err := d.DB.WithContext(ctx).Model(&models.OutboxRecord{}).Where("id = ?", record.ID).
		Updates(updates).Error
	if err != nil {
		config.LogError(d.Logger, "workflow", "OutboxDispatcher", "mark failed", record.ID, err)
	}
}
