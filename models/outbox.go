package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OutboxRecord implements the transactional outbox: the event row is written
// inside the posting transaction, and publishing happens asynchronously after
// commit (workflow/outboxDispatcher.go). Observers therefore never see an
// event for a mutation that rolled back.
type OutboxRecord struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	EventType     EventType           `gorm:"size:50;not null;index" json:"event_type"`
	ReferenceType string              `gorm:"size:30;not null" json:"reference_type"`
	ReferenceId   int                 `gorm:"index" json:"reference_id"`
	Payload       []byte              `gorm:"type:mediumtext" json:"payload"`
	PublishStatus OutboxPublishStatus `gorm:"size:20;not null;default:'PENDING';index" json:"publish_status"`
	Attempts      int                 `gorm:"default:0" json:"attempts"`
	LockedAt      *time.Time          `gorm:"index" json:"locked_at"`
	PublishedAt   *time.Time          `json:"published_at"`
	CorrelationId string              `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func PublishEvent(ctx context.Context, tx *gorm.DB, eventType EventType, referenceType string, referenceId int, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	record := OutboxRecord{
		EventType:     eventType,
		ReferenceType: referenceType,
		ReferenceId:   referenceId,
		Payload:       body,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// BalanceChangedEvent is the payload for EventTypeBalanceChanged.
type BalanceChangedEvent struct {
	CustomerId    int    `json:"customer_id"`
	Action        string `json:"action"`
	ReferenceType string `json:"reference_type"`
	ReferenceId   int    `json:"reference_id"`
	Delta         string `json:"delta"`
	NewBalance    string `json:"new_balance"`
	OccurredAt    string `json:"occurred_at"`
}

// DayClosedEvent is the payload for EventTypeDayClosed/EventTypeDayReopened.
type DayClosedEvent struct {
	TruckId   int    `json:"truck_id"`
	ReconDate string `json:"recon_date"`
	Status    string `json:"status"`
	Variance  string `json:"variance"`
	Reason    string `json:"reason,omitempty"`
}
