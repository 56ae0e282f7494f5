package models

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/utils"
	"gorm.io/gorm"
)

// AuditLog is the append-only trail of every balance- or reconciliation-
// affecting mutation: who, what, when, before, after. Rows are only ever
// inserted, always inside the same transaction as the mutation they describe.
type AuditLog struct {
	ID            int         `gorm:"primary_key" json:"id"`
	Action        AuditAction `gorm:"size:30;not null;index" json:"action"`
	ReferenceType string      `gorm:"size:30;not null" json:"reference_type"`
	ReferenceId   int         `gorm:"index" json:"reference_id"`
	CustomerId    *int        `gorm:"index" json:"customer_id"`
	Before        string      `gorm:"type:text" json:"before"`
	After         string      `gorm:"type:text" json:"after"`
	Description   string      `gorm:"type:text" json:"description"`
	UserId        int         `gorm:"index" json:"user_id"`
	UserName      string      `gorm:"size:100" json:"user_name"`
	CorrelationId string      `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
}

// CreateAuditLog inserts an audit row in the caller's transaction. Actor
// attribution comes from the transaction context; batch jobs without a user
// fall back to the system actor rather than failing the posting.
func CreateAuditLog(tx *gorm.DB,
	action AuditAction,
	referenceType string,
	referenceId int,
	customerId *int,
	before interface{},
	after interface{},
	description string) error {

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	ctx := tx.Statement.Context
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		userId = 0
	}
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok || userName == "" {
		userName = "system"
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	log := AuditLog{
		Action:        action,
		ReferenceType: referenceType,
		ReferenceId:   referenceId,
		CustomerId:    customerId,
		Before:        string(b),
		After:         string(a),
		Description:   description,
		UserId:        userId,
		UserName:      userName,
		CorrelationId: correlationId,
	}
	return tx.Create(&log).Error
}
