package workflow

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/poultry_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ErrIdempotencyInProgress means another submission holds the same key right
// now. It is a conflict, not a storage failure: callers surface it as 409 and
// the posting retry loop gives the in-flight submission a chance to finish.
var ErrIdempotencyInProgress = NewDomainError(KindConcurrencyConflict,
	"a submission with this idempotency key is already in flight")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil)
// meaning "skip safely" — the original submission already committed.
func BeginIdempotency(tx *gorm.DB, handlerName, clientKey string) (skip bool, err error) {
	key := models.IdempotencyKey{
		HandlerName: handlerName,
		ClientKey:   clientKey,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("handler_name = ? AND client_key = ?", handlerName, clientKey).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// Another submission is in flight. If it is stale, take the row over;
		// otherwise tell the caller to retry later.
		if time.Since(existing.UpdatedAt) < 5*time.Minute {
			return false, ErrIdempotencyInProgress
		}
		return false, resetIdempotency(tx, existing.ID)
	default: // FAILED or unknown
		return false, resetIdempotency(tx, existing.ID)
	}
}

func resetIdempotency(tx *gorm.DB, id int) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func MarkIdempotencySucceeded(tx *gorm.DB, handlerName, clientKey string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND client_key = ?", handlerName, clientKey).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func MarkIdempotencyFailed(db *gorm.DB, handlerName, clientKey string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return db.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND client_key = ?", handlerName, clientKey).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
