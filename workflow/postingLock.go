package workflow

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Per-entity posting serialization uses MySQL advisory locks, so it works
// across instances without extra infrastructure.
//
// NOTE: GET_LOCK is connection-scoped, so these must be called on the same
// *gorm.DB that runs the posting transaction (i.e. inside db.Transaction).
//
// Lock ordering: customer lock before truck-day lock, always. Both
// CreateInvoiceAndSettle and the recompute job follow this order, so the
// locks cannot deadlock against each other.

const postingLockTimeoutSeconds = 10

func acquirePostingLock(tx *gorm.DB, lockName string) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, ?)", lockName, postingLockTimeoutSeconds).Scan(&ok).Error; err != nil {
		return wrapStorage(err)
	}
	if ok != 1 {
		return NewDomainError(KindConcurrencyConflict, "could not acquire posting lock %s", lockName)
	}
	return nil
}

func releasePostingLock(tx *gorm.DB, lockName string) {
	var released int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released).Error
}

func customerLockName(customerId int) string {
	return fmt.Sprintf("posting:customer:%d", customerId)
}

func truckDayLockName(truckId int, date time.Time) string {
	return fmt.Sprintf("posting:truckday:%d:%s", truckId, date.Format("2006-01-02"))
}

func AcquireCustomerPostingLock(tx *gorm.DB, customerId int) error {
	return acquirePostingLock(tx, customerLockName(customerId))
}

func ReleaseCustomerPostingLock(tx *gorm.DB, customerId int) {
	releasePostingLock(tx, customerLockName(customerId))
}

func AcquireTruckDayPostingLock(tx *gorm.DB, truckId int, date time.Time) error {
	return acquirePostingLock(tx, truckDayLockName(truckId, date))
}

func ReleaseTruckDayPostingLock(tx *gorm.DB, truckId int, date time.Time) {
	releasePostingLock(tx, truckDayLockName(truckId, date))
}
