package models

import (
	"log"

	"bitbucket.org/mmdatafocus/poultry_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Truck{}, &TruckLoad{},
		&Customer{}, &Invoice{}, &Payment{}, &DebtAdjustment{},
		&DailyReconciliation{},
		&AuditLog{},
		&InvoiceNumberSeries{},
		&OutboxRecord{}, &IdempotencyKey{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
