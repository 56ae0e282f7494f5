package models

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceNumberSeries hands out unique, gap-tolerant invoice numbers.
// NextInvoiceNumber must run inside the posting transaction so a rolled-back
// invoice never ships its number to a customer.
type InvoiceNumberSeries struct {
	ID         int    `gorm:"primary_key" json:"id"`
	Prefix     string `gorm:"size:10;not null;uniqueIndex" json:"prefix"`
	NextNumber int64  `gorm:"not null;default:1" json:"next_number"`
}

const DefaultInvoicePrefix = "INV"

func NextInvoiceNumber(tx *gorm.DB, prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultInvoicePrefix
	}

	var series InvoiceNumberSeries
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("prefix = ?", prefix).
		First(&series).Error
	if err == gorm.ErrRecordNotFound {
		series = InvoiceNumberSeries{Prefix: prefix, NextNumber: 1}
		if err := tx.Create(&series).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	number := fmt.Sprintf("%s-%06d", series.Prefix, series.NextNumber)
	err = tx.Model(&InvoiceNumberSeries{}).
		Where("id = ?", series.ID).
		Update("next_number", series.NextNumber+1).Error
	if err != nil {
		return "", err
	}
	return number, nil
}
