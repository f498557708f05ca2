package model

import "time"

// Service is a read-only catalog entry.
type Service struct {
	ID     string
	Name   string
	Price  int64
	Active bool
}

// Voucher is read-only here; only its application to a price is handled.
type Voucher struct {
	ID              string
	Code            string
	CustomerID      string
	DiscountAmount  int64
	DiscountPercent int
	MaxDiscount     int64
	ValidFrom       time.Time
	ValidTo         time.Time
	IsActive        bool
}
