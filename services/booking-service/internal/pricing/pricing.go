// Package pricing holds the money rules: deposit size, voucher and membership
// discounts, and the final balance. Amounts are int64 minor units.
package pricing

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

// Deposit is ceil(total * 0.5).
func Deposit(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return (total + 1) / 2
}

// ValidateVoucher checks that v can be applied by customerID at time at.
func ValidateVoucher(v model.Voucher, customerID string, at time.Time) error {
	switch {
	case !v.IsActive:
		return fmt.Errorf("%w: voucher %s is inactive", model.ErrInvalidInput, v.Code)
	case at.Before(v.ValidFrom) || !at.Before(v.ValidTo):
		return fmt.Errorf("%w: voucher %s is outside its validity window", model.ErrInvalidInput, v.Code)
	case v.CustomerID != "" && v.CustomerID != customerID:
		return fmt.Errorf("%w: voucher %s belongs to another customer", model.ErrInvalidInput, v.Code)
	}
	return nil
}

// VoucherDiscount applies a fixed amount, or a percentage capped by MaxDiscount when set.
// The result never exceeds base.
func VoucherDiscount(v model.Voucher, base int64) int64 {
	var d int64
	if v.DiscountAmount > 0 {
		d = v.DiscountAmount
	} else if v.DiscountPercent > 0 {
		d = base * int64(v.DiscountPercent) / 100
		if v.MaxDiscount > 0 && d > v.MaxDiscount {
			d = v.MaxDiscount
		}
	}
	return clamp(d, base)
}

func PercentDiscount(percent int, base int64) int64 {
	if percent <= 0 {
		return 0
	}
	return clamp(base*int64(percent)/100, base)
}

// Settlement is the final invoice's arithmetic.
type Settlement struct {
	// Total is the remaining balance after the deposit.
	Total       int64
	Discount    int64
	FinalAmount int64
}

// Settle computes remaining = total - deposit - discount, with the discount
// capped at the remaining balance.
func Settle(total, deposit, discount int64) Settlement {
	remaining := total - deposit
	if remaining < 0 {
		remaining = 0
	}
	discount = clamp(discount, remaining)
	return Settlement{
		Total:       remaining,
		Discount:    discount,
		FinalAmount: model.ClampedFinal(remaining, discount),
	}
}

func clamp(v, max int64) int64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
