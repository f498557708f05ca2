package pricing

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestDepositIsHalfRoundedUp(t *testing.T) {
	assert.Equal(t, int64(250000), Deposit(500000))
	assert.Equal(t, int64(1), Deposit(1))
	assert.Equal(t, int64(51), Deposit(101))
	assert.Equal(t, int64(0), Deposit(0))

	for total := int64(1); total <= 2000; total += 7 {
		d := Deposit(total)
		assert.True(t, d > 0 && d <= total, "deposit %d out of bounds for total %d", d, total)
		assert.True(t, 2*d >= total && 2*d-total <= 1, "deposit %d is not ceil(%d/2)", d, total)
	}
}

func TestVoucherDiscount(t *testing.T) {
	fixed := model.Voucher{DiscountAmount: 30000}
	assert.Equal(t, int64(30000), VoucherDiscount(fixed, 100000))
	assert.Equal(t, int64(20000), VoucherDiscount(fixed, 20000), "never above the base")

	pct := model.Voucher{DiscountPercent: 10, MaxDiscount: 15000}
	assert.Equal(t, int64(10000), VoucherDiscount(pct, 100000))
	assert.Equal(t, int64(15000), VoucherDiscount(pct, 400000), "capped by max discount")

	assert.Equal(t, int64(0), VoucherDiscount(model.Voucher{}, 100000))
	assert.Equal(t, int64(5000), PercentDiscount(5, 100000))
	assert.Equal(t, int64(0), PercentDiscount(0, 100000))
}

func TestValidateVoucher(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	v := model.Voucher{Code: "SPRING", IsActive: true, ValidFrom: now.Add(-time.Hour), ValidTo: now.Add(time.Hour)}

	assert.NoError(t, ValidateVoucher(v, "c1", now))

	owned := v
	owned.CustomerID = "c2"
	assert.ErrorIs(t, ValidateVoucher(owned, "c1", now), model.ErrInvalidInput)

	expired := v
	expired.ValidTo = now
	assert.ErrorIs(t, ValidateVoucher(expired, "c1", now), model.ErrInvalidInput)

	inactive := v
	inactive.IsActive = false
	assert.ErrorIs(t, ValidateVoucher(inactive, "c1", now), model.ErrInvalidInput)
}

func TestSettle(t *testing.T) {
	s := Settle(500000, 250000, 50000)
	assert.Equal(t, Settlement{Total: 250000, Discount: 50000, FinalAmount: 200000}, s)

	s = Settle(500000, 250000, 900000)
	assert.Equal(t, Settlement{Total: 250000, Discount: 250000, FinalAmount: 0}, s)
}
