package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

// GetServices returns the requested catalog entries keyed by id. Missing ids are absent from the map.
func (s *Store) GetServices(ctx context.Context, q db.DBTX, ids []string) (map[string]model.Service, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, price, active FROM services WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	list, err := collect(rows, func(r pgx.Rows) (model.Service, error) {
		var svc model.Service
		err := r.Scan(&svc.ID, &svc.Name, &svc.Price, &svc.Active)
		return svc, err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Service, len(list))
	for _, svc := range list {
		out[svc.ID] = svc
	}
	return out, nil
}

// PractitionerOffers reports whether the practitioner is associated with every listed service.
func (s *Store) PractitionerOffers(ctx context.Context, q db.DBTX, practitionerID string, serviceIDs []string) (bool, error) {
	unique := map[string]struct{}{}
	for _, id := range serviceIDs {
		unique[id] = struct{}{}
	}
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(DISTINCT service_id)
		FROM practitioner_services
		WHERE practitioner_id = $1 AND service_id = ANY($2)
	`, practitionerID, serviceIDs).Scan(&n)
	if err != nil {
		return false, err
	}
	return n == len(unique), nil
}

const voucherColumns = `id, code, COALESCE(customer_id, ''), discount_amount, discount_percent, max_discount, valid_from, valid_to, is_active`

func scanVoucher(row pgx.Row) (model.Voucher, error) {
	var v model.Voucher
	err := row.Scan(&v.ID, &v.Code, &v.CustomerID, &v.DiscountAmount, &v.DiscountPercent, &v.MaxDiscount, &v.ValidFrom, &v.ValidTo, &v.IsActive)
	return v, err
}

func (s *Store) GetVoucher(ctx context.Context, q db.DBTX, id string) (model.Voucher, error) {
	v, err := scanVoucher(q.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, id))
	if err != nil {
		return model.Voucher{}, notFound(err, "voucher", id)
	}
	return v, nil
}

func (s *Store) GetVoucherByCode(ctx context.Context, q db.DBTX, code string) (model.Voucher, error) {
	v, err := scanVoucher(q.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = $1`, code))
	if err != nil {
		return model.Voucher{}, notFound(err, "voucher", code)
	}
	return v, nil
}

// MembershipDiscountPercent returns 0 for customers without a membership.
func (s *Store) MembershipDiscountPercent(ctx context.Context, q db.DBTX, customerID string) (int, error) {
	var pct int
	err := q.QueryRow(ctx, `SELECT discount_percent FROM customer_memberships WHERE customer_id = $1`, customerID).Scan(&pct)
	if err != nil {
		if db.IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("membership lookup: %w", err)
	}
	return pct, nil
}
