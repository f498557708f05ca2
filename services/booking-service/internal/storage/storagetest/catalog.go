package storagetest

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

func (s *Store) GetServices(_ context.Context, _ db.DBTX, ids []string) (map[string]model.Service, error) {
	defer s.lock()()
	out := map[string]model.Service{}
	for _, id := range ids {
		if svc, ok := s.data.services[id]; ok {
			out[id] = svc
		}
	}
	return out, nil
}

func (s *Store) PractitionerOffers(_ context.Context, _ db.DBTX, practitionerID string, serviceIDs []string) (bool, error) {
	defer s.lock()()
	for _, id := range serviceIDs {
		if !s.data.offers[practitionerID][id] {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) GetVoucher(_ context.Context, _ db.DBTX, id string) (model.Voucher, error) {
	defer s.lock()()
	v, ok := s.data.vouchers[id]
	if !ok {
		return model.Voucher{}, fmt.Errorf("%w: voucher %s", model.ErrNotFound, id)
	}
	return v, nil
}

func (s *Store) GetVoucherByCode(_ context.Context, _ db.DBTX, code string) (model.Voucher, error) {
	defer s.lock()()
	for _, v := range s.data.vouchers {
		if v.Code == code {
			return v, nil
		}
	}
	return model.Voucher{}, fmt.Errorf("%w: voucher %s", model.ErrNotFound, code)
}

func (s *Store) MembershipDiscountPercent(_ context.Context, _ db.DBTX, customerID string) (int, error) {
	defer s.lock()()
	return s.data.memberships[customerID], nil
}
