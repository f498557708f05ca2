// Package lifecycle owns appointment status. Every status write in the
// service goes through Machine, which checks the transition graph and the
// guard of the target status inside one transaction.
package lifecycle

import "github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"

var transitions = map[model.Status][]model.Status{
	model.StatusPending:   {model.StatusConfirmed, model.StatusRejected, model.StatusCancelled},
	model.StatusConfirmed: {model.StatusDeposited, model.StatusRejected, model.StatusCancelled},
	model.StatusDeposited: {model.StatusApproved, model.StatusRejected, model.StatusCancelled},
	model.StatusApproved:  {model.StatusPaid, model.StatusRejected, model.StatusCancelled},
	model.StatusPaid:      {model.StatusCompleted, model.StatusCancelled},
	model.StatusCompleted: nil,
	model.StatusRejected:  nil,
	model.StatusCancelled: nil,
}

// Allowed reports whether to is one step away from from.
func Allowed(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Targets lists the statuses reachable from from in one transition.
func Targets(from model.Status) []model.Status {
	return append([]model.Status(nil), transitions[from]...)
}
