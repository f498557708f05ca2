package model

import "strings"

type ActorKind string

const (
	ActorCustomer ActorKind = "customer"
	ActorStaff    ActorKind = "staff"
	ActorDoctor   ActorKind = "doctor"
	ActorAdmin    ActorKind = "admin"
	ActorSystem   ActorKind = "system"
)

// Actor identifies who requested an operation.
type Actor struct {
	Kind ActorKind
	ID   string
}

// ReconcilerActor is the only actor allowed to move money-gated transitions.
var ReconcilerActor = Actor{Kind: ActorSystem, ID: "payment-reconciler"}

func ParseActorKind(raw string) (ActorKind, bool) {
	switch k := ActorKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case ActorCustomer, ActorStaff, ActorDoctor, ActorAdmin:
		return k, true
	}
	return "", false
}

func (a Actor) IsReconciler() bool {
	return a == ReconcilerActor
}

// IsStaff is true for front-desk staff and admins.
func (a Actor) IsStaff() bool {
	return a.Kind == ActorStaff || a.Kind == ActorAdmin
}

// IsClinician is true for staff, admins and doctors.
func (a Actor) IsClinician() bool {
	return a.IsStaff() || a.Kind == ActorDoctor
}
