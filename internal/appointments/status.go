package appointments

import (
	"github.com/wolfman30/doctor-booking/internal/apperr"
	"github.com/wolfman30/doctor-booking/internal/users"
)

// transitions is the complete table of status moves each role may make.
// Anything absent is refused, including same-state requests.
var transitions = map[users.Role]map[Status][]Status{
	users.RoleDoctor: {
		StatusPending:   {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusCompleted},
	},
	users.RolePatient: {
		StatusPending:   {StatusCancelled},
		StatusConfirmed: {StatusCancelled},
	},
	users.RoleAdmin: {
		StatusPending: {StatusConfirmed, StatusCancelled},
	},
}

// CanTransition reports whether role may move an appointment from one status to another.
func CanTransition(role users.Role, from, to Status) bool {
	for _, allowed := range transitions[role][from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckTransition returns nil when the move is allowed, otherwise an error
// naming the current status.
func CheckTransition(role users.Role, from, to Status) error {
	if !to.Valid() {
		return apperr.Validation("Invalid status")
	}
	if CanTransition(role, from, to) {
		return nil
	}
	switch role {
	case users.RoleAdmin:
		if from != StatusPending {
			return apperr.Conflict("Cannot modify appointment. Current status is '%s'. Only pending appointments can be modified.", from)
		}
	case users.RolePatient:
		switch {
		case from == StatusCompleted:
			return apperr.Conflict("Cannot cancel completed appointment")
		case from == StatusCancelled:
			return apperr.Conflict("Appointment is already cancelled")
		case to != StatusCancelled:
			return apperr.Conflict("Patients can only cancel appointments")
		}
	}
	return apperr.Conflict("Cannot change appointment status from '%s' to '%s'", from, to)
}

// payable reports whether an appointment in s may be paid for.
func payable(s Status) bool {
	return s == StatusConfirmed || s == StatusCompleted
}
