package appointments

import (
	"github.com/wolfman30/doctor-booking/internal/apperr"
	"github.com/wolfman30/doctor-booking/internal/auth"
	"github.com/wolfman30/doctor-booking/internal/users"
)

// Action is something a caller wants to do to an existing appointment.
type Action string

const (
	ActionView           Action = "view"
	ActionSetStatus      Action = "set_status"
	ActionEditDetails    Action = "edit_details"
	ActionCancel         Action = "cancel"
	ActionPay            Action = "pay"
	ActionAdminSetStatus Action = "admin_set_status"
	ActionAdminDelete    Action = "admin_delete"
)

var errAccessDenied = apperr.Permission("Access denied")

// Authorize decides whether actor may perform action on appt. It checks role
// and ownership only; status rules live in CheckTransition.
func Authorize(actor auth.Principal, appt *Appointment, action Action) error {
	if appt == nil || actor.UserID == "" {
		return errAccessDenied
	}
	ownsAsPatient := actor.Is(users.RolePatient) && appt.PatientID == actor.UserID
	ownsAsDoctor := actor.Is(users.RoleDoctor) && appt.DoctorID == actor.UserID

	var ok bool
	switch action {
	case ActionView:
		ok = ownsAsPatient || ownsAsDoctor
	case ActionSetStatus, ActionEditDetails:
		ok = ownsAsDoctor
	case ActionCancel, ActionPay:
		ok = ownsAsPatient
	case ActionAdminSetStatus, ActionAdminDelete:
		ok = actor.Is(users.RoleAdmin)
	}
	if !ok {
		return errAccessDenied
	}
	return nil
}
