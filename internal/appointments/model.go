package appointments

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/wolfman30/doctor-booking/internal/users"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// HoldsSlot reports whether an appointment in s occupies its time slot.
func (s Status) HoldsSlot() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// PaymentStatus tracks the mock payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentMethod is how the fee was, or will be, settled.
type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodCard   PaymentMethod = "card"
	MethodUPI    PaymentMethod = "upi"
	MethodOnline PaymentMethod = "online"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodUPI, MethodOnline:
		return true
	}
	return false
}

// Appointment is one booking of a doctor's time slot by a patient.
type Appointment struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patientId"`
	DoctorID  string    `json:"doctorId"`
	Date      time.Time `json:"date"`
	TimeSlot  string    `json:"timeSlot"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason"`
	Symptoms  string    `json:"symptoms,omitempty"`

	Notes        string     `json:"notes,omitempty"`
	Prescription string     `json:"prescription,omitempty"`
	Diagnosis    string     `json:"diagnosis,omitempty"`
	FollowUpDate *time.Time `json:"followUpDate,omitempty"`

	ConsultationFee float64       `json:"consultationFee"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Patient *users.Summary `json:"patient,omitempty"`
	Doctor  *users.Summary `json:"doctor,omitempty"`
}

func (a *Appointment) clone() *Appointment {
	cp := *a
	if a.FollowUpDate != nil {
		d := *a.FollowUpDate
		cp.FollowUpDate = &d
	}
	cp.Patient = nil
	cp.Doctor = nil
	return &cp
}

// BookRequest is the body of POST /appointments.
type BookRequest struct {
	DoctorID string `json:"doctorId"`
	Date     string `json:"date"`
	TimeSlot string `json:"timeSlot"`
	Reason   string `json:"reason"`
	Symptoms string `json:"symptoms"`
}

func (r *BookRequest) normalize() {
	r.DoctorID = strings.TrimSpace(r.DoctorID)
	r.Date = strings.TrimSpace(r.Date)
	r.TimeSlot = strings.TrimSpace(r.TimeSlot)
	r.Reason = strings.TrimSpace(r.Reason)
	r.Symptoms = strings.TrimSpace(r.Symptoms)
}

// StatusRequest is the body of the status PATCH endpoints.
type StatusRequest struct {
	Status Status `json:"status"`
}

// DetailsUpdate is the doctor's clinical patch. Nil fields are left alone; an
// empty followUpDate clears it.
type DetailsUpdate struct {
	Notes        *string `json:"notes"`
	Prescription *string `json:"prescription"`
	Diagnosis    *string `json:"diagnosis"`
	FollowUpDate *string `json:"followUpDate"`
}

// PayRequest is the body of POST /appointments/{id}/pay.
type PayRequest struct {
	PaymentMethod PaymentMethod `json:"paymentMethod"`
}

// VerifyRequest carries the gateway's confirmation. The mock gateway does not
// check it.
type VerifyRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// UnmarshalJSON reads the gateway's field names and also accepts orderId,
// paymentId and signature.
func (r *VerifyRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		GatewayOrderID   string `json:"razorpay_order_id"`
		GatewayPaymentID string `json:"razorpay_payment_id"`
		GatewaySignature string `json:"razorpay_signature"`
		OrderID          string `json:"orderId"`
		PaymentID        string `json:"paymentId"`
		Signature        string `json:"signature"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.OrderID = firstNonEmpty(raw.GatewayOrderID, raw.OrderID)
	r.PaymentID = firstNonEmpty(raw.GatewayPaymentID, raw.PaymentID)
	r.Signature = firstNonEmpty(raw.GatewaySignature, raw.Signature)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// PaymentResult is the trimmed view returned after payment.
type PaymentResult struct {
	ID              string        `json:"id"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	PaymentMethod   PaymentMethod `json:"paymentMethod"`
	ConsultationFee float64       `json:"consultationFee"`
}

// ListFilter narrows appointment listings. Zero fields match everything.
type ListFilter struct {
	PatientID string
	DoctorID  string
	Status    Status
	Date      *time.Time
}

func (f ListFilter) matches(a *Appointment) bool {
	if f.PatientID != "" && a.PatientID != f.PatientID {
		return false
	}
	if f.DoctorID != "" && a.DoctorID != f.DoctorID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Date != nil && !a.Date.Equal(*f.Date) {
		return false
	}
	return true
}

func patientSummary(u *users.User) *users.Summary {
	if u == nil {
		return nil
	}
	return &users.Summary{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone}
}

func doctorSummary(u *users.User) *users.Summary {
	if u == nil {
		return nil
	}
	return &users.Summary{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone, Specialization: u.Specialization}
}
