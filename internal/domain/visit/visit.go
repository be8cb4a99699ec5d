// Package visit implements the visit lifecycle core: the state machine
// governing a visit from booking to completion, the per-doctor daily token
// queue, the consultation fee rules and follow-up date tracking.
package visit

import (
	"fmt"
	"strings"
	"time"
)

// Status represents visit status
type Status string

const (
	StatusBooked         Status = "BOOKED"          // appointment, not yet arrived
	StatusArrived        Status = "ARRIVED"         // physically present, waiting
	StatusInProgress     Status = "IN_PROGRESS"     // being examined
	StatusBillingPending Status = "BILLING_PENDING" // clinically done, payment outstanding
	StatusCompleted      Status = "COMPLETED"       // terminal, paid
	StatusCancelled      Status = "CANCELLED"       // terminal, no-show/abort
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	switch s {
	case StatusBooked, StatusArrived, StatusInProgress,
		StatusBillingPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Type represents the kind of encounter.
type Type string

const (
	TypeOPD         Type = "OPD"
	TypeFollowUp    Type = "FOLLOW_UP"
	TypeOnCall      Type = "ON_CALL" // phone consultation, free and auto-paid
	TypeAppointment Type = "APPOINTMENT"
)

// Vitals holds the nurse-recorded measurements, mutable until completion.
type Vitals struct {
	BP          string `json:"bp,omitempty"`
	Temperature string `json:"temperature,omitempty"`
	Pulse       string `json:"pulse,omitempty"`
	Weight      string `json:"weight,omitempty"`
}

// Visit is one patient-doctor encounter on a clinic day, with its own
// billing and clinical record.
type Visit struct {
	ID       string `json:"id"`
	ClinicID string `json:"clinic_id"`
	DoctorID string `json:"doctor_id"`

	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	PatientMobile string `json:"patient_mobile,omitempty"`
	DoctorName    string `json:"doctor_name"`

	Type   Type   `json:"type"`
	Reason string `json:"reason,omitempty"`
	Status Status `json:"status"`

	// VisitDate is the clinic day this visit belongs to (midnight UTC).
	// A stale BOOKED visit is reassigned to today on arrival.
	VisitDate   time.Time  `json:"visit_date"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// TokenNumber is unique per (doctor, visit date), dense from 1.
	// QueueOrder sequences the active waiting line and is adjustable by
	// staff independently of the token. nil means not in the active line.
	TokenNumber int  `json:"token_number"`
	QueueOrder  *int `json:"queue_order,omitempty"`
	Emergency   bool `json:"emergency"`

	Diagnosis        string `json:"diagnosis,omitempty"`
	PrescriptionNote string `json:"prescription_note,omitempty"`
	Vitals           Vitals `json:"vitals"`

	ConsultationFee  float64 `json:"consultation_fee"`
	OtherCharges     float64 `json:"other_charges"`
	TotalAmount      float64 `json:"total_amount"`
	PaidAmount       float64 `json:"paid_amount"`
	PaymentMode      string  `json:"payment_mode,omitempty"`
	PaymentCollected bool    `json:"payment_collected"`

	// FollowUpDate, once set, is never cleared implicitly: an absent field
	// in an update means "no change", never "clear".
	FollowUpDate *time.Time `json:"follow_up_date,omitempty"`
}

// transitions is the legal edge set of the state machine. A status not in
// the map is terminal.
var transitions = map[Status][]Status{
	StatusBooked: {StatusArrived, StatusCancelled},
	StatusArrived: {StatusBooked, StatusArrived, StatusInProgress,
		StatusBillingPending, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusArrived, StatusBillingPending,
		StatusCompleted, StatusCancelled},
	StatusBillingPending: {StatusArrived, StatusCompleted},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (v *Visit) setStatus(to Status) error {
	if v.Status == to {
		return nil
	}
	if !CanTransition(v.Status, to) {
		return &PreconditionError{
			Op:  "transition",
			Msg: fmt.Sprintf("visit %s: illegal transition %s -> %s", v.ID, v.Status, to),
		}
	}
	v.Status = to
	return nil
}

// Arrive moves a visit into the waiting line. A stored date other than the
// current clinic day is silently reassigned to today (a stale booking is
// treated as "arrived today"). Assigns a queue order if absent.
func (v *Visit) Arrive(now time.Time) (rescheduled bool, err error) {
	if err := v.setStatus(StatusArrived); err != nil {
		return false, err
	}
	today := DateOf(now)
	if !v.VisitDate.Equal(today) {
		v.VisitDate = today
		rescheduled = true
	}
	if v.QueueOrder == nil {
		order := SecondsSinceMidnight(now)
		v.QueueOrder = &order
	}
	return rescheduled, nil
}

// MedicalInfo carries the doctor-side completion fields. Pointer fields
// distinguish "not supplied" from an explicit value.
type MedicalInfo struct {
	Diagnosis        string
	Prescription     string
	OtherCharges     *float64
	FollowUpDate     *time.Time
	PaymentCollected bool
}

// CompleteCheckup is the doctor-side completion path: clinical fields are
// applied unconditionally; payment collected here closes the visit, else it
// parks in BILLING_PENDING with money still owed.
func (v *Visit) CompleteCheckup(req MedicalInfo, now time.Time) error {
	target := StatusBillingPending
	if req.PaymentCollected {
		target = StatusCompleted
	}
	if err := v.setStatus(target); err != nil {
		return err
	}

	v.Diagnosis = req.Diagnosis
	v.PrescriptionNote = req.Prescription
	if req.OtherCharges != nil {
		v.OtherCharges = *req.OtherCharges
	}
	if req.FollowUpDate != nil {
		v.FollowUpDate = req.FollowUpDate
	}

	if req.PaymentCollected {
		fee := v.ConsultationFee
		if fee == 0 && v.Type != TypeOnCall {
			fee = StandardFee
		}
		other := 0.0
		if req.OtherCharges != nil {
			other = *req.OtherCharges
		}
		v.ConsultationFee = fee
		v.TotalAmount = fee + other
		v.PaidAmount = fee + other
		v.PaymentMode = "CASH"
		v.PaymentCollected = true
		t := now
		v.CompletedAt = &t
	}
	return nil
}

// Billing carries the receptionist-side completion fields. Amount, when
// supplied, overrides the fee+charges sum.
type Billing struct {
	ConsultationFee *float64
	OtherCharges    *float64
	PaymentMode     string
	Procedures      string
	Amount          *float64
	FollowUpDate    *time.Time
}

// procSeparator joins procedure codes onto the diagnosis text.
const procSeparator = " | Proc: "

// CompleteBilling is the billing-side completion path: always terminal
// COMPLETED regardless of the prior payment flag. Procedure codes are
// appended to the diagnosis, replacing only a previously appended block.
func (v *Visit) CompleteBilling(req Billing, now time.Time) error {
	if err := v.setStatus(StatusCompleted); err != nil {
		return err
	}

	if req.ConsultationFee != nil {
		v.ConsultationFee = *req.ConsultationFee
	}
	if req.OtherCharges != nil {
		v.OtherCharges = *req.OtherCharges
	}
	if req.PaymentMode != "" {
		v.PaymentMode = req.PaymentMode
	}
	if req.Amount != nil {
		v.TotalAmount = *req.Amount
	} else {
		v.TotalAmount = v.ConsultationFee + v.OtherCharges
	}
	v.PaidAmount = v.TotalAmount
	v.PaymentCollected = true
	t := now
	v.CompletedAt = &t

	if req.Procedures != "" {
		v.Diagnosis = spliceProcedures(v.Diagnosis, req.Procedures)
	}
	if req.FollowUpDate != nil {
		v.FollowUpDate = req.FollowUpDate
	}
	return nil
}

// spliceProcedures keeps a single procedure block at the end of the
// diagnosis text, replacing an earlier one instead of stacking.
func spliceProcedures(diagnosis, procedures string) string {
	base := diagnosis
	if i := strings.Index(diagnosis, procSeparator); i >= 0 {
		base = strings.TrimRight(diagnosis[:i], " ")
	}
	return base + procSeparator + procedures
}

// FlagEmergency sets the emergency flag and forces the visit back to
// ARRIVED: an emergency mid-process returns to the front of the waiting
// line rather than staying IN_PROGRESS.
func (v *Visit) FlagEmergency() error {
	if v.Status.Terminal() {
		return &PreconditionError{
			Op:  "emergency",
			Msg: fmt.Sprintf("visit %s: cannot mark %s visit as emergency", v.ID, v.Status),
		}
	}
	if err := v.setStatus(StatusArrived); err != nil {
		return err
	}
	v.Emergency = true
	return nil
}

// RevertToBooked undoes a mistaken arrival. It is a correction action, not
// a general rollback: any state other than ARRIVED is a no-op, never an
// error. Returns whether the status changed.
func (v *Visit) RevertToBooked() bool {
	if v.Status != StatusArrived {
		return false
	}
	v.Status = StatusBooked
	return true
}

// ApplyVitals updates the measurements. Vitals are mutable until the visit
// reaches a terminal state.
func (v *Visit) ApplyVitals(vt Vitals) error {
	if v.Status.Terminal() {
		return &PreconditionError{
			Op:  "vitals",
			Msg: fmt.Sprintf("visit %s: vitals are frozen after %s", v.ID, v.Status),
		}
	}
	v.Vitals = vt
	return nil
}

// DateOf truncates t to its clinic day (midnight UTC).
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SecondsSinceMidnight is the coarse same-day FIFO key assigned on arrival.
func SecondsSinceMidnight(t time.Time) int {
	t = t.UTC()
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}
