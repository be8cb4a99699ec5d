package visit

import (
	"context"
	"time"
)

// Queue event tags pushed to connected staff. Payloads are deliberately
// coarse: an event names the clinic and what happened, never patient data.
const (
	TagRefreshQueue = "REFRESH_QUEUE"
	TagEmergency    = "EMERGENCY"
)

// QueueEvent is a commit-gated notification: staged during a transaction,
// delivered only after it durably commits.
type QueueEvent struct {
	ClinicID string `json:"clinic_id"`
	Tag      string `json:"tag"`
}

// Stats is the per-clinic-day dashboard aggregate.
type Stats struct {
	Date            time.Time `json:"date"`
	Waiting         int64     `json:"waiting"`
	Completed       int64     `json:"completed"`
	DailyCollection float64   `json:"daily_collection"`
}

// OpTx is the transactional view of the store handed to a mutating
// operation. Every read-modify-write of a Visit happens through one OpTx;
// events staged on it become visible to listeners only if the transaction
// commits.
type OpTx interface {
	VisitByID(ctx context.Context, id string) (*Visit, error)

	// InsertVisit persists a new visit and assigns its token number: the
	// next value of the (clinic, doctor, visit date) counter, allocated
	// inside this same transaction. Returns ErrTokenConflict if the
	// backing uniqueness check trips under concurrency.
	InsertVisit(ctx context.Context, v *Visit) error

	UpdateVisit(ctx context.Context, v *Visit) error

	// LastCompletedAt returns the visit date of the patient's most recent
	// COMPLETED visit with this doctor, or nil if none exists.
	LastCompletedAt(ctx context.Context, patientID, doctorID string) (*time.Time, error)

	// LatestVisit returns the patient's most recent visit by visit date.
	LatestVisit(ctx context.Context, patientID string) (*Visit, error)

	// Stage registers a queue event to be dispatched after commit.
	Stage(ev QueueEvent)
}

// Store is the persistence collaborator. Reads outside a mutating
// operation go through the plain methods; mutations run under InTx.
type Store interface {
	// InTx runs fn inside one transaction. Staged events are written with
	// the transaction and dispatched only after it commits; a rollback
	// produces zero events.
	InTx(ctx context.Context, fn func(ctx context.Context, tx OpTx) error) error

	VisitByID(ctx context.Context, id string) (*Visit, error)

	// ActiveQueue returns the visits in the given statuses for a clinic
	// day, optionally narrowed to one doctor (empty doctorID means all).
	// Ordering is the caller's concern.
	ActiveQueue(ctx context.Context, clinicID string, date time.Time, doctorID string, statuses []Status) ([]*Visit, error)

	// VisitsByStatus returns one clinic day's visits in a single status.
	VisitsByStatus(ctx context.Context, clinicID string, date time.Time, status Status) ([]*Visit, error)

	// History returns a patient's visits, newest first.
	History(ctx context.Context, patientID string) ([]*Visit, error)

	// LastCompletedAt mirrors OpTx.LastCompletedAt for read-only fee
	// previews.
	LastCompletedAt(ctx context.Context, patientID, doctorID string) (*time.Time, error)

	// NextFollowUp returns the patient's nearest follow-up date on or
	// after today, recomputed from all of the patient's visits. nil when
	// none is pending.
	NextFollowUp(ctx context.Context, patientID string, today time.Time) (*time.Time, error)

	// FollowUpsOn returns the visits whose follow-up date falls on the
	// given day for a clinic/doctor.
	FollowUpsOn(ctx context.Context, date time.Time, clinicID, doctorID string) ([]*Visit, error)

	// DailyStats aggregates one clinic day.
	DailyStats(ctx context.Context, clinicID string, date time.Time) (*Stats, error)
}

// Messenger is the SMS collaborator. Implementations are best-effort and
// must never propagate failures to the caller.
type Messenger interface {
	AppointmentConfirmed(ctx context.Context, patientName, mobile, date string, token int, doctorName string)
	WalkInRegistered(ctx context.Context, patientName, mobile string, token int, doctorName string)
	ThankYou(ctx context.Context, patientName, mobile string)
	FollowUpReminder(ctx context.Context, patientName, mobile, doctorName string)
}
