package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// tokenRetries bounds the registration retry loop on allocation conflicts.
const tokenRetries = 3

// Service owns the visit state machine. Every mutating operation runs
// inside one store transaction; queue events are staged on that
// transaction and reach listeners only after commit. SMS goes out after
// commit, fire-and-forget.
type Service struct {
	store  Store
	msgr   Messenger
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the visit service.
func NewService(store Store, msgr Messenger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		msgr:   msgr,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRequest creates a visit for a walk-in or an appointment.
type RegisterRequest struct {
	PatientID     string
	PatientName   string
	PatientMobile string
	ClinicID      string
	DoctorID      string
	DoctorName    string

	Type   Type
	Reason string

	Appointment     bool
	AppointmentDate *time.Time
	Emergency       bool
	OtherCharges    float64
}

func (r *RegisterRequest) validate() error {
	switch {
	case r.DoctorID == "":
		return &PreconditionError{Op: "register", Msg: "doctor is required"}
	case r.ClinicID == "":
		return &PreconditionError{Op: "register", Msg: "clinic is required"}
	case r.PatientID == "":
		return &PreconditionError{Op: "register", Msg: "patient is required"}
	}
	return nil
}

// Register creates a visit. Walk-ins enter the waiting line as ARRIVED
// with a same-day FIFO queue order; appointments are BOOKED and join the
// line on arrival. The consultation fee locks in at registration from the
// patient's history with this doctor; on-call visits are free and
// auto-paid. Token allocation conflicts are retried transparently.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Visit, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()

	v := &Visit{
		ID:            uuid.New().String(),
		ClinicID:      req.ClinicID,
		DoctorID:      req.DoctorID,
		DoctorName:    req.DoctorName,
		PatientID:     req.PatientID,
		PatientName:   req.PatientName,
		PatientMobile: req.PatientMobile,
		Type:          req.Type,
		Reason:        req.Reason,
		CreatedAt:     now,
		Emergency:     req.Emergency,
		OtherCharges:  req.OtherCharges,
	}

	if req.Appointment && req.AppointmentDate != nil {
		v.VisitDate = DateOf(*req.AppointmentDate)
	} else {
		v.VisitDate = DateOf(now)
	}

	if req.Appointment {
		v.Status = StatusBooked
	} else {
		v.Status = StatusArrived
		order := SecondsSinceMidnight(now)
		v.QueueOrder = &order
	}

	var err error
	for attempt := 0; attempt < tokenRetries; attempt++ {
		err = s.store.InTx(ctx, func(ctx context.Context, tx OpTx) error {
			if v.Type == TypeOnCall {
				v.ConsultationFee = 0
				v.PaymentCollected = true
			} else {
				last, err := tx.LastCompletedAt(ctx, v.PatientID, v.DoctorID)
				if err != nil {
					return err
				}
				v.ConsultationFee = FeeForHistory(last, now)
			}
			v.TotalAmount = v.ConsultationFee + v.OtherCharges

			if err := tx.InsertVisit(ctx, v); err != nil {
				return err
			}
			if !req.Appointment {
				tag := TagRefreshQueue
				if v.Emergency {
					tag = TagEmergency
				}
				tx.Stage(QueueEvent{ClinicID: v.ClinicID, Tag: tag})
			}
			return nil
		})
		if !errors.Is(err, ErrTokenConflict) {
			break
		}
		s.logger.Warn("token allocation conflict, retrying",
			zap.String("doctor_id", v.DoctorID),
			zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("visit registered",
		zap.String("visit_id", v.ID),
		zap.String("clinic_id", v.ClinicID),
		zap.Int("token", v.TokenNumber),
		zap.String("type", string(v.Type)),
		zap.Bool("appointment", req.Appointment))

	if v.PatientMobile != "" {
		if req.Appointment {
			go s.msgr.AppointmentConfirmed(context.WithoutCancel(ctx),
				v.PatientName, v.PatientMobile,
				v.VisitDate.Format(time.DateOnly), v.TokenNumber, v.DoctorName)
		} else {
			go s.msgr.WalkInRegistered(context.WithoutCancel(ctx),
				v.PatientName, v.PatientMobile, v.TokenNumber, v.DoctorName)
		}
	}
	return v, nil
}

// DirectCheckupRequest records an encounter that already happened: the
// visit is created terminal with its clinical and billing data in one
// shot.
type DirectCheckupRequest struct {
	PatientID     string
	PatientName   string
	PatientMobile string
	ClinicID      string
	DoctorID      string
	DoctorName    string

	Diagnosis    string
	Prescription string
	Vitals       Vitals

	ConsultationFee float64
	OtherCharges    float64
	TotalAmount     float64
	FollowUpDate    *time.Time
}

// DirectCheckup creates an already-COMPLETED visit for today. It still
// draws a token so the day's sequence stays dense.
func (s *Service) DirectCheckup(ctx context.Context, req DirectCheckupRequest) (*Visit, error) {
	if req.DoctorID == "" || req.ClinicID == "" || req.PatientID == "" {
		return nil, &PreconditionError{Op: "direct-checkup", Msg: "patient, doctor and clinic are required"}
	}
	now := s.now()

	total := req.TotalAmount
	if total == 0 {
		total = req.ConsultationFee + req.OtherCharges
	}
	completed := now
	v := &Visit{
		ID:               uuid.New().String(),
		ClinicID:         req.ClinicID,
		DoctorID:         req.DoctorID,
		DoctorName:       req.DoctorName,
		PatientID:        req.PatientID,
		PatientName:      req.PatientName,
		PatientMobile:    req.PatientMobile,
		Type:             TypeOPD,
		Status:           StatusCompleted,
		VisitDate:        DateOf(now),
		CreatedAt:        now,
		CompletedAt:      &completed,
		Diagnosis:        req.Diagnosis,
		PrescriptionNote: req.Prescription,
		Vitals:           req.Vitals,
		ConsultationFee:  req.ConsultationFee,
		OtherCharges:     req.OtherCharges,
		TotalAmount:      total,
		PaidAmount:       total,
		PaymentMode:      "CASH",
		PaymentCollected: true,
		FollowUpDate:     req.FollowUpDate,
	}

	var err error
	for attempt := 0; attempt < tokenRetries; attempt++ {
		err = s.store.InTx(ctx, func(ctx context.Context, tx OpTx) error {
			return tx.InsertVisit(ctx, v)
		})
		if !errors.Is(err, ErrTokenConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("direct checkup recorded",
		zap.String("visit_id", v.ID), zap.Int("token", v.TokenNumber))
	return v, nil
}

// MarkArrived moves a BOOKED visit into the waiting line. A stale booking
// is silently rescheduled to today.
func (s *Service) MarkArrived(ctx context.Context, visitID string) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx OpTx) error {
		v, err := tx.VisitByID(ctx, visitID)
		if err != nil {
			return err
		}
		rescheduled, err := v.Arrive(s.now())
		if err != nil {
			return err
		}
		if rescheduled {
			s.logger.Info("stale booking rescheduled to today",
				zap.String("visit_id", v.ID))
		}
		if err := tx.UpdateVisit(ctx, v); err != nil {
			return err
		}
		tx.Stage(QueueEvent{ClinicID: v.ClinicID, Tag: TagRefreshQueue})
		return nil
	})
}

// CompleteCheckup is the doctor-side completion path.
func (s *Service) CompleteCheckup(ctx context.Context, visitID string, req MedicalInfo) error {
	var done *Visit
	err := s.store.InTx(ctx, func(ctx context.Context, tx OpTx) error {
		v, err := tx.VisitByID(ctx, visitID)
		if err != nil {
			return err
		}
		if err := v.CompleteCheckup(req, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateVisit(ctx, v); err != nil {
			return err
		}
		tx.Stage(QueueEvent{ClinicID: v.ClinicID, Tag: TagRefreshQueue})
		done = v
		return nil
	})
	if err != nil {
		return err
	}
	if done.Status == StatusCompleted && done.PatientMobile != "" {
		go s.msgr.ThankYou(context.WithoutCancel(ctx), done.PatientName, done.PatientMobile)
	}
	return nil
}

// CompleteBilling is the receptionist-side completion path, always
// terminal.
func (s *Service) CompleteBilling(ctx context.Context, visitID string, req Billing) error {
	var done *Visit
	err := s.store.InTx(ctx, func(ctx context.Context, tx OpTx) error {
		v, err := tx.VisitByID(ctx, visitID)
		if err != nil {
			return err
		}
		if err := v.CompleteBilling(req, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateVisit(ctx, v); err != nil {
			return err
		}
		tx.Stage(QueueEvent{ClinicID: v.ClinicID, Tag: TagRefreshQueue})
		done = v
		return nil
	})
	if err != nil {
		return err
	}
	if done.PatientMobile != "" {
		go s.msgr.ThankYou(context.WithoutCancel(ctx), done.PatientName, done.PatientMobile)
	}
	return nil
}

// MarkEmergency flags a visit and returns it to the front of the line.
func (s *Service) MarkEmergency(ctx context.Context, visitID string) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx OpTx) error {
		v, err := tx.VisitByID(ctx, visitID)
		if err != nil {
			return err
		}
		if err := v.FlagEmergency(); err != nil {
			return err
		}
		if err := tx.UpdateVisit(ctx, v); err != nil {
			return err
		}
		tx.Stage(QueueEvent{ClinicID: v.ClinicID, Tag: TagEmergency})
		return nil
	})
}

// RevertToBooked undoes a mistaken arrival. Calling it on a visit in any
// state other than ARRIVED is a no-op, never an error.
func (s *Service) RevertToBooked(ctx context.Context, visitID string) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx OpTx) error {
		v, err := tx.VisitByID(ctx, visitID)
		if err != nil {
			return err
		}
		if !v.RevertToBooked() {
			return nil
		}
		if err := tx.UpdateVisit(ctx, v); err != nil {
			return err
		}
		tx.Stage(QueueEvent{ClinicID: v.ClinicID, Tag: TagRefreshQueue})
		return nil
	})
}

// UpdateQueueOrder reassigns queue order to the 1..N rank implied by the
// given sequence, regardless of current status. Used for manual staff
// reordering of the waiting line.
func (s *Service) UpdateQueueOrder(ctx context.Context, visitIDs []string) error {
	if len(visitIDs) == 0 {
		return nil
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx OpTx) error {
		clinicID := ""
		for i, id := range visitIDs {
			v, err := tx.VisitByID(ctx, id)
			if err != nil {
				return err
			}
			order := i + 1
			v.QueueOrder = &order
			if err := tx.UpdateVisit(ctx, v); err != nil {
				return err
			}
			if clinicID == "" {
				clinicID = v.ClinicID
			}
		}
		tx.Stage(QueueEvent{ClinicID: clinicID, Tag: TagRefreshQueue})
		return nil
	})
}

// UpdateVitals records measurements on a not-yet-completed visit.
func (s *Service) UpdateVitals(ctx context.Context, visitID string, vt Vitals) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx OpTx) error {
		v, err := tx.VisitByID(ctx, visitID)
		if err != nil {
			return err
		}
		if err := v.ApplyVitals(vt); err != nil {
			return err
		}
		if err := tx.UpdateVisit(ctx, v); err != nil {
			return err
		}
		tx.Stage(QueueEvent{ClinicID: v.ClinicID, Tag: TagRefreshQueue})
		return nil
	})
}

// UpdateFollowUp attaches a follow-up date to the patient's most recent
// visit (the reception calendar path). It updates that visit in place;
// follow-up dates on other visits are untouched.
func (s *Service) UpdateFollowUp(ctx context.Context, patientID string, date time.Time) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx OpTx) error {
		v, err := tx.LatestVisit(ctx, patientID)
		if err != nil {
			return err
		}
		d := DateOf(date)
		v.FollowUpDate = &d
		return tx.UpdateVisit(ctx, v)
	})
}

// activeDoctorStatuses are the statuses shown in the doctor's line.
var activeDoctorStatuses = []Status{StatusArrived, StatusInProgress}

// activeReceptionStatuses are the statuses shown at the reception desk.
var activeReceptionStatuses = []Status{StatusArrived, StatusBillingPending}

// DoctorQueue returns the active line in the doctor's order: emergencies
// first, then token order.
func (s *Service) DoctorQueue(ctx context.Context, clinicID, doctorID string, date time.Time) ([]*Visit, error) {
	vs, err := s.store.ActiveQueue(ctx, clinicID, DateOf(date), doctorID, activeDoctorStatuses)
	if err != nil {
		return nil, err
	}
	SortDoctorView(vs)
	return vs, nil
}

// ReceptionQueue returns the active line in the reception order:
// emergencies first, then the manually adjustable queue order.
func (s *Service) ReceptionQueue(ctx context.Context, clinicID string, date time.Time) ([]*Visit, error) {
	vs, err := s.store.ActiveQueue(ctx, clinicID, DateOf(date), "", activeReceptionStatuses)
	if err != nil {
		return nil, err
	}
	SortReceptionView(vs)
	return vs, nil
}

// BookedList returns the day's not-yet-arrived appointments by token.
func (s *Service) BookedList(ctx context.Context, clinicID string, date time.Time) ([]*Visit, error) {
	vs, err := s.store.VisitsByStatus(ctx, clinicID, DateOf(date), StatusBooked)
	if err != nil {
		return nil, err
	}
	SortByToken(vs)
	return vs, nil
}

// CompletedList returns the day's finished visits by token.
func (s *Service) CompletedList(ctx context.Context, clinicID string, date time.Time) ([]*Visit, error) {
	vs, err := s.store.VisitsByStatus(ctx, clinicID, DateOf(date), StatusCompleted)
	if err != nil {
		return nil, err
	}
	SortByToken(vs)
	return vs, nil
}

// History returns a patient's visits, newest first.
func (s *Service) History(ctx context.Context, patientID string) ([]*Visit, error) {
	return s.store.History(ctx, patientID)
}

// NextFollowUp returns the patient's nearest pending follow-up date,
// recomputed on read so one visit's date never shadows another's.
func (s *Service) NextFollowUp(ctx context.Context, patientID string) (*time.Time, error) {
	return s.store.NextFollowUp(ctx, patientID, DateOf(s.now()))
}

// TodayFollowUps returns visits due back today for a clinic/doctor.
func (s *Service) TodayFollowUps(ctx context.Context, clinicID, doctorID string) ([]*Visit, error) {
	return s.store.FollowUpsOn(ctx, DateOf(s.now()), clinicID, doctorID)
}

// FeePreview is the read-only fee quote shown before registration.
type FeePreview struct {
	Fee           float64    `json:"fee"`
	LastVisitDate *time.Time `json:"last_visit_date,omitempty"`
}

// PreviewFee quotes the consultation fee a registration would lock in.
func (s *Service) PreviewFee(ctx context.Context, patientID, doctorID string) (*FeePreview, error) {
	last, err := s.store.LastCompletedAt(ctx, patientID, doctorID)
	if err != nil {
		return nil, err
	}
	return &FeePreview{Fee: FeeForHistory(last, s.now()), LastVisitDate: last}, nil
}

// DailyStats aggregates one clinic day for the dashboard.
func (s *Service) DailyStats(ctx context.Context, clinicID string, date time.Time) (*Stats, error) {
	return s.store.DailyStats(ctx, clinicID, DateOf(date))
}

// VisitByID returns one visit.
func (s *Service) VisitByID(ctx context.Context, visitID string) (*Visit, error) {
	return s.store.VisitByID(ctx, visitID)
}
