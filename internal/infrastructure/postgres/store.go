// Package postgres provides PostgreSQL infrastructure components: the
// visit store and the transactional outbox the queue events ride on.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/surgicare/clinicflow/internal/domain/visit"
	"github.com/surgicare/clinicflow/internal/infrastructure/redpanda"
)

// Store implements visit.Store on pgx.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates the visit store.
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

const visitColumns = `
	id, clinic_id, doctor_id, doctor_name,
	patient_id, patient_name, patient_mobile,
	visit_type, reason, status, visit_date, created_at, completed_at,
	token_number, queue_order, is_emergency,
	diagnosis, prescription_note, bp, temperature, pulse, weight,
	consultation_fee, other_charges, total_amount, paid_amount,
	payment_mode, payment_collected, follow_up_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (*visit.Visit, error) {
	v := &visit.Visit{}
	err := row.Scan(
		&v.ID, &v.ClinicID, &v.DoctorID, &v.DoctorName,
		&v.PatientID, &v.PatientName, &v.PatientMobile,
		&v.Type, &v.Reason, &v.Status, &v.VisitDate, &v.CreatedAt, &v.CompletedAt,
		&v.TokenNumber, &v.QueueOrder, &v.Emergency,
		&v.Diagnosis, &v.PrescriptionNote,
		&v.Vitals.BP, &v.Vitals.Temperature, &v.Vitals.Pulse, &v.Vitals.Weight,
		&v.ConsultationFee, &v.OtherCharges, &v.TotalAmount, &v.PaidAmount,
		&v.PaymentMode, &v.PaymentCollected, &v.FollowUpDate,
	)
	if err != nil {
		return nil, err
	}
	v.VisitDate = visit.DateOf(v.VisitDate)
	return v, nil
}

func collectVisits(rows pgx.Rows) ([]*visit.Visit, error) {
	defer rows.Close()
	var vs []*visit.Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		vs = append(vs, v)
	}
	return vs, rows.Err()
}

// opTx is the transactional view handed to mutating operations. Staged
// queue events are written to the outbox by InTx, inside the same
// transaction as the domain writes.
type opTx struct {
	tx     pgx.Tx
	staged []visit.QueueEvent
}

// InTx runs fn in one transaction and flushes staged events to the outbox
// before commit. A rollback discards them, so listeners never observe an
// uncommitted state change.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx visit.OpTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	op := &opTx{tx: tx}
	if err := fn(ctx, op); err != nil {
		return err
	}
	for _, ev := range op.staged {
		if err := writeQueueEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *opTx) Stage(ev visit.QueueEvent) {
	t.staged = append(t.staged, ev)
}

// writeQueueEvent stages a queue update as an outbox row for the relay to
// publish after commit.
func writeQueueEvent(ctx context.Context, tx pgx.Tx, ev visit.QueueEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal queue event: %w", err)
	}
	entry := &OutboxEntry{
		AggregateID:   ev.ClinicID,
		AggregateType: "Clinic",
		EventType:     ev.Tag,
		Payload:       payload,
		Topic:         redpanda.TopicQueueUpdates,
		Key:           ev.ClinicID,
	}
	return WriteEntry(ctx, tx, entry)
}

func (t *opTx) VisitByID(ctx context.Context, id string) (*visit.Visit, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE id = $1 FOR UPDATE`, id)
	v, err := scanVisit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &visit.NotFoundError{Kind: "visit", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load visit: %w", err)
	}
	return v, nil
}

// InsertVisit allocates the visit's token and persists it. The token comes
// from a per-(clinic, doctor, day) counter row advanced with a single
// upsert: the row lock serializes concurrent registrations, so two
// walk-ins can never observe the same counter value. A unique index on
// (clinic_id, doctor_id, visit_date, token_number) backs the invariant;
// tripping it maps to ErrTokenConflict for the caller's retry loop.
func (t *opTx) InsertVisit(ctx context.Context, v *visit.Visit) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO token_counters (clinic_id, doctor_id, visit_date, next_token)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (clinic_id, doctor_id, visit_date)
		DO UPDATE SET next_token = token_counters.next_token + 1
		RETURNING next_token
	`, v.ClinicID, v.DoctorID, v.VisitDate).Scan(&v.TokenNumber)
	if err != nil {
		return fmt.Errorf("allocate token: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO visits (`+visitColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
		        $17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)
	`,
		v.ID, v.ClinicID, v.DoctorID, v.DoctorName,
		v.PatientID, v.PatientName, v.PatientMobile,
		v.Type, v.Reason, v.Status, v.VisitDate, v.CreatedAt, v.CompletedAt,
		v.TokenNumber, v.QueueOrder, v.Emergency,
		v.Diagnosis, v.PrescriptionNote,
		v.Vitals.BP, v.Vitals.Temperature, v.Vitals.Pulse, v.Vitals.Weight,
		v.ConsultationFee, v.OtherCharges, v.TotalAmount, v.PaidAmount,
		v.PaymentMode, v.PaymentCollected, v.FollowUpDate,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("token %d for doctor %s: %w", v.TokenNumber, v.DoctorID, visit.ErrTokenConflict)
	}
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (t *opTx) UpdateVisit(ctx context.Context, v *visit.Visit) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE visits SET
			visit_type = $2, reason = $3, status = $4, visit_date = $5,
			completed_at = $6, token_number = $7, queue_order = $8,
			is_emergency = $9, diagnosis = $10, prescription_note = $11,
			bp = $12, temperature = $13, pulse = $14, weight = $15,
			consultation_fee = $16, other_charges = $17, total_amount = $18,
			paid_amount = $19, payment_mode = $20, payment_collected = $21,
			follow_up_date = $22
		WHERE id = $1
	`,
		v.ID, v.Type, v.Reason, v.Status, v.VisitDate,
		v.CompletedAt, v.TokenNumber, v.QueueOrder,
		v.Emergency, v.Diagnosis, v.PrescriptionNote,
		v.Vitals.BP, v.Vitals.Temperature, v.Vitals.Pulse, v.Vitals.Weight,
		v.ConsultationFee, v.OtherCharges, v.TotalAmount,
		v.PaidAmount, v.PaymentMode, v.PaymentCollected,
		v.FollowUpDate,
	)
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &visit.NotFoundError{Kind: "visit", ID: v.ID}
	}
	return nil
}

func (t *opTx) LastCompletedAt(ctx context.Context, patientID, doctorID string) (*time.Time, error) {
	return lastCompletedAt(ctx, t.tx, patientID, doctorID)
}

func (t *opTx) LatestVisit(ctx context.Context, patientID string) (*visit.Visit, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+visitColumns+` FROM visits
		WHERE patient_id = $1
		ORDER BY visit_date DESC, created_at DESC
		LIMIT 1 FOR UPDATE
	`, patientID)
	v, err := scanVisit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &visit.NotFoundError{Kind: "patient visit", ID: patientID}
	}
	if err != nil {
		return nil, fmt.Errorf("load latest visit: %w", err)
	}
	return v, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lastCompletedAt(ctx context.Context, q querier, patientID, doctorID string) (*time.Time, error) {
	var last *time.Time
	err := q.QueryRow(ctx, `
		SELECT MAX(visit_date) FROM visits
		WHERE patient_id = $1 AND doctor_id = $2 AND status = $3
	`, patientID, doctorID, visit.StatusCompleted).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("last completed visit: %w", err)
	}
	return last, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Read-side methods, outside any operation's transaction.

func (s *Store) VisitByID(ctx context.Context, id string) (*visit.Visit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE id = $1`, id)
	v, err := scanVisit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &visit.NotFoundError{Kind: "visit", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load visit: %w", err)
	}
	return v, nil
}

func (s *Store) ActiveQueue(ctx context.Context, clinicID string, date time.Time, doctorID string, statuses []visit.Status) ([]*visit.Visit, error) {
	ss := make([]string, len(statuses))
	for i, st := range statuses {
		ss[i] = string(st)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+visitColumns+` FROM visits
		WHERE clinic_id = $1 AND visit_date = $2 AND status = ANY($3)
		  AND ($4 = '' OR doctor_id = $4)
	`, clinicID, date, ss, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query active queue: %w", err)
	}
	return collectVisits(rows)
}

func (s *Store) VisitsByStatus(ctx context.Context, clinicID string, date time.Time, status visit.Status) ([]*visit.Visit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+visitColumns+` FROM visits
		WHERE clinic_id = $1 AND visit_date = $2 AND status = $3
	`, clinicID, date, status)
	if err != nil {
		return nil, fmt.Errorf("query visits by status: %w", err)
	}
	return collectVisits(rows)
}

func (s *Store) History(ctx context.Context, patientID string) ([]*visit.Visit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+visitColumns+` FROM visits
		WHERE patient_id = $1
		ORDER BY visit_date DESC, created_at DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return collectVisits(rows)
}

func (s *Store) LastCompletedAt(ctx context.Context, patientID, doctorID string) (*time.Time, error) {
	return lastCompletedAt(ctx, s.pool, patientID, doctorID)
}

func (s *Store) NextFollowUp(ctx context.Context, patientID string, today time.Time) (*time.Time, error) {
	var next *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(follow_up_date) FROM visits
		WHERE patient_id = $1 AND follow_up_date >= $2
	`, patientID, today).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("next follow-up: %w", err)
	}
	return next, nil
}

func (s *Store) FollowUpsOn(ctx context.Context, date time.Time, clinicID, doctorID string) ([]*visit.Visit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+visitColumns+` FROM visits
		WHERE follow_up_date = $1 AND clinic_id = $2
		  AND ($3 = '' OR doctor_id = $3)
	`, date, clinicID, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query follow-ups: %w", err)
	}
	return collectVisits(rows)
}

// DueFollowUps returns every visit clinic-wide whose follow-up date is the
// given day. Used by the reminder sweep.
func (s *Store) DueFollowUps(ctx context.Context, date time.Time) ([]*visit.Visit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+visitColumns+` FROM visits WHERE follow_up_date = $1
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query due follow-ups: %w", err)
	}
	return collectVisits(rows)
}

func (s *Store) DailyStats(ctx context.Context, clinicID string, date time.Time) (*visit.Stats, error) {
	st := &visit.Stats{Date: date}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COALESCE(SUM(total_amount) FILTER (WHERE status = $4), 0)
		FROM visits
		WHERE clinic_id = $1 AND visit_date = $2
	`, clinicID, date, visit.StatusArrived, visit.StatusCompleted).
		Scan(&st.Waiting, &st.Completed, &st.DailyCollection)
	if err != nil {
		return nil, fmt.Errorf("daily stats: %w", err)
	}
	return st, nil
}
