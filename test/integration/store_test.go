// Package integration exercises the postgres store against a real
// database. Set DATABASE_URL to run; the tests skip without it.
package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/surgicare/clinicflow/internal/domain/visit"
	"github.com/surgicare/clinicflow/internal/infrastructure/postgres"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(pool.Close)

	// The schema is idempotent, so applying it here keeps the test
	// self-contained on a fresh database.
	schema, err := os.ReadFile("../../migrations/001_schema.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return pool
}

func newVisit(clinicID, doctorID string, date time.Time) *visit.Visit {
	return &visit.Visit{
		ID:        uuid.New().String(),
		ClinicID:  clinicID,
		DoctorID:  doctorID,
		PatientID: "p-" + uuid.New().String(),
		Type:      visit.TypeOPD,
		Status:    visit.StatusArrived,
		VisitDate: date,
		CreatedAt: time.Now().UTC(),
	}
}

func TestTokenAllocationDensePerDoctorDay(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool, nil)
	ctx := context.Background()

	clinicID := "itest-" + uuid.New().String()
	date := visit.DateOf(time.Now().UTC())

	for i := 1; i <= 3; i++ {
		v := newVisit(clinicID, "doc-a", date)
		err := store.InTx(ctx, func(ctx context.Context, tx visit.OpTx) error {
			return tx.InsertVisit(ctx, v)
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if v.TokenNumber != i {
			t.Errorf("expected token %d, got %d", i, v.TokenNumber)
		}
	}

	// A second doctor on the same day gets its own sequence.
	v := newVisit(clinicID, "doc-b", date)
	err := store.InTx(ctx, func(ctx context.Context, tx visit.OpTx) error {
		return tx.InsertVisit(ctx, v)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if v.TokenNumber != 1 {
		t.Errorf("expected token 1 for second doctor, got %d", v.TokenNumber)
	}
}

func TestTokensScopedPerClinic(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool, nil)
	ctx := context.Background()

	// One doctor working at two clinics the same day: each clinic keeps
	// its own token sequence, and neither insert conflicts.
	doctorID := "doc-" + uuid.New().String()
	date := visit.DateOf(time.Now().UTC())

	for _, clinicID := range []string{"itest-" + uuid.New().String(), "itest-" + uuid.New().String()} {
		v := newVisit(clinicID, doctorID, date)
		err := store.InTx(ctx, func(ctx context.Context, tx visit.OpTx) error {
			return tx.InsertVisit(ctx, v)
		})
		if err != nil {
			t.Fatalf("insert at %s: %v", clinicID, err)
		}
		if v.TokenNumber != 1 {
			t.Errorf("expected token 1 at %s, got %d", clinicID, v.TokenNumber)
		}
	}
}

func TestConcurrentRegistrationsGetDistinctTokens(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool, nil)
	ctx := context.Background()

	clinicID := "itest-" + uuid.New().String()
	date := visit.DateOf(time.Now().UTC())

	const n = 8
	tokens := make(chan int, n)
	errs := make(chan error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := newVisit(clinicID, "doc-a", date)
			err := store.InTx(ctx, func(ctx context.Context, tx visit.OpTx) error {
				return tx.InsertVisit(ctx, v)
			})
			if err != nil {
				errs <- err
				return
			}
			tokens <- v.TokenNumber
		}()
	}
	wg.Wait()
	close(tokens)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent insert: %v", err)
	}

	// The assigned tokens must be a permutation of 1..n.
	seen := make(map[int]bool, n)
	for tok := range tokens {
		if tok < 1 || tok > n {
			t.Errorf("token %d outside 1..%d", tok, n)
		}
		if seen[tok] {
			t.Errorf("duplicate token %d", tok)
		}
		seen[tok] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct tokens, got %d", n, len(seen))
	}
}

func TestRollbackDiscardsVisitAndTokens(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool, nil)
	ctx := context.Background()

	clinicID := "itest-" + uuid.New().String()
	date := visit.DateOf(time.Now().UTC())

	boom := fmt.Errorf("boom")
	v := newVisit(clinicID, "doc-a", date)
	err := store.InTx(ctx, func(ctx context.Context, tx visit.OpTx) error {
		if err := tx.InsertVisit(ctx, v); err != nil {
			return err
		}
		tx.Stage(visit.QueueEvent{ClinicID: clinicID, Tag: visit.TagRefreshQueue})
		return boom
	})
	if err != boom {
		t.Fatalf("expected injected error, got %v", err)
	}

	if _, err := store.VisitByID(ctx, v.ID); !visit.IsNotFound(err) {
		t.Errorf("rolled-back visit should not exist, got %v", err)
	}

	var events int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1`, clinicID).Scan(&events); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if events != 0 {
		t.Errorf("rollback must discard staged events, found %d", events)
	}

	// The token sequence restarts cleanly after the rollback.
	v2 := newVisit(clinicID, "doc-a", date)
	err = store.InTx(ctx, func(ctx context.Context, tx visit.OpTx) error {
		return tx.InsertVisit(ctx, v2)
	})
	if err != nil {
		t.Fatalf("insert after rollback: %v", err)
	}
	if v2.TokenNumber != 1 {
		t.Errorf("expected token 1 after rollback, got %d", v2.TokenNumber)
	}
}

func TestStagedEventsLandInOutboxOnCommit(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool, nil)
	ctx := context.Background()

	clinicID := "itest-" + uuid.New().String()
	date := visit.DateOf(time.Now().UTC())

	v := newVisit(clinicID, "doc-a", date)
	err := store.InTx(ctx, func(ctx context.Context, tx visit.OpTx) error {
		if err := tx.InsertVisit(ctx, v); err != nil {
			return err
		}
		tx.Stage(visit.QueueEvent{ClinicID: clinicID, Tag: visit.TagEmergency})
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	var eventType, topic, key string
	err = pool.QueryRow(ctx, `
		SELECT event_type, topic, event_key FROM outbox
		WHERE aggregate_id = $1 AND processed_at IS NULL
	`, clinicID).Scan(&eventType, &topic, &key)
	if err != nil {
		t.Fatalf("load outbox row: %v", err)
	}
	if eventType != visit.TagEmergency {
		t.Errorf("expected event type %s, got %s", visit.TagEmergency, eventType)
	}
	if topic != "clinic.queue.updates" {
		t.Errorf("unexpected topic %s", topic)
	}
	if key != clinicID {
		t.Errorf("expected partition key %s, got %s", clinicID, key)
	}
}

type capturePublisher struct {
	records chan capturedRecord
}

type capturedRecord struct {
	topic string
	key   string
	value []byte
}

func (p *capturePublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.records <- capturedRecord{topic: topic, key: key, value: value}
	return nil
}

func TestOutboxRelayPublishesCommittedEvents(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool, nil)
	ctx := context.Background()

	clinicID := "itest-" + uuid.New().String()
	date := visit.DateOf(time.Now().UTC())

	v := newVisit(clinicID, "doc-a", date)
	err := store.InTx(ctx, func(ctx context.Context, tx visit.OpTx) error {
		if err := tx.InsertVisit(ctx, v); err != nil {
			return err
		}
		tx.Stage(visit.QueueEvent{ClinicID: clinicID, Tag: visit.TagRefreshQueue})
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	pub := &capturePublisher{records: make(chan capturedRecord, 64)}
	cfg := postgres.DefaultOutboxConfig()
	cfg.PollInterval = 50 * time.Millisecond

	relay := postgres.NewOutbox(pool, pub, cfg, nil)
	relay.Start()
	defer relay.Stop()

	// The relay drains every pending row, so match on our partition key.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case rec := <-pub.records:
			if rec.key != clinicID {
				continue
			}
			if rec.topic != "clinic.queue.updates" {
				t.Errorf("unexpected topic %s", rec.topic)
			}
		case <-deadline:
			t.Fatal("event was not relayed before the deadline")
		}
		break
	}

	// The row is marked processed just after the publish we observed.
	var processed int
	for i := 0; i < 40; i++ {
		err = pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM outbox
			WHERE aggregate_id = $1 AND processed_at IS NOT NULL
		`, clinicID).Scan(&processed)
		if err != nil {
			t.Fatalf("count processed: %v", err)
		}
		if processed == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("expected 1 processed row, got %d", processed)
}

func TestVisitRoundTrip(t *testing.T) {
	pool := testPool(t)
	store := postgres.NewStore(pool, nil)
	ctx := context.Background()

	clinicID := "itest-" + uuid.New().String()
	date := visit.DateOf(time.Now().UTC())

	v := newVisit(clinicID, "doc-a", date)
	v.PatientName = "Asha"
	v.Vitals = visit.Vitals{BP: "120/80", Pulse: "72"}
	v.ConsultationFee = 500
	v.TotalAmount = 500

	err := store.InTx(ctx, func(ctx context.Context, tx visit.OpTx) error {
		return tx.InsertVisit(ctx, v)
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.VisitByID(ctx, v.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.PatientName != "Asha" || got.Vitals.BP != "120/80" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.VisitDate.Equal(date) {
		t.Errorf("expected visit date %v, got %v", date, got.VisitDate)
	}

	// Mutate through a transaction and read back.
	err = store.InTx(ctx, func(ctx context.Context, tx visit.OpTx) error {
		loaded, err := tx.VisitByID(ctx, v.ID)
		if err != nil {
			return err
		}
		if err := loaded.CompleteCheckup(visit.MedicalInfo{
			Diagnosis:        "viral fever",
			PaymentCollected: true,
		}, time.Now().UTC()); err != nil {
			return err
		}
		return tx.UpdateVisit(ctx, loaded)
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err = store.VisitByID(ctx, v.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != visit.StatusCompleted || got.Diagnosis != "viral fever" {
		t.Errorf("update not persisted: %+v", got)
	}

	stats, err := store.DailyStats(ctx, clinicID, date)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Completed != 1 || stats.DailyCollection != 500 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
