package visit

import (
	"testing"
	"time"
)

func floatPtr(f float64) *float64 { return &f }

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusBooked, StatusArrived, true},
		{StatusBooked, StatusCompleted, false},
		{StatusArrived, StatusBooked, true},
		{StatusArrived, StatusCompleted, true},
		{StatusInProgress, StatusArrived, true},
		{StatusBillingPending, StatusCompleted, true},
		{StatusBillingPending, StatusArrived, true},
		{StatusCompleted, StatusArrived, false},
		{StatusCancelled, StatusArrived, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestArriveAssignsQueueOrder(t *testing.T) {
	now := day("2026-08-30").Add(9*time.Hour + 30*time.Minute)
	v := &Visit{ID: "v1", Status: StatusBooked, VisitDate: day("2026-08-30")}

	rescheduled, err := v.Arrive(now)
	if err != nil {
		t.Fatalf("arrive failed: %v", err)
	}
	if rescheduled {
		t.Error("same-day booking should not be rescheduled")
	}
	if v.Status != StatusArrived {
		t.Errorf("expected ARRIVED, got %s", v.Status)
	}
	if v.QueueOrder == nil || *v.QueueOrder != 9*3600+30*60 {
		t.Errorf("expected queue order %d, got %v", 9*3600+30*60, v.QueueOrder)
	}
}

func TestArriveReschedulesStaleBooking(t *testing.T) {
	now := day("2026-08-30").Add(10 * time.Hour)
	v := &Visit{ID: "v1", Status: StatusBooked, VisitDate: day("2026-08-20")}

	rescheduled, err := v.Arrive(now)
	if err != nil {
		t.Fatalf("arrive failed: %v", err)
	}
	if !rescheduled {
		t.Error("expected stale booking to be rescheduled")
	}
	if !v.VisitDate.Equal(day("2026-08-30")) {
		t.Errorf("expected visit date today, got %v", v.VisitDate)
	}
}

func TestArriveOnCompletedVisitFails(t *testing.T) {
	v := &Visit{ID: "v1", Status: StatusCompleted, VisitDate: day("2026-08-30")}
	if _, err := v.Arrive(time.Now()); !IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestCompleteCheckupPaidClosesVisit(t *testing.T) {
	now := day("2026-08-30").Add(11 * time.Hour)
	v := &Visit{ID: "v1", Status: StatusArrived, ConsultationFee: 300}

	err := v.CompleteCheckup(MedicalInfo{
		Diagnosis:        "viral fever",
		Prescription:     "paracetamol 500mg",
		OtherCharges:     floatPtr(50),
		PaymentCollected: true,
	}, now)
	if err != nil {
		t.Fatalf("checkup failed: %v", err)
	}

	if v.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", v.Status)
	}
	if v.TotalAmount != 350 || v.PaidAmount != 350 {
		t.Errorf("expected total/paid 350, got %v/%v", v.TotalAmount, v.PaidAmount)
	}
	if v.PaymentMode != "CASH" {
		t.Errorf("expected CASH, got %q", v.PaymentMode)
	}
	if v.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
}

func TestCompleteCheckupRequiresArrival(t *testing.T) {
	// A booking the patient never showed up for cannot be closed out
	// directly; the desk marks arrival (or cancels) first.
	v := &Visit{ID: "v1", Status: StatusBooked, ConsultationFee: 500}
	err := v.CompleteCheckup(MedicalInfo{
		Diagnosis:        "viral fever",
		PaymentCollected: true,
	}, time.Now())
	if !IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if v.Status != StatusBooked {
		t.Errorf("failed completion must not change status, got %s", v.Status)
	}
}

func TestCompleteCheckupUnpaidParksInBilling(t *testing.T) {
	v := &Visit{ID: "v1", Status: StatusArrived, ConsultationFee: 500}

	err := v.CompleteCheckup(MedicalInfo{Diagnosis: "sprain"}, time.Now())
	if err != nil {
		t.Fatalf("checkup failed: %v", err)
	}

	if v.Status != StatusBillingPending {
		t.Errorf("expected BILLING_PENDING, got %s", v.Status)
	}
	if v.PaymentCollected {
		t.Error("payment should remain outstanding")
	}
	if v.CompletedAt != nil {
		t.Error("completion timestamp should not be set")
	}
}

func TestCompleteCheckupDefaultsMissingFee(t *testing.T) {
	v := &Visit{ID: "v1", Status: StatusArrived, Type: TypeOPD}

	if err := v.CompleteCheckup(MedicalInfo{PaymentCollected: true}, time.Now()); err != nil {
		t.Fatalf("checkup failed: %v", err)
	}
	if v.ConsultationFee != StandardFee {
		t.Errorf("expected fee defaulted to %v, got %v", StandardFee, v.ConsultationFee)
	}
}

func TestCompleteCheckupOnCallStaysFree(t *testing.T) {
	v := &Visit{ID: "v1", Status: StatusArrived, Type: TypeOnCall, PaymentCollected: true}

	if err := v.CompleteCheckup(MedicalInfo{PaymentCollected: true}, time.Now()); err != nil {
		t.Fatalf("checkup failed: %v", err)
	}
	if v.ConsultationFee != 0 || v.TotalAmount != 0 {
		t.Errorf("on-call visit should stay free, got fee %v total %v", v.ConsultationFee, v.TotalAmount)
	}
}

func TestCompleteBillingAmountOverride(t *testing.T) {
	v := &Visit{ID: "v1", Status: StatusBillingPending, ConsultationFee: 500, OtherCharges: 100}

	err := v.CompleteBilling(Billing{
		Amount:      floatPtr(450),
		PaymentMode: "UPI",
	}, time.Now())
	if err != nil {
		t.Fatalf("billing failed: %v", err)
	}

	if v.TotalAmount != 450 || v.PaidAmount != 450 {
		t.Errorf("expected override 450, got %v/%v", v.TotalAmount, v.PaidAmount)
	}
	if v.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", v.Status)
	}
}

func TestCompleteBillingProceduresSpliceNoStacking(t *testing.T) {
	v := &Visit{ID: "v1", Status: StatusArrived, Diagnosis: "abscess"}

	if err := v.CompleteBilling(Billing{Procedures: "incision"}, time.Now()); err != nil {
		t.Fatalf("billing failed: %v", err)
	}
	if v.Diagnosis != "abscess | Proc: incision" {
		t.Fatalf("unexpected diagnosis %q", v.Diagnosis)
	}

	// A second pass replaces the block instead of stacking another.
	v2 := &Visit{ID: "v2", Status: StatusArrived, Diagnosis: v.Diagnosis}
	if err := v2.CompleteBilling(Billing{Procedures: "dressing"}, time.Now()); err != nil {
		t.Fatalf("billing failed: %v", err)
	}
	if v2.Diagnosis != "abscess | Proc: dressing" {
		t.Fatalf("unexpected diagnosis %q", v2.Diagnosis)
	}
}

func TestCompleteBillingRetainsFollowUpDate(t *testing.T) {
	existing := day("2026-09-15")
	v := &Visit{ID: "v1", Status: StatusBillingPending, FollowUpDate: &existing}

	if err := v.CompleteBilling(Billing{PaymentMode: "CASH"}, time.Now()); err != nil {
		t.Fatalf("billing failed: %v", err)
	}
	if v.FollowUpDate == nil || !v.FollowUpDate.Equal(existing) {
		t.Errorf("absent follow-up date must not clear the stored one, got %v", v.FollowUpDate)
	}
}

func TestFlagEmergencyReturnsToWaitingLine(t *testing.T) {
	v := &Visit{ID: "v1", Status: StatusInProgress}

	if err := v.FlagEmergency(); err != nil {
		t.Fatalf("flag emergency failed: %v", err)
	}
	if v.Status != StatusArrived || !v.Emergency {
		t.Errorf("expected ARRIVED emergency, got %s emergency=%v", v.Status, v.Emergency)
	}
}

func TestFlagEmergencyOnTerminalVisitFails(t *testing.T) {
	v := &Visit{ID: "v1", Status: StatusCompleted}
	if err := v.FlagEmergency(); !IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestRevertToBookedOnlyFromArrived(t *testing.T) {
	arrived := &Visit{ID: "v1", Status: StatusArrived}
	if !arrived.RevertToBooked() {
		t.Error("expected revert from ARRIVED")
	}
	if arrived.Status != StatusBooked {
		t.Errorf("expected BOOKED, got %s", arrived.Status)
	}

	for _, st := range []Status{StatusBooked, StatusInProgress, StatusBillingPending, StatusCompleted, StatusCancelled} {
		v := &Visit{ID: "v1", Status: st}
		if v.RevertToBooked() {
			t.Errorf("revert from %s should be a no-op", st)
		}
		if v.Status != st {
			t.Errorf("revert from %s changed status to %s", st, v.Status)
		}
	}
}

func TestApplyVitalsFrozenAfterCompletion(t *testing.T) {
	v := &Visit{ID: "v1", Status: StatusArrived}
	if err := v.ApplyVitals(Vitals{BP: "120/80"}); err != nil {
		t.Fatalf("vitals failed: %v", err)
	}
	if v.Vitals.BP != "120/80" {
		t.Errorf("vitals not applied: %+v", v.Vitals)
	}

	v.Status = StatusCompleted
	if err := v.ApplyVitals(Vitals{BP: "130/85"}); !IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}
