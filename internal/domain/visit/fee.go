package visit

import "time"

// Consultation fee schedule. A patient returning to the same doctor within
// the follow-up window pays the discounted rate; outside it the visit is
// billed as a fresh case.
const (
	StandardFee        = 500.0
	FollowUpFee        = 300.0
	FollowUpWindowDays = 30
)

// FeeForHistory computes the consultation fee from the date of the
// patient's most recent COMPLETED visit with the same doctor. nil means no
// such visit exists. Exactly FollowUpWindowDays days ago still qualifies
// for the discounted rate; one day more does not.
func FeeForHistory(lastCompleted *time.Time, today time.Time) float64 {
	if lastCompleted == nil {
		return StandardFee
	}
	days := int(DateOf(today).Sub(DateOf(*lastCompleted)).Hours() / 24)
	if days >= 0 && days <= FollowUpWindowDays {
		return FollowUpFee
	}
	return StandardFee
}
