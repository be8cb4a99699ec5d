package visit

import "sort"

// The active queue carries two independent orderings over the same visits.
// The doctor view follows registration order (token), the reception view
// follows the manually adjustable queue order. Emergencies go first in
// both, regardless of token or arrival order.

// SortDoctorView orders the active line for the doctor: emergency first,
// then by token number.
func SortDoctorView(vs []*Visit) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Emergency != vs[j].Emergency {
			return vs[i].Emergency
		}
		return vs[i].TokenNumber < vs[j].TokenNumber
	})
}

// SortReceptionView orders the active line for the reception desk:
// emergency first, then by queue order. Visits without a queue order sort
// last.
func SortReceptionView(vs []*Visit) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Emergency != vs[j].Emergency {
			return vs[i].Emergency
		}
		oi, oj := vs[i].QueueOrder, vs[j].QueueOrder
		switch {
		case oi == nil:
			return false
		case oj == nil:
			return true
		default:
			return *oi < *oj
		}
	})
}

// SortByToken orders booked/completed lists: plain token order, emergency
// status does not apply outside the active line.
func SortByToken(vs []*Visit) {
	sort.SliceStable(vs, func(i, j int) bool {
		return vs[i].TokenNumber < vs[j].TokenNumber
	})
}
