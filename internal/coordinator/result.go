package coordinator

import "github.com/pressurefield/kernel/internal/region"

// AppliedRecord is one accepted patch's before/after pressure, reported in
// a tick's result.
type AppliedRecord struct {
	Region      region.ID
	OldPressure float64
	NewPressure float64
}

// RejectedRecord is one rejected patch's reason, reported in a tick's
// result.
type RejectedRecord struct {
	Region      region.ID
	OldPressure float64
	NewPressure float64
	Reason      string
}

// Result is TickComplete: the truth a tick reports to its registered
// tick-driver handle. It always emits, even when no region activated.
//
// ProposalsIssued/ProposalsReturned/PatchesApplied/PatchesRejected are
// exact per-tick counts, not an approximation: every ProposeForRegion the
// coordinator issued this tick, and every reply actually matched to it
// before the proposal deadline, is accounted for here.
type Result struct {
	TickID        uint64
	TotalPressure float64
	Applied       []AppliedRecord
	Rejected      []RejectedRecord

	ProposalsIssued   int
	ProposalsReturned int
	PatchesApplied    int
	PatchesRejected   int
}
