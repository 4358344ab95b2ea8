// Package proposer defines the patch-proposer capability the coordinator
// holds only as a handle set: proposers live outside the kernel, but the
// message contract they must honor is typed here.
package proposer

import (
	"github.com/pressurefield/kernel/internal/correlation"
	"github.com/pressurefield/kernel/internal/region"
)

// Request is ProposeForRegion: everything a proposer needs to suggest
// patches for one activated region.
type Request struct {
	CorrelationID correlation.ID
	RegionID      region.ID
	View          region.View
	Signals       region.Signals
	Pressure      float64
}

// Scored pairs a candidate patch with the proposer's own estimate of its
// quality; higher is better. The coordinator's own selection gate
// (expected_improvement) is computed independently from Patch's
// ExpectedDelta; among the candidates that pass that gate, the one with the
// highest Score is selected.
type Scored struct {
	Score float64
	Patch region.Patch
}

// Proposal is PatchProposal: a proposer's reply to one Request. Patches
// may be empty; a proposer with nothing to suggest still replies so its
// correlation id is resolved.
type Proposal struct {
	CorrelationID correlation.ID
	ActorName     string
	Patches       []Scored
}

// Proposer is the external capability the coordinator invokes by handle.
// Implementations must echo the request's correlation id in their reply
// and must tolerate being invoked concurrently across regions.
type Proposer interface {
	Name() string
	Propose(req Request) Proposal
}
