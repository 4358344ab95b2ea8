// Package heuristic provides a deterministic reference PatchProposer,
// useful for demos and tests where a real LLM caller is unavailable. It
// proposes a single trivial patch per request, always a Replace (it never
// proposes a Delete or an InsertAfter), that rewrites content to strip the
// line responsible for the highest-valued signal the bundled lintsensor
// grammar recognizes
// (error_count/warning_count/info_count/style_count), and declares a
// proportional expected_delta on every signal it was given, scaled by a
// configurable improvement fraction.
//
// This mirrors the shape of scenario S1: a proposer that claims a
// specific per-axis reduction and lets the region actor's post-apply
// re-measurement confirm or reject it.
package heuristic

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/pressurefield/kernel/internal/proposer"
	"github.com/pressurefield/kernel/internal/region"
)

// Name is the proposer's stable actor name.
const Name = "heuristic"

// offendingPatternOrder fixes a deterministic priority among lintsensor's
// four severity buckets: the worst present signal wins ties.
var offendingPatternOrder = []string{"error_count", "warning_count", "info_count", "style_count"}

// offendingPattern recognizes, per bucket, the kind of line a minimal
// shellcheck-like grammar would flag at that severity. These are not the
// linter's own diagnostics (the proposer never sees raw lint output,
// only the aggregated signal counts) but a small built-in approximation
// good enough to find something to remove.
var offendingPattern = map[string]*regexp.Regexp{
	"error_count":   regexp.MustCompile(`(?i)\beval\b`),
	"warning_count": regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*`),
	"info_count":    regexp.MustCompile(`(?i)\b(TODO|FIXME)\b`),
	"style_count":   regexp.MustCompile(`[ \t]+$`),
}

// Proposer is the reference implementation. ImprovementFraction controls
// how much of each present signal the proposed patch claims to remove
// (0.5 claims to halve every signal).
type Proposer struct {
	ImprovementFraction float64
	// Apply is how the proposed patch mutates content. If nil, stripOffendingLine
	// is used: it removes the line matching the offending pattern of the
	// present signal with the highest value, or leaves content unchanged if nothing
	// matches (the region actor's post-apply re-measurement is what
	// actually determines acceptance either way).
	Apply func(content []byte) []byte
}

// New constructs a heuristic proposer with a default 0.5 improvement
// fraction.
func New() *Proposer {
	return &Proposer{ImprovementFraction: 0.5}
}

// stripOffendingLine removes the first line matching the offending
// pattern of the present signal with the highest value in signals. If no
// bucket has a positive value, or no line matches, content is returned
// unchanged.
func stripOffendingLine(content []byte, signals region.Signals) []byte {
	bucket := highestSignalBucket(signals)
	if bucket == "" {
		return content
	}
	pattern := offendingPattern[bucket]
	lines := bytes.Split(content, []byte("\n"))
	for i, line := range lines {
		if pattern.Match(line) {
			rest := append([][]byte{}, lines[:i]...)
			rest = append(rest, lines[i+1:]...)
			return bytes.Join(rest, []byte("\n"))
		}
	}
	return content
}

// highestSignalBucket returns the recognised bucket with the largest
// positive value in signals, breaking ties by offendingPatternOrder.
func highestSignalBucket(signals region.Signals) string {
	best, bestV := "", 0.0
	for _, b := range offendingPatternOrder {
		v, ok := signals[b]
		if !ok || v <= 0 {
			continue
		}
		if best == "" || v > bestV {
			best, bestV = b, v
		}
	}
	return best
}

// Name implements proposer.Proposer.
func (p *Proposer) Name() string { return Name }

// Propose implements proposer.Proposer.
func (p *Proposer) Propose(req proposer.Request) proposer.Proposal {
	if len(req.Signals) == 0 {
		return proposer.Proposal{CorrelationID: req.CorrelationID, ActorName: Name}
	}

	frac := p.ImprovementFraction
	if frac <= 0 {
		frac = 0.5
	}

	delta := make(map[string]float64, len(req.Signals))
	for name, v := range req.Signals {
		delta[name] = -v * frac
	}

	content := req.View.Content
	if p.Apply != nil {
		content = p.Apply(content)
	} else {
		content = stripOffendingLine(content, req.Signals)
	}

	patch := region.Patch{
		Region:        req.RegionID,
		Op:            region.OpReplace,
		Bytes:         content,
		Rationale:     fmt.Sprintf("heuristic: claim %.0f%% reduction on %d signal(s)", frac*100, len(delta)),
		ExpectedDelta: delta,
		BaseVersion:   req.View.Version,
	}

	return proposer.Proposal{
		CorrelationID: req.CorrelationID,
		ActorName:     Name,
		Patches:       []proposer.Scored{{Score: req.Pressure, Patch: patch}},
	}
}
