// Package pressure implements the kernel's pressure engine: a pure
// function from weighted signals (plus, for the richer expression kind, a
// running per-kind baseline) to a scalar pressure.
//
// The weighted-sum shape (S = w1*A + w2*Q + w3*I + w4*P, one weighted
// term per input) and the Mahalanobis distance scorer both descend from a
// fixed four-input severity formula, generalised here to an arbitrary,
// configured set of named axes.
package pressure

import (
	"fmt"

	"github.com/pressurefield/kernel/internal/config"
	"github.com/pressurefield/kernel/internal/region"
)

// Axis is one compiled pressure contribution: a weight, a per-kind weight
// override table, and an expression evaluated against a region's signals.
type Axis struct {
	Name        string
	Weight      float64
	KindWeights map[string]float64
	Expr        Expression
}

// Expression computes one axis's unweighted contribution to pressure, and
// reports whether it had enough data to contribute at all (used for the
// "at least one axis contributes nonzero pressure" activation clause).
type Expression interface {
	Eval(signals region.Signals, kind string) (value float64, supported bool)
}

// Compile builds the configured axes, selecting an Expression per
// config.PressureAxisConfig.Expr. Compile is only called after
// config.Validate has already accepted the axis list, so an unknown expr
// here indicates a programming error, not user input.
func Compile(cfgAxes []config.PressureAxisConfig) ([]Axis, error) {
	axes := make([]Axis, 0, len(cfgAxes))
	for _, c := range cfgAxes {
		var expr Expression
		switch c.Expr {
		case "", "signal":
			signalName := c.Signal
			if signalName == "" {
				signalName = c.Name
			}
			expr = SignalLookup{Name: signalName}
		case "mahalanobis":
			expr = NewMahalanobisAxis(c.Signals)
		default:
			return nil, fmt.Errorf("pressure: axis %q: unknown expr %q", c.Name, c.Expr)
		}
		axes = append(axes, Axis{
			Name:        c.Name,
			Weight:      c.Weight,
			KindWeights: c.KindWeights,
			Expr:        expr,
		})
	}
	return axes, nil
}

// weightFor resolves the weight to use for a region of the given kind,
// applying the per-kind override when present.
func (a Axis) weightFor(kind string) float64 {
	if a.KindWeights != nil {
		if w, ok := a.KindWeights[kind]; ok {
			return w
		}
	}
	return a.Weight
}

// Result is the per-axis breakdown computed alongside the scalar total,
// used to answer "did at least one axis contribute nonzero pressure" and
// to compute expected improvement during selection.
type Result struct {
	Total      float64
	PerAxis    map[string]float64
	AnySupport bool
}

// Evaluate computes P = sum_a(weight_a * expr_a(signals)) over all
// compiled axes.
func Evaluate(axes []Axis, signals region.Signals, kind string) Result {
	res := Result{PerAxis: make(map[string]float64, len(axes))}
	for _, a := range axes {
		v, supported := a.Expr.Eval(signals, kind)
		contribution := a.weightFor(kind) * v
		res.PerAxis[a.Name] = contribution
		res.Total += contribution
		if supported && contribution != 0 {
			res.AnySupport = true
		}
	}
	return res
}

// SignalLookup is the baseline expression: verbatim lookup of a named
// signal, 0 (unsupported) if absent.
type SignalLookup struct {
	Name string
}

// Eval implements Expression.
func (s SignalLookup) Eval(signals region.Signals, _ string) (float64, bool) {
	v, ok := signals[s.Name]
	return v, ok
}

// ExpectedImprovement sums a patch's per-axis expected delta weighted by
// axis weight, exactly mirroring how the scalar pressure itself is
// computed, so a positive result means the proposer expects pressure to
// fall by that amount.
func ExpectedImprovement(axes []Axis, kind string, expectedDelta map[string]float64) float64 {
	var total float64
	for _, a := range axes {
		delta, ok := expectedDelta[a.Name]
		if !ok {
			continue
		}
		// A negative delta (signal expected to fall) yields positive
		// improvement when weight is positive.
		total += a.weightFor(kind) * -delta
	}
	return total
}
