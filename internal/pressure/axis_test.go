package pressure

import (
	"testing"

	"github.com/pressurefield/kernel/internal/config"
	"github.com/pressurefield/kernel/internal/region"
)

func TestCompile_SignalLookupDefaultsToAxisName(t *testing.T) {
	axes, err := Compile([]config.PressureAxisConfig{
		{Name: "warnings", Weight: 2.0},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(axes) != 1 {
		t.Fatalf("expected 1 axis, got %d", len(axes))
	}

	v, ok := axes[0].Expr.Eval(region.Signals{"warnings": 3}, "text")
	if !ok || v != 3 {
		t.Fatalf("expected signal lookup to read %q, got %v (ok=%v)", "warnings", v, ok)
	}
}

func TestCompile_UnknownExprRejected(t *testing.T) {
	_, err := Compile([]config.PressureAxisConfig{
		{Name: "weird", Weight: 1.0, Expr: "nonsense"},
	})
	if err == nil {
		t.Fatal("expected an error for an unrecognised expr kind")
	}
}

func TestEvaluate_WeightedSumOverAxes(t *testing.T) {
	axes, err := Compile([]config.PressureAxisConfig{
		{Name: "warnings", Weight: 2.0, Signal: "warning_count"},
		{Name: "errors", Weight: 5.0, Signal: "error_count"},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	result := Evaluate(axes, region.Signals{"warning_count": 3, "error_count": 1}, "text")

	want := 2.0*3 + 5.0*1
	if result.Total != want {
		t.Fatalf("expected total pressure %f, got %f", want, result.Total)
	}
	if !result.AnySupport {
		t.Fatal("expected at least one axis to support the result")
	}
}

func TestEvaluate_KindWeightOverride(t *testing.T) {
	axes, err := Compile([]config.PressureAxisConfig{
		{Name: "warnings", Weight: 2.0, Signal: "warning_count", KindWeights: map[string]float64{"shell": 10.0}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	base := Evaluate(axes, region.Signals{"warning_count": 1}, "text")
	overridden := Evaluate(axes, region.Signals{"warning_count": 1}, "shell")

	if base.Total != 2.0 {
		t.Fatalf("expected base weight to apply for an unmatched kind, got %f", base.Total)
	}
	if overridden.Total != 10.0 {
		t.Fatalf("expected kind_weights override for kind %q, got %f", "shell", overridden.Total)
	}
}

func TestEvaluate_NoSupportWhenSignalAbsent(t *testing.T) {
	axes, err := Compile([]config.PressureAxisConfig{
		{Name: "warnings", Weight: 2.0, Signal: "warning_count"},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	result := Evaluate(axes, region.Signals{}, "text")
	if result.AnySupport {
		t.Fatal("expected no support when the axis's signal is absent")
	}
	if result.Total != 0 {
		t.Fatalf("expected zero pressure, got %f", result.Total)
	}
}

func TestExpectedImprovement_NegativeDeltaIsPositiveImprovement(t *testing.T) {
	axes, err := Compile([]config.PressureAxisConfig{
		{Name: "warnings", Weight: 2.0, Signal: "warning_count"},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	improvement := ExpectedImprovement(axes, "text", map[string]float64{"warnings": -2})
	if improvement != 4.0 {
		t.Fatalf("expected improvement 4.0 (weight 2.0 * -(-2)), got %f", improvement)
	}
}

func TestExpectedImprovement_UnknownAxisNameIgnored(t *testing.T) {
	axes, err := Compile([]config.PressureAxisConfig{
		{Name: "warnings", Weight: 2.0, Signal: "warning_count"},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	improvement := ExpectedImprovement(axes, "text", map[string]float64{"unrelated": -5})
	if improvement != 0 {
		t.Fatalf("expected zero improvement for an unrecognised delta key, got %f", improvement)
	}
}
